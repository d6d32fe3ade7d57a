// Package events defines the tracing hook points the runtime calls during
// loading and execution, and a klog-backed tracer.
//
// Tracing is diagnostic and never load-bearing: every call site treats a
// tracer failure as something to log and move past.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SpanID identifies one span between StartSpan and EndSpan.
type SpanID string

// Tracer receives the runtime's trace events. Implementations must tolerate
// being called from a single goroutine at a time per method instance, the
// same discipline the rest of the runtime follows.
type Tracer interface {
	// StartSpan opens a span covering a named phase (method execution,
	// delegate invocation, kernel call).
	StartSpan(name string) (SpanID, error)

	// EndSpan closes a previously started span.
	EndSpan(id SpanID) error

	// Logf records a one-off event.
	Logf(format string, args ...any)
}

// KlogTracer reports spans and events through k8s.io/klog/v2 at verbosity 1,
// tagging each span with a UUID.
type KlogTracer struct {
	mu    sync.Mutex
	spans map[SpanID]spanInfo
}

type spanInfo struct {
	name  string
	start time.Time
}

// NewKlogTracer returns a ready-to-use KlogTracer.
func NewKlogTracer() *KlogTracer {
	return &KlogTracer{spans: make(map[SpanID]spanInfo)}
}

// StartSpan implements Tracer.
func (t *KlogTracer) StartSpan(name string) (SpanID, error) {
	id := SpanID(uuid.NewString())
	t.mu.Lock()
	t.spans[id] = spanInfo{name: name, start: time.Now()}
	t.mu.Unlock()
	klog.V(1).Infof("span %s started: %s", id, name)
	return id, nil
}

// EndSpan implements Tracer.
func (t *KlogTracer) EndSpan(id SpanID) error {
	t.mu.Lock()
	info, found := t.spans[id]
	if found {
		delete(t.spans, id)
	}
	t.mu.Unlock()
	if !found {
		return errors.Errorf("unknown span %s", id)
	}
	klog.V(1).Infof("span %s ended: %s took %s", id, info.name, time.Since(info.start))
	return nil
}

// Logf implements Tracer.
func (t *KlogTracer) Logf(format string, args ...any) {
	klog.V(1).Infof(format, args...)
}
