package portable

import (
	"github.com/pkg/errors"

	"github.com/mcr229/executorch/events"
)

// profiler wraps the tracer hook points around one runtime invocation. It is
// best-effort by contract: its errors are logged by the caller and never
// block inference.
type profiler struct {
	tracer  events.Tracer
	span    events.SpanID
	running bool
}

func (p *profiler) start(tracer events.Tracer) error {
	p.tracer = tracer
	if tracer == nil {
		return nil
	}
	if p.running {
		return errors.Errorf("profiler started twice without end")
	}
	span, err := tracer.StartSpan("delegate invoke")
	if err != nil {
		return err
	}
	p.span = span
	p.running = true
	return nil
}

func (p *profiler) end() error {
	if !p.running {
		return nil
	}
	p.running = false
	return p.tracer.EndSpan(p.span)
}
