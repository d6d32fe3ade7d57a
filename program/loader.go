// Package program implements the serialized program container: data loaders,
// header verification, and the immutable parsed view (Program) exposing
// method names and per-method metadata.
package program

import (
	"os"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"github.com/mcr229/executorch/status"
)

// DataLoader supplies the raw bytes of a serialized program. The returned
// view must stay valid for the loader's lifetime: a Program keeps referencing
// it after parsing.
type DataLoader interface {
	// Load returns the full serialized program. Implementations may return
	// an internally cached view; callers must not mutate it.
	Load() ([]byte, error)

	// Close releases any resources held by the loader (mappings, file
	// descriptors). The data returned by Load becomes invalid.
	Close() error
}

// BufferLoader serves a program already held in memory.
type BufferLoader struct {
	data []byte
}

// NewBufferLoader wraps the given bytes. The caller keeps ownership but must
// not mutate them while the loader is in use.
func NewBufferLoader(data []byte) *BufferLoader {
	return &BufferLoader{data: data}
}

// Load implements DataLoader.
func (l *BufferLoader) Load() ([]byte, error) { return l.data, nil }

// Close implements DataLoader.
func (l *BufferLoader) Close() error { return nil }

// LoadMode selects how FileLoader brings the file into memory.
type LoadMode int

const (
	// LoadModeFile reads the whole file into an owned buffer.
	LoadModeFile LoadMode = iota
	// LoadModeMmap maps the file with no page locking.
	LoadModeMmap
	// LoadModeMmapUseMlock maps the file and locks its pages, failing the
	// load if locking fails.
	LoadModeMmapUseMlock
	// LoadModeMmapUseMlockIgnoreErrors maps the file and locks its pages,
	// proceeding degraded (with a log line) if locking fails.
	LoadModeMmapUseMlockIgnoreErrors
)

// String implements fmt.Stringer.
func (m LoadMode) String() string {
	switch m {
	case LoadModeFile:
		return "File"
	case LoadModeMmap:
		return "Mmap"
	case LoadModeMmapUseMlock:
		return "MmapUseMlock"
	case LoadModeMmapUseMlockIgnoreErrors:
		return "MmapUseMlockIgnoreErrors"
	}
	return "Unknown"
}

// FileLoader loads a serialized program from a file, either by reading it
// whole or by memory-mapping it.
type FileLoader struct {
	path   string
	mode   LoadMode
	data   []byte
	mapped bool
	locked bool
}

// NewFileLoader creates a loader for the given path. Nothing is read until
// Load.
func NewFileLoader(path string, mode LoadMode) *FileLoader {
	return &FileLoader{path: path, mode: mode}
}

// Load implements DataLoader. The first call reads or maps the file;
// subsequent calls return the cached view.
func (l *FileLoader) Load() ([]byte, error) {
	if l.data != nil {
		return l.data, nil
	}
	if l.mode == LoadModeFile {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, status.Wrapf(err, status.AccessFailed, "reading program file %q", l.path)
		}
		l.data = data
		return l.data, nil
	}

	f, err := os.Open(l.path)
	if err != nil {
		return nil, status.Wrapf(err, status.AccessFailed, "opening program file %q", l.path)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return nil, status.Wrapf(err, status.AccessFailed, "stat program file %q", l.path)
	}
	if info.Size() == 0 {
		return nil, status.Errorf(status.InvalidProgram, "program file %q is empty", l.path)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, status.Wrapf(err, status.AccessFailed, "mmap program file %q", l.path)
	}
	if l.mode == LoadModeMmapUseMlock || l.mode == LoadModeMmapUseMlockIgnoreErrors {
		if err := unix.Mlock(data); err != nil {
			if l.mode == LoadModeMmapUseMlock {
				_ = unix.Munmap(data)
				return nil, status.Wrapf(err, status.AccessFailed, "mlock program file %q", l.path)
			}
			klog.Warningf("mlock of program file %q failed, proceeding without page locking: %v", l.path, err)
		} else {
			l.locked = true
		}
	}
	l.data = data
	l.mapped = true
	return l.data, nil
}

// Close implements DataLoader, unmapping or releasing the cached data.
func (l *FileLoader) Close() error {
	if l.data == nil {
		return nil
	}
	data := l.data
	l.data = nil
	if !l.mapped {
		return nil
	}
	l.mapped = false
	if l.locked {
		l.locked = false
		_ = unix.Munlock(data)
	}
	if err := unix.Munmap(data); err != nil {
		return status.Wrapf(err, status.AccessFailed, "munmap program file %q", l.path)
	}
	return nil
}
