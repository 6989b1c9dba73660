// Package transport defines the file transfer capability the sync engine
// drives. A Transport is a single connection handle: every long running
// loop owns its own handle so that canceling one never disturbs another.
package transport

import (
	"context"
	"errors"
)

// ErrCanceled is returned by any call interrupted by Cancel, and by every
// call made while the cancel latch is set.
var ErrCanceled = errors.New("transport: canceled")

// ErrNotConnected is returned when an operation needs a live connection.
var ErrNotConnected = errors.New("transport: not connected")

// ProgressFunc receives the completion percentage of a transfer. It is
// called only when the percentage changes.
type ProgressFunc func(percent uint8)

// Transport is a connection handle to a device file service.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Reconnect(ctx context.Context) error

	// List returns the raw, line oriented listing of dir. Callers decode
	// it with package listing.
	List(ctx context.Context, dir string) (string, error)

	// Get streams remote into local. With resume set the local file is
	// appended to, starting at its current length.
	Get(ctx context.Context, remote, local string, resume bool, progress ProgressFunc) error
	GetBuffer(ctx context.Context, remote string, progress ProgressFunc) ([]byte, error)
	Put(ctx context.Context, local, remote string, resume bool, progress ProgressFunc) error

	Delete(ctx context.Context, remote string) error
	Rename(ctx context.Context, from, to string) error
	Size(ctx context.Context, remote string) (int64, error)

	// Cancel aborts the call in flight on this handle and latches the
	// handle canceled. It is safe to call from any goroutine.
	Cancel() error
	// IsCanceled returns ErrCanceled while the latch is set.
	IsCanceled() error
	// Reset clears the latch so the handle can be reused.
	Reset() error
}

// Percent converts a byte count into a completion percentage.
func Percent(done, total int64) uint8 {
	if total <= 0 {
		return 100
	}
	if done >= total {
		return 100
	}
	if done <= 0 {
		return 0
	}
	return uint8(done * 100 / total)
}

// ProgressWriter counts bytes written and reports percent changes.
type ProgressWriter struct {
	Done     int64
	Total    int64
	Progress ProgressFunc

	last    int
	started bool
}

func (w *ProgressWriter) Write(p []byte) (int, error) {
	w.Done += int64(len(p))
	w.report()
	return len(p), nil
}

// Finish reports 100 percent if it has not been reported yet.
func (w *ProgressWriter) Finish() {
	if w.Progress == nil {
		return
	}
	if !w.started || w.last != 100 {
		w.started = true
		w.last = 100
		w.Progress(100)
	}
}

func (w *ProgressWriter) report() {
	if w.Progress == nil {
		return
	}
	pct := int(Percent(w.Done, w.Total))
	if w.started && pct == w.last {
		return
	}
	w.started = true
	w.last = pct
	w.Progress(uint8(pct))
}
