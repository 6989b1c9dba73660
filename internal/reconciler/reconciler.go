package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/devsync/internal/data"
	"github.com/tinoosan/devsync/internal/downloader"
	"github.com/tinoosan/devsync/internal/metrics"
	"github.com/tinoosan/devsync/internal/repo"
)

// Publisher receives every event after it has been reconciled.
type Publisher interface {
	Publish(downloader.Event)
}

// Reconciler consumes downloader events and keeps the transfer history in
// the repository current.
type Reconciler struct {
	repo   repo.TransferRepo
	events <-chan downloader.Event
	pub    Publisher
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	// start times of transfers in flight, by id
	started map[string]time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Reconciler that processes downloader events and mutates the
// repository accordingly. pub may be nil.
func New(log *slog.Logger, repo repo.TransferRepo, events <-chan downloader.Event, pub Publisher) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		repo:    repo,
		events:  events,
		pub:     pub,
		log:     log.With("component", "reconciler"),
		ctx:     context.Background(),
		started: make(map[string]time.Time),
	}
}

// Run starts the reconciliation loop.
func (r *Reconciler) Run() {
	r.stop = make(chan struct{})
	r.ctx, r.cancel = context.WithCancel(r.ctx)
	// Tag this run with a stable operation_id for easier correlation.
	r.log = r.log.With("operation_id", uuid.NewString())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.stop:
				return
			case e, ok := <-r.events:
				if !ok {
					return
				}
				r.handle(e)
			}
		}
	}()
}

// Stop terminates the reconciliation loop.
func (r *Reconciler) Stop() {
	if r.stop != nil {
		close(r.stop)
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
	}
}

func (r *Reconciler) handle(e downloader.Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	metrics.TransferEvents.WithLabelValues(string(e.Kind), strings.ToLower(string(e.Type))).Inc()
	defer func() {
		if r.pub != nil {
			r.pub.Publish(e)
		}
	}()

	switch e.Type {
	case downloader.EventQueued:
		r.upsert(e, data.StatusQueued, nil)
	case downloader.EventStart:
		if _, ok := r.started[e.ID]; !ok {
			metrics.ActiveTransfers.Inc()
		}
		r.started[e.ID] = e.Time
		r.upsert(e, data.StatusActive, func(t *data.TransferRecord) {
			t.Percent = 0
			t.Error = ""
		})
	case downloader.EventProgress:
		if e.Progress == nil {
			return
		}
		_, err := r.repo.Update(r.ctx, e.ID, func(t *data.TransferRecord) error {
			if t.Status.Terminal() {
				return nil
			}
			t.Percent = e.Progress.Percent
			return nil
		})
		if err != nil {
			r.log.Error("update progress", "id", e.ID, "err", err)
		}
	case downloader.EventComplete, downloader.EventFailed, downloader.EventCancelled:
		r.finish(e)
	default:
		r.log.Warn("unknown event type", "id", e.ID, "type", e.Type)
	}
}

func (r *Reconciler) finish(e downloader.Event) {
	status := data.StatusComplete
	switch e.Type {
	case downloader.EventFailed:
		status = data.StatusError
	case downloader.EventCancelled:
		status = data.StatusCancelled
	}
	if at, ok := r.started[e.ID]; ok {
		delete(r.started, e.ID)
		metrics.ActiveTransfers.Dec()
		if status == data.StatusComplete {
			metrics.TransferLatency.WithLabelValues(string(e.Kind)).Observe(e.Time.Sub(at).Seconds())
		}
	}
	if status == data.StatusComplete && e.Progress != nil && e.Progress.Bytes > 0 {
		metrics.BytesDownloaded.WithLabelValues(string(e.Kind)).Add(float64(e.Progress.Bytes))
	}
	r.upsert(e, status, func(t *data.TransferRecord) {
		if status == data.StatusComplete {
			t.Percent = 100
			t.Error = ""
		} else {
			t.Error = data.ErrorString(e.Err)
		}
	})
	r.log.Info("reconciled event", "id", e.ID, "kind", e.Kind, "type", e.Type, "name", e.Name)
}

// upsert sets the record's status, creating the record when the event is
// the first seen for its id.
func (r *Reconciler) upsert(e downloader.Event, status data.TransferStatus, mutate func(*data.TransferRecord)) {
	_, err := r.repo.Update(r.ctx, e.ID, func(t *data.TransferRecord) error {
		t.Status = status
		if mutate != nil {
			mutate(t)
		}
		return nil
	})
	if err == nil {
		return
	}
	if !errors.Is(err, data.ErrNotFound) {
		r.log.Error("update", "id", e.ID, "status", status, "err", err)
		return
	}
	rec := &data.TransferRecord{
		ID:        e.ID,
		Kind:      e.Kind,
		Product:   e.Product,
		Name:      e.Name,
		Size:      e.Size,
		Status:    status,
		CreatedAt: e.Time,
	}
	if mutate != nil {
		mutate(rec)
	}
	if _, err := r.repo.Add(r.ctx, rec); err != nil {
		r.log.Error("add", "id", e.ID, "err", err)
	}
}
