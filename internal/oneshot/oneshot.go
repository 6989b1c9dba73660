// Package oneshot moves a single file to or from a device outside of the
// queue and the poller.
package oneshot

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"sync"

	"github.com/google/uuid"
	"github.com/tinoosan/devsync/internal/data"
	"github.com/tinoosan/devsync/internal/downloader"
	"github.com/tinoosan/devsync/internal/transfer"
	"github.com/tinoosan/devsync/internal/transport"
)

// Options describe one transfer.
type Options struct {
	Remote string
	Local  string
	Resume bool

	Progress transport.ProgressFunc
	// Complete is called once when Run finishes, with Run's result.
	Complete func(err error)
	Reporter downloader.Reporter
}

type job struct {
	log  *slog.Logger
	t    transport.Transport
	opts Options
	op   string
	do   func(ctx context.Context) error

	mu      sync.Mutex
	running bool
}

func newJob(log *slog.Logger, t transport.Transport, opts Options, op string) (*job, error) {
	if log == nil {
		log = slog.Default()
	}
	if t == nil || opts.Remote == "" || opts.Local == "" {
		return nil, data.ErrBadParameter
	}
	opts.Reporter = downloader.OrNop(opts.Reporter)
	return &job{log: log.With("component", "oneshot", "op", op), t: t, opts: opts, op: op}, nil
}

// Run performs the transfer and blocks until it ends.
func (j *job) Run(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return data.ErrThreadAlreadyRunning
	}
	j.running = true
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	ev := downloader.Event{ID: uuid.NewString(), Kind: data.KindOneShot, Name: path.Base(j.opts.Remote)}
	ev.Type = downloader.EventStart
	j.opts.Reporter.Report(ev)

	err := transfer.Classify(j.op+" "+j.opts.Remote, j.do(ctx))
	switch {
	case err == nil:
		ev.Type = downloader.EventComplete
		ev.Progress = &downloader.Progress{Percent: 100}
		j.log.Info("transfer complete", "remote", j.opts.Remote, "local", j.opts.Local)
	case errors.Is(err, data.ErrCanceled):
		ev.Type = downloader.EventCancelled
		ev.Err = err
		_ = j.t.Reset()
	default:
		ev.Type = downloader.EventFailed
		ev.Err = err
		j.log.Warn("transfer failed", "remote", j.opts.Remote, "err", err)
	}
	j.opts.Reporter.Report(ev)
	if j.opts.Complete != nil {
		j.opts.Complete(err)
	}
	return err
}

// Cancel aborts a running transfer.
func (j *job) Cancel() error {
	return j.t.Cancel()
}

// Downloader fetches one remote file into a local path.
type Downloader struct{ *job }

func NewDownloader(log *slog.Logger, t transport.Transport, opts Options) (*Downloader, error) {
	j, err := newJob(log, t, opts, "get")
	if err != nil {
		return nil, err
	}
	j.do = func(ctx context.Context) error {
		return j.t.Get(ctx, j.opts.Remote, j.opts.Local, j.opts.Resume, j.opts.Progress)
	}
	return &Downloader{j}, nil
}

// Uploader sends one local file to a remote path.
type Uploader struct{ *job }

func NewUploader(log *slog.Logger, t transport.Transport, opts Options) (*Uploader, error) {
	j, err := newJob(log, t, opts, "put")
	if err != nil {
		return nil, err
	}
	j.do = func(ctx context.Context) error {
		return j.t.Put(ctx, j.opts.Local, j.opts.Remote, j.opts.Resume, j.opts.Progress)
	}
	return &Uploader{j}, nil
}
