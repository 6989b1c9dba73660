// Package mediadl downloads media files from a device: it lists what the
// device holds and transfers queued files one at a time.
package mediadl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/devsync/internal/catalog"
	"github.com/tinoosan/devsync/internal/data"
	"github.com/tinoosan/devsync/internal/downloader"
	"github.com/tinoosan/devsync/internal/metrics"
	"github.com/tinoosan/devsync/internal/queue"
	"github.com/tinoosan/devsync/internal/transfer"
	"github.com/tinoosan/devsync/internal/transport"
)

// Options wire a MediasDownloader. The three handles must be distinct
// connections to the same device.
type Options struct {
	// Root is the device directory holding one directory per product.
	Root string
	// LocalDir is the local base directory; media land in LocalDir/media.
	LocalDir string

	List   transport.Transport
	Queue  transport.Transport
	Delete transport.Transport

	Reporter downloader.Reporter
}

// MediasDownloader owns the catalog, the job queue and the worker state.
type MediasDownloader struct {
	log      *slog.Logger
	root     string
	mediaDir string

	listT, queueT, delT transport.Transport

	catalog  *catalog.Catalog
	lister   *catalog.Lister
	queue    *queue.Queue
	reporter downloader.Reporter

	mu       sync.Mutex
	running  bool
	canceled bool
	deleted  bool
}

// New creates the local media directory and returns a ready downloader.
func New(log *slog.Logger, opts Options) (*MediasDownloader, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.LocalDir == "" || opts.List == nil || opts.Queue == nil || opts.Delete == nil {
		return nil, data.ErrBadParameter
	}
	mediaDir := filepath.Join(opts.LocalDir, data.MediaDir)
	if err := os.MkdirAll(mediaDir, 0o775); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", data.ErrSystem, mediaDir, err)
	}
	log = log.With("component", "mediadl")
	cat := catalog.New()
	return &MediasDownloader{
		log:      log,
		root:     opts.Root,
		mediaDir: mediaDir,
		listT:    opts.List,
		queueT:   opts.Queue,
		delT:     opts.Delete,
		catalog:  cat,
		lister:   catalog.NewLister(log, opts.List, opts.Delete, opts.Root, mediaDir, cat),
		queue:    queue.New(),
		reporter: downloader.OrNop(opts.Reporter),
	}, nil
}

// MediaDir is where completed media files are written.
func (d *MediasDownloader) MediaDir() string { return d.mediaDir }

func (d *MediasDownloader) alive() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deleted {
		return data.ErrNotInitialized
	}
	return nil
}

// ListAvailableSync lists the device and installs the catalog. The catalog
// must be empty; see FreeCatalog.
func (d *MediasDownloader) ListAvailableSync(ctx context.Context, withThumbnail bool) ([]data.MediaRecord, error) {
	if err := d.alive(); err != nil {
		return nil, err
	}
	return d.lister.ListAvailable(ctx, withThumbnail)
}

// ListAvailableAsync is ListAvailableSync reporting each record as found.
func (d *MediasDownloader) ListAvailableAsync(ctx context.Context, onEach func(data.MediaRecord)) error {
	if err := d.alive(); err != nil {
		return err
	}
	return d.lister.ListAvailableAsync(ctx, onEach)
}

// CancelListing interrupts a listing in progress.
func (d *MediasDownloader) CancelListing() error {
	if err := d.alive(); err != nil {
		return err
	}
	return d.lister.Cancel()
}

// FreeCatalog drops the installed catalog so the device can be listed again.
func (d *MediasDownloader) FreeCatalog() {
	d.catalog.Clear()
}

// Catalog returns a copy of the installed records.
func (d *MediasDownloader) Catalog() []data.MediaRecord {
	return d.catalog.Snapshot()
}

// Record returns the catalog entry for product/name.
func (d *MediasDownloader) Record(product int, name string) (data.MediaRecord, error) {
	rec, ok := d.catalog.Get(product, name)
	if !ok {
		return data.MediaRecord{}, fmt.Errorf("%w: %04x/%s", data.ErrNotFound, product, name)
	}
	return rec, nil
}

// DeleteRecord removes a media file from the device and the catalog.
func (d *MediasDownloader) DeleteRecord(ctx context.Context, product int, name string) error {
	if err := d.alive(); err != nil {
		return err
	}
	rec, err := d.Record(product, name)
	if err != nil {
		return err
	}
	return d.lister.DeleteMedia(ctx, rec)
}

// Enqueue adds a download job for rec and returns its id. obs may be nil.
func (d *MediasDownloader) Enqueue(rec data.MediaRecord, obs downloader.Observer) (string, error) {
	if err := d.alive(); err != nil {
		return "", err
	}
	if rec.Name == "" {
		return "", data.ErrBadParameter
	}
	job := queue.NewJob(rec, obs)
	if err := d.queue.Add(job); err != nil {
		return "", err
	}
	metrics.QueueDepth.Set(float64(d.queue.Len()))
	d.report(job, downloader.EventQueued, nil, nil)
	d.log.Debug("enqueued", "job", job.ID, "name", rec.Name)
	return job.ID, nil
}

// Pending is the number of jobs waiting in the queue.
func (d *MediasDownloader) Pending() int { return d.queue.Len() }

// Running reports whether RunQueueLoop is active.
func (d *MediasDownloader) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// RunQueueLoop consumes the queue until CancelQueueLoop is called or ctx
// ends. Every popped job gets exactly one OnComplete call. A cancel issued
// while the loop was not running makes this call return ErrCanceled; the
// next call starts normally.
func (d *MediasDownloader) RunQueueLoop(ctx context.Context) error {
	d.mu.Lock()
	switch {
	case d.deleted:
		d.mu.Unlock()
		return data.ErrNotInitialized
	case d.running:
		// the latch belongs to the running loop
		d.mu.Unlock()
		return data.ErrThreadAlreadyRunning
	case d.canceled:
		d.canceled = false
		d.mu.Unlock()
		d.queue.Reset()
		_ = d.queueT.Reset()
		return fmt.Errorf("%w: queue loop canceled before start", data.ErrCanceled)
	}
	d.running = true
	d.mu.Unlock()

	log := d.log.With("operation_id", uuid.NewString())
	log.Info("queue loop started")
	defer func() {
		d.queue.Reset()
		_ = d.queueT.Reset()
		metrics.QueueDepth.Set(0)
		d.mu.Lock()
		d.canceled = false
		d.running = false
		d.mu.Unlock()
		log.Info("queue loop stopped")
	}()

	for {
		job, err := d.queue.Pop(ctx)
		if err != nil {
			log.Error("wait for job", "err", err)
			return err
		}
		metrics.QueueDepth.Set(float64(d.queue.Len()))
		if job != nil {
			var jerr error
			if d.isCanceled() {
				jerr = fmt.Errorf("%w: job skipped", data.ErrCanceled)
				d.report(job, downloader.EventCancelled, nil, jerr)
			} else {
				jerr = d.download(ctx, log, job)
			}
			job.Observer.OnComplete(job.Record, jerr)
		}
		if d.isCanceled() && d.queue.Len() == 0 {
			return nil
		}
	}
}

// CancelQueueLoop stops the worker. Pending jobs are discarded without a
// callback and the transfer in flight is aborted. It does not wait for the
// loop to exit.
func (d *MediasDownloader) CancelQueueLoop() error {
	if err := d.alive(); err != nil {
		return err
	}
	d.mu.Lock()
	d.canceled = true
	d.mu.Unlock()
	n := d.queue.RemoveAll()
	d.queue.Wake()
	_ = d.queueT.Cancel()
	metrics.QueueDepth.Set(0)
	d.log.Info("queue loop cancel requested", "discarded", n)
	return nil
}

func (d *MediasDownloader) isCanceled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.canceled
}

func (d *MediasDownloader) download(ctx context.Context, log *slog.Logger, job *queue.Job) error {
	rec := job.Record
	d.report(job, downloader.EventStart, nil, nil)
	f := transfer.Fetcher{T: d.queueT, LocalDir: d.mediaDir}
	start := time.Now()
	res, err := f.Fetch(ctx, data.MediaRemoteDir(d.root, rec.Product), rec.Name, transfer.Options{
		Progress: func(p uint8) {
			job.Observer.OnProgress(rec, p)
			d.report(job, downloader.EventProgress, &downloader.Progress{Percent: p}, nil)
		},
	})
	switch {
	case err == nil:
		log.Info("media downloaded", "job", job.ID, "name", rec.Name, "bytes", res.Bytes, "resumed", res.Resumed, "took", time.Since(start))
		d.report(job, downloader.EventComplete, &downloader.Progress{Percent: 100, Bytes: res.Bytes}, nil)
	case errors.Is(err, data.ErrCanceled):
		log.Info("media download canceled", "job", job.ID, "name", rec.Name)
		d.report(job, downloader.EventCancelled, nil, err)
	default:
		log.Warn("media download failed", "job", job.ID, "name", rec.Name, "err", err)
		d.report(job, downloader.EventFailed, nil, err)
	}
	return err
}

func (d *MediasDownloader) report(job *queue.Job, typ downloader.EventType, p *downloader.Progress, err error) {
	d.reporter.Report(downloader.Event{
		ID:       job.ID,
		Kind:     data.KindMedia,
		Type:     typ,
		Product:  job.Record.Product.PathName(),
		Name:     job.Record.Name,
		Size:     job.Record.Size,
		Progress: p,
		Err:      err,
	})
}

// Delete tears the downloader down. It fails with ErrThreadProcessing while
// the queue loop runs.
func (d *MediasDownloader) Delete() error {
	d.mu.Lock()
	if d.deleted {
		d.mu.Unlock()
		return data.ErrNotInitialized
	}
	if d.running {
		d.mu.Unlock()
		return data.ErrThreadProcessing
	}
	d.deleted = true
	d.mu.Unlock()

	_ = d.lister.Cancel()
	d.queue.Reset()
	d.catalog.Clear()
	for _, t := range []transport.Transport{d.listT, d.queueT, d.delT} {
		_ = t.Disconnect()
	}
	d.log.Info("media downloader deleted")
	return nil
}
