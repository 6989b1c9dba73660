// Package datadl polls a device for flight data files and moves them to
// the host, deleting each one from the device once it is safely local.
package datadl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/devsync/internal/data"
	"github.com/tinoosan/devsync/internal/downloader"
	"github.com/tinoosan/devsync/internal/listing"
	"github.com/tinoosan/devsync/internal/metrics"
	"github.com/tinoosan/devsync/internal/quota"
	"github.com/tinoosan/devsync/internal/transfer"
	"github.com/tinoosan/devsync/internal/transport"
)

const (
	// DataDir is the per-product remote directory and the local directory
	// data files are written to.
	DataDir = "academy"
	// Ext is the extension of the files the poller moves.
	Ext = "pud"

	PollInterval = 5 * time.Second
)

// Options wire a DataDownloader.
type Options struct {
	RemoteDir string
	// LocalDir is the local base directory; files land in LocalDir/academy.
	LocalDir string

	// List serves AvailableFiles, Data serves the poll loop.
	List transport.Transport
	Data transport.Transport

	// OnFile is called once per file handled by a pass. Optional.
	OnFile   downloader.FileCallback
	Reporter downloader.Reporter

	Quota        *quota.Enforcer
	QuotaPercent int
}

// DataDownloader runs the poll loop.
type DataDownloader struct {
	log      *slog.Logger
	remote   string
	dataDir  string
	listT    transport.Transport
	dataT    transport.Transport
	onFile   downloader.FileCallback
	reporter downloader.Reporter
	quota    *quota.Enforcer
	percent  int
	interval time.Duration

	wake chan struct{}

	mu       sync.Mutex
	running  bool
	canceled bool
	deleted  bool
}

// New creates the local data directory and returns a ready poller.
func New(log *slog.Logger, opts Options) (*DataDownloader, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.LocalDir == "" || opts.List == nil || opts.Data == nil {
		return nil, data.ErrBadParameter
	}
	dir := filepath.Join(opts.LocalDir, DataDir)
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", data.ErrSystem, dir, err)
	}
	log = log.With("component", "datadl")
	q := opts.Quota
	if q == nil {
		q = quota.New(log)
	}
	pct := opts.QuotaPercent
	if pct <= 0 {
		pct = quota.DefaultPercent
	}
	return &DataDownloader{
		log:      log,
		remote:   path.Join("/", opts.RemoteDir),
		dataDir:  dir,
		listT:    opts.List,
		dataT:    opts.Data,
		onFile:   opts.OnFile,
		reporter: downloader.OrNop(opts.Reporter),
		quota:    q,
		percent:  pct,
		interval: PollInterval,
		wake:     make(chan struct{}, 1),
	}, nil
}

// DataDir is where completed data files are written.
func (d *DataDownloader) DataDir() string { return d.dataDir }

func (d *DataDownloader) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *DataDownloader) isCanceled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.canceled
}

// RunPollLoop moves data files every poll interval until CancelPollLoop
// is called or ctx ends.
func (d *DataDownloader) RunPollLoop(ctx context.Context) error {
	d.mu.Lock()
	switch {
	case d.deleted:
		d.mu.Unlock()
		return data.ErrNotInitialized
	case d.running:
		// the latch and the wake signal belong to the running loop
		d.mu.Unlock()
		return data.ErrThreadAlreadyRunning
	case d.canceled:
		d.canceled = false
		d.mu.Unlock()
		d.drainWake()
		_ = d.dataT.Reset()
		return fmt.Errorf("%w: poll loop canceled before start", data.ErrCanceled)
	}
	d.running = true
	d.mu.Unlock()

	log := d.log.With("operation_id", uuid.NewString())
	log.Info("poll loop started", "remote", d.remote, "interval", d.interval)
	defer func() {
		d.drainWake()
		_ = d.dataT.Reset()
		d.mu.Lock()
		d.canceled = false
		d.running = false
		d.mu.Unlock()
		log.Info("poll loop stopped")
	}()

	_ = d.dataT.Disconnect()
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		err := d.pass(ctx, log)
		outcome := "ok"
		switch {
		case errors.Is(err, data.ErrCanceled):
			outcome = "canceled"
		case err != nil:
			outcome = "error"
			log.Warn("poll pass", "err", err)
		}
		metrics.PollPasses.WithLabelValues(outcome).Inc()
		if outcome != "canceled" {
			d.enforceQuota(log)
			_ = d.dataT.Disconnect()
		}
		if d.isCanceled() {
			return nil
		}

		timer.Reset(d.interval)
		select {
		case <-timer.C:
		case <-d.wake:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (d *DataDownloader) enforceQuota(log *slog.Logger) {
	res, err := d.quota.Enforce(d.dataDir, d.percent)
	if err != nil {
		log.Warn("quota", "dir", d.dataDir, "err", err)
		return
	}
	metrics.QuotaEvictions.Add(float64(len(res.Removed)))
}

// CancelPollLoop stops the poller, aborting the transfer in flight and
// interrupting the wait between passes. It does not wait for the loop to
// exit.
func (d *DataDownloader) CancelPollLoop() error {
	d.mu.Lock()
	if d.deleted {
		d.mu.Unlock()
		return data.ErrNotInitialized
	}
	d.canceled = true
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
	_ = d.dataT.Cancel()
	d.log.Info("poll loop cancel requested")
	return nil
}

func (d *DataDownloader) drainWake() {
	select {
	case <-d.wake:
	default:
	}
}

func (d *DataDownloader) stop(ctx context.Context) error {
	if d.isCanceled() {
		return fmt.Errorf("%w: poll pass", data.ErrCanceled)
	}
	if err := d.dataT.IsCanceled(); err != nil {
		return transfer.Classify("poll pass", err)
	}
	if err := ctx.Err(); err != nil {
		return transfer.Classify("poll pass", err)
	}
	return nil
}

func (d *DataDownloader) pass(ctx context.Context, log *slog.Logger) error {
	if err := d.dataT.Reconnect(ctx); err != nil {
		return transfer.Classify("reconnect", err)
	}
	raw, err := d.dataT.List(ctx, d.remote)
	if err != nil {
		return transfer.Classify("list "+d.remote, err)
	}
	for _, p := range data.Products {
		if err := d.stop(ctx); err != nil {
			return err
		}
		if _, ok := listing.Lookup(raw, p.PathName(), true); !ok {
			continue
		}
		dir := path.Join(d.remote, p.PathName(), DataDir)
		filesRaw, err := d.dataT.List(ctx, dir)
		if err != nil {
			return transfer.Classify("list "+dir, err)
		}
		entries := listing.Parse(filesRaw)

		// files a previous pass started and did not finish
		for _, e := range entries {
			if !e.IsFile() || data.Ext(e.Name) != Ext || !data.IsInProgress(e.Name) {
				continue
			}
			if err := d.stop(ctx); err != nil {
				return err
			}
			name := strings.TrimPrefix(e.Name, data.DownloadingPrefix)
			if err := d.move(ctx, log, p, dir, name, e.Size, transfer.Options{RemoteMarked: true}); errors.Is(err, data.ErrCanceled) {
				return err
			}
		}
		for _, e := range entries {
			if !e.IsFile() || data.Ext(e.Name) != Ext || data.IsInProgress(e.Name) {
				continue
			}
			if err := d.stop(ctx); err != nil {
				return err
			}
			if err := d.move(ctx, log, p, dir, e.Name, e.Size, transfer.Options{MarkRemote: true}); errors.Is(err, data.ErrCanceled) {
				return err
			}
		}
	}
	return nil
}

func (d *DataDownloader) move(ctx context.Context, log *slog.Logger, p data.Product, dir, name string, size float64, opts transfer.Options) error {
	ev := downloader.Event{ID: uuid.NewString(), Kind: data.KindData, Product: p.PathName(), Name: name, Size: size}
	ev.Type = downloader.EventStart
	d.reporter.Report(ev)

	f := transfer.Fetcher{T: d.dataT, LocalDir: d.dataDir}
	res, err := f.Fetch(ctx, dir, name, opts)
	switch {
	case err == nil:
		ev.Type = downloader.EventComplete
		ev.Progress = &downloader.Progress{Percent: 100, Bytes: res.Bytes}
		log.Info("data file moved", "product", p.PathName(), "name", name, "bytes", res.Bytes, "resumed", res.Resumed)
	case errors.Is(err, data.ErrCanceled):
		ev.Type = downloader.EventCancelled
		ev.Err = err
	default:
		ev.Type = downloader.EventFailed
		ev.Err = err
		log.Warn("data file", "product", p.PathName(), "name", name, "err", err)
	}
	d.reporter.Report(ev)
	if d.onFile != nil {
		d.onFile(name, err)
	}
	return err
}

// AvailableFiles counts the data files waiting on the device. It uses its
// own handle and may run alongside the poll loop.
func (d *DataDownloader) AvailableFiles(ctx context.Context) (int, error) {
	d.mu.Lock()
	deleted := d.deleted
	d.mu.Unlock()
	if deleted {
		return 0, data.ErrNotInitialized
	}
	n, err := d.countFiles(ctx)
	if errors.Is(err, data.ErrCanceled) {
		_ = d.listT.Reset()
	}
	return n, err
}

func (d *DataDownloader) countFiles(ctx context.Context) (int, error) {
	raw, err := d.listT.List(ctx, d.remote)
	if err != nil {
		return 0, transfer.Classify("list "+d.remote, err)
	}
	n := 0
	for _, p := range data.Products {
		if _, ok := listing.Lookup(raw, p.PathName(), true); !ok {
			continue
		}
		dir := path.Join(d.remote, p.PathName(), DataDir)
		filesRaw, err := d.listT.List(ctx, dir)
		if err != nil {
			return 0, transfer.Classify("list "+dir, err)
		}
		for _, e := range listing.Parse(filesRaw) {
			if e.IsFile() && data.Ext(e.Name) == Ext && !data.IsInProgress(e.Name) {
				n++
			}
		}
	}
	return n, nil
}

// CancelAvailableFiles interrupts AvailableFiles.
func (d *DataDownloader) CancelAvailableFiles() error {
	return d.listT.Cancel()
}

// Delete tears the poller down. It fails with ErrThreadProcessing while
// the poll loop runs.
func (d *DataDownloader) Delete() error {
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
	_ = d.listT.Cancel()
	_ = d.listT.Disconnect()
	_ = d.dataT.Disconnect()
	d.log.Info("data downloader deleted")
	return nil
}
