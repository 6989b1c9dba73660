// Package manager holds at most one of each transfer component for a
// device and tears them down together.
package manager

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/tinoosan/devsync/internal/data"
	"github.com/tinoosan/devsync/internal/datadl"
	"github.com/tinoosan/devsync/internal/mediadl"
	"github.com/tinoosan/devsync/internal/oneshot"
	"github.com/tinoosan/devsync/internal/transport"
)

// Manager owns the component slots. The zero value is not usable; use New.
type Manager struct {
	log *slog.Logger

	mu    sync.Mutex
	media *mediadl.MediasDownloader
	data  *datadl.DataDownloader
	down  *oneshot.Downloader
	up    *oneshot.Uploader
}

func New(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log}
}

// NewMedia fills the media slot.
func (m *Manager) NewMedia(opts mediadl.Options) (*mediadl.MediasDownloader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.media != nil {
		return nil, data.ErrAlreadyInitialized
	}
	d, err := mediadl.New(m.log, opts)
	if err != nil {
		return nil, err
	}
	m.media = d
	return d, nil
}

func (m *Manager) Media() (*mediadl.MediasDownloader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.media == nil {
		return nil, data.ErrNotInitialized
	}
	return m.media, nil
}

// DeleteMedia empties the media slot. The slot is kept when the queue loop
// is still running.
func (m *Manager) DeleteMedia() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.media == nil {
		return data.ErrNotInitialized
	}
	if err := m.media.Delete(); err != nil && !errors.Is(err, data.ErrNotInitialized) {
		return err
	}
	m.media = nil
	return nil
}

func (m *Manager) NewData(opts datadl.Options) (*datadl.DataDownloader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data != nil {
		return nil, data.ErrAlreadyInitialized
	}
	d, err := datadl.New(m.log, opts)
	if err != nil {
		return nil, err
	}
	m.data = d
	return d, nil
}

func (m *Manager) Data() (*datadl.DataDownloader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, data.ErrNotInitialized
	}
	return m.data, nil
}

func (m *Manager) DeleteData() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return data.ErrNotInitialized
	}
	if err := m.data.Delete(); err != nil && !errors.Is(err, data.ErrNotInitialized) {
		return err
	}
	m.data = nil
	return nil
}

func (m *Manager) NewDownloader(t transport.Transport, opts oneshot.Options) (*oneshot.Downloader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down != nil {
		return nil, data.ErrAlreadyInitialized
	}
	d, err := oneshot.NewDownloader(m.log, t, opts)
	if err != nil {
		return nil, err
	}
	m.down = d
	return d, nil
}

func (m *Manager) Downloader() (*oneshot.Downloader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down == nil {
		return nil, data.ErrNotInitialized
	}
	return m.down, nil
}

func (m *Manager) DeleteDownloader() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down == nil {
		return data.ErrNotInitialized
	}
	m.down = nil
	return nil
}

func (m *Manager) NewUploader(t transport.Transport, opts oneshot.Options) (*oneshot.Uploader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.up != nil {
		return nil, data.ErrAlreadyInitialized
	}
	u, err := oneshot.NewUploader(m.log, t, opts)
	if err != nil {
		return nil, err
	}
	m.up = u
	return u, nil
}

func (m *Manager) Uploader() (*oneshot.Uploader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.up == nil {
		return nil, data.ErrNotInitialized
	}
	return m.up, nil
}

func (m *Manager) DeleteUploader() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.up == nil {
		return data.ErrNotInitialized
	}
	m.up = nil
	return nil
}

// CancelAll asks every component present to stop. It never blocks on a
// loop exiting, so it is safe to call from a signal handler.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	media, dd, down, up := m.media, m.data, m.down, m.up
	m.mu.Unlock()

	if media != nil {
		_ = media.CancelListing()
		_ = media.CancelQueueLoop()
	}
	if dd != nil {
		_ = dd.CancelAvailableFiles()
		_ = dd.CancelPollLoop()
	}
	if down != nil {
		_ = down.Cancel()
	}
	if up != nil {
		_ = up.Cancel()
	}
	m.log.Info("cancel requested for all components")
}
