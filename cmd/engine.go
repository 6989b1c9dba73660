package main

import (
	"log/slog"

	"github.com/tinoosan/devsync/internal/config"
	"github.com/tinoosan/devsync/internal/datadl"
	"github.com/tinoosan/devsync/internal/downloader"
	"github.com/tinoosan/devsync/internal/logging"
	"github.com/tinoosan/devsync/internal/manager"
	"github.com/tinoosan/devsync/internal/mediadl"
	"github.com/tinoosan/devsync/internal/quota"
	"github.com/tinoosan/devsync/internal/transport/ftp"
)

// engine holds the components shared by the commands.
type engine struct {
	cfg *config.Config
	log *slog.Logger
	mgr *manager.Manager
}

func newEngine(cfg *config.Config) *engine {
	log := logging.New("devsync", logging.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	return &engine{cfg: cfg, log: log, mgr: manager.New(log)}
}

// conn returns a fresh device handle. Every loop gets its own.
func (e *engine) conn() *ftp.Client {
	return ftp.New(e.log, ftp.Config{
		Addr:        e.cfg.DeviceAddr,
		User:        e.cfg.DeviceUser,
		Password:    e.cfg.DevicePassword,
		DialTimeout: e.cfg.DialTimeout,
	})
}

func (e *engine) media(r downloader.Reporter) (*mediadl.MediasDownloader, error) {
	return e.mgr.NewMedia(mediadl.Options{
		Root:     e.cfg.MediaRoot,
		LocalDir: e.cfg.LocalDir,
		List:     e.conn(),
		Queue:    e.conn(),
		Delete:   e.conn(),
		Reporter: r,
	})
}

func (e *engine) data(r downloader.Reporter) (*datadl.DataDownloader, error) {
	return e.mgr.NewData(datadl.Options{
		RemoteDir: e.cfg.RemoteDataDir,
		LocalDir:  e.cfg.LocalDir,
		List:      e.conn(),
		Data:      e.conn(),
		Reporter:  r,
		OnFile: func(name string, err error) {
			if err != nil {
				e.log.Warn("data file", "name", name, "err", err)
			}
		},
		Quota:        quota.New(e.log),
		QuotaPercent: e.cfg.QuotaPercent,
	})
}

// cancelOnDone cancels every component once done is closed.
func (e *engine) cancelOnDone(done <-chan struct{}) {
	go func() {
		<-done
		e.mgr.CancelAll()
	}()
}
