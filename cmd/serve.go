package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tinoosan/devsync/internal/config"
	"github.com/tinoosan/devsync/internal/data"
	"github.com/tinoosan/devsync/internal/downloader"
	"github.com/tinoosan/devsync/internal/hub"
	"github.com/tinoosan/devsync/internal/metrics"
	"github.com/tinoosan/devsync/internal/reconciler"
	"github.com/tinoosan/devsync/internal/repo"
	"github.com/tinoosan/devsync/internal/router"
	"github.com/tinoosan/devsync/internal/service"
)

func openHistory(cfg *config.Config) (repo.TransferRepo, func() error, error) {
	if cfg.History != config.HistoryPostgres {
		return repo.NewInMemoryTransferRepo(), func() error { return nil }, nil
	}
	var (
		r   *repo.PostgresRepo
		err error
	)
	if cfg.HistoryDSN != "" {
		r, err = repo.NewPostgresRepo(cfg.HistoryDSN)
	} else {
		r, err = repo.NewPostgresRepoFromEnv()
	}
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}

func serve(cfg *config.Config, c *cli.Context) error {
	e := newEngine(cfg)
	log := e.log
	metrics.Register()

	history, closeHistory, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeHistory(); err != nil {
			log.Error("close history", "err", err)
		}
	}()

	events := make(chan downloader.Event, 256)
	reporter := downloader.NewChanReporter(events)
	stream := hub.New(log)
	rec := reconciler.New(log, history, events, stream)
	rec.Run()
	defer rec.Stop()

	md, err := e.media(reporter)
	if err != nil {
		return err
	}
	dd, err := e.data(reporter)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(log, service.NewMedia(e.mgr, history), stream, cfg.APIToken),
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(c.Context)
	g.Go(func() error {
		log.Info("starting devsync API", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// a cancel from the API stops the worker; serve keeps a worker up
		for {
			err := md.RunQueueLoop(ctx)
			if ctx.Err() != nil {
				return loopErr(err)
			}
			if err := loopErr(err); err != nil {
				return err
			}
			log.Info("queue loop restarting")
		}
	})
	g.Go(func() error { return loopErr(dd.RunPollLoop(ctx)) })
	g.Go(func() error {
		<-ctx.Done()
		log.Info("received terminate, graceful shutdown")
		e.mgr.CancelAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if derr := e.mgr.DeleteMedia(); derr != nil {
		log.Warn("delete media downloader", "err", derr)
	}
	if derr := e.mgr.DeleteData(); derr != nil {
		log.Warn("delete data downloader", "err", derr)
	}
	return err
}

// loopErr treats a loop ending because of shutdown as success.
func loopErr(err error) error {
	if err == nil || errors.Is(err, data.ErrCanceled) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
