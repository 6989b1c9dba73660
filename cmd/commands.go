package main

import (
	"encoding/json"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tinoosan/devsync/internal/config"
	"github.com/tinoosan/devsync/internal/data"
	"github.com/tinoosan/devsync/internal/hub"
	"github.com/tinoosan/devsync/internal/oneshot"
)

func list(cfg *config.Config, c *cli.Context) error {
	e := newEngine(cfg)
	e.cancelOnDone(c.Context.Done())
	md, err := e.media(nil)
	if err != nil {
		return err
	}
	defer func() { _ = e.mgr.DeleteMedia() }()

	enc := json.NewEncoder(os.Stdout)
	if c.Bool("thumbnails") {
		return md.ListAvailableAsync(c.Context, func(r data.MediaRecord) {
			r.Thumbnail = nil
			_ = enc.Encode(r)
		})
	}
	recs, err := md.ListAvailableSync(c.Context, false)
	if err != nil {
		return err
	}
	for _, r := range recs {
		_ = enc.Encode(r)
	}
	return nil
}

func fetch(cfg *config.Config, c *cli.Context) error {
	e := newEngine(cfg)
	e.cancelOnDone(c.Context.Done())
	d, err := e.mgr.NewDownloader(e.conn(), oneshot.Options{
		Remote:   c.String("remote"),
		Local:    c.String("local"),
		Resume:   c.Bool("resume"),
		Progress: progress,
	})
	if err != nil {
		return err
	}
	defer func() { _ = e.mgr.DeleteDownloader() }()
	err = d.Run(c.Context)
	printf("\n%s\n", data.ErrorString(err))
	return err
}

func upload(cfg *config.Config, c *cli.Context) error {
	e := newEngine(cfg)
	e.cancelOnDone(c.Context.Done())
	u, err := e.mgr.NewUploader(e.conn(), oneshot.Options{
		Remote:   c.String("remote"),
		Local:    c.String("local"),
		Resume:   c.Bool("resume"),
		Progress: progress,
	})
	if err != nil {
		return err
	}
	defer func() { _ = e.mgr.DeleteUploader() }()
	err = u.Run(c.Context)
	printf("\n%s\n", data.ErrorString(err))
	return err
}

func files(cfg *config.Config, c *cli.Context) error {
	e := newEngine(cfg)
	e.cancelOnDone(c.Context.Done())
	dd, err := e.data(nil)
	if err != nil {
		return err
	}
	defer func() { _ = e.mgr.DeleteData() }()
	n, err := dd.AvailableFiles(c.Context)
	if err != nil {
		return err
	}
	printf("%d\n", n)
	return nil
}

func watch(c *cli.Context) error {
	msgs, err := hub.Watch(c.Context, c.String("url"), loadToken(c))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for m := range msgs {
		_ = enc.Encode(m)
	}
	return nil
}

func progress(percent uint8) {
	printf("\r%3d%%", percent)
}
