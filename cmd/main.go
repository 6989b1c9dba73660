package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tinoosan/devsync/internal/config"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := cli.App{
		Name:        "devsync",
		Usage:       "mirror media and data files from a device",
		Description: "lists, downloads and mirrors files exposed by a device over FTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				Value:   config.DefaultPath(),
			},
		},
		Commands: []*cli.Command{{
			Name:        "serve",
			Description: "run the HTTP API, the media queue worker and the data poller",
			Action:      withConfig(serve),
		}, {
			Name:        "list",
			Aliases:     []string{"ls"},
			Description: "list the media available on the device",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "thumbnails", Usage: "also fetch thumbnails"},
			},
			Action: withConfig(list),
		}, {
			Name:        "fetch",
			Description: "download one file from the device",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "remote", Usage: "remote path", Required: true},
				&cli.StringFlag{Name: "local", Usage: "local path", Required: true},
				&cli.BoolFlag{Name: "resume", Usage: "continue a partial local file"},
			},
			Action: withConfig(fetch),
		}, {
			Name:        "upload",
			Aliases:     []string{"put"},
			Description: "upload one file to the device",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "local", Usage: "local path", Required: true},
				&cli.StringFlag{Name: "remote", Usage: "remote path", Required: true},
				&cli.BoolFlag{Name: "resume", Usage: "continue a partial remote file"},
			},
			Action: withConfig(upload),
		}, {
			Name:        "files",
			Description: "count the data files waiting on the device",
			Action:      withConfig(files),
		}, {
			Name:        "watch",
			Description: "stream transfer events from a running server",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "url", Usage: "server base URL", Value: "http://127.0.0.1:8080"},
			},
			Action: watch,
		}},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func withConfig(f func(*config.Config, *cli.Context) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		cfg, err := config.Load(ctx.String("config"))
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return f(cfg, ctx)
	}
}

func loadToken(ctx *cli.Context) string {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return os.Getenv("DEVSYNC_API_TOKEN")
	}
	return cfg.APIToken
}

func printf(format string, args ...any) {
	fmt.Fprintf(os.Stdout, format, args...)
}
