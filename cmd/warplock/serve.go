package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"

	"github.com/mirkobrombin/go-lease/internal/httpapi"
	"github.com/mirkobrombin/go-lease/v1/metrics"
	"github.com/mirkobrombin/go-lease/v1/store"
)

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "Serve health, metrics and lease state over HTTP",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "HTTP port"},
	},
	Action: func(c *cli.Context) error {
		e, err := setup(c)
		if err != nil {
			return err
		}
		defer e.Close()

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := metrics.NewRegistry()
		metrics.RegisterLockMetrics(reg)
		// status reads go through a short-lived cache in front of the backend
		var status store.Store = e.locks.Store()
		if cached, err := store.NewCachedStore(status, store.DefaultCacheTTL); err == nil {
			defer cached.Close()
			status = cached
		}
		srv := httpapi.NewServer(status, e.locks.Bus(), reg, e.cfg.HTTPPort, e.log)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Start(ctx) })
		if sweeper, ok := e.locks.Store().(*store.GormStore); ok {
			// SQL has no native expiry
			e.log.Info("starting lease janitor", zap.Duration("interval", e.cfg.TTL))
			g.Go(func() error {
				sweeper.RunJanitor(ctx, e.cfg.TTL)
				return nil
			})
		}
		if err := g.Wait(); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}
