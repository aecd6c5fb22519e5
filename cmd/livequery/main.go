package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coffersTech/livequery/internal/config"
	"github.com/coffersTech/livequery/internal/core"
	"github.com/coffersTech/livequery/internal/logger"
	"github.com/coffersTech/livequery/internal/logstore"
	"github.com/coffersTech/livequery/internal/server"
	"github.com/coffersTech/livequery/internal/table"
	"github.com/coffersTech/livequery/internal/tables"
)

func main() {
	opts, cfg, err := config.Load("livequery", os.Args[1:])
	if err != nil {
		if config.IsHelp(err) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if opts.Version {
		fmt.Println("livequery", tables.Version)
		return
	}

	if err := run(cfg); err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	log := logger.Setup(cfg.LogLevel)
	log.Info("livequery starting", "version", tables.Version, "pid", os.Getpid())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Log history
	logs, err := logstore.Open(logstore.Options{
		DataDir:      cfg.DataDir,
		MaxTableSize: int64(cfg.LogFlushSize),
		Retention:    cfg.LogRetention.Std(),
		Logger:       logger.Component(log, "logstore"),
	})
	if err != nil {
		log.Error("open log history", "dir", cfg.DataDir, "err", err)
		return err
	}
	defer func() {
		log.Info("flushing log history")
		if err := logs.Flush(); err != nil {
			log.Error("flush log history", "err", err)
		}
		if err := logs.Close(); err != nil {
			log.Error("close log history", "err", err)
		}
	}()

	// 2. Monitoring core
	store := core.NewStore(core.WithLogSink(logs), core.WithLogger(logger.Component(log, "core")))
	if cfg.ObjectsFile != "" {
		if err := store.LoadFile(cfg.ObjectsFile); err != nil {
			log.Error("load objects", "file", cfg.ObjectsFile, "err", err)
			return err
		}
	}
	log.Info("objects loaded", "hosts", len(store.Hosts()), "services", len(store.Services()))

	// 3. Tables and query server
	reg := table.NewRegistry()
	srv := server.New(server.Options{
		Tables:          reg,
		Core:            store,
		Metrics:         server.NewMetrics(store.Hub()),
		Logger:          logger.Component(log, "server"),
		IdleTimeout:     cfg.IdleTimeout.Std(),
		QueryTimeout:    cfg.QueryTimeout.Std(),
		WriteTimeout:    cfg.WriteTimeout.Std(),
		MaxConnections:  cfg.MaxConnections,
		MaxResponseSize: int(cfg.MaxResponseSize),
	})
	tables.Register(reg, tables.Deps{Core: store, Logs: logs, Server: srv.Stats})

	network, address, err := config.SplitListen(cfg.Listen)
	if err != nil {
		log.Error("listen", "addr", cfg.Listen, "err", err)
		return err
	}
	ln, err := server.Listen(network, address)
	if err != nil {
		log.Error("listen", "addr", cfg.Listen, "err", err)
		return err
	}

	// 4. Background loops
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(ctx, ln) })
	g.Go(func() error { srv.RunRateTicker(ctx, 10*time.Second); return nil })
	g.Go(func() error { logs.RunRateTicker(ctx, 10*time.Second); return nil })
	g.Go(func() error { logs.RunCleaner(ctx, time.Hour); return nil })
	g.Go(func() error { store.RunMaintenance(ctx, time.Second); return nil })
	g.Go(func() error {
		return core.NewSimulator(store, cfg.SimulateInterval.Std(), uint64(time.Now().UnixNano())).Run(ctx)
	})
	if cfg.HTTPListen != "" {
		g.Go(func() error { return srv.ServeAdmin(ctx, cfg.HTTPListen) })
	}

	<-ctx.Done()
	log.Info("shutting down")
	if err := g.Wait(); err != nil {
		log.Error("livequery stopped", "err", err)
		return err
	}
	if network == "unix" {
		os.Remove(address)
	}
	log.Info("livequery exited gracefully")
	return nil
}
