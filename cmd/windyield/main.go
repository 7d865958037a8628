package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/windyield/windyield/pkg/analysis"
	"github.com/windyield/windyield/pkg/log"
	"github.com/windyield/windyield/pkg/metrics"
	"github.com/windyield/windyield/pkg/openoa"
	"github.com/windyield/windyield/pkg/sample"
	"github.com/windyield/windyield/pkg/server"
	"github.com/windyield/windyield/pkg/storage"
	"github.com/windyield/windyield/pkg/upload"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	s := storage.Configured()
	uc := upload.Configured()
	sc := sample.Configured()
	oc := openoa.Configured()
	ac := analysis.Configured()

	// init server
	srv := server.Configured()

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}
	log.SetDefaultLogLevel(level)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	m := metrics.New()
	store, err := upload.New(*uc, s)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to create upload store", "error", err)
		os.Exit(1)
	}
	store = store.WithMetrics(m)

	// uploads left over from a previous run
	if res, err := store.Sweep(ctx, store.MaxAge()); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "startup sweep failed", "error", err)
	} else {
		log.Ctx(ctx).InfoContext(
			ctx,
			"startup sweep finished",
			slog.Int("removed", res.Removed),
			slog.Int("orphans", res.Orphans),
			slog.Int("remaining", res.Remaining),
		)
	}
	go store.Run(ctx)

	dataset := sample.Load(ctx, *sc)
	engine := openoa.NewClient(*oc)
	svc := analysis.New(*ac, store, engine).WithSample(dataset).WithMetrics(m)

	srv.WithDeps(server.Deps{
		Analysis: svc,
		Uploads:  store,
		Sample:   dataset,
		Engine:   engine,
		Metrics:  m,
	})

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
