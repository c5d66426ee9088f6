package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"golang.org/x/sync/errgroup"

	"github.com/raterudder/chargerate/pkg/charges"
	"github.com/raterudder/chargerate/pkg/log"
	"github.com/raterudder/chargerate/pkg/pricing"
	"github.com/raterudder/chargerate/pkg/scheduler"
	"github.com/raterudder/chargerate/pkg/server"
	"github.com/raterudder/chargerate/pkg/storage"
)

func main() {
	// flags fall back to the environment so a local .env works too
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", slog.Any("error", err))
	}

	// init packages
	provider := pricing.Configured()
	settings := scheduler.Configured()
	db := storage.ConfiguredDatabase()
	archive := storage.ConfiguredArchive()
	updater := charges.Configured(db, archive, provider)

	sched := scheduler.New(updater.NewScope, scheduler.WithName("charges"))

	// init server
	srv := server.Configured(sched, provider, archive)

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
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic or exit).
	defer func() {
		if err := archive.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close price archive", slog.Any("error", err))
		}
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close database", slog.Any("error", err))
		}
	}()

	if err := sched.Start(ctx, settings.Interval); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to start scheduler", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"chargerate running",
		slog.String("provider", string(provider.ID())),
		slog.Duration("interval", settings.Interval),
	)

	g, gctx := errgroup.WithContext(ctx)
	if srv.Enabled() {
		// Run will block until context is canceled or error happens
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		// an in-flight update is allowed to finish
		stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(gctx), 2*time.Minute)
		defer stopCancel()
		return sched.Stop(stopCtx)
	})

	if err := g.Wait(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "chargerate failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "chargerate exited cleanly")
}
