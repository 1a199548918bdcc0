package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/raterudder/gridsync/pkg/common"
	"github.com/raterudder/gridsync/pkg/engine"
	"github.com/raterudder/gridsync/pkg/log"
	"github.com/raterudder/gridsync/pkg/metrics"
	"github.com/raterudder/gridsync/pkg/mqtt"
	"github.com/raterudder/gridsync/pkg/server"
	"github.com/raterudder/gridsync/pkg/storage"
	"github.com/raterudder/gridsync/pkg/telemetry"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"golang.org/x/sync/errgroup"
)

func main() {
	logFormat := lflag.String("log-format", log.FormatJSON, "Log output format (json or text)")

	// init packages
	m := metrics.New()
	t := telemetry.Configured()
	s := storage.Configured()
	p := mqtt.Configured()
	e := engine.Configured(t, s, m, p)

	// init server
	srv := server.Configured(e, s, m)

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
	handler, err := log.NewHandler(os.Stdout, *logFormat)
	if err != nil {
		panic(err)
	}
	log.SetDefault(slog.New(handler).With(slog.String("version", common.Version())))
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	if p.Enabled() {
		if err := p.Connect(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to connect to mqtt broker", slog.Any("error", err))
			os.Exit(1)
		}
		defer p.Close()
	}

	// the engine and server share a lifetime; either failing stops both
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.Run(ctx)
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})
	if err := g.Wait(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "gridsync failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "gridsync exited cleanly")
}
