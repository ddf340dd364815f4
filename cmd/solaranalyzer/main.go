package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/solaranalyzer/solaranalyzer/pkg/config"
	"github.com/solaranalyzer/solaranalyzer/pkg/live"
	"github.com/solaranalyzer/solaranalyzer/pkg/log"
	"github.com/solaranalyzer/solaranalyzer/pkg/metrics"
	"github.com/solaranalyzer/solaranalyzer/pkg/pvs"
	"github.com/solaranalyzer/solaranalyzer/pkg/server"
	"github.com/solaranalyzer/solaranalyzer/pkg/statuslog"
	"github.com/solaranalyzer/solaranalyzer/pkg/storage"
	"github.com/solaranalyzer/solaranalyzer/pkg/sunpower"
	"github.com/solaranalyzer/solaranalyzer/pkg/syncer"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"golang.org/x/sync/errgroup"
)

func main() {
	// init packages
	sources := config.Configured()
	local := pvs.Configured(sources)
	cloud := sunpower.Configured(sources)
	s := storage.Configured()
	writer, dbLevel := statuslog.Configured(s)

	m := live.NewManager(0)
	orchestrator, poller := syncer.Configured(local, cloud, s, m)

	// init server
	srv := server.Configured(s, orchestrator, cloud, m)

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
	log.SetDefault(slog.New(log.Tee(log.NewJSONHandler(), writer.Handler(dbLevel))))
	slog.Debug("logger configured", slog.String("level", level.String()), slog.String("dbLevel", dbLevel.Level().String()))

	metrics.Init()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		return poller.Run(gctx)
	})
	err := g.Wait()

	// flush persisted logs before storage is closed
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	if derr := writer.Close(drainCtx); derr != nil {
		log.Ctx(ctx).WarnContext(ctx, "log writer did not drain", slog.Int64("dropped", writer.Dropped()), slog.Any("error", derr))
	}

	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
