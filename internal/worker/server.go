// Package worker runs the background command service of one process.
package worker

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"syncq/internal/api"
	"syncq/internal/app"
	"syncq/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	// Port of the control API; 0 disables it.
	Port      int
	Budget    time.Duration
	Heartbeat time.Duration
	// NoSync turns the periodic timeline sync off.
	NoSync bool
}

// Apply overrides the loaded configuration with non-zero flag values.
func (c Config) Apply(cfg *config.Config) {
	if c.Budget > 0 {
		cfg.Worker.Budget = c.Budget
	}
	if c.Heartbeat > 0 {
		cfg.Worker.Heartbeat = c.Heartbeat
	}
	if c.Port >= 0 {
		cfg.API.Port = c.Port
	}
}

func SetLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func Run(cfg Config) error {
	appCfg := config.Load()
	cfg.Apply(appCfg)
	SetLogLevel(appCfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	a, err := app.New(ctx, appCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			log.Error().Err(err).Msg("failed to close application")
		}
	}()
	if err := a.Initialize(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Service.Run(gctx) })
	if !cfg.NoSync {
		g.Go(func() error { return a.Scheduler.Run(gctx) })
	}
	if appCfg.API.Port > 0 {
		g.Go(func() error { return api.NewServer(a).Run(gctx, appCfg.API.Port) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info().Msg("worker stopped")
	return err
}
