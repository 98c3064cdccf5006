// Package app builds the object graph of the worker process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"syncq/internal/config"
	"syncq/internal/domain"
	"syncq/internal/events"
	"syncq/internal/executor"
	"syncq/internal/infra/accounts"
	"syncq/internal/infra/mastodon"
	"syncq/internal/infra/redisq"
	"syncq/internal/infra/sqlite"
	"syncq/internal/ports"
	"syncq/internal/queue"
	"syncq/internal/service"
	"syncq/internal/usecase"

	"github.com/rs/zerolog/log"
)

// Context owns every long-lived component. It replaces process-wide
// singletons: everything is reached through it and torn down by Close.
type Context struct {
	Cfg *config.Config

	DB        *sqlite.DB
	Store     ports.QueueStore
	Data      *sqlite.DataStore
	Accounts  ports.AccountStore
	Conns     ports.ConnectionFactory
	Bus       *events.Bus
	Queue     *queue.Queue
	Executor  *executor.Executor
	Service   *service.Service
	Submitter usecase.Submitter
	Scheduler *usecase.SyncScheduler

	unsubscribe func()
}

// New opens the stores named by cfg and wires the components.
func New(ctx context.Context, cfg *config.Config) (*Context, error) {
	db, err := sqlite.Open(ctx, cfg.SQLite.Path)
	if err != nil {
		return nil, err
	}
	store, err := OpenQueueStore(ctx, cfg, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	accts, err := accounts.Open(cfg.Accounts.Path)
	if err != nil {
		_ = store.Close()
		_ = db.Close()
		return nil, err
	}
	return Wire(cfg, db, store, accts, mastodon.NewFactory(cfg.Remote)), nil
}

// OpenQueueStore opens the queue store selected by cfg.Store. The sqlite
// store shares db.
func OpenQueueStore(ctx context.Context, cfg *config.Config, db *sqlite.DB) (ports.QueueStore, error) {
	switch strings.ToLower(cfg.Store) {
	case "", "sqlite":
		return sqlite.NewCommandStore(db), nil
	case "redis":
		cli := redisq.New(cfg.Redis)
		if err := cli.Connect(ctx); err != nil {
			_ = cli.Close()
			return nil, err
		}
		return cli, nil
	}
	return nil, fmt.Errorf("unknown queue store %q", cfg.Store)
}

// Wire builds a Context from already opened stores.
func Wire(cfg *config.Config, db *sqlite.DB, store ports.QueueStore, accts ports.AccountStore, conns ports.ConnectionFactory) *Context {
	c := &Context{
		Cfg:      cfg,
		DB:       db,
		Store:    store,
		Data:     sqlite.NewDataStore(db),
		Accounts: accts,
		Conns:    conns,
		Bus:      events.NewBus(256),
	}
	c.Queue = queue.New(store, queue.Config{
		RetryWindow:        cfg.Queue.RetryWindow,
		RetryCheckInterval: cfg.Queue.RetryCheckInterval,
		MaxErrorAge:        cfg.Queue.MaxErrorAge,
	})
	c.Executor = executor.New(accts, conns, c.Data, c.Bus, executor.Options{
		DownloadDir: cfg.Remote.DownloadDir,
		PageLimit:   cfg.Remote.PageLimit,
	})
	c.Service = service.New(c.Queue, c.Executor, c.Bus, service.Config{
		Heartbeat:       cfg.Worker.Heartbeat,
		Budget:          cfg.Worker.Budget,
		MaxTaskDuration: cfg.Worker.MaxTaskDuration,
	})
	c.Executor.SetSink(c.Service)
	c.Submitter = usecase.Submitter{Sink: c.Service, Accounts: accts, Data: c.Data}
	c.Scheduler = usecase.NewSyncScheduler(accts, c.Service, cfg.Worker.SyncInterval)
	c.unsubscribe = c.Bus.Subscribe(events.LogSubscriber, events.AllTypes...)
	return c
}

// Initialize loads the queue and marks the host ready.
func (c *Context) Initialize(ctx context.Context) error {
	if err := c.Queue.Load(ctx); err != nil {
		return err
	}
	c.Service.SetReady(true)
	log.Ctx(ctx).Info().
		Int("current", c.Queue.Size(domain.QueueCurrent)).
		Int("retry", c.Queue.Size(domain.QueueRetry)).
		Int("error", c.Queue.Size(domain.QueueError)).
		Msg("application initialized")
	return nil
}

func (c *Context) Ready() bool { return c.Service.Ready() }

// Close saves the queue and closes the stores. The service must not be running.
func (c *Context) Close(ctx context.Context) error {
	c.Service.SetReady(false)
	var errs []error
	if c.Queue.Loaded() {
		if err := c.Queue.Save(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.Bus.Close()
	if err := c.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
