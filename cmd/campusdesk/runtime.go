package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"campusdesk/internal/broker"
	"campusdesk/internal/config"
	"campusdesk/internal/directory"
	"campusdesk/internal/llm"
	"campusdesk/internal/logging"
	"campusdesk/internal/mailer"
	"campusdesk/internal/metrics"
	"campusdesk/internal/notify"
	"campusdesk/internal/reminder"
	"campusdesk/internal/retry"
	"campusdesk/internal/service"
	"campusdesk/internal/storage"
	"campusdesk/internal/storage/repos"
)

// runtime is everything a command needs to act on the local store.
type runtime struct {
	cfg       config.Config
	logger    *zap.Logger
	db        *sql.DB
	store     *repos.Store
	metrics   *metrics.Metrics
	policy    retry.Policy
	app       *service.App
	directory directory.Lookup
	mailer    mailer.Mailer

	closers []func() error
}

func openRuntime(ctx context.Context, cfgPath string) (*runtime, error) {
	cfg, err := loadConfigMaybe(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger}
	rt.closers = append(rt.closers, func() error { _ = logger.Sync(); return nil })

	db, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.db = db
	rt.closers = append(rt.closers, db.Close)
	if err := storage.Migrate(ctx, db); err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.store = repos.New(db)
	rt.metrics = metrics.New()

	client, err := llm.New(cfg, logger)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.policy = service.RetryPolicy(cfg, rt.metrics, logger)
	rt.app = service.New(cfg, rt.store, broker.NewMemory(cfg.Broker.ChannelBufferSize), service.Options{
		LLM:     client,
		Policy:  &rt.policy,
		Metrics: rt.metrics,
		Logger:  logger,
	})

	switch cfg.Directory.Driver {
	case "", "local":
		rt.directory = directory.NewLocal(rt.store)
	case "postgres":
		pg, err := directory.NewPostgres(ctx, cfg.Directory.DSN)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.directory = pg
		rt.closers = append(rt.closers, pg.Close)
	default:
		_ = rt.Close()
		return nil, fmt.Errorf("unknown directory driver %q", cfg.Directory.Driver)
	}

	m, err := mailer.New(cfg, logger)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.mailer = m
	return rt, nil
}

func (rt *runtime) reminders() *reminder.Scheduler {
	cfg := rt.cfg.Reminder
	return reminder.New(rt.store, rt.directory, rt.mailer, rt.policy, rt.metrics, rt.logger, reminder.Options{
		LeadTime:    config.Duration(cfg.LeadTime, 0),
		Window:      config.Duration(cfg.Window, 0),
		SendTimeout: config.Duration(cfg.SendTimeout, 0),
	})
}

func (rt *runtime) dispatcher() *notify.Dispatcher {
	cfg := rt.cfg.Outbox
	return notify.New(rt.store, rt.directory, rt.mailer, rt.app.Broker, rt.metrics, rt.logger, notify.Options{
		BatchSize:   cfg.BatchSize,
		Concurrency: cfg.Concurrency,
		MaxAttempts: cfg.MaxAttempts,
		RetryDelay:  config.Duration(cfg.RetryDelay, 0),
		LeaseFor:    config.Duration(cfg.LeaseFor, 0),
	})
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func loadConfigMaybe(path string) (config.Config, error) {
	if path == "" {
		return config.Load("")
	}
	if _, err := os.Stat(path); err == nil {
		return config.Load(path)
	} else if errors.Is(err, os.ErrNotExist) {
		return config.Load("")
	} else {
		return config.Config{}, err
	}
}
