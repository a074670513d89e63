package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"campusdesk/internal/api"
	"campusdesk/internal/api/handlers"
	ws "campusdesk/internal/api/websocket"
	"campusdesk/internal/config"
	"campusdesk/internal/jobs"
	mcpbridge "campusdesk/internal/mcp"
	"campusdesk/internal/notify"
	"campusdesk/internal/reminder"
)

const shutdownGrace = 15 * time.Second

func newServerCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the HTTP API, the reminder scheduler and the outbox dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			return runServer(ctx, rt)
		},
	}
}

func runServer(ctx context.Context, rt *runtime) error {
	cfg, logger, app := rt.cfg, rt.logger, rt.app

	hub := ws.NewHub(app)
	server := handlers.New(app, rt.db, cfg, logger)

	var mcpHandler http.Handler
	var bridge *mcpbridge.Bridge
	if cfg.MCP.Enabled && cfg.MCP.HTTP.Enabled {
		bridge = mcpbridge.New(mcpbridge.Options{App: app, Config: cfg, Version: version})
		mcpHandler = bridge.HTTPHandler()
	}
	router := api.NewRouter(server, app, hub, mcpHandler)
	if bridge != nil {
		bridge.Attach(router)
	}

	dispatcher := rt.dispatcher()
	scheduler := jobs.NewScheduler(logger, func(name string) {
		if name == reminder.JobName {
			rt.metrics.ReminderTicks.WithLabelValues("skipped").Inc()
		}
	})
	if cfg.Reminder.Enabled {
		if err := scheduler.Register(reminder.JobName, cfg.Reminder.Schedule, rt.reminders().Tick); err != nil {
			return err
		}
		server.RunReminders = func() bool { return scheduler.Trigger(reminder.JobName) }
	}
	if cfg.Outbox.Enabled {
		if err := scheduler.Register(notify.JobName, cfg.Outbox.Schedule, dispatcher.Sweep); err != nil {
			return err
		}
	}

	httpServer := &http.Server{
		Addr:         config.Addr(cfg),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout(cfg),
		WriteTimeout: config.WriteTimeout(cfg),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("campusdesk server listening", zap.String("addr", httpServer.Addr), zap.String("version", version))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.Outbox.Enabled {
		g.Go(func() error {
			return dispatcher.Run(gctx)
		})
	}
	scheduler.Start()

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Stop taking ticks and wait for the one in flight.
		select {
		case <-scheduler.Stop().Done():
		case <-time.After(shutdownGrace):
			logger.Warn("scheduled job still running at shutdown")
		}

		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
