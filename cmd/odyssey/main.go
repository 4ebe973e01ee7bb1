package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-mfg/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-mfg/internal/app"
	"github.com/odyssey-erp/odyssey-mfg/internal/catalog"
	"github.com/odyssey-erp/odyssey-mfg/internal/observability"
	"github.com/odyssey-erp/odyssey-mfg/internal/platform/events"
	"github.com/odyssey-erp/odyssey-mfg/internal/workorders"
	"github.com/odyssey-erp/odyssey-mfg/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobs(ctx, cfg, os.Args[2:]))
	}

	backends, err := app.OpenBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error("open backends", slog.Any("error", err))
		os.Exit(1)
	}
	defer backends.Close()

	bus := events.NewGoChannelBus(logger, cfg.EventsBuffer)
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Warn("event bus close", slog.Any("error", err))
		}
	}()
	bus.Handle("*", func(ctx context.Context, event events.Event) error {
		logger.Info("work order event",
			slog.String("type", event.Type),
			slog.String("work_order_id", event.AggregateID),
			slog.String("event_id", event.ID))
		return nil
	})
	if err := bus.Start(ctx); err != nil {
		logger.Error("start event bus", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()

	workOrderService := app.NewWorkOrderService(cfg, logger, backends,
		workorders.WithEvents(bus),
		workorders.WithMetrics(metrics.WorkOrders()),
	)
	workOrderHandler := workorders.NewHandler(logger, workOrderService)

	catalogService := catalog.NewService(backends.Store, logger)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	var jobHandler *jobs.Handler
	if backends.Redis != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	} else {
		jobHandler = jobs.NewHandler(nil, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		WorkOrdersHandler: workOrderHandler,
		CatalogHandler:    catalogHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("docstore", cfg.DocstoreDriver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer jobsCLI.Close()
	if err := jobsCLI.Run(ctx, args, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
