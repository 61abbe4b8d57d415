package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lung-screening-service/internal/adapters"
	"lung-screening-service/internal/api/handlers"
	"lung-screening-service/internal/fhir/mappers"
	"lung-screening-service/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the operator HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

func runServe(parent context.Context, flags *rootFlags) error {
	rt, err := bootstrap(flags)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.cfg, rt.logger

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue := adapters.NewInMemoryQueueAdapter(logger)
	defer queue.Close()

	sharer, err := adapters.NewFileDocumentSharer(cfg.Export.Dir, logger)
	if err != nil {
		return err
	}
	exporter, err := services.NewExportService(services.DocumentRendererFunc(mappers.MapExaminationToFHIR), sharer, queue, logger)
	if err != nil {
		return err
	}
	if err := exporter.Start(ctx); err != nil {
		return err
	}

	analyzer := services.NewMockAnalyzer(cfg.Analysis.Seed, cfg.Analysis.Delay, logger)
	lifecycle, err := services.NewLifecycleService(rt.repo, analyzer, exporter, logger, services.LifecycleOptions{
		UserID: cfg.Examination.UserID,
	})
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:               "lung-screening",
		ErrorHandler:          handlers.ErrorHandler,
		DisableStartupMessage: true,
	})
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "state": lifecycle.State()})
	})
	handlers.RegisterExaminationRoutes(app,
		handlers.NewExaminationHandler(lifecycle, logger, handlers.RequestTimeoutFor(cfg.Analysis.Delay)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		return app.Listen(cfg.Server.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(sctx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		return exporter.Stop(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped")
	return nil
}
