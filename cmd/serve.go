package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"dripflow/config"
	"dripflow/middleware"
	"dripflow/routes"
	"dripflow/services"
	"dripflow/store"
	"dripflow/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var withWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&withWorker, "with-worker", true, "Also run the delivery scheduler in this process")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := bootstrap(); err != nil {
		return err
	}
	defer utils.FlushSentry()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sequences := store.NewSequenceStore(config.DB)
	leads := store.NewLeadStore(config.DB)
	jobs := newJobStore()
	service := services.NewSequenceService(sequences, leads, jobs, utils.Component("sequences"))

	if withWorker {
		scheduler, err := newScheduler(jobs, leads)
		if err != nil {
			return err
		}
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
		defer scheduler.Stop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "dripflow",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(middleware.CORSWithOrigins(config.AppConfig.CORSAllowedOrigins))

	rateLimitStore := middleware.RateLimitStorage(config.AppConfig.Redis)
	routes.SetupRoutes(app, service, routes.Options{
		RunRateLimit:   config.AppConfig.RateLimitRun,
		RateLimitStore: rateLimitStore,
	})

	errChan := make(chan error, 1)
	go func() {
		logrus.Infof("🚀 Server starting on port %s", config.AppConfig.ServerPort)
		errChan <- app.Listen(":" + config.AppConfig.ServerPort)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	logrus.Info("Shutting down server...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logrus.WithError(err).Warn("Server shutdown failed")
	}
	if rateLimitStore != nil {
		_ = rateLimitStore.Close()
	}
	return nil
}
