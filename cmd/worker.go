package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"dripflow/config"
	"dripflow/store"
	"dripflow/utils"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the delivery scheduler without the HTTP API",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	if err := bootstrap(); err != nil {
		return err
	}
	defer utils.FlushSentry()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler, err := newScheduler(newJobStore(), store.NewLeadStore(config.DB))
	if err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logrus.Info("Waiting for in-flight emails...")
	return scheduler.Stop()
}
