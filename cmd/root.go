package cmd

import (
	"fmt"
	"os"

	"dripflow/config"
	"dripflow/store"
	"dripflow/utils"
	"dripflow/worker"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var autoMigrate bool

var rootCmd = &cobra.Command{
	Use:           "dripflow",
	Short:         "Email drip sequence engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&autoMigrate, "migrate", false, "Run database migrations before starting")
}

// bootstrap loads configuration, sets up logging and opens the database.
func bootstrap() error {
	if err := config.LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	utils.ConfigureLogging(config.AppConfig.Environment, config.AppConfig.LogLevel)
	if err := utils.InitSentry(config.AppConfig.SentryDSN, config.AppConfig.Environment); err != nil {
		logrus.WithError(err).Warn("Sentry initialization failed")
	}

	if err := config.ConnectDB(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if autoMigrate {
		if err := config.MigrateDB(config.DB); err != nil {
			return err
		}
	}
	return nil
}

func newJobStore() *store.JobStore {
	return store.NewJobStore(config.DB, store.JobStoreConfig{
		LeaseTTL:     config.AppConfig.Scheduler.LeaseTTL,
		MaxAttempts:  config.AppConfig.Scheduler.MaxAttempts,
		RetryBackoff: config.AppConfig.Scheduler.RetryBackoff,
	})
}

// newScheduler wires the delivery path: SMTP mailer, executor and poller.
func newScheduler(jobs *store.JobStore, leads *store.LeadStore) (*worker.Scheduler, error) {
	cfg := config.AppConfig
	if err := cfg.RequireSMTP(); err != nil {
		return nil, err
	}

	mailer, err := utils.NewSMTPMailer(utils.SMTPConfig{
		Host:      cfg.SMTPHost,
		Port:      cfg.SMTPPort,
		Username:  cfg.SMTPUsername,
		Password:  cfg.SMTPPassword,
		FromEmail: cfg.FromEmail,
		FromName:  cfg.FromName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mailer: %w", err)
	}

	executor := worker.NewDeliveryExecutor(jobs, leads, mailer, cfg.SMTPTimeout, utils.Component("delivery"))
	return worker.NewScheduler(jobs, executor, worker.SchedulerConfig{
		PollInterval: cfg.Scheduler.PollInterval,
		BatchSize:    cfg.Scheduler.BatchSize,
		Concurrency:  cfg.Scheduler.Concurrency,
	}, utils.Component("scheduler")), nil
}
