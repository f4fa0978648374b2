package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-shiftstream/config"
)

var (
	workerMode bool
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Reconcile open payment links against the swap provider",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"poll",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.PollInterval },
			func(app *application, ctx context.Context) error {
				return app.settlement.RunPollBatch(ctx)
			},
		)
	},
}

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Run notification related commands",
}

var notificationsDispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Deliver pending webhook and e-mail notifications",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"notifications_dispatch",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.NotificationDispatchInterval },
			func(app *application, ctx context.Context) error {
				return app.notifications.RunDispatchNotificationsBatch(ctx)
			},
		)
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Run operator alert commands",
}

var alertsScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Report links blocked by failed transfers or awaiting manual review",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"alerts_scan",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.AlertScanInterval },
			func(app *application, ctx context.Context) error {
				return app.settlement.RunAlertScanBatch(ctx)
			},
		)
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(notificationsCmd)
	rootCmd.AddCommand(alertsCmd)
	notificationsCmd.AddCommand(notificationsDispatchCmd)
	alertsCmd.AddCommand(alertsScanCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
}

func runCommand(
	name string,
	intervalResolver func(cfg *config.Config) time.Duration,
	fn func(app *application, ctx context.Context) error,
) {
	app, cleanup := mustCreateApplication()
	defer cleanup()

	if workerMode {
		runWorker(name, intervalResolver(app.cfg), app, fn)
		return
	}

	ctx := context.Background()
	runJob(name, func() error { return fn(app, ctx) })
}

func runWorker(
	name string,
	interval time.Duration,
	app *application,
	fn func(app *application, ctx context.Context) error,
) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runJob(name, func() error { return fn(app, ctx) })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(name, func() error { return fn(app, ctx) })
		}
	}
}

func runJob(name string, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return
	}
	logrus.WithField("job", name).WithField("latency", latency.String()).Info("job_completed")
}
