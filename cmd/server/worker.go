package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/unwatchhq/unwatch/internal/db"
	"github.com/unwatchhq/unwatch/internal/logger"
	"github.com/unwatchhq/unwatch/internal/models"
	"github.com/unwatchhq/unwatch/internal/stats"
	"github.com/unwatchhq/unwatch/internal/storage"
)

var workerTracer = otel.Tracer("unwatch/worker")

const archiveLookback = 7 * 24 * time.Hour

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the maintenance worker",
	Long: `Deletes expired device sessions and, when export storage is configured,
archives each active user's weekly stats workbook.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

// WorkerConfig holds configuration for the maintenance worker.
type WorkerConfig struct {
	PollInterval time.Duration
	DryRun       bool // If true, log what would be done without deleting or uploading
}

// workerStore is the persistence the worker needs. *db.DB implements it.
type workerStore interface {
	DeleteExpiredWebSessions(ctx context.Context) (int64, error)
	ListUsersWithSessionsSince(ctx context.Context, since time.Time) ([]int64, error)
	ListFocusSessionsSince(ctx context.Context, userID int64, since time.Time) ([]models.FocusSession, error)
}

// archiveUploader stores archived workbooks. *storage.S3Storage implements it.
type archiveUploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

// Worker is the background maintenance worker.
type Worker struct {
	db      workerStore
	archive archiveUploader // nil when storage is not configured
	config  WorkerConfig
	now     func() time.Time

	// archivedWeek is the ISO week last archived, so hourly polls upload
	// once per week.
	archivedWeek string
}

func runWorker(ctx context.Context) error {
	logger.Info("starting maintenance worker")

	otelShutdown, err := otelconfig.ConfigureOpenTelemetry()
	if err != nil {
		logger.Warn("failed to configure OpenTelemetry for worker", "error", err)
	} else {
		defer otelShutdown()
	}

	workerConfig, err := loadWorkerConfig(os.Getenv)
	if err != nil {
		logger.Fatal("invalid worker configuration", "error", err)
	}
	logger.Info("worker configuration loaded",
		"poll_interval", workerConfig.PollInterval,
		"dry_run", workerConfig.DryRun,
	)
	if workerConfig.DryRun {
		logger.Info("DRY-RUN MODE ENABLED - nothing will be deleted or uploaded")
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal("missing required env var", "var", "DATABASE_URL")
	}
	database, err := db.ConnectWithRetry(ctx, databaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", "error", err)
	}
	defer database.Close()

	worker := &Worker{db: database, config: workerConfig, now: time.Now}

	if s3Config := loadS3Config(os.Getenv); s3Config.Enabled() {
		store, err := storage.NewS3Storage(s3Config)
		if err != nil {
			logger.Fatal("failed to initialize storage", "error", err)
		}
		worker.archive = store
	} else {
		logger.Info("export storage disabled, weekly archives are skipped")
	}

	worker.Run(ctx)
	logger.Info("worker stopped")
	return nil
}

// Run executes the worker loop until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Run immediately on startup
	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	ctx, span := workerTracer.Start(ctx, "worker.run_once")
	defer span.End()

	if err := w.cleanupSessions(ctx); err != nil {
		logger.Error("failed to delete expired sessions", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	if w.archive == nil {
		return
	}
	week := isoWeek(w.now())
	if week == w.archivedWeek {
		return
	}
	archived, failed, err := w.archiveWeek(ctx, week)
	span.SetAttributes(
		attribute.String("archive.week", week),
		attribute.Int("archive.users", archived),
		attribute.Int("archive.errors", failed),
	)
	if err != nil {
		logger.Error("failed to archive weekly exports", "error", err, "week", week)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	// A user whose upload failed is retried on the next poll.
	if failed == 0 {
		w.archivedWeek = week
	}
	logger.Info("weekly archive complete", "week", week, "archived", archived, "errors", failed)
}

func (w *Worker) cleanupSessions(ctx context.Context) error {
	if w.config.DryRun {
		logger.Info("[DRY-RUN] would delete expired sessions")
		return nil
	}
	deleted, err := w.db.DeleteExpiredWebSessions(ctx)
	if err != nil {
		return err
	}
	if deleted > 0 {
		logger.Info("deleted expired sessions", "count", deleted)
	}
	return nil
}

// archiveWeek uploads one workbook per user active in the last seven days.
func (w *Worker) archiveWeek(ctx context.Context, week string) (archived, failed int, err error) {
	now := w.now().UTC()
	since := now.Add(-archiveLookback)

	userIDs, err := w.db.ListUsersWithSessionsSince(ctx, since)
	if err != nil {
		return 0, 0, err
	}

	for _, userID := range userIDs {
		select {
		case <-ctx.Done():
			logger.Info("stopping archive due to shutdown")
			return archived, failed, nil
		default:
		}

		if err := w.archiveUser(ctx, userID, since, now, week); err != nil {
			logger.Error("failed to archive user", "error", err, "user_id", userID)
			failed++
			continue
		}
		archived++
	}
	return archived, failed, nil
}

func (w *Worker) archiveUser(ctx context.Context, userID int64, since, now time.Time, week string) error {
	sessions, err := w.db.ListFocusSessionsSince(ctx, userID, since)
	if err != nil {
		return err
	}
	key := storage.ExportKey(userID, now, "weekly-"+week)
	if w.config.DryRun {
		logger.Info("[DRY-RUN] would archive user", "user_id", userID, "sessions", len(sessions), "key", key)
		return nil
	}

	data, err := stats.ExportXLSX(stats.Compute(sessions, time.UTC), sessions, time.UTC)
	if err != nil {
		return err
	}
	return w.archive.Upload(ctx, key, data, stats.XLSXContentType)
}

// isoWeek formats t's ISO week as 2024-W09.
func isoWeek(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// loadWorkerConfig loads worker configuration from environment variables.
func loadWorkerConfig(getenv getenvFunc) (WorkerConfig, error) {
	config := WorkerConfig{}

	interval, err := durationEnv(getenv, "WORKER_POLL_INTERVAL", time.Hour)
	if err != nil {
		return WorkerConfig{}, err
	}
	config.PollInterval = interval

	if dryRun := getenv("WORKER_DRY_RUN"); dryRun == "true" || dryRun == "1" {
		config.DryRun = true
	}
	return config, nil
}
