package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/unwatchhq/unwatch/internal/db"
	"github.com/unwatchhq/unwatch/internal/storage"
)

const (
	testBucket     = "unwatch-test"
	minioAccessKey = "minioadmin"
	minioSecretKey = "minioadmin"
)

// TestEnvironment holds test infrastructure (PostgreSQL, plus MinIO when
// requested)
type TestEnvironment struct {
	DB                *db.DB
	DatabaseURL       string
	Storage           *storage.S3Storage
	S3Config          storage.S3Config
	PostgresContainer *postgres.PostgresContainer
	MinioContainer    *minio.MinioContainer
	Ctx               context.Context
}

// SetupTestDB starts a migrated PostgreSQL container. Integration tests are
// skipped in -short mode.
func SetupTestDB(t *testing.T) *TestEnvironment {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	t.Log("Starting PostgreSQL container...")
	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("unwatch_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	env := &TestEnvironment{
		PostgresContainer: postgresContainer,
		Ctx:               ctx,
	}
	t.Cleanup(func() {
		env.Cleanup(t)
	})

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get postgres connection string: %v", err)
	}
	env.DatabaseURL = connStr

	database, err := db.Connect(connStr)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	env.DB = database

	t.Log("Running database migrations...")
	if err := db.MigrateUp(database.Conn()); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return env
}

// SetupTestEnvironment starts PostgreSQL and MinIO containers for
// integration testing. The export bucket is created up front.
func SetupTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()
	env := SetupTestDB(t)
	ctx := env.Ctx

	t.Log("Starting MinIO container...")
	minioContainer, err := minio.Run(ctx,
		"minio/minio:latest",
		minio.WithUsername(minioAccessKey),
		minio.WithPassword(minioSecretKey),
	)
	if err != nil {
		t.Fatalf("Failed to start minio container: %v", err)
	}
	env.MinioContainer = minioContainer

	minioEndpoint, err := minioContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get minio endpoint: %v", err)
	}

	env.S3Config = storage.S3Config{
		Endpoint:        minioEndpoint,
		AccessKeyID:     minioAccessKey,
		SecretAccessKey: minioSecretKey,
		BucketName:      testBucket,
		UseSSL:          false,
	}
	if err := createBucket(ctx, env.S3Config); err != nil {
		t.Fatalf("Failed to create test bucket: %v", err)
	}

	// MinIO needs a moment after the bucket appears
	t.Log("Initializing S3 storage...")
	var s3Storage *storage.S3Storage
	maxRetries := 10
	for i := 0; i < maxRetries; i++ {
		s3Storage, err = storage.NewS3Storage(env.S3Config)
		if err == nil {
			break
		}
		if i == maxRetries-1 {
			t.Fatalf("Failed to create S3 storage after %d retries: %v", maxRetries, err)
		}
		t.Logf("MinIO not ready yet, retrying... (%d/%d)", i+1, maxRetries)
		time.Sleep(500 * time.Millisecond)
	}
	env.Storage = s3Storage

	t.Log("Test environment ready!")
	return env
}

func createBucket(ctx context.Context, cfg storage.S3Config) error {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return err
	}

	var lastErr error
	for i := 0; i < 10; i++ {
		lastErr = client.MakeBucket(ctx, cfg.BucketName, miniogo.MakeBucketOptions{})
		if lastErr == nil {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("make bucket %s: %w", cfg.BucketName, lastErr)
}

// Cleanup stops containers and closes connections
func (e *TestEnvironment) Cleanup(t *testing.T) {
	t.Helper()
	t.Log("Cleaning up test environment...")

	if e.DB != nil {
		if err := e.DB.Close(); err != nil {
			t.Logf("Warning: failed to close database: %v", err)
		}
	}

	if e.PostgresContainer != nil {
		if err := e.PostgresContainer.Terminate(e.Ctx); err != nil {
			t.Logf("Warning: failed to terminate postgres container: %v", err)
		}
	}

	if e.MinioContainer != nil {
		if err := e.MinioContainer.Terminate(e.Ctx); err != nil {
			t.Logf("Warning: failed to terminate minio container: %v", err)
		}
	}

	t.Log("Test environment cleaned up")
}

// CleanDB truncates all tables to provide clean state for each test
// Call this at the beginning of each test function for test isolation
func (e *TestEnvironment) CleanDB(t *testing.T) {
	t.Helper()

	// Truncate tables in reverse dependency order to avoid FK violations
	tables := []string{
		"focus_sessions",
		"blocks",
		"web_sessions",
		"identity_passwords",
		"user_identities",
		"users",
	}

	ctx := context.Background()
	for _, table := range tables {
		query := fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)
		if _, err := e.DB.Exec(ctx, query); err != nil {
			t.Fatalf("Failed to truncate table %s: %v", table, err)
		}
	}
}
