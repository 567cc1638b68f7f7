// Package testutil starts throwaway PostgreSQL instances for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

// NewPostgres starts a postgres container with every migration applied and
// returns a pool connected to it. The container is removed when the test ends.
// Set TEST_DATABASE_DRIVER=pgx to run the suite through the pgx driver.
func NewPostgres(t *testing.T) *sql.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:14-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := postgres.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	driver := os.Getenv("TEST_DATABASE_DRIVER")
	if driver == "" {
		driver = "postgres"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
	})

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	if _, err := database.Migrate(ctx, db, MigrationsDir(), "up"); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db
}

// MigrationsDir resolves the repository's migrations directory independent of
// the working directory of the test binary.
func MigrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// CreateUser inserts a user row directly, bypassing the identity provider.
func CreateUser(t *testing.T, db *sql.DB, id string) {
	t.Helper()

	_, err := db.ExecContext(context.Background(),
		`INSERT INTO users (id, email, display_name, photo_url, created_at, updated_at)
		 VALUES ($1, $2, $3, '', NOW(), NOW())`,
		id, id+"@example.com", "User "+id)
	if err != nil {
		t.Fatalf("Create user %s: %v", id, err)
	}
}

// ProductInput returns a valid product with the given title and price.
func ProductInput(title string, price int64) models.ProductInput {
	return models.ProductInput{
		Title:       title,
		Price:       decimal.NewFromInt(price),
		Description: title + " description",
		ImageURL:    "https://img.example.com/" + strings.ToLower(title) + ".jpg",
		Stock:       10,
	}
}
