// Package databasetest starts disposable Postgres containers for repository integration tests.
package databasetest

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/Additional-Code/copra/internal/database"
	"github.com/Additional-Code/copra/internal/migration"
)

// Postgres starts a migrated Postgres container and returns connections bound to it.
// The test is skipped under -short. Container and pool are released with t.Cleanup.
func Postgres(t *testing.T) *database.Connections {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "copra",
			"POSTGRES_PASSWORD": "copra",
			"POSTGRES_DB":       "copra_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://copra:copra@%s:%s/copra_test?sslmode=disable", host, port.Port())
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}
	if err := migration.Apply(ctx, sqlDB, "pq"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	db := bun.NewDB(sqlDB, pgdialect.New())
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("close postgres: %v", err)
		}
	})

	return &database.Connections{Writer: db, Reader: db}
}
