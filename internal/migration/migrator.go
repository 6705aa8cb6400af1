package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	migrations "github.com/Additional-Code/copra/db/migrations"
	"github.com/Additional-Code/copra/internal/config"
	"github.com/Additional-Code/copra/internal/database"
)


// Module provides the Migrator to Fx.
var Module = fx.Provide(New)

// goose keeps dialect and filesystem in package globals.
var gooseMu sync.Mutex

// Migrator wraps goose operations over the embedded migration set.
type Migrator struct {
	db      *bun.DB
	dialect string
	dir     string
	logger  *zap.Logger
}

// New constructs a goose-backed migrator.
func New(cfg config.Config, conns *database.Connections, logger *zap.Logger) (*Migrator, error) {
	dialect, err := gooseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	return &Migrator{
		db:      conns.Writer,
		dialect: dialect,
		dir:     migrationsDir(dialect),
		logger:  logger,
	}, nil
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	err := withGoose(m.dialect, func() error {
		return goose.UpContext(ctx, m.db.DB, m.dir)
	})
	if err != nil {
		if isNoMigrationErr(err) {
			m.logger.Info("no migrations to apply")
			return nil
		}
		return err
	}

	m.logger.Info("migrations applied")
	return nil
}

// Down rolls back migrations. Steps <=0 defaults to 1; all=true rolls everything back.
func (m *Migrator) Down(ctx context.Context, steps int, all bool) error {
	if all {
		err := withGoose(m.dialect, func() error {
			return goose.DownToContext(ctx, m.db.DB, m.dir, 0)
		})
		if err != nil {
			if isNoMigrationErr(err) {
				m.logger.Info("no migrations to rollback")
				return nil
			}
			return err
		}
		m.logger.Info("migrations rolled back", zap.String("mode", "all"))
		return nil
	}

	if steps <= 0 {
		steps = 1
	}

	for i := 0; i < steps; i++ {
		err := withGoose(m.dialect, func() error {
			return goose.DownContext(ctx, m.db.DB, m.dir)
		})
		if err != nil {
			if isNoMigrationErr(err) {
				m.logger.Info("no migrations to rollback")
				return nil
			}
			return err
		}
	}

	m.logger.Info("migrations rolled back", zap.Int("steps", steps))
	return nil
}

// Version reports the currently applied migration version.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	var version int64
	err := withGoose(m.dialect, func() error {
		v, err := goose.GetDBVersionContext(ctx, m.db.DB)
		version = v
		return err
	})
	return version, err
}

// Apply runs every embedded migration against db. Integration tests use it to prepare fresh containers.
func Apply(ctx context.Context, db *sql.DB, driver string) error {
	dialect, err := gooseDialect(driver)
	if err != nil {
		return err
	}
	return withGoose(dialect, func() error {
		return goose.UpContext(ctx, db, migrationsDir(dialect))
	})
}

func withGoose(dialect string, fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return fn()
}

func gooseDialect(driver string) (string, error) {
	switch driver {
	case "postgres", "pg", "pq":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported goose dialect for driver %s", driver)
	}
}

// migrationsDir maps a goose dialect to its directory in the embedded FS.
func migrationsDir(dialect string) string {
	return path.Join("sql", dialect)
}

func isNoMigrationErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, goose.ErrNoNextVersion) || errors.Is(err, goose.ErrNoMigrationFiles) {
		return true
	}

	return strings.Contains(err.Error(), "no migrations")
}
