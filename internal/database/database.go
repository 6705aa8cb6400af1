package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/schema"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/copra/internal/config"
)

const pingTimeout = 5 * time.Second

// Connections bundles writer and reader bun instances. Order mutations always go to the
// writer; listings may be served by the reader.
type Connections struct {
	Writer *bun.DB
	Reader *bun.DB
}

// Module registers the database connections and transaction manager with Fx.
var Module = fx.Provide(New, NewTxManager)

// New opens the writer and reader pools and ties their lifetime to the Fx app.
func New(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*Connections, error) {
	conns, err := Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := conns.PingContext(ctx); err != nil {
				return err
			}
			logger.Info("database connected",
				zap.String("driver", cfg.Database.Driver),
				zap.Bool("replica", conns.Reader != conns.Writer),
			)
			return nil
		},
		OnStop: func(context.Context) error {
			return conns.Close()
		},
	})

	return conns, nil
}

// Open builds the pools without touching the network. The reader shares the writer
// pool when both DSNs are the same.
func Open(cfg config.Database, logger *zap.Logger) (*Connections, error) {
	dial, err := selectDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	writer, err := openRole("writer", cfg, cfg.WriterDSN, dial, logger)
	if err != nil {
		return nil, err
	}
	if cfg.ReaderDSN == "" || cfg.ReaderDSN == cfg.WriterDSN {
		return &Connections{Writer: writer, Reader: writer}, nil
	}

	reader, err := openRole("reader", cfg, cfg.ReaderDSN, dial, logger)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}
	return &Connections{Writer: writer, Reader: reader}, nil
}

// PingContext checks both pools, bounded by a short timeout.
func (c *Connections) PingContext(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := c.Writer.PingContext(ctx); err != nil {
		return fmt.Errorf("ping writer: %w", err)
	}
	if c.Reader != c.Writer {
		if err := c.Reader.PingContext(ctx); err != nil {
			return fmt.Errorf("ping reader: %w", err)
		}
	}
	return nil
}

// Close releases both pools.
func (c *Connections) Close() error {
	var errs []error
	if err := c.Writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}
	if c.Reader != c.Writer {
		if err := c.Reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close reader: %w", err))
		}
	}
	return errors.Join(errs...)
}

func openRole(role string, cfg config.Database, dsn string, dial schema.Dialect, logger *zap.Logger) (*bun.DB, error) {
	sqlDB, err := openSQLDB(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", role, err)
	}
	applyPoolSettings(sqlDB, cfg)

	db := bun.NewDB(sqlDB, dial)
	if cfg.SlowQuery > 0 {
		db.AddQueryHook(&slowQueryHook{
			threshold: cfg.SlowQuery,
			logger:    logger.With(zap.String("db.role", role)),
		})
	}
	return db, nil
}

func selectDialect(driver string) (schema.Dialect, error) {
	switch driver {
	case "postgres", "pq":
		return pgdialect.New(), nil
	case "mysql":
		return mysqldialect.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// openSQLDB picks the database/sql driver. "postgres" uses bun's pgdriver and "pq" uses lib/pq;
// both speak the same dialect. MySQL connections always enable parseTime.
func openSQLDB(driver, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty DSN")
	}

	switch driver {
	case "postgres":
		return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn))), nil
	case "pq":
		return sql.Open("postgres", dsn)
	case "mysql":
		mc, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		// DATETIME columns scan into time.Time only with parseTime.
		mc.ParseTime = true
		connector, err := mysql.NewConnector(mc)
		if err != nil {
			return nil, err
		}
		return sql.OpenDB(connector), nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
}

func applyPoolSettings(db *sql.DB, cfg config.Database) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}
}

// slowQueryHook logs statements that exceed the threshold, and failed statements other than
// "no rows".
type slowQueryHook struct {
	threshold time.Duration
	logger    *zap.Logger
}

func (h *slowQueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *slowQueryHook) AfterQuery(_ context.Context, ev *bun.QueryEvent) {
	elapsed := time.Since(ev.StartTime)
	switch {
	case ev.Err != nil && !errors.Is(ev.Err, sql.ErrNoRows):
		h.logger.Debug("query failed",
			zap.String("db.operation", ev.Operation()),
			zap.Duration("elapsed", elapsed),
			zap.Error(ev.Err),
		)
	case elapsed >= h.threshold:
		h.logger.Warn("slow query",
			zap.String("db.operation", ev.Operation()),
			zap.Duration("elapsed", elapsed),
			zap.String("db.statement", ev.Query),
		)
	}
}
