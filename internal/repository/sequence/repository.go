// Package sequence stores the per-day counters behind order numbers.
package sequence

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"

	"github.com/Additional-Code/copra/internal/database"
	"github.com/Additional-Code/copra/internal/entity"
	"github.com/Additional-Code/copra/internal/ordernumber"
)

// Module provides the repository and binds it as the order number sequence.
var Module = fx.Provide(
	NewRepository,
	func(r *Repository) ordernumber.Sequence { return r },
)

var repoTracer = otel.Tracer("github.com/Additional-Code/copra/repository/sequence")

// Repository increments day counters atomically in storage.
type Repository struct {
	writer *bun.DB
}

// NewRepository binds the repository to the writer connection.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{writer: conns.Writer}
}

// Next increments and returns the counter for day. The first call for a day returns 1.
func (r *Repository) Next(ctx context.Context, day string) (int64, error) {
	ctx, span := repoTracer.Start(ctx, "SequenceRepository.Next")
	defer span.End()
	span.SetAttributes(attribute.String("sequence.day", day))

	var value int64
	var err error
	if r.writer.Dialect().Name() == dialect.MySQL {
		err = database.WithSession(ctx, r.writer, func(ctx context.Context, db bun.IDB) error {
			if _, err := mysqlIncrement(db, day).Exec(ctx); err != nil {
				return err
			}
			return db.NewRaw("SELECT LAST_INSERT_ID()").Scan(ctx, &value)
		})
	} else {
		_, err = upsertIncrement(database.Executor(ctx, r.writer), day).Exec(ctx, &value)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "increment failed")
		return 0, fmt.Errorf("increment sequence %s: %w", day, err)
	}
	return value, nil
}

// upsertIncrement bumps the day row in one statement. Postgres hides the table name behind
// the insert alias, so the existing value is addressed through ?TableAlias.
func upsertIncrement(db bun.IDB, day string) *bun.InsertQuery {
	return db.NewInsert().
		Model(&entity.OrderSequence{Day: day, Value: 1}).
		On("CONFLICT (day) DO UPDATE").
		Set("value = ?TableAlias.value + 1").
		Returning("value")
}

// mysqlIncrement stores the new value in the session's LAST_INSERT_ID on both the insert
// and the update path; the caller reads it back on the same connection.
func mysqlIncrement(db bun.IDB, day string) *bun.InsertQuery {
	return db.NewInsert().
		Model(&entity.OrderSequence{Day: day}).
		Value("value", "LAST_INSERT_ID(1)").
		On("DUPLICATE KEY UPDATE").
		Set("value = LAST_INSERT_ID(value + 1)")
}
