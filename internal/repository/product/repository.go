package product

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/Additional-Code/copra/internal/database"
	"github.com/Additional-Code/copra/internal/entity"
)

// Module provides the product repository to Fx.
var Module = fx.Provide(NewRepository)

var repoTracer = otel.Tracer("github.com/Additional-Code/copra/repository/product")

// ErrNotFound is returned when a product does not exist.
var ErrNotFound = errors.New("product not found")

// Repository reads products and applies atomic stock adjustments.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{writer: conns.Writer, reader: conns.Reader}
}

// FindByID loads a single product.
func (r *Repository) FindByID(ctx context.Context, id int64) (*entity.Product, error) {
	ctx, span := repoTracer.Start(ctx, "ProductRepository.FindByID", trace.WithAttributes(attribute.Int64("product.id", id)))
	defer span.End()

	p := new(entity.Product)
	err := database.Executor(ctx, r.reader).NewSelect().Model(p).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return p, nil
}

// AdjustStock adds delta to the product's stock in a single statement and returns the
// resulting quantity. in_stock is recomputed in the same statement.
func (r *Repository) AdjustStock(ctx context.Context, id int64, delta int) (int, error) {
	ctx, span := repoTracer.Start(ctx, "ProductRepository.AdjustStock", trace.WithAttributes(
		attribute.Int64("product.id", id),
		attribute.Int("stock.delta", delta),
	))
	defer span.End()

	var quantity int
	if r.writer.Dialect().Name() == dialect.MySQL {
		// MySQL has no RETURNING: re-read under the row lock taken by the update.
		err := database.WithSession(ctx, r.writer, func(ctx context.Context, db bun.IDB) error {
			res, err := stockUpdate(db, id, delta).Exec(ctx)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ErrNotFound
			}
			return db.NewSelect().Model((*entity.Product)(nil)).Column("stock_quantity").Where("id = ?", id).Scan(ctx, &quantity)
		})
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return 0, err
			}
			return 0, spanError(span, err)
		}
		span.SetAttributes(attribute.Int("stock.quantity", quantity))
		return quantity, nil
	}

	// bun reports an empty RETURNING set as sql.ErrNoRows.
	res, err := stockUpdate(database.Executor(ctx, r.writer), id, delta).Returning("stock_quantity").Exec(ctx, &quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, spanError(span, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotFound
	}
	span.SetAttributes(attribute.Int("stock.quantity", quantity))
	return quantity, nil
}

// stockUpdate sets in_stock before stock_quantity because MySQL evaluates SET left to right
// against already updated columns.
func stockUpdate(db bun.IDB, id int64, delta int) *bun.UpdateQuery {
	return db.NewUpdate().
		Model((*entity.Product)(nil)).
		Set("in_stock = (stock_quantity + ?) > 0", delta).
		Set("stock_quantity = stock_quantity + ?", delta).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id)
}

// Upsert inserts products or refreshes catalogue fields of existing SKUs. Stock is only set on insert.
func (r *Repository) Upsert(ctx context.Context, products []entity.Product) error {
	if len(products) == 0 {
		return nil
	}
	ctx, span := repoTracer.Start(ctx, "ProductRepository.Upsert", trace.WithAttributes(attribute.Int("product.count", len(products))))
	defer span.End()

	_, err := upsertQuery(database.Executor(ctx, r.writer), &products).Exec(ctx)
	if err != nil {
		return spanError(span, err)
	}
	return nil
}

func upsertQuery(db bun.IDB, products *[]entity.Product) *bun.InsertQuery {
	q := db.NewInsert().Model(products)
	if db.Dialect().Name() == dialect.MySQL {
		return q.On("DUPLICATE KEY UPDATE").
			Set("name = VALUES(name)").
			Set("description = VALUES(description)").
			Set("price = VALUES(price)").
			Set("image_url = VALUES(image_url)").
			Set("updated_at = CURRENT_TIMESTAMP")
	}
	return q.On("CONFLICT (sku) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("description = EXCLUDED.description").
		Set("price = EXCLUDED.price").
		Set("image_url = EXCLUDED.image_url").
		Set("updated_at = CURRENT_TIMESTAMP")
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
