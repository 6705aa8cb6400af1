package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/Additional-Code/copra/internal/database"
	"github.com/Additional-Code/copra/internal/entity"
)

// Module provides the order repository to Fx.
var Module = fx.Provide(NewRepository)

var repoTracer = otel.Tracer("github.com/Additional-Code/copra/repository/order")

var (
	// ErrNotFound is returned when an order is missing.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateNumber is returned when the generated order number is already taken.
	ErrDuplicateNumber = fmt.Errorf("duplicate order number: %w", database.ErrConflict)
	// ErrDuplicateReference is returned when a payment reference is already attached to another order.
	ErrDuplicateReference = errors.New("payment reference already in use")
	// ErrVersionConflict is returned when the stored version no longer matches the caller's copy.
	ErrVersionConflict = fmt.Errorf("order version changed: %w", database.ErrConflict)
)

// Query narrows List results. Zero values disable a filter.
type Query struct {
	Status        entity.OrderStatus
	PaymentStatus entity.PaymentStatus
	From          *time.Time
	To            *time.Time
	Search        string
	Limit         int
	Offset        int
}

// Repository encapsulates read/write access for orders.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// Insert persists a new order using the write connection or the active transaction.
func (r *Repository) Insert(ctx context.Context, order *entity.Order) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Insert", trace.WithAttributes(attribute.String("order.number", order.Number)))
	defer span.End()

	_, err := database.Executor(ctx, r.writer).NewInsert().Model(order).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		if database.IsUniqueViolation(err) {
			return ErrDuplicateNumber
		}
		return err
	}
	return nil
}

// FindByID fetches an order by primary key. Inside a transaction the transaction is used,
// otherwise the read replica.
func (r *Repository) FindByID(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.FindByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	return r.findOne(ctx, span, "o.id = ?", id)
}

// FindByNumber fetches an order by its human-readable number.
func (r *Repository) FindByNumber(ctx context.Context, number string) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.FindByNumber", trace.WithAttributes(attribute.String("order.number", number)))
	defer span.End()

	return r.findOne(ctx, span, "o.order_number = ?", number)
}

// FindByPaymentReference fetches the order a gateway reference was attached to.
func (r *Repository) FindByPaymentReference(ctx context.Context, reference string) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.FindByPaymentReference", trace.WithAttributes(attribute.String("payment.reference", reference)))
	defer span.End()

	return r.findOne(ctx, span, "o.payment_reference = ?", reference)
}

func (r *Repository) findOne(ctx context.Context, span trace.Span, where string, arg any) (*entity.Order, error) {
	order := new(entity.Order)
	err := database.Executor(ctx, r.reader).NewSelect().Model(order).Where(where, arg).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return order, nil
}

// Update writes every mutable column when the stored version still equals expectedVersion,
// and bumps the version. A stale copy yields ErrVersionConflict.
func (r *Repository) Update(ctx context.Context, order *entity.Order, expectedVersion int) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Update", trace.WithAttributes(
		attribute.String("order.number", order.Number),
		attribute.Int("order.version", expectedVersion),
	))
	defer span.End()

	order.Version = expectedVersion + 1
	res, err := database.Executor(ctx, r.writer).NewUpdate().
		Model(order).
		ExcludeColumn("id", "order_number", "created_at").
		WherePK().
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		order.Version = expectedVersion
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		if database.IsUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		order.Version = expectedVersion
		return err
	}
	if affected == 0 {
		order.Version = expectedVersion
		span.SetStatus(codes.Error, "version conflict")
		return ErrVersionConflict
	}
	return nil
}

// List returns the page of orders matching q, newest first, together with the total match count.
func (r *Repository) List(ctx context.Context, q Query) ([]entity.Order, int, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.List", trace.WithAttributes(
		attribute.String("filter.status", string(q.Status)),
		attribute.Int("page.limit", q.Limit),
		attribute.Int("page.offset", q.Offset),
	))
	defer span.End()

	var orders []entity.Order
	sel := database.Executor(ctx, r.reader).NewSelect().Model(&orders)

	if q.Status != "" {
		sel = sel.Where("o.order_status = ?", q.Status)
	}
	if q.PaymentStatus != "" {
		sel = sel.Where("o.payment_status = ?", q.PaymentStatus)
	}
	if q.From != nil {
		sel = sel.Where("o.created_at >= ?", *q.From)
	}
	if q.To != nil {
		sel = sel.Where("o.created_at <= ?", *q.To)
	}
	if term := strings.TrimSpace(q.Search); term != "" {
		pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
		sel = sel.WhereGroup(" AND ", func(g *bun.SelectQuery) *bun.SelectQuery {
			return g.
				Where("LOWER(o.order_number) LIKE ?", pattern).
				WhereOr("LOWER(o.customer_name) LIKE ?", pattern).
				WhereOr("LOWER(o.customer_email) LIKE ?", pattern).
				WhereOr("LOWER(o.customer_phone) LIKE ?", pattern)
		})
	}

	sel = sel.OrderExpr("o.created_at DESC").OrderExpr("o.id DESC")
	if q.Limit > 0 {
		sel = sel.Limit(q.Limit)
	}
	if q.Offset > 0 {
		sel = sel.Offset(q.Offset)
	}

	total, err := sel.ScanAndCount(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return nil, 0, err
	}
	span.SetAttributes(attribute.Int("result.total", total))
	return orders, total, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
