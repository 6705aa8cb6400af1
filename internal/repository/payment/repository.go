// Package payment persists gateway webhook deliveries for deduplication and audit.
package payment

import (
	"context"
	"database/sql"
	"errors"
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

// Module provides the payment event repository to Fx.
var Module = fx.Provide(NewRepository)

var repoTracer = otel.Tracer("github.com/Additional-Code/copra/repository/payment")

// ErrNotFound is returned when no event exists for a (reference, event) pair.
var ErrNotFound = errors.New("payment event not found")

// Repository records webhook events keyed by (reference, event).
type Repository struct {
	writer *bun.DB
}

// NewRepository binds the repository to the writer connection.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{writer: conns.Writer}
}

// Record stores ev unless the (reference, event) pair already exists, in which case the
// stored row is returned with created=false.
func (r *Repository) Record(ctx context.Context, ev *entity.PaymentEvent) (*entity.PaymentEvent, bool, error) {
	ctx, span := repoTracer.Start(ctx, "PaymentEventRepository.Record", trace.WithAttributes(
		attribute.String("payment.reference", ev.Reference),
		attribute.String("payment.event", ev.Event),
	))
	defer span.End()

	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	if ev.Status == "" {
		ev.Status = entity.PaymentEventReceived
	}

	_, err := database.Executor(ctx, r.writer).NewInsert().Model(ev).Exec(ctx)
	if err == nil {
		return ev, true, nil
	}
	if !database.IsUniqueViolation(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return nil, false, err
	}

	existing, err := r.Find(ctx, ev.Reference, ev.Event)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Find loads the stored event for reference and event name.
func (r *Repository) Find(ctx context.Context, reference, event string) (*entity.PaymentEvent, error) {
	ev := new(entity.PaymentEvent)
	err := database.Executor(ctx, r.writer).NewSelect().Model(ev).
		Where("reference = ?", reference).
		Where("event = ?", event).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ev, err
}

// MarkProcessed flags the event as fully applied.
func (r *Repository) MarkProcessed(ctx context.Context, id int64) error {
	_, err := database.Executor(ctx, r.writer).NewUpdate().
		Model((*entity.PaymentEvent)(nil)).
		Set("status = ?", entity.PaymentEventProcessed).
		Set("attempts = attempts + 1").
		Set("error = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// MarkFailed records a processing failure so operators can reconcile manually.
func (r *Repository) MarkFailed(ctx context.Context, id int64, cause string) error {
	_, err := database.Executor(ctx, r.writer).NewUpdate().
		Model((*entity.PaymentEvent)(nil)).
		Set("status = ?", entity.PaymentEventFailed).
		Set("attempts = attempts + 1").
		Set("error = ?", cause).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}
