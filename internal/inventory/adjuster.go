// Package inventory applies order quantities to product stock.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/copra/internal/entity"
	"github.com/Additional-Code/copra/internal/observability"
	productrepo "github.com/Additional-Code/copra/internal/repository/product"
)

// Module provides the Adjuster backed by the product repository.
var Module = fx.Provide(
	NewAdjuster,
	func(r *productrepo.Repository) StockStore { return r },
)

var tracer = otel.Tracer("github.com/Additional-Code/copra/inventory")

// Direction selects whether quantities leave or return to stock.
type Direction int

const (
	Decrease Direction = iota
	Increase
)

func (d Direction) String() string {
	if d == Increase {
		return "increase"
	}
	return "decrease"
}

// StockStore adds a signed delta to a product's stock atomically and returns the new quantity.
// It must return productrepo.ErrNotFound for unknown products.
type StockStore interface {
	AdjustStock(ctx context.Context, productID int64, delta int) (int, error)
}

// Anomaly records a product whose stock went negative.
type Anomaly struct {
	ProductID int64
	Quantity  int
}

// Report describes what an Apply call did.
type Report struct {
	Adjusted  int
	Skipped   []int64
	Anomalies []Anomaly
}

// Adjuster applies order lines to stock one atomic increment at a time.
type Adjuster struct {
	store   StockStore
	logger  *zap.Logger
	metrics *observability.Metrics
}

// Params groups the Adjuster's dependencies.
type Params struct {
	fx.In

	Store   StockStore
	Logger  *zap.Logger
	Metrics *observability.Metrics `optional:"true"`
}

// NewAdjuster builds an Adjuster.
func NewAdjuster(p Params) *Adjuster {
	return &Adjuster{store: p.Store, logger: p.Logger, metrics: p.Metrics}
}

// Apply moves every line's quantity in the given direction. Missing products are skipped
// and stock falling below zero is reported but kept. Any other storage error stops the run
// and is returned so the surrounding transaction rolls back.
func (a *Adjuster) Apply(ctx context.Context, items []entity.OrderItem, dir Direction) (Report, error) {
	ctx, span := tracer.Start(ctx, "Adjuster.Apply")
	defer span.End()
	span.SetAttributes(attribute.String("direction", dir.String()), attribute.Int("lines", len(items)))

	var report Report
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		delta := item.Quantity
		if dir == Decrease {
			delta = -delta
		}

		qty, err := a.store.AdjustStock(ctx, item.ProductID, delta)
		if errors.Is(err, productrepo.ErrNotFound) {
			a.logger.Warn("stock adjustment skipped: product missing",
				zap.Int64("product.id", item.ProductID),
				zap.String("direction", dir.String()),
				zap.Int("quantity", item.Quantity),
			)
			report.Skipped = append(report.Skipped, item.ProductID)
			continue
		}
		if err != nil {
			span.RecordError(err)
			return report, fmt.Errorf("adjust stock for product %d: %w", item.ProductID, err)
		}

		report.Adjusted++
		if qty < 0 {
			a.logger.Warn("stock below zero after adjustment",
				zap.Int64("product.id", item.ProductID),
				zap.Int("stock", qty),
			)
			a.metrics.InventoryAnomaly(ctx)
			report.Anomalies = append(report.Anomalies, Anomaly{ProductID: item.ProductID, Quantity: qty})
		}
	}

	a.metrics.InventoryAdjusted(ctx, dir.String(), report.Adjusted)
	return report, nil
}
