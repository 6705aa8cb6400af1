package seeder

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/copra/internal/entity"
	productrepo "github.com/Additional-Code/copra/internal/repository/product"
)

// Module provides the Seeder to Fx.
var Module = fx.Provide(
	New,
	func(r *productrepo.Repository) Catalogue { return r },
)

// Catalogue stores products by SKU.
type Catalogue interface {
	Upsert(ctx context.Context, products []entity.Product) error
}

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	catalogue Catalogue
	logger    *zap.Logger
}

// New constructs a Seeder writing through the product repository.
func New(catalogue Catalogue, logger *zap.Logger) *Seeder {
	return &Seeder{catalogue: catalogue, logger: logger}
}

// StarterProducts returns the storefront's starter product range.
func StarterProducts() []entity.Product {
	price := decimal.RequireFromString
	return []entity.Product{
		{SKU: "VCO-250", Name: "Virgin Coconut Oil 250ml", Description: "Cold-pressed virgin coconut oil for cooking and skin care.", Price: price("25.00"), StockQuantity: 120, ImageURL: "/images/vco-250.jpg"},
		{SKU: "VCO-500", Name: "Virgin Coconut Oil 500ml", Description: "Cold-pressed virgin coconut oil, family size.", Price: price("45.00"), StockQuantity: 80, ImageURL: "/images/vco-500.jpg"},
		{SKU: "VCO-1L", Name: "Virgin Coconut Oil 1L", Description: "Cold-pressed virgin coconut oil, kitchen refill.", Price: price("80.00"), StockQuantity: 40, ImageURL: "/images/vco-1l.jpg"},
		{SKU: "HAIR-150", Name: "Coconut Hair Oil 150ml", Description: "Coconut oil infused with rosemary for hair and scalp.", Price: price("35.00"), StockQuantity: 60, ImageURL: "/images/hair-150.jpg"},
		{SKU: "SOAP-BAR", Name: "Coconut Oil Soap Bar", Description: "Handmade soap with virgin coconut oil and shea butter.", Price: price("12.50"), StockQuantity: 200, ImageURL: "/images/soap-bar.jpg"},
	}
}

// Products upserts the starter catalogue. Existing SKUs have their details and stock refreshed.
func (s *Seeder) Products(ctx context.Context) error {
	products := StarterProducts()
	for i := range products {
		products[i].InStock = products[i].StockQuantity > 0
	}
	if err := s.catalogue.Upsert(ctx, products); err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Info("seeded products", zap.Int("count", len(products)))
	}
	return nil
}
