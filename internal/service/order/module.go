package order

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/copra/internal/database"
	"github.com/Additional-Code/copra/internal/inventory"
	"github.com/Additional-Code/copra/internal/ordernumber"
	"github.com/Additional-Code/copra/internal/pricing"
	orderrepo "github.com/Additional-Code/copra/internal/repository/order"
	productrepo "github.com/Additional-Code/copra/internal/repository/product"
)

// Module provides the order service and binds its ports to the concrete adapters.
var Module = fx.Provide(
	NewService,
	func(r *orderrepo.Repository) Repository { return r },
	func(r *productrepo.Repository) Products { return r },
	func(a *inventory.Adjuster) Stock { return a },
	func(g *ordernumber.Generator) Numbers { return g },
	func(m *database.TxManager) Transactor { return m },
	func(c *pricing.Calculator) Fees { return c },
)
