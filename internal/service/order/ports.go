package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/copra/internal/entity"
	"github.com/Additional-Code/copra/internal/inventory"
	orderrepo "github.com/Additional-Code/copra/internal/repository/order"
)

// Repository is the order storage the service depends on.
type Repository interface {
	Insert(ctx context.Context, order *entity.Order) error
	FindByID(ctx context.Context, id int64) (*entity.Order, error)
	FindByNumber(ctx context.Context, number string) (*entity.Order, error)
	FindByPaymentReference(ctx context.Context, reference string) (*entity.Order, error)
	Update(ctx context.Context, order *entity.Order, expectedVersion int) error
	List(ctx context.Context, q orderrepo.Query) ([]entity.Order, int, error)
}

// Products loads catalogue entries for price snapshots.
type Products interface {
	FindByID(ctx context.Context, id int64) (*entity.Product, error)
}

// Stock applies order lines to product stock.
type Stock interface {
	Apply(ctx context.Context, items []entity.OrderItem, dir inventory.Direction) (inventory.Report, error)
}

// Numbers issues order numbers.
type Numbers interface {
	Next(ctx context.Context, now time.Time) (string, error)
}

// Transactor runs fn in a storage transaction carried by ctx.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Fees quotes the delivery fee for a region.
type Fees interface {
	DeliveryFeeForRegion(region string) decimal.Decimal
}
