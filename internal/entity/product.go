package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Product is a catalogue entry whose stock the order lifecycle adjusts.
type Product struct {
	bun.BaseModel `bun:"table:products"`

	ID            int64           `bun:",pk,autoincrement" json:"id"`
	SKU           string          `bun:"sku,unique" json:"sku"`
	Name          string          `bun:"name" json:"name"`
	Description   string          `bun:"description,nullzero" json:"description,omitempty"`
	Price         decimal.Decimal `bun:"price,type:numeric(12,2)" json:"price"`
	ImageURL      string          `bun:"image_url,nullzero" json:"image_url,omitempty"`
	StockQuantity int             `bun:"stock_quantity,notnull" json:"stock_quantity"`
	InStock       bool            `bun:"in_stock,notnull" json:"in_stock"`
	CreatedAt     time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time       `bun:"updated_at,nullzero" json:"updated_at"`
}
