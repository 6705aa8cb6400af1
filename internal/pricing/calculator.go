// Package pricing computes delivery fees and order totals.
package pricing

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"

	"github.com/Additional-Code/copra/internal/config"
)

// Module provides the Calculator built from store configuration.
var Module = fx.Provide(NewFromConfig)

const scale = 2

// Line is one priced line of an order.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Totals holds the computed money values of an order. Total always equals Subtotal + DeliveryFee.
type Totals struct {
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	Total       decimal.Decimal
}

// Calculator resolves delivery fees from a region table.
type Calculator struct {
	fees       map[string]decimal.Decimal
	names      []string
	defaultFee decimal.Decimal
}

// New builds a Calculator. Region names are matched case-insensitively.
func New(fees map[string]decimal.Decimal, defaultFee decimal.Decimal) *Calculator {
	c := &Calculator{
		fees:       make(map[string]decimal.Decimal, len(fees)),
		names:      make([]string, 0, len(fees)),
		defaultFee: defaultFee.Round(scale),
	}
	for name, fee := range fees {
		c.fees[normalise(name)] = fee.Round(scale)
		c.names = append(c.names, strings.TrimSpace(name))
	}
	sort.Strings(c.names)
	return c
}

// NewFromConfig wires the Calculator from the store section.
func NewFromConfig(cfg config.Config) *Calculator {
	return New(cfg.Store.DeliveryFees, cfg.Store.DefaultDeliveryFee)
}

// DeliveryFeeForRegion returns the fee for region, or the default fee when the region is unknown.
func (c *Calculator) DeliveryFeeForRegion(region string) decimal.Decimal {
	if fee, ok := c.fees[normalise(region)]; ok {
		return fee
	}
	return c.defaultFee
}

// DefaultFee returns the fee charged for unknown regions.
func (c *Calculator) DefaultFee() decimal.Decimal {
	return c.defaultFee
}

// IsKnownRegion reports whether region has an explicit entry in the fee table.
func (c *Calculator) IsKnownRegion(region string) bool {
	_, ok := c.fees[normalise(region)]
	return ok
}

// Regions lists configured region names in alphabetical order.
func (c *Calculator) Regions() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// ComputeOrderTotals sums the lines and adds the delivery fee, rounding half away from zero to 2 dp.
func ComputeOrderTotals(lines []Line, deliveryFee decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	subtotal = subtotal.Round(scale)
	fee := deliveryFee.Round(scale)
	return Totals{
		Subtotal:    subtotal,
		DeliveryFee: fee,
		Total:       subtotal.Add(fee),
	}
}

func normalise(region string) string {
	return strings.ToLower(strings.Join(strings.Fields(region), " "))
}
