package product_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/copra/internal/database/databasetest"
	"github.com/Additional-Code/copra/internal/entity"
	productrepo "github.com/Additional-Code/copra/internal/repository/product"
)

func TestAdjustStock(t *testing.T) {
	conns := databasetest.Postgres(t)
	repo := productrepo.NewRepository(conns)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, []entity.Product{
		{SKU: "VCO-500", Name: "Virgin Coconut Oil 500ml", Price: decimal.RequireFromString("45.00"), StockQuantity: 3, InStock: true},
	}))

	var id int64
	require.NoError(t, conns.Reader.NewSelect().Model((*entity.Product)(nil)).Column("id").Where("sku = ?", "VCO-500").Scan(ctx, &id))

	qty, err := repo.AdjustStock(ctx, id, -3)
	require.NoError(t, err)
	assert.Equal(t, 0, qty)

	p, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, p.InStock)

	qty, err = repo.AdjustStock(ctx, id, -1)
	require.NoError(t, err)
	assert.Equal(t, -1, qty)

	qty, err = repo.AdjustStock(ctx, id, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, qty)
	p, err = repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, p.InStock)

	_, err = repo.AdjustStock(ctx, id+999, 1)
	assert.ErrorIs(t, err, productrepo.ErrNotFound)
}

func TestUpsertKeepsStock(t *testing.T) {
	conns := databasetest.Postgres(t)
	repo := productrepo.NewRepository(conns)
	ctx := context.Background()

	item := entity.Product{SKU: "VCO-1L", Name: "Coconut Oil 1L", Price: decimal.RequireFromString("80.00"), StockQuantity: 10, InStock: true}
	require.NoError(t, repo.Upsert(ctx, []entity.Product{item}))

	item.Price = decimal.RequireFromString("85.00")
	item.StockQuantity = 99
	require.NoError(t, repo.Upsert(ctx, []entity.Product{item}))

	var stored entity.Product
	require.NoError(t, conns.Reader.NewSelect().Model(&stored).Where("sku = ?", "VCO-1L").Scan(ctx))
	assert.Equal(t, 10, stored.StockQuantity)
	assert.Equal(t, "85.00", stored.Price.StringFixed(2))
}
