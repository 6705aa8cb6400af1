package payment_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/copra/internal/database/databasetest"
	"github.com/Additional-Code/copra/internal/entity"
	paymentrepo "github.com/Additional-Code/copra/internal/repository/payment"
)

func TestRecordDeduplicates(t *testing.T) {
	conns := databasetest.Postgres(t)
	repo := paymentrepo.NewRepository(conns)
	ctx := context.Background()

	first, created, err := repo.Record(ctx, &entity.PaymentEvent{
		Reference: "CO-20250101-0001-deadbeef",
		Event:     "charge.success",
		Payload:   json.RawMessage(`{"event":"charge.success"}`),
	})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, entity.PaymentEventReceived, first.Status)

	require.NoError(t, repo.MarkProcessed(ctx, first.ID))

	again, created, err := repo.Record(ctx, &entity.PaymentEvent{
		Reference: "CO-20250101-0001-deadbeef",
		Event:     "charge.success",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, entity.PaymentEventProcessed, again.Status)
	assert.Equal(t, 1, again.Attempts)
}

func TestMarkFailedKeepsCause(t *testing.T) {
	conns := databasetest.Postgres(t)
	repo := paymentrepo.NewRepository(conns)
	ctx := context.Background()

	ev, _, err := repo.Record(ctx, &entity.PaymentEvent{Reference: "ref-1", Event: "charge.success"})
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, ev.ID, "order not found"))

	stored, err := repo.Find(ctx, "ref-1", "charge.success")
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentEventFailed, stored.Status)
	assert.Equal(t, "order not found", stored.Error)

	_, err = repo.Find(ctx, "ref-2", "charge.success")
	assert.ErrorIs(t, err, paymentrepo.ErrNotFound)
}
