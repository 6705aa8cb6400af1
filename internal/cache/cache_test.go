package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapStore map[string][]byte

func (m mapStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (m mapStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m[key] = value
	return nil
}

func (m mapStore) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m, key)
	}
	return nil
}

type cachedOrder struct {
	Number string `json:"number"`
	Total  string `json:"total"`
}

func TestKey(t *testing.T) {
	assert.Equal(t, "copra:orders:CO-20250101-0001", Key("orders", "CO-20250101-0001"))
}

func TestJSONRoundTripUnderEveryKey(t *testing.T) {
	store := mapStore{}
	ctx := context.Background()

	in := cachedOrder{Number: "CO-20250101-0001", Total: "100.00"}
	require.NoError(t, SetJSON(ctx, store, in, time.Minute, Key("orders", "1"), Key("orders", in.Number)))
	assert.Len(t, store, 2)

	out, err := GetJSON[cachedOrder](ctx, store, Key("orders", "1"))
	require.NoError(t, err)
	assert.Equal(t, in, *out)

	_, err = GetJSON[cachedOrder](ctx, store, Key("orders", "2"))
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestNoopStoreAlwaysMisses(t *testing.T) {
	store := NoopStore()
	ctx := context.Background()

	require.NoError(t, SetJSON(ctx, store, cachedOrder{}, 0, "k"))
	_, err := GetJSON[cachedOrder](ctx, store, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = GetJSON[cachedOrder](ctx, nil, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestVersionedHelpersFallBackOnPlainStores(t *testing.T) {
	store := mapStore{}
	ctx := context.Background()
	key := Key("orders", "CO-20250101-0001")

	require.NoError(t, SetVersionedJSON(ctx, store, cachedOrder{Number: "CO-20250101-0001"}, 3, time.Minute, key))
	assert.Contains(t, store, key)

	require.NoError(t, Invalidate(ctx, store, 4, time.Minute, key))
	assert.NotContains(t, store, key)

	assert.NoError(t, Invalidate(ctx, nil, 4, time.Minute, key))
}
