package sequence_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/copra/internal/database/databasetest"
	"github.com/Additional-Code/copra/internal/repository/sequence"
)

func TestNextIsAtomicPerDay(t *testing.T) {
	conns := databasetest.Postgres(t)
	repo := sequence.NewRepository(conns)
	ctx := context.Background()

	const n = 20
	values := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := repo.Next(ctx, "20250301")
			if err != nil {
				t.Error(err)
				return
			}
			values <- v
		}()
	}
	wg.Wait()
	close(values)

	seen := map[int64]bool{}
	for v := range values {
		assert.False(t, seen[v], "duplicate sequence %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, n)

	other, err := repo.Next(ctx, "20250302")
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)
}
