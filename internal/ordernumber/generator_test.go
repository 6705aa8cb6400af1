package ordernumber

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySequence struct {
	mu     sync.Mutex
	values map[string]int64
	err    error
}

func (m *memorySequence) Next(_ context.Context, day string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	if m.values == nil {
		m.values = map[string]int64{}
	}
	m.values[day]++
	return m.values[day], nil
}

func TestNextFormatsPerDay(t *testing.T) {
	gen := New("co", time.UTC, &memorySequence{})
	ctx := context.Background()
	day := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

	first, err := gen.Next(ctx, day)
	require.NoError(t, err)
	second, err := gen.Next(ctx, day.Add(time.Hour))
	require.NoError(t, err)
	nextDay, err := gen.Next(ctx, day.Add(24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, "CO-20250314-0001", first)
	assert.Equal(t, "CO-20250314-0002", second)
	assert.Equal(t, "CO-20250315-0001", nextDay)
}

func TestNextUsesStoreTimezone(t *testing.T) {
	eastOfUTC := time.FixedZone("UTC+3", 3*60*60)
	gen := New("CO", eastOfUTC, &memorySequence{})

	number, err := gen.Next(context.Background(), time.Date(2025, 3, 14, 22, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "CO-20250315-0001", number)
}

func TestNextPropagatesSequenceErrors(t *testing.T) {
	boom := errors.New("db down")
	gen := New("CO", nil, &memorySequence{err: boom})

	_, err := gen.Next(context.Background(), time.Now())
	require.ErrorIs(t, err, boom)
}

func TestConcurrentNumbersAreDistinct(t *testing.T) {
	gen := New("CO", time.UTC, &memorySequence{})
	now := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	const n = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{}, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := gen.Next(context.Background(), now)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			seen[number] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestFormatPadsToAtLeastFourDigits(t *testing.T) {
	day := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "CO-20251201-0042", Format("CO", day, 42))
	assert.Equal(t, "CO-20251201-12345", Format("CO", day, 12345))
}

func TestParse(t *testing.T) {
	n, err := Parse("CO-20250314-0007")
	require.NoError(t, err)
	assert.Equal(t, "CO", n.Prefix)
	assert.Equal(t, int64(7), n.Seq)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), n.Day)

	for _, bad := range []string{"", "42", "CO-2025-0001", "CO-20251399-0001", "CO-20250314-01", "CO-20250314-abcd", "CO-20250314-0000"} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrMalformed, bad)
	}
	assert.True(t, IsOrderNumber("SHOP-20240101-9999"))
}
