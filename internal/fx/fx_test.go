package fx

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRates struct {
	mu      sync.Mutex
	rates   map[time.Time]Rate
	inserts int
}

func (m *memoryRates) GetRate(_ context.Context, day time.Time) (Rate, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rates[day]
	return r, ok, nil
}

func (m *memoryRates) InsertRate(_ context.Context, r Rate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rates[r.Day]; !ok {
		m.rates[r.Day] = r
		m.inserts++
	}
	return nil
}

type slowProvider struct{ calls atomic.Int32 }

func (p *slowProvider) Fetch(ctx context.Context, day time.Time) (Rate, error) {
	p.calls.Add(1)
	time.Sleep(20 * time.Millisecond)
	return StubProvider{}.Fetch(ctx, day)
}

func TestForDayCreatesOncePerDay(t *testing.T) {
	repo := &memoryRates{rates: map[time.Time]Rate{}}
	provider := &slowProvider{}
	svc := NewService(repo, provider, nil)
	day := time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC)

	var wg sync.WaitGroup
	results := make(chan Rate, 8)
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := svc.ForDay(context.Background(), day)
			errs <- err
			results <- r
		}()
	}
	wg.Wait()
	close(errs)
	close(results)
	for err := range errs {
		require.NoError(t, err)
	}
	for r := range results {
		require.True(t, r.Sell.Equal(decimal.RequireFromString("3.780")))
	}
	require.Equal(t, 1, repo.inserts)
	require.Equal(t, int32(1), provider.calls.Load())

	_, err := svc.ForDay(context.Background(), day.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, repo.inserts)
	require.Equal(t, int32(1), provider.calls.Load())
}

func TestSellRateUsesStoredQuote(t *testing.T) {
	day := Truncate(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	repo := &memoryRates{rates: map[time.Time]Rate{
		day: {Day: day, Buy: decimal.RequireFromString("3.700"), Sell: decimal.RequireFromString("3.720"), Source: "MANUAL"},
	}}
	svc := NewService(repo, nil, nil)
	sell, err := svc.SellRate(context.Background(), day)
	require.NoError(t, err)
	require.Equal(t, "3.72", sell.String())
	require.Zero(t, repo.inserts)
}
