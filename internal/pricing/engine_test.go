package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Shpigford/dutch-auction/internal/config"
)

func testEngine(t *testing.T) (*Engine, time.Time) {
	t.Helper()
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	cfg := config.AuctionConfig{
		ItemID:        "optic",
		StartTime:     start,
		Duration:      7 * 24 * time.Hour,
		StartingPrice: 2500000,
		FloorPrice:    100,
	}
	require.NoError(t, cfg.Validate())
	return NewEngine(cfg), start
}

func TestPriceAtBeforeStart(t *testing.T) {
	e, start := testEngine(t)

	for _, offset := range []time.Duration{time.Nanosecond, time.Minute, 365 * 24 * time.Hour} {
		require.Equal(t, int64(2500000), e.PriceAt(start.Add(-offset)))
	}
}

func TestPriceAtHalfway(t *testing.T) {
	e, start := testEngine(t)

	// round(2_500_000 - 2_499_900 * 0.5) at T0 + 3.5 days
	got := e.PriceAt(start.Add(3*24*time.Hour + 12*time.Hour))
	require.Equal(t, int64(1250050), got)
}

func TestPriceAtFloorAfterWindow(t *testing.T) {
	e, start := testEngine(t)

	require.Equal(t, int64(100), e.PriceAt(start.Add(7*24*time.Hour)))
	require.Equal(t, int64(100), e.PriceAt(start.Add(30*24*time.Hour)))
}

func TestPriceMonotonicNonIncreasing(t *testing.T) {
	e, start := testEngine(t)

	prev := e.PriceAt(start.Add(-time.Hour))
	for i := 0; i <= 7*24; i++ {
		now := start.Add(time.Duration(i) * time.Hour)
		price := e.PriceAt(now)
		require.LessOrEqual(t, price, prev, "price increased at %s", now)
		prev = price
	}
}

func TestPriceBounds(t *testing.T) {
	e, start := testEngine(t)

	for i := -24; i <= 10*24; i++ {
		price := e.PriceAt(start.Add(time.Duration(i) * time.Hour))
		require.GreaterOrEqual(t, price, int64(100))
		require.LessOrEqual(t, price, int64(2500000))
	}
}

func TestPriceDeterministic(t *testing.T) {
	e, start := testEngine(t)

	at := start.Add(42 * time.Hour)
	first := e.PriceAt(at)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, e.PriceAt(at))
	}
}

func TestDollarsAtFloorsCents(t *testing.T) {
	e, start := testEngine(t)

	at := start.Add(3*24*time.Hour + 12*time.Hour)
	require.Equal(t, int64(12500), e.DollarsAt(at)) // 1_250_050 cents
}
