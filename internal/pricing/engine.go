package pricing

import (
	"math"
	"time"

	"github.com/Shpigford/dutch-auction/internal/config"
)

// Engine maps wall-clock time to the current auction price. It is pure: no
// state, no I/O, identical inputs always yield identical outputs, so server
// and client computations agree and dispatcher re-evaluation is idempotent.
type Engine struct {
	startTime     time.Time
	duration      time.Duration
	startingPrice int64
	floorPrice    int64
}

// NewEngine builds an engine from validated auction config. Configuration
// problems are caught by config.LoadConfig before this point.
func NewEngine(cfg config.AuctionConfig) *Engine {
	return &Engine{
		startTime:     cfg.StartTime,
		duration:      cfg.Duration,
		startingPrice: cfg.StartingPrice,
		floorPrice:    cfg.FloorPrice,
	}
}

// PriceAt returns the price in cents at the given instant. Flat at the
// starting price before the window opens, linear decay to the floor over the
// window, flat at the floor afterwards. Monotonic non-increasing in now.
func (e *Engine) PriceAt(now time.Time) int64 {
	if now.Before(e.startTime) {
		return e.startingPrice
	}

	elapsed := now.Sub(e.startTime)
	progress := float64(elapsed) / float64(e.duration)
	if progress > 1 {
		progress = 1
	}

	priceRange := float64(e.startingPrice - e.floorPrice)
	price := int64(math.Round(float64(e.startingPrice) - priceRange*progress))
	if price < e.floorPrice {
		price = e.floorPrice
	}
	return price
}

// CurrentPrice is PriceAt for the present moment.
func (e *Engine) CurrentPrice() int64 {
	return e.PriceAt(time.Now())
}

// DollarsAt returns the whole-dollar price at the given instant, floored.
// Notification target prices are expressed in whole dollars, so matching and
// validation compare against this value.
func (e *Engine) DollarsAt(now time.Time) int64 {
	return e.PriceAt(now) / 100
}

// StartingPrice returns the configured opening price in cents.
func (e *Engine) StartingPrice() int64 {
	return e.startingPrice
}

// FloorPrice returns the configured floor price in cents.
func (e *Engine) FloorPrice() int64 {
	return e.floorPrice
}
