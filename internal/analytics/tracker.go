package analytics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Shpigford/dutch-auction/internal/bucketing"
	"github.com/Shpigford/dutch-auction/internal/client"
	"github.com/Shpigford/dutch-auction/internal/util"
)

// Stats is the aggregate snapshot served to the storefront.
type Stats struct {
	RecentVisitors int64 `json:"recent_visitors"`
	UniqueHovers   int64 `json:"unique_hovers"`
	TotalHovers    int64 `json:"total_hovers"`
}

// Tracker records anonymous engagement events in ClickHouse. Only hashed
// source keys are stored, never raw addresses, so the tables hold nothing
// personally identifying.
type Tracker struct {
	clickhouse *client.ClickHouseClient
	buckets    *bucketing.Manager
}

func NewTracker(clickhouseClient *client.ClickHouseClient, buckets *bucketing.Manager) *Tracker {
	return &Tracker{
		clickhouse: clickhouseClient,
		buckets:    buckets,
	}
}

// TrackVisit records a page visit for the given hashed source.
func (t *Tracker) TrackVisit(ctx context.Context, sourceHash, page string) error {
	return t.clickhouse.Exec(ctx, `
        INSERT INTO page_visits (event_date, source_hash, page, visited_at)
        VALUES (?, ?, ?, ?)`,
		t.buckets.GetDateBucket(), sourceHash, page, time.Now().UTC())
}

// TrackHover records a buy-button hover for the given hashed source.
func (t *Tracker) TrackHover(ctx context.Context, sourceHash, element string) error {
	return t.clickhouse.Exec(ctx, `
        INSERT INTO button_hovers (event_date, source_hash, element, hovered_at)
        VALUES (?, ?, ?, ?)`,
		t.buckets.GetDateBucket(), sourceHash, element, time.Now().UTC())
}

// NoopTracker drops events and serves zeroed stats, for deployments
// running without ClickHouse.
type NoopTracker struct{}

func (NoopTracker) TrackVisit(context.Context, string, string) error { return nil }
func (NoopTracker) TrackHover(context.Context, string, string) error { return nil }
func (NoopTracker) GetStats(context.Context) Stats                   { return Stats{} }

// GetStats aggregates recent engagement. Visitors are counted over the last
// five minutes; hover counts cover the whole auction. Failures degrade to
// zeroed stats so the storefront never breaks over analytics.
func (t *Tracker) GetStats(ctx context.Context) Stats {
	var stats Stats

	err := t.clickhouse.QueryRow(ctx, `
        SELECT uniqExact(source_hash) FROM page_visits
        WHERE visited_at >= now() - INTERVAL 5 MINUTE`).Scan(&stats.RecentVisitors)
	if err != nil {
		util.Warn("failed to count recent visitors", zap.Error(err))
	}

	err = t.clickhouse.QueryRow(ctx, `
        SELECT uniqExact(source_hash), count() FROM button_hovers`).
		Scan(&stats.UniqueHovers, &stats.TotalHovers)
	if err != nil {
		util.Warn("failed to count hovers", zap.Error(err))
	}

	return stats
}
