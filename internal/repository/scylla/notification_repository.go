package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shpigford/dutch-auction/internal/models"
	"github.com/Shpigford/dutch-auction/internal/util"
)

type NotificationRepository struct {
	client *ScyllaClient
}

func NewNotificationRepository(client *ScyllaClient) *NotificationRepository {
	return &NotificationRepository{client: client}
}

// Create stores a notification request plus its source-quota index row.
// The quota row is written first so a crash between the two writes errs
// toward counting the request against the source, never under-counting.
func (r *NotificationRepository) Create(ctx context.Context, n *models.NotificationRequest) error {
	err := r.client.Prepared.InsertBySource.
		Bind(n.AuctionID, n.SourceHash, gocql.UUID(n.ID), n.CreatedAt).
		WithContext(ctx).
		Exec()
	if err != nil {
		return fmt.Errorf("failed to index notification by source: %w", err)
	}

	err = r.client.Prepared.InsertNotification.
		Bind(n.AuctionID, gocql.UUID(n.ID), n.ContactEncrypted, n.ContactDEK,
			n.ContactKeyID, n.TargetPrice, n.SourceHash, n.CreatedAt).
		WithContext(ctx).
		Exec()
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}

	util.Debug("notification request stored",
		zap.String("auction_id", n.AuctionID),
		zap.Int64("target_price", n.TargetPrice))
	return nil
}

// ListUnfulfilled returns the pending requests for an auction. The auction
// partition is small and bounded by the per-source quota, so filtering
// fulfilled rows in code is cheaper than a secondary index.
func (r *NotificationRepository) ListUnfulfilled(ctx context.Context, auctionID string) ([]*models.NotificationRequest, error) {
	iter := r.client.Prepared.ListNotifications.
		Bind(auctionID).
		WithContext(ctx).
		Iter()

	var out []*models.NotificationRequest
	var (
		id               gocql.UUID
		contactEncrypted string
		contactDEK       string
		contactKeyID     string
		targetPrice      int64
		sourceHash       string
		fulfilled        bool
		createdAt        time.Time
	)
	for iter.Scan(&id, &contactEncrypted, &contactDEK, &contactKeyID,
		&targetPrice, &sourceHash, &fulfilled, &createdAt) {
		if fulfilled {
			continue
		}
		out = append(out, &models.NotificationRequest{
			ID:               uuid.UUID(id),
			AuctionID:        auctionID,
			ContactEncrypted: contactEncrypted,
			ContactDEK:       contactDEK,
			ContactKeyID:     contactKeyID,
			TargetPrice:      targetPrice,
			SourceHash:       sourceHash,
			Fulfilled:        fulfilled,
			CreatedAt:        createdAt,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list notification requests: %w", err)
	}
	return out, nil
}

// CountBySource reports how many requests a source has registered.
func (r *NotificationRepository) CountBySource(ctx context.Context, auctionID, sourceHash string) (int, error) {
	var count int
	err := r.client.Prepared.CountBySource.
		Bind(auctionID, sourceHash).
		WithContext(ctx).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications by source: %w", err)
	}
	return count, nil
}

// MarkFulfilled flips a request to fulfilled via a conditional update.
// Returns true when this call made the transition; false when another
// dispatcher already had.
func (r *NotificationRepository) MarkFulfilled(ctx context.Context, auctionID string, id uuid.UUID) (bool, error) {
	var prevFulfilled bool
	applied, err := r.client.Prepared.MarkFulfilled.
		Bind(auctionID, gocql.UUID(id)).
		WithContext(ctx).
		ScanCAS(&prevFulfilled)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification fulfilled: %w", err)
	}
	return applied, nil
}

// AverageTargetPrice returns the mean target price across all requests for
// an auction in whole dollars, or 0 when none exist.
func (r *NotificationRepository) AverageTargetPrice(ctx context.Context, auctionID string) (int64, error) {
	var avg int64
	err := r.client.Prepared.AvgTargetPrice.
		Bind(auctionID).
		WithContext(ctx).
		Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("failed to average target prices: %w", err)
	}
	return avg, nil
}
