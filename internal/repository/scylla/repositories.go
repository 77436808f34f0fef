package scylla

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Shpigford/dutch-auction/internal/models"
)

// SaleRepositoryInterface is what the sale service needs from storage.
// The conditional-update semantics of FinalizeSale are part of the
// contract: exactly one caller per sale observes applied == true.
type SaleRepositoryInterface interface {
	EnsureSaleState(ctx context.Context) error
	GetSaleState(ctx context.Context) (*models.SaleState, error)
	FinalizeSale(ctx context.Context, soldAt time.Time, salePrice int64) (applied bool, err error)
}

// NotificationRepositoryInterface is what the notification services need
// from storage. MarkFulfilled carries the same exactly-once contract as
// FinalizeSale, per request row.
type NotificationRepositoryInterface interface {
	Create(ctx context.Context, n *models.NotificationRequest) error
	ListUnfulfilled(ctx context.Context, auctionID string) ([]*models.NotificationRequest, error)
	CountBySource(ctx context.Context, auctionID, sourceHash string) (int, error)
	MarkFulfilled(ctx context.Context, auctionID string, id uuid.UUID) (applied bool, err error)
	AverageTargetPrice(ctx context.Context, auctionID string) (int64, error)
}

var (
	_ SaleRepositoryInterface         = (*SaleRepository)(nil)
	_ NotificationRepositoryInterface = (*NotificationRepository)(nil)
)
