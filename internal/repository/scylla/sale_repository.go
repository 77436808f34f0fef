package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/Shpigford/dutch-auction/internal/models"
	"github.com/Shpigford/dutch-auction/internal/util"
)

// saleStateID keys the singleton row tracking the one item on sale.
const saleStateID = 1

type SaleRepository struct {
	client *ScyllaClient
}

func NewSaleRepository(client *ScyllaClient) *SaleRepository {
	return &SaleRepository{client: client}
}

// EnsureSaleState seeds the singleton sale row if it does not exist yet.
// Safe to call on every startup; the conditional insert is a no-op once
// the row is present.
func (r *SaleRepository) EnsureSaleState(ctx context.Context) error {
	applied, err := r.client.Prepared.SeedSaleState.
		Bind(saleStateID).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to seed sale state: %w", err)
	}
	if applied {
		util.Info("sale state row seeded", zap.Int("id", saleStateID))
	}
	return nil
}

// GetSaleState reads the current sale row.
func (r *SaleRepository) GetSaleState(ctx context.Context) (*models.SaleState, error) {
	var (
		id        int
		sold      bool
		soldAt    time.Time
		salePrice int64
	)

	err := r.client.Prepared.GetSaleState.
		Bind(saleStateID).
		WithContext(ctx).
		Scan(&id, &sold, &soldAt, &salePrice)
	if errors.Is(err, gocql.ErrNotFound) {
		// Row not seeded yet; report an unsold item.
		return &models.SaleState{ID: saleStateID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sale state: %w", err)
	}

	state := &models.SaleState{ID: id, Sold: sold}
	if sold {
		at := soldAt
		price := salePrice
		state.SoldAt = &at
		state.SalePrice = &price
	}
	return state, nil
}

// FinalizeSale marks the item sold at the given price via a conditional
// update. It returns true when this call won the transition; false when the
// row was already sold, in which case the stored state is left untouched.
func (r *SaleRepository) FinalizeSale(ctx context.Context, soldAt time.Time, salePrice int64) (bool, error) {
	var prevSold bool
	applied, err := r.client.Prepared.FinalizeSale.
		Bind(soldAt, salePrice, saleStateID).
		WithContext(ctx).
		ScanCAS(&prevSold)
	if err != nil {
		return false, fmt.Errorf("failed to finalize sale: %w", err)
	}

	if applied {
		util.Info("sale finalized",
			zap.Int64("sale_price", salePrice),
			zap.Time("sold_at", soldAt))
	} else {
		util.Info("sale already finalized, conditional update skipped")
	}
	return applied, nil
}
