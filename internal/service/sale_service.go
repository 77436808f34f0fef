package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Shpigford/dutch-auction/internal/client"
	"github.com/Shpigford/dutch-auction/internal/config"
	"github.com/Shpigford/dutch-auction/internal/events"
	"github.com/Shpigford/dutch-auction/internal/models"
	"github.com/Shpigford/dutch-auction/internal/pricing"
	"github.com/Shpigford/dutch-auction/internal/repository/scylla"
	"github.com/Shpigford/dutch-auction/internal/util"
)

const eventCheckoutCompleted = "checkout.session.completed"

// PaymentGateway is the slice of the payment client the sale service uses.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, priceCents int64) (*client.CheckoutSession, error)
	RetrieveCheckoutSession(ctx context.Context, sessionID string) (*client.CheckoutSession, error)
	ConstructWebhookEvent(payload []byte, sigHeader string) (*client.WebhookEvent, error)
}

// EventDeduper filters webhook deliveries already processed.
type EventDeduper interface {
	MarkEventSeen(ctx context.Context, eventID string) (first bool, err error)
}

// PassthroughDeduper treats every event as new. Used when no shared cache
// is available; the conditional sale update still guarantees correctness.
type PassthroughDeduper struct{}

func (PassthroughDeduper) MarkEventSeen(context.Context, string) (bool, error) { return true, nil }

// SaleStatus is the public auction snapshot.
type SaleStatus struct {
	AuctionID          string     `json:"auction_id"`
	Sold               bool       `json:"sold"`
	SoldAt             *time.Time `json:"sold_at,omitempty"`
	SalePriceCents     *int64     `json:"sale_price_cents,omitempty"`
	CurrentPriceCents  int64      `json:"current_price_cents"`
	StartingPriceCents int64      `json:"starting_price_cents"`
	FloorPriceCents    int64      `json:"floor_price_cents"`
}

// SaleService owns the sale lifecycle: checkout creation, payment
// verification and webhook-driven finalization. Finalization funnels
// through one conditional update, so concurrent confirmations for the
// same item cannot double-sell it.
type SaleService struct {
	saleRepo      scylla.SaleRepositoryInterface
	pricingEngine *pricing.Engine
	payments      PaymentGateway
	dedupe        EventDeduper
	publisher     events.Publisher
	config        *config.Config
}

func NewSaleService(
	saleRepo scylla.SaleRepositoryInterface,
	pricingEngine *pricing.Engine,
	payments PaymentGateway,
	dedupe EventDeduper,
	publisher events.Publisher,
	cfg *config.Config,
) *SaleService {
	return &SaleService{
		saleRepo:      saleRepo,
		pricingEngine: pricingEngine,
		payments:      payments,
		dedupe:        dedupe,
		publisher:     publisher,
		config:        cfg,
	}
}

// Status reads the sale row and joins it with the deterministic price.
func (s *SaleService) Status(ctx context.Context) (*SaleStatus, error) {
	state, err := s.saleRepo.GetSaleState(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	return &SaleStatus{
		AuctionID:          s.config.Auction.ItemID,
		Sold:               state.Sold,
		SoldAt:             state.SoldAt,
		SalePriceCents:     state.SalePrice,
		CurrentPriceCents:  s.pricingEngine.CurrentPrice(),
		StartingPriceCents: s.pricingEngine.StartingPrice(),
		FloorPriceCents:    s.pricingEngine.FloorPrice(),
	}, nil
}

// CreateCheckout opens a hosted checkout session at the current price.
func (s *SaleService) CreateCheckout(ctx context.Context) (*client.CheckoutSession, error) {
	state, err := s.saleRepo.GetSaleState(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if state.Sold {
		return nil, ErrAuctionEnded
	}

	session, err := s.payments.CreateCheckoutSession(ctx, s.pricingEngine.CurrentPrice())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	s.publisher.Publish(ctx, events.Event{
		Type:       events.TypeCheckoutCreated,
		AuctionID:  s.config.Auction.ItemID,
		PriceCents: session.AmountTotal,
		RefID:      session.ID,
	})
	return session, nil
}

// VerifyPayment confirms a checkout session server-side after the buyer is
// redirected back, and finalizes the sale if the session is paid. Safe to
// call repeatedly; a finalized sale stays as the first confirmation wrote
// it.
func (s *SaleService) VerifyPayment(ctx context.Context, sessionID string) (*models.SaleState, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}

	session, err := s.payments.RetrieveCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if session.PaymentStatus != "paid" {
		return nil, ErrPaymentNotCompleted
	}

	if err := s.finalize(ctx, session.AmountTotal); err != nil {
		return nil, err
	}

	state, err := s.saleRepo.GetSaleState(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return state, nil
}

// HandleWebhook authenticates and processes a payment provider callback.
// Replays and duplicate deliveries are acknowledged without effect.
func (s *SaleService) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := s.payments.ConstructWebhookEvent(payload, sigHeader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	first, err := s.dedupe.MarkEventSeen(ctx, event.ID)
	if err != nil {
		// Cache trouble is logged inside; proceed on the storage guarantee.
		util.Warn("webhook dedupe unavailable", zap.Error(err))
	}
	if !first {
		return nil
	}

	if event.Type != eventCheckoutCompleted {
		util.Debug("ignoring webhook event", zap.String("type", event.Type))
		return nil
	}
	if event.Data.Object.PaymentStatus != "paid" {
		util.Info("checkout completed but unpaid, awaiting payment",
			zap.String("session_id", event.Data.Object.ID))
		return nil
	}

	return s.finalize(ctx, event.Data.Object.AmountTotal)
}

func (s *SaleService) finalize(ctx context.Context, salePrice int64) error {
	applied, err := s.saleRepo.FinalizeSale(ctx, time.Now().UTC(), salePrice)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if applied {
		s.publisher.Publish(ctx, events.Event{
			Type:       events.TypeSaleFinalized,
			AuctionID:  s.config.Auction.ItemID,
			PriceCents: salePrice,
		})
	}
	return nil
}
