package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shpigford/dutch-auction/internal/config"
	"github.com/Shpigford/dutch-auction/internal/encryption"
	"github.com/Shpigford/dutch-auction/internal/events"
	"github.com/Shpigford/dutch-auction/internal/models"
	"github.com/Shpigford/dutch-auction/internal/pricing"
	"github.com/Shpigford/dutch-auction/internal/ratelimit"
	"github.com/Shpigford/dutch-auction/internal/repository/scylla"
	"github.com/Shpigford/dutch-auction/internal/util"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// RegisterRequest is a price-drop notification signup. TargetPrice is in
// whole dollars, matching what the storefront form collects.
type RegisterRequest struct {
	Email       string `json:"email"`
	TargetPrice int64  `json:"targetPrice"`
}

// NotificationService registers price-drop notification requests. Contact
// addresses are sealed before storage; only the hashed request source is
// kept alongside them for quota enforcement.
type NotificationService struct {
	notifRepo     scylla.NotificationRepositoryInterface
	saleRepo      scylla.SaleRepositoryInterface
	pricingEngine *pricing.Engine
	encryptionMgr *encryption.Manager
	limiter       ratelimit.Limiter
	publisher     events.Publisher
	config        *config.Config
}

func NewNotificationService(
	notifRepo scylla.NotificationRepositoryInterface,
	saleRepo scylla.SaleRepositoryInterface,
	pricingEngine *pricing.Engine,
	encryptionMgr *encryption.Manager,
	limiter ratelimit.Limiter,
	publisher events.Publisher,
	cfg *config.Config,
) *NotificationService {
	return &NotificationService{
		notifRepo:     notifRepo,
		saleRepo:      saleRepo,
		pricingEngine: pricingEngine,
		encryptionMgr: encryptionMgr,
		limiter:       limiter,
		publisher:     publisher,
		config:        cfg,
	}
}

// Register validates and stores a notification request from the given
// client IP. Checks run cheapest-first: the sold flag and rate limit are
// consulted before any input parsing, quota last since it costs a storage
// read.
func (s *NotificationService) Register(ctx context.Context, req RegisterRequest, clientIP string) error {
	state, err := s.saleRepo.GetSaleState(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if state.Sold {
		return ErrAuctionEnded
	}

	sourceKey := util.SourceKey(s.config.RateLimit.SourceKeySecret, clientIP)

	allowed, err := s.limiter.Check(ctx, sourceKey, s.config.RateLimit.RegisterLimit)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if !allowed {
		return ErrRateLimited
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.TargetPrice == 0 {
		return fmt.Errorf("%w: email and target price are required", ErrInvalidInput)
	}
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	if strings.HasSuffix(email, "@example.com") || strings.HasPrefix(email, "test@") {
		return fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	if req.TargetPrice < 0 {
		return fmt.Errorf("%w: target price must be positive", ErrInvalidInput)
	}

	startingDollars := s.pricingEngine.StartingPrice() / 100
	if req.TargetPrice >= startingDollars {
		return fmt.Errorf("%w: target must be below the starting price", ErrPriceTooHigh)
	}
	currentDollars := s.pricingEngine.DollarsAt(time.Now())
	if req.TargetPrice >= currentDollars {
		return fmt.Errorf("%w: target must be below the current price", ErrPriceTooHigh)
	}

	count, err := s.notifRepo.CountBySource(ctx, s.config.Auction.ItemID, sourceKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if count >= models.MaxRequestsPerSource {
		return ErrQuotaExceeded
	}

	sealed, err := s.encryptionMgr.EncryptContact(ctx, email)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	request := &models.NotificationRequest{
		ID:               uuid.New(),
		AuctionID:        s.config.Auction.ItemID,
		ContactEncrypted: sealed.Value,
		ContactDEK:       sealed.DEK,
		ContactKeyID:     sealed.KeyID,
		TargetPrice:      req.TargetPrice,
		SourceHash:       sourceKey,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.notifRepo.Create(ctx, request); err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	s.publisher.Publish(ctx, events.Event{
		Type:      events.TypeNotificationRegistered,
		AuctionID: request.AuctionID,
		RefID:     request.ID.String(),
	})

	util.Info("notification request registered",
		zap.String("auction_id", request.AuctionID),
		zap.Int64("target_price", request.TargetPrice))
	return nil
}

// AverageTargetPrice exposes the mean registered target in whole dollars,
// used by the storefront as a crowd-sourced price signal.
func (s *NotificationService) AverageTargetPrice(ctx context.Context) (int64, error) {
	avg, err := s.notifRepo.AverageTargetPrice(ctx, s.config.Auction.ItemID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return avg, nil
}
