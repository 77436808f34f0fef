package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Shpigford/dutch-auction/internal/client"
	"github.com/Shpigford/dutch-auction/internal/config"
	"github.com/Shpigford/dutch-auction/internal/encryption"
	"github.com/Shpigford/dutch-auction/internal/events"
	"github.com/Shpigford/dutch-auction/internal/models"
	"github.com/Shpigford/dutch-auction/internal/pricing"
	"github.com/Shpigford/dutch-auction/internal/repository/scylla"
	"github.com/Shpigford/dutch-auction/internal/util"
)

// EmailSender is the slice of the email client the dispatcher uses.
type EmailSender interface {
	Send(ctx context.Context, msg client.EmailMessage) (string, error)
}

// Per-request dispatch outcomes. A persist failure means the provider
// accepted the message but recording it failed, so the request may be
// re-sent on the next run; a delivery failure means nothing went out.
const (
	OutcomeDelivered      = "delivered"
	OutcomeAlreadySent    = "already_sent"
	OutcomeDeliveryFailed = "delivery_failed"
	OutcomePersistFailed  = "persist_failed"
)

// DispatchResult records what happened to one matched request.
type DispatchResult struct {
	RequestID string `json:"request_id"`
	Outcome   string `json:"outcome"`
	MessageID string `json:"message_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// DispatchReport summarizes one dispatch run, with a per-request result for
// every matched request alongside the aggregate counters.
type DispatchReport struct {
	Pending       int              `json:"pending"`
	Matched       int              `json:"matched"`
	Delivered     int              `json:"delivered"`
	AlreadySent   int              `json:"already_sent"`
	Failed        int              `json:"failed"`
	PersistFailed int              `json:"persist_failed"`
	Results       []DispatchResult `json:"results"`
}

// DispatchService delivers price-drop notifications. A request is only
// marked fulfilled after the provider confirms delivery with a message ID,
// and the mark itself is a conditional update, so overlapping runs cannot
// send the same notification twice and a failed send stays pending for the
// next run.
type DispatchService struct {
	notifRepo     scylla.NotificationRepositoryInterface
	pricingEngine *pricing.Engine
	mailer        EmailSender
	encryptionMgr *encryption.Manager
	publisher     events.Publisher
	config        *config.Config
}

func NewDispatchService(
	notifRepo scylla.NotificationRepositoryInterface,
	pricingEngine *pricing.Engine,
	mailer EmailSender,
	encryptionMgr *encryption.Manager,
	publisher events.Publisher,
	cfg *config.Config,
) *DispatchService {
	return &DispatchService{
		notifRepo:     notifRepo,
		pricingEngine: pricingEngine,
		mailer:        mailer,
		encryptionMgr: encryptionMgr,
		publisher:     publisher,
		config:        cfg,
	}
}

// Run matches pending requests against the current price and delivers
// notifications for those whose target has been reached. Each request is
// handled in isolation; one bad row never blocks the rest of the batch.
func (s *DispatchService) Run(ctx context.Context) (*DispatchReport, error) {
	pending, err := s.notifRepo.ListUnfulfilled(ctx, s.config.Auction.ItemID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	// A target is reached once the price, in whole dollars, is at or below
	// it. Truncation means a target of 1249 fires at $1,249.99.
	currentDollars := s.pricingEngine.DollarsAt(time.Now())

	report := &DispatchReport{Pending: len(pending)}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Dispatch.Concurrency)

	for _, n := range pending {
		if n.TargetPrice < currentDollars {
			continue
		}
		mu.Lock()
		report.Matched++
		mu.Unlock()

		n := n
		g.Go(func() error {
			res := s.deliver(ctx, n, currentDollars)
			mu.Lock()
			report.Results = append(report.Results, res)
			switch res.Outcome {
			case OutcomeDelivered:
				report.Delivered++
			case OutcomeAlreadySent:
				report.AlreadySent++
			case OutcomeDeliveryFailed:
				report.Failed++
			case OutcomePersistFailed:
				report.PersistFailed++
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	util.Info("dispatch run complete",
		zap.Int("pending", report.Pending),
		zap.Int("matched", report.Matched),
		zap.Int("delivered", report.Delivered),
		zap.Int("already_sent", report.AlreadySent),
		zap.Int("failed", report.Failed),
		zap.Int("persist_failed", report.PersistFailed))
	return report, nil
}

func (s *DispatchService) deliver(ctx context.Context, n *models.NotificationRequest, currentDollars int64) DispatchResult {
	res := DispatchResult{RequestID: n.ID.String()}

	contact, err := s.encryptionMgr.DecryptContact(ctx, &encryption.EncryptedContact{
		Value: n.ContactEncrypted,
		DEK:   n.ContactDEK,
		KeyID: n.ContactKeyID,
	})
	if err != nil {
		util.Error("failed to open contact for dispatch",
			zap.String("request_id", n.ID.String()), zap.Error(err))
		res.Outcome = OutcomeDeliveryFailed
		res.Reason = "stored contact could not be opened"
		return res
	}

	messageID, err := s.mailer.Send(ctx, s.buildMessage(contact, n.TargetPrice, currentDollars))
	if err != nil {
		util.Error("notification delivery failed",
			zap.String("request_id", n.ID.String()), zap.Error(err))
		res.Outcome = OutcomeDeliveryFailed
		res.Reason = err.Error()
		return res
	}
	res.MessageID = messageID

	applied, err := s.notifRepo.MarkFulfilled(ctx, n.AuctionID, n.ID)
	if err != nil {
		// Delivered but not recorded; the next run may send again. Marking
		// before delivery would instead risk silently dropping requests.
		util.Error("failed to record fulfilled notification",
			zap.String("request_id", n.ID.String()), zap.Error(err))
		res.Outcome = OutcomePersistFailed
		res.Reason = err.Error()
		return res
	}
	if !applied {
		util.Info("notification already fulfilled by another run",
			zap.String("request_id", n.ID.String()))
		res.Outcome = OutcomeAlreadySent
		return res
	}

	s.publisher.Publish(ctx, events.Event{
		Type:       events.TypeNotificationDelivered,
		AuctionID:  n.AuctionID,
		PriceCents: currentDollars * 100,
		RefID:      messageID,
	})

	util.Info("notification delivered",
		zap.String("request_id", n.ID.String()),
		zap.Int64("target_price", n.TargetPrice))
	res.Outcome = OutcomeDelivered
	return res
}

func (s *DispatchService) buildMessage(contact string, targetDollars, currentDollars int64) client.EmailMessage {
	safeSite := s.config.Email.SiteURL
	return client.EmailMessage{
		To:      contact,
		Subject: fmt.Sprintf("Price drop alert: now $%d", currentDollars),
		HTMLBody: fmt.Sprintf(
			"<p>The price has dropped to <strong>$%d</strong>, at or below your target of $%d.</p>"+
				"<p><a href=%q>Buy it now</a> before someone else does.</p>",
			currentDollars, targetDollars, safeSite),
		TextBody: fmt.Sprintf(
			"The price has dropped to $%d, at or below your target of $%d. Buy now: %s",
			currentDollars, targetDollars, safeSite),
	}
}
