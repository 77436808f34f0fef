package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Shpigford/dutch-auction/internal/client"
	"github.com/Shpigford/dutch-auction/internal/config"
	"github.com/Shpigford/dutch-auction/internal/encryption"
	"github.com/Shpigford/dutch-auction/internal/events"
	"github.com/Shpigford/dutch-auction/internal/models"
	"github.com/Shpigford/dutch-auction/internal/pricing"
)

// ---- fakes ----

type fakeSaleRepo struct {
	mu        sync.Mutex
	sold      bool
	soldAt    time.Time
	price     int64
	finalized int
}

func (r *fakeSaleRepo) EnsureSaleState(context.Context) error { return nil }

func (r *fakeSaleRepo) GetSaleState(context.Context) (*models.SaleState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := &models.SaleState{ID: 1, Sold: r.sold}
	if r.sold {
		at, price := r.soldAt, r.price
		state.SoldAt = &at
		state.SalePrice = &price
	}
	return state, nil
}

func (r *fakeSaleRepo) FinalizeSale(_ context.Context, soldAt time.Time, salePrice int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sold {
		return false, nil
	}
	r.sold = true
	r.soldAt = soldAt
	r.price = salePrice
	r.finalized++
	return true, nil
}

type fakeNotifRepo struct {
	mu      sync.Mutex
	reqs    []*models.NotificationRequest
	markErr error
}

func (r *fakeNotifRepo) Create(_ context.Context, n *models.NotificationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *n
	r.reqs = append(r.reqs, &cp)
	return nil
}

func (r *fakeNotifRepo) ListUnfulfilled(_ context.Context, auctionID string) ([]*models.NotificationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.NotificationRequest
	for _, n := range r.reqs {
		if n.AuctionID == auctionID && !n.Fulfilled {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeNotifRepo) CountBySource(_ context.Context, auctionID, sourceHash string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.reqs {
		if n.AuctionID == auctionID && n.SourceHash == sourceHash {
			count++
		}
	}
	return count, nil
}

func (r *fakeNotifRepo) MarkFulfilled(_ context.Context, auctionID string, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markErr != nil {
		return false, r.markErr
	}
	for _, n := range r.reqs {
		if n.AuctionID == auctionID && n.ID == id {
			if n.Fulfilled {
				return false, nil
			}
			n.Fulfilled = true
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeNotifRepo) AverageTargetPrice(_ context.Context, auctionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum, count int64
	for _, n := range r.reqs {
		if n.AuctionID == auctionID {
			sum += n.TargetPrice
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return sum / count, nil
}

type fakeLimiter struct{ allow bool }

func (l fakeLimiter) Check(context.Context, string, int) (bool, error) { return l.allow, nil }

type fakePayments struct {
	session    *client.CheckoutSession
	sessionErr error
	event      *client.WebhookEvent
	eventErr   error
}

func (p *fakePayments) CreateCheckoutSession(context.Context, int64) (*client.CheckoutSession, error) {
	return p.session, p.sessionErr
}

func (p *fakePayments) RetrieveCheckoutSession(context.Context, string) (*client.CheckoutSession, error) {
	return p.session, p.sessionErr
}

func (p *fakePayments) ConstructWebhookEvent([]byte, string) (*client.WebhookEvent, error) {
	return p.event, p.eventErr
}

type fakeDedupe struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *fakeDedupe) MarkEventSeen(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	if d.seen[eventID] {
		return false, nil
	}
	d.seen[eventID] = true
	return true, nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []client.EmailMessage
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg client.EmailMessage) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return fmt.Sprintf("msg-%d", len(m.sent)), nil
}

// ---- helpers ----

func testConfig(start time.Time) *config.Config {
	return &config.Config{
		Environment: "development",
		Auction: config.AuctionConfig{
			ItemID:        "optic",
			StartTime:     start,
			Duration:      7 * 24 * time.Hour,
			StartingPrice: 2500000,
			FloorPrice:    100,
		},
		RateLimit: config.RateLimitConfig{
			RegisterLimit:   5,
			SourceKeySecret: "test-secret",
		},
		Dispatch: config.DispatchConfig{Concurrency: 4},
		Email: config.EmailConfig{
			FromAddress: "hello@withoptic.com",
			SiteURL:     "https://sale.withoptic.com",
		},
	}
}

func newRegistry(cfg *config.Config, saleRepo *fakeSaleRepo, notifRepo *fakeNotifRepo, allow bool) *NotificationService {
	return NewNotificationService(
		notifRepo, saleRepo,
		pricing.NewEngine(cfg.Auction),
		encryption.NewManager(cfg, nil),
		fakeLimiter{allow: allow},
		events.NoopPublisher{},
		cfg,
	)
}

// ---- notification registration ----

func TestRegisterStoresSealedContact(t *testing.T) {
	cfg := testConfig(time.Now().Add(-time.Hour))
	notifRepo := &fakeNotifRepo{}
	svc := newRegistry(cfg, &fakeSaleRepo{}, notifRepo, true)

	err := svc.Register(context.Background(), RegisterRequest{
		Email:       "buyer@gmail.com",
		TargetPrice: 1200,
	}, "203.0.113.9")
	require.NoError(t, err)

	require.Len(t, notifRepo.reqs, 1)
	stored := notifRepo.reqs[0]
	require.NotContains(t, stored.ContactEncrypted, "buyer@gmail.com")
	require.NotEmpty(t, stored.ContactDEK)
	require.NotEmpty(t, stored.SourceHash)
	require.NotContains(t, stored.SourceHash, "203.0.113.9")
	require.Equal(t, int64(1200), stored.TargetPrice)
	require.False(t, stored.Fulfilled)
}

func TestRegisterRejectedAfterSale(t *testing.T) {
	cfg := testConfig(time.Now().Add(-time.Hour))
	svc := newRegistry(cfg, &fakeSaleRepo{sold: true}, &fakeNotifRepo{}, true)

	// The sold check comes first, even for otherwise invalid input.
	err := svc.Register(context.Background(), RegisterRequest{Email: "not-an-email"}, "203.0.113.9")
	require.ErrorIs(t, err, ErrAuctionEnded)
}

func TestRegisterRateLimitedBeforeValidation(t *testing.T) {
	cfg := testConfig(time.Now().Add(-time.Hour))
	svc := newRegistry(cfg, &fakeSaleRepo{}, &fakeNotifRepo{}, false)

	err := svc.Register(context.Background(), RegisterRequest{Email: "not-an-email"}, "203.0.113.9")
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	cfg := testConfig(time.Now().Add(-time.Hour))
	svc := newRegistry(cfg, &fakeSaleRepo{}, &fakeNotifRepo{}, true)
	ctx := context.Background()

	cases := []RegisterRequest{
		{Email: "", TargetPrice: 1000},
		{Email: "buyer@gmail.com", TargetPrice: 0},
		{Email: "not-an-email", TargetPrice: 1000},
		{Email: "someone@example.com", TargetPrice: 1000},
		{Email: "test@gmail.com", TargetPrice: 1000},
		{Email: "buyer@gmail.com", TargetPrice: -5},
	}
	for _, req := range cases {
		err := svc.Register(ctx, req, "203.0.113.9")
		require.ErrorIs(t, err, ErrInvalidInput, "req %+v", req)
	}
}

func TestRegisterRejectsTargetAboveCurrentPrice(t *testing.T) {
	// Auction just started, so the current price is near $25,000.
	cfg := testConfig(time.Now().Add(-time.Minute))
	svc := newRegistry(cfg, &fakeSaleRepo{}, &fakeNotifRepo{}, true)
	ctx := context.Background()

	err := svc.Register(ctx, RegisterRequest{Email: "buyer@gmail.com", TargetPrice: 30000}, "203.0.113.9")
	require.ErrorIs(t, err, ErrPriceTooHigh)

	err = svc.Register(ctx, RegisterRequest{Email: "buyer@gmail.com", TargetPrice: 25000}, "203.0.113.9")
	require.ErrorIs(t, err, ErrPriceTooHigh)

	err = svc.Register(ctx, RegisterRequest{Email: "buyer@gmail.com", TargetPrice: 20000}, "203.0.113.9")
	require.NoError(t, err)
}

func TestRegisterQuotaPerSource(t *testing.T) {
	cfg := testConfig(time.Now().Add(-time.Hour))
	notifRepo := &fakeNotifRepo{}
	svc := newRegistry(cfg, &fakeSaleRepo{}, notifRepo, true)
	ctx := context.Background()

	for i := 0; i < models.MaxRequestsPerSource; i++ {
		err := svc.Register(ctx, RegisterRequest{
			Email:       fmt.Sprintf("buyer%d@gmail.com", i),
			TargetPrice: 1000,
		}, "203.0.113.9")
		require.NoError(t, err)
	}

	err := svc.Register(ctx, RegisterRequest{Email: "buyer9@gmail.com", TargetPrice: 1000}, "203.0.113.9")
	require.ErrorIs(t, err, ErrQuotaExceeded)

	// A different source is unaffected.
	err = svc.Register(ctx, RegisterRequest{Email: "other@gmail.com", TargetPrice: 1000}, "198.51.100.7")
	require.NoError(t, err)
}

func TestAverageTargetPrice(t *testing.T) {
	cfg := testConfig(time.Now().Add(-time.Hour))
	notifRepo := &fakeNotifRepo{}
	svc := newRegistry(cfg, &fakeSaleRepo{}, notifRepo, true)
	ctx := context.Background()

	for i, target := range []int64{1000, 2000, 3000} {
		require.NoError(t, svc.Register(ctx, RegisterRequest{
			Email:       fmt.Sprintf("buyer%d@gmail.com", i),
			TargetPrice: target,
		}, fmt.Sprintf("203.0.113.%d", i)))
	}

	avg, err := svc.AverageTargetPrice(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2000), avg)
}

// ---- sale finalization ----

func newSales(cfg *config.Config, saleRepo *fakeSaleRepo, payments *fakePayments) *SaleService {
	return NewSaleService(
		saleRepo, pricing.NewEngine(cfg.Auction), payments,
		&fakeDedupe{}, events.NoopPublisher{}, cfg)
}

func TestVerifyPaymentFinalizesOnce(t *testing.T) {
	cfg := testConfig(time.Now().Add(-time.Hour))
	saleRepo := &fakeSaleRepo{}
	svc := newSales(cfg, saleRepo, &fakePayments{
		session: &client.CheckoutSession{ID: "cs_1", PaymentStatus: "paid", AmountTotal: 2480000},
	})

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	states := make(chan *models.SaleState, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := svc.VerifyPayment(context.Background(), "cs_1")
			errs <- err
			states <- state
		}()
	}
	wg.Wait()
	close(errs)
	close(states)

	for err := range errs {
		require.NoError(t, err)
	}
	for state := range states {
		require.True(t, state.Sold)
		require.Equal(t, int64(2480000), *state.SalePrice)
	}
	require.Equal(t, 1, saleRepo.finalized, "exactly one finalization may apply")
}

func TestVerifyPaymentRejectsUnpaidSession(t *testing.T) {
	cfg := testConfig(time.Now().Add(-time.Hour))
	saleRepo := &fakeSaleRepo{}
	svc := newSales(cfg, saleRepo, &fakePayments{
		session: &client.CheckoutSession{ID: "cs_1", PaymentStatus: "unpaid"},
	})

	_, err := svc.VerifyPayment(context.Background(), "cs_1")
	require.ErrorIs(t, err, ErrPaymentNotCompleted)
	require.Equal(t, 0, saleRepo.finalized)

	_, err = svc.VerifyPayment(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestWebhookFinalizesPaidCheckout(t *testing.T) {
	cfg := testConfig(time.Now().Add(-time.Hour))
	saleRepo := &fakeSaleRepo{}
	event := &client.WebhookEvent{ID: "evt_1", Type: "checkout.session.completed"}
	event.Data.Object = client.CheckoutSession{ID: "cs_1", PaymentStatus: "paid", AmountTotal: 2480000}
	svc := newSales(cfg, saleRepo, &fakePayments{event: event})

	require.NoError(t, svc.HandleWebhook(context.Background(), []byte("{}"), "t=1,v1=ab"))
	require.Equal(t, 1, saleRepo.finalized)
	require.Equal(t, int64(2480000), saleRepo.price)

	// Redelivery of the same event is acknowledged without effect.
	require.NoError(t, svc.HandleWebhook(context.Background(), []byte("{}"), "t=1,v1=ab"))
	require.Equal(t, 1, saleRepo.finalized)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	cfg := testConfig(time.Now().Add(-time.Hour))
	saleRepo := &fakeSaleRepo{}
	event := &client.WebhookEvent{ID: "evt_2", Type: "payment_intent.created"}
	svc := newSales(cfg, saleRepo, &fakePayments{event: event})

	require.NoError(t, svc.HandleWebhook(context.Background(), []byte("{}"), "t=1,v1=ab"))
	require.Equal(t, 0, saleRepo.finalized)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	cfg := testConfig(time.Now().Add(-time.Hour))
	saleRepo := &fakeSaleRepo{}
	svc := newSales(cfg, saleRepo, &fakePayments{eventErr: fmt.Errorf("signature mismatch")})

	err := svc.HandleWebhook(context.Background(), []byte("{}"), "t=1,v1=bad")
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Equal(t, 0, saleRepo.finalized)
}

func TestWebhookAfterSaleIsAcknowledged(t *testing.T) {
	cfg := testConfig(time.Now().Add(-time.Hour))
	saleRepo := &fakeSaleRepo{sold: true, soldAt: time.Now(), price: 2000000}
	event := &client.WebhookEvent{ID: "evt_3", Type: "checkout.session.completed"}
	event.Data.Object = client.CheckoutSession{ID: "cs_9", PaymentStatus: "paid", AmountTotal: 1900000}
	svc := newSales(cfg, saleRepo, &fakePayments{event: event})

	require.NoError(t, svc.HandleWebhook(context.Background(), []byte("{}"), "t=1,v1=ab"))
	require.Equal(t, int64(2000000), saleRepo.price, "recorded sale must not change")
}

// ---- dispatch ----

func newDispatcher(cfg *config.Config, notifRepo *fakeNotifRepo, mailer *fakeMailer, enc *encryption.Manager) *DispatchService {
	return NewDispatchService(
		notifRepo, pricing.NewEngine(cfg.Auction), mailer, enc,
		events.NoopPublisher{}, cfg)
}

func TestDispatchDeliversMatchedRequests(t *testing.T) {
	// Auction long over: price is at the $1 floor, everything matches.
	cfg := testConfig(time.Now().Add(-30 * 24 * time.Hour))
	notifRepo := &fakeNotifRepo{}
	enc := encryption.NewManager(cfg, nil)

	for i, target := range []int64{5, 50, 500} {
		sealed, err := enc.EncryptContact(context.Background(), fmt.Sprintf("buyer%d@gmail.com", i))
		require.NoError(t, err)
		require.NoError(t, notifRepo.Create(context.Background(), &models.NotificationRequest{
			ID: uuid.New(), AuctionID: "optic",
			ContactEncrypted: sealed.Value, ContactDEK: sealed.DEK, ContactKeyID: sealed.KeyID,
			TargetPrice: target, SourceHash: fmt.Sprintf("src-%d", i), CreatedAt: time.Now(),
		}))
	}

	mailer := &fakeMailer{}
	dispatcher := newDispatcher(cfg, notifRepo, mailer, enc)

	report, err := dispatcher.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, report.Pending)
	require.Equal(t, 3, report.Matched)
	require.Equal(t, 3, report.Delivered)
	require.Equal(t, 0, report.Failed)
	require.Len(t, mailer.sent, 3)

	// Every matched request has its own result entry with a provider
	// message id attached.
	require.Len(t, report.Results, 3)
	seen := map[string]bool{}
	for _, res := range report.Results {
		require.Equal(t, OutcomeDelivered, res.Outcome)
		require.NotEmpty(t, res.RequestID)
		require.NotEmpty(t, res.MessageID)
		require.Empty(t, res.Reason)
		seen[res.RequestID] = true
	}
	require.Len(t, seen, 3, "result entries must cover distinct requests")

	// Decrypted recipients, not ciphertext, went out.
	recipients := map[string]bool{}
	for _, msg := range mailer.sent {
		recipients[msg.To] = true
	}
	require.True(t, recipients["buyer0@gmail.com"])

	// Second run has nothing left to send.
	report, err = dispatcher.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, report.Pending)
	require.Equal(t, 0, report.Delivered)
	require.Len(t, mailer.sent, 3)
}

func TestDispatchSkipsUnreachedTargets(t *testing.T) {
	// Just started: price near $25,000, no target below it matches yet.
	cfg := testConfig(time.Now().Add(-time.Minute))
	notifRepo := &fakeNotifRepo{}
	enc := encryption.NewManager(cfg, nil)

	sealed, err := enc.EncryptContact(context.Background(), "buyer@gmail.com")
	require.NoError(t, err)
	require.NoError(t, notifRepo.Create(context.Background(), &models.NotificationRequest{
		ID: uuid.New(), AuctionID: "optic",
		ContactEncrypted: sealed.Value, ContactDEK: sealed.DEK, ContactKeyID: sealed.KeyID,
		TargetPrice: 1000, SourceHash: "s", CreatedAt: time.Now(),
	}))

	mailer := &fakeMailer{}
	report, err := newDispatcher(cfg, notifRepo, mailer, enc).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Pending)
	require.Equal(t, 0, report.Matched)
	require.Empty(t, mailer.sent)
}

func TestDispatchFailureLeavesRequestPending(t *testing.T) {
	cfg := testConfig(time.Now().Add(-30 * 24 * time.Hour))
	notifRepo := &fakeNotifRepo{}
	enc := encryption.NewManager(cfg, nil)

	sealed, err := enc.EncryptContact(context.Background(), "buyer@gmail.com")
	require.NoError(t, err)
	require.NoError(t, notifRepo.Create(context.Background(), &models.NotificationRequest{
		ID: uuid.New(), AuctionID: "optic",
		ContactEncrypted: sealed.Value, ContactDEK: sealed.DEK, ContactKeyID: sealed.KeyID,
		TargetPrice: 500, SourceHash: "s", CreatedAt: time.Now(),
	}))

	mailer := &fakeMailer{err: fmt.Errorf("provider down")}
	dispatcher := newDispatcher(cfg, notifRepo, mailer, enc)

	report, err := dispatcher.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Matched)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 0, report.Delivered)
	require.Len(t, report.Results, 1)
	require.Equal(t, OutcomeDeliveryFailed, report.Results[0].Outcome)
	require.Equal(t, "provider down", report.Results[0].Reason)
	require.Empty(t, report.Results[0].MessageID)

	// Still pending for the next run once the provider recovers.
	mailer.err = nil
	report, err = dispatcher.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Delivered)
}

func TestDispatchIsolatesBadRows(t *testing.T) {
	cfg := testConfig(time.Now().Add(-30 * 24 * time.Hour))
	notifRepo := &fakeNotifRepo{}
	enc := encryption.NewManager(cfg, nil)

	// One row with garbage ciphertext, one healthy.
	require.NoError(t, notifRepo.Create(context.Background(), &models.NotificationRequest{
		ID: uuid.New(), AuctionID: "optic",
		ContactEncrypted: "!!garbage!!", ContactDEK: "!!garbage!!",
		TargetPrice: 500, SourceHash: "a", CreatedAt: time.Now(),
	}))
	sealed, err := enc.EncryptContact(context.Background(), "buyer@gmail.com")
	require.NoError(t, err)
	require.NoError(t, notifRepo.Create(context.Background(), &models.NotificationRequest{
		ID: uuid.New(), AuctionID: "optic",
		ContactEncrypted: sealed.Value, ContactDEK: sealed.DEK, ContactKeyID: sealed.KeyID,
		TargetPrice: 500, SourceHash: "b", CreatedAt: time.Now(),
	}))

	mailer := &fakeMailer{}
	report, err := newDispatcher(cfg, notifRepo, mailer, enc).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Matched)
	require.Equal(t, 1, report.Delivered)
	require.Equal(t, 1, report.Failed)
	require.Len(t, mailer.sent, 1)
	require.Equal(t, "buyer@gmail.com", mailer.sent[0].To)

	outcomes := map[string]int{}
	for _, res := range report.Results {
		outcomes[res.Outcome]++
	}
	require.Equal(t, 1, outcomes[OutcomeDelivered])
	require.Equal(t, 1, outcomes[OutcomeDeliveryFailed])
}

func TestDispatchDistinguishesPersistFailure(t *testing.T) {
	cfg := testConfig(time.Now().Add(-30 * 24 * time.Hour))
	notifRepo := &fakeNotifRepo{}
	enc := encryption.NewManager(cfg, nil)

	sealed, err := enc.EncryptContact(context.Background(), "buyer@gmail.com")
	require.NoError(t, err)
	require.NoError(t, notifRepo.Create(context.Background(), &models.NotificationRequest{
		ID: uuid.New(), AuctionID: "optic",
		ContactEncrypted: sealed.Value, ContactDEK: sealed.DEK, ContactKeyID: sealed.KeyID,
		TargetPrice: 500, SourceHash: "s", CreatedAt: time.Now(),
	}))

	mailer := &fakeMailer{}
	dispatcher := newDispatcher(cfg, notifRepo, mailer, enc)

	// The provider accepts the message but recording the fulfillment fails:
	// that is a persist failure, not a delivery failure, and the message id
	// proves the send happened.
	notifRepo.markErr = fmt.Errorf("write timeout")
	report, err := dispatcher.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.PersistFailed)
	require.Equal(t, 0, report.Failed)
	require.Equal(t, 0, report.Delivered)
	require.Len(t, mailer.sent, 1)
	require.Len(t, report.Results, 1)
	require.Equal(t, OutcomePersistFailed, report.Results[0].Outcome)
	require.Equal(t, "write timeout", report.Results[0].Reason)
	require.NotEmpty(t, report.Results[0].MessageID)

	// The row stays unfulfilled, so the next run re-sends and records it.
	notifRepo.markErr = nil
	report, err = dispatcher.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Delivered)
	require.Len(t, mailer.sent, 2)
}
