package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Shpigford/dutch-auction/internal/analytics"
	"github.com/Shpigford/dutch-auction/internal/bucketing"
	"github.com/Shpigford/dutch-auction/internal/client"
	"github.com/Shpigford/dutch-auction/internal/config"
	"github.com/Shpigford/dutch-auction/internal/encryption"
	"github.com/Shpigford/dutch-auction/internal/events"
	"github.com/Shpigford/dutch-auction/internal/models"
	"github.com/Shpigford/dutch-auction/internal/pricing"
	"github.com/Shpigford/dutch-auction/internal/ratelimit"
	"github.com/Shpigford/dutch-auction/internal/service"
)

// ---- storage fakes ----

type stubSaleRepo struct {
	mu    sync.Mutex
	sold  bool
	price int64
}

func (r *stubSaleRepo) EnsureSaleState(context.Context) error { return nil }

func (r *stubSaleRepo) GetSaleState(context.Context) (*models.SaleState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := &models.SaleState{ID: 1, Sold: r.sold}
	if r.sold {
		now := time.Now()
		price := r.price
		state.SoldAt = &now
		state.SalePrice = &price
	}
	return state, nil
}

func (r *stubSaleRepo) FinalizeSale(_ context.Context, _ time.Time, salePrice int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sold {
		return false, nil
	}
	r.sold = true
	r.price = salePrice
	return true, nil
}

type stubNotifRepo struct {
	mu   sync.Mutex
	reqs []*models.NotificationRequest
}

func (r *stubNotifRepo) Create(_ context.Context, n *models.NotificationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *n
	r.reqs = append(r.reqs, &cp)
	return nil
}

func (r *stubNotifRepo) ListUnfulfilled(_ context.Context, auctionID string) ([]*models.NotificationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.NotificationRequest
	for _, n := range r.reqs {
		if !n.Fulfilled {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *stubNotifRepo) CountBySource(_ context.Context, _, sourceHash string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.reqs {
		if n.SourceHash == sourceHash {
			count++
		}
	}
	return count, nil
}

func (r *stubNotifRepo) MarkFulfilled(_ context.Context, _ string, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.reqs {
		if n.ID == id {
			if n.Fulfilled {
				return false, nil
			}
			n.Fulfilled = true
			return true, nil
		}
	}
	return false, nil
}

func (r *stubNotifRepo) AverageTargetPrice(context.Context, string) (int64, error) {
	return 1500, nil
}

type stubPayments struct {
	session  *client.CheckoutSession
	event    *client.WebhookEvent
	eventErr error
}

func (p *stubPayments) CreateCheckoutSession(context.Context, int64) (*client.CheckoutSession, error) {
	return p.session, nil
}

func (p *stubPayments) RetrieveCheckoutSession(context.Context, string) (*client.CheckoutSession, error) {
	return p.session, nil
}

func (p *stubPayments) ConstructWebhookEvent([]byte, string) (*client.WebhookEvent, error) {
	return p.event, p.eventErr
}

type stubDedupe struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *stubDedupe) MarkEventSeen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

type stubMailer struct{}

func (stubMailer) Send(context.Context, client.EmailMessage) (string, error) {
	return "msg-1", nil
}

type stubTracker struct {
	mu     sync.Mutex
	visits int
	hovers int
}

func (t *stubTracker) TrackVisit(context.Context, string, string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visits++
	return nil
}

func (t *stubTracker) TrackHover(context.Context, string, string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hovers++
	return nil
}

func (t *stubTracker) GetStats(context.Context) analytics.Stats {
	return analytics.Stats{RecentVisitors: 7, UniqueHovers: 3, TotalHovers: 12}
}

// ---- harness ----

type testEnv struct {
	router   http.Handler
	cfg      *config.Config
	saleRepo *stubSaleRepo
	tracker  *stubTracker
}

func newTestEnv(t *testing.T, saleRepo *stubSaleRepo, payments *stubPayments) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Environment: "development",
		Auction: config.AuctionConfig{
			ItemID:        "optic",
			StartTime:     time.Now().Add(-time.Hour),
			Duration:      7 * 24 * time.Hour,
			StartingPrice: 2500000,
			FloorPrice:    100,
		},
		RateLimit: config.RateLimitConfig{
			Interval:               time.Minute,
			UniqueTokenPerInterval: 500,
			RegisterLimit:          5,
			HoverInterval:          75 * time.Millisecond,
			HoverLimit:             3,
			SourceKeySecret:        "test-secret",
		},
		Dispatch: config.DispatchConfig{Secret: "cron-secret", Concurrency: 2},
		Email:    config.EmailConfig{FromAddress: "hello@x.test", SiteURL: "https://x.test"},
	}

	notifRepo := &stubNotifRepo{}
	engine := pricing.NewEngine(cfg.Auction)
	enc := encryption.NewManager(cfg, nil)
	buckets := bucketing.NewManager()
	limiter := ratelimit.NewMemoryLimiter(cfg.RateLimit.Interval, cfg.RateLimit.UniqueTokenPerInterval, buckets)
	hoverLimiter := ratelimit.NewMemoryLimiter(cfg.RateLimit.HoverInterval, cfg.RateLimit.UniqueTokenPerInterval, buckets)
	publisher := events.NoopPublisher{}

	factory := service.NewServiceFactory(
		saleRepo, notifRepo, engine, payments, stubMailer{}, &stubDedupe{},
		enc, limiter, publisher, cfg)

	tracker := &stubTracker{}
	h := NewAuctionHandler(
		factory.SaleService(),
		factory.NotificationService(),
		factory.DispatchService(),
		engine, tracker, hoverLimiter, cfg, zap.NewNop())

	return &testEnv{
		router:   NewRouter(h, cfg, zap.NewNop()),
		cfg:      cfg,
		saleRepo: saleRepo,
		tracker:  tracker,
	}
}

func (e *testEnv) do(method, path string, body interface{}, header map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.9:51234"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// ---- tests ----

func TestStatusAndPriceEndpoints(t *testing.T) {
	env := newTestEnv(t, &stubSaleRepo{}, &stubPayments{})

	rec := env.do(http.MethodGet, "/api/v1/auction/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Sold              bool  `json:"sold"`
			CurrentPriceCents int64 `json:"current_price_cents"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.False(t, resp.Data.Sold)
	require.Greater(t, resp.Data.CurrentPriceCents, int64(100))

	rec = env.do(http.MethodGet, "/api/v1/auction/price", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterNotificationStatusCodes(t *testing.T) {
	env := newTestEnv(t, &stubSaleRepo{}, &stubPayments{})

	rec := env.do(http.MethodPost, "/api/v1/notifications/",
		map[string]interface{}{"email": "buyer@gmail.com", "targetPrice": 1200}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/notifications/",
		map[string]interface{}{"email": "not-an-email", "targetPrice": 1200}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/notifications/",
		map[string]interface{}{"email": "buyer@gmail.com", "targetPrice": 99999}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterNotificationRateLimit(t *testing.T) {
	env := newTestEnv(t, &stubSaleRepo{}, &stubPayments{})

	// The register limit is 5 per interval for one source.
	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		last = env.do(http.MethodPost, "/api/v1/notifications/",
			map[string]interface{}{"email": fmt.Sprintf("b%d@gmail.com", i), "targetPrice": 1200}, nil)
	}
	require.Equal(t, http.StatusTooManyRequests, last.Code)
}

func TestRegisterNotificationAfterSale(t *testing.T) {
	env := newTestEnv(t, &stubSaleRepo{sold: true, price: 2000000}, &stubPayments{})

	rec := env.do(http.MethodPost, "/api/v1/notifications/",
		map[string]interface{}{"email": "buyer@gmail.com", "targetPrice": 1200}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyPaymentEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubSaleRepo{}, &stubPayments{
		session: &client.CheckoutSession{ID: "cs_1", PaymentStatus: "paid", AmountTotal: 2400000},
	})

	rec := env.do(http.MethodPost, "/api/v1/auction/verify-payment",
		map[string]string{"sessionId": "cs_1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.saleRepo.sold)

	rec = env.do(http.MethodPost, "/api/v1/auction/verify-payment",
		map[string]string{"sessionId": ""}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookEndpointStatusCodes(t *testing.T) {
	event := &client.WebhookEvent{ID: "evt_1", Type: "checkout.session.completed"}
	event.Data.Object = client.CheckoutSession{ID: "cs_1", PaymentStatus: "paid", AmountTotal: 2300000}
	env := newTestEnv(t, &stubSaleRepo{}, &stubPayments{event: event})

	rec := env.do(http.MethodPost, "/api/v1/webhooks/payment",
		map[string]string{}, map[string]string{"X-Webhook-Signature": "t=1,v1=aa"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.saleRepo.sold)

	// Replay of the same event is still a 200.
	rec = env.do(http.MethodPost, "/api/v1/webhooks/payment",
		map[string]string{}, map[string]string{"X-Webhook-Signature": "t=1,v1=aa"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t, &stubSaleRepo{}, &stubPayments{eventErr: fmt.Errorf("signature mismatch")})

	rec := env.do(http.MethodPost, "/api/v1/webhooks/payment",
		map[string]string{}, map[string]string{"X-Webhook-Signature": "t=1,v1=bad"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, env.saleRepo.sold)
}

func TestDispatchRequiresSecret(t *testing.T) {
	env := newTestEnv(t, &stubSaleRepo{}, &stubPayments{})

	rec := env.do(http.MethodPost, "/api/v1/notifications/dispatch", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/notifications/dispatch", nil,
		map[string]string{"Authorization": "Bearer wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/notifications/dispatch", nil,
		map[string]string{"Authorization": "Bearer cron-secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data service.DispatchReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.Data.Pending)
}

func TestTrackAndStatsEndpoints(t *testing.T) {
	env := newTestEnv(t, &stubSaleRepo{}, &stubPayments{})

	rec := env.do(http.MethodPost, "/api/v1/track/visit", map[string]string{"page": "/"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, env.tracker.visits)

	// Hover limit is 3 per interval for one source.
	var last *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		last = env.do(http.MethodPost, "/api/v1/track/hover", map[string]string{"element": "buy"}, nil)
	}
	require.Equal(t, http.StatusTooManyRequests, last.Code)
	require.Equal(t, 3, env.tracker.hovers)

	rec = env.do(http.MethodGet, "/api/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data analytics.Stats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, int64(7), resp.Data.RecentVisitors)
}

func TestHoverWindowIsIndependentAndShort(t *testing.T) {
	env := newTestEnv(t, &stubSaleRepo{}, &stubPayments{})

	for i := 0; i < env.cfg.RateLimit.HoverLimit; i++ {
		rec := env.do(http.MethodPost, "/api/v1/track/hover", map[string]string{"element": "buy"}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := env.do(http.MethodPost, "/api/v1/track/hover", map[string]string{"element": "buy"}, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A hover flood must not eat into the registration budget; that path
	// throttles on its own minute-long window.
	rec = env.do(http.MethodPost, "/api/v1/notifications/",
		map[string]interface{}{"email": "hoverer@gmail.com", "targetPrice": 1200}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Once the hover window elapses, hovers flow again.
	time.Sleep(env.cfg.RateLimit.HoverInterval + 25*time.Millisecond)
	rec = env.do(http.MethodPost, "/api/v1/track/hover", map[string]string{"element": "buy"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
