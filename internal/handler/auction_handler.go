package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Shpigford/dutch-auction/internal/analytics"
	"github.com/Shpigford/dutch-auction/internal/config"
	"github.com/Shpigford/dutch-auction/internal/pricing"
	"github.com/Shpigford/dutch-auction/internal/ratelimit"
	"github.com/Shpigford/dutch-auction/internal/service"
	"github.com/Shpigford/dutch-auction/internal/util"
)

// maxWebhookBody bounds the raw payload read for signature verification.
const maxWebhookBody = 1 << 20

// EngagementTracker is the slice of the analytics tracker the handler uses.
type EngagementTracker interface {
	TrackVisit(ctx context.Context, sourceHash, page string) error
	TrackHover(ctx context.Context, sourceHash, element string) error
	GetStats(ctx context.Context) analytics.Stats
}

// AuctionHandler exposes the auction over HTTP. Hover tracking throttles
// through its own limiter with a much shorter window than registration.
type AuctionHandler struct {
	sales         *service.SaleService
	notifications *service.NotificationService
	dispatcher    *service.DispatchService
	pricingEngine *pricing.Engine
	tracker       EngagementTracker
	hoverLimiter  ratelimit.Limiter
	config        *config.Config
	logger        *zap.Logger
}

func NewAuctionHandler(
	sales *service.SaleService,
	notifications *service.NotificationService,
	dispatcher *service.DispatchService,
	pricingEngine *pricing.Engine,
	tracker EngagementTracker,
	hoverLimiter ratelimit.Limiter,
	cfg *config.Config,
	logger *zap.Logger,
) *AuctionHandler {
	return &AuctionHandler{
		sales:         sales,
		notifications: notifications,
		dispatcher:    dispatcher,
		pricingEngine: pricingEngine,
		tracker:       tracker,
		hoverLimiter:  hoverLimiter,
		config:        cfg,
		logger:        logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers all auction routes
func (h *AuctionHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auction", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Get("/price", h.GetPrice)
		r.Post("/checkout", h.CreateCheckout)
		r.Post("/verify-payment", h.VerifyPayment)
	})

	router.Route("/notifications", func(r chi.Router) {
		r.Post("/", h.RegisterNotification)
		r.Get("/average-target", h.GetAverageTarget)
		r.Post("/dispatch", h.Dispatch)
	})

	router.Post("/webhooks/payment", h.PaymentWebhook)

	router.Route("/track", func(r chi.Router) {
		r.Post("/visit", h.TrackVisit)
		r.Post("/hover", h.TrackHover)
	})
	router.Get("/stats", h.GetStats)
}

// GetStatus returns the sale state joined with the current price.
func (h *AuctionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.sales.Status(r.Context())
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to read auction status")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(status, ""))
}

// GetPrice returns just the deterministic price, cheap enough to poll.
func (h *AuctionHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"price_cents":   h.pricingEngine.PriceAt(now),
		"price_dollars": h.pricingEngine.DollarsAt(now),
		"as_of":         now.UTC(),
	}, ""))
}

// CreateCheckout opens a hosted checkout session at the current price.
func (h *AuctionHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	session, err := h.sales.CreateCheckout(r.Context())
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to create checkout session")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
		"session_id": session.ID,
		"url":        session.URL,
	}, "Checkout session created"))
}

// VerifyPayment confirms a checkout session after redirect and finalizes
// the sale when paid.
func (h *AuctionHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	state, err := h.sales.VerifyPayment(r.Context(), req.SessionID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Payment verification failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(state, "Payment verified"))
}

// PaymentWebhook handles payment provider callbacks. The body is read raw
// because the signature covers the exact bytes on the wire.
func (h *AuctionHandler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Failed to read webhook payload")
		return
	}

	err = h.sales.HandleWebhook(r.Context(), payload, r.Header.Get("X-Webhook-Signature"))
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Webhook rejected")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Webhook processed"))
}

// RegisterNotification signs a client up for a price-drop alert.
func (h *AuctionHandler) RegisterNotification(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.notifications.Register(r.Context(), req, util.ClientIP(r)); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to register notification")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Notification registered"))
}

// GetAverageTarget reports the average registered target price in dollars.
func (h *AuctionHandler) GetAverageTarget(w http.ResponseWriter, r *http.Request) {
	avg, err := h.notifications.AverageTargetPrice(r.Context())
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to read average target")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]int64{
		"average_target_price": avg,
	}, ""))
}

// Dispatch runs a notification delivery pass. Callers authenticate with
// the shared dispatch secret; this endpoint is hit by the scheduler, not
// browsers.
func (h *AuctionHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeDispatch(r) {
		h.respondWithError(w, http.StatusUnauthorized, service.ErrUnauthorized, "Invalid dispatch credentials")
		return
	}

	report, err := h.dispatcher.Run(r.Context())
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Dispatch run failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(report, "Dispatch complete"))
}

func (h *AuctionHandler) authorizeDispatch(r *http.Request) bool {
	secret := h.config.Dispatch.Secret
	if secret == "" {
		return false
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

// TrackVisit records an anonymous page visit.
func (h *AuctionHandler) TrackVisit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Page string `json:"page"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Page == "" {
		req.Page = "/"
	}

	sourceKey := util.SourceKey(h.config.RateLimit.SourceKeySecret, util.ClientIP(r))
	if err := h.tracker.TrackVisit(r.Context(), sourceKey, util.SanitizeInput(req.Page)); err != nil {
		h.logger.Warn("failed to track visit", zap.Error(err))
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, ""))
}

// TrackHover records a buy-button hover, rate limited per source so a
// script cannot flood the analytics tables.
func (h *AuctionHandler) TrackHover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Element string `json:"element"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Element == "" {
		req.Element = "buy-button"
	}

	sourceKey := util.SourceKey(h.config.RateLimit.SourceKeySecret, util.ClientIP(r))
	allowed, err := h.hoverLimiter.Check(r.Context(), "hover:"+sourceKey, h.config.RateLimit.HoverLimit)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Rate limit check failed")
		return
	}
	if !allowed {
		h.respondWithError(w, http.StatusTooManyRequests, service.ErrRateLimited, "Too many events")
		return
	}

	if err := h.tracker.TrackHover(r.Context(), sourceKey, util.SanitizeInput(req.Element)); err != nil {
		h.logger.Warn("failed to track hover", zap.Error(err))
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, ""))
}

// GetStats serves the engagement snapshot for the storefront.
func (h *AuctionHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := h.tracker.GetStats(r.Context())
	h.respondWithJSON(w, http.StatusOK, successResponse(stats, ""))
}

func (h *AuctionHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *AuctionHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *AuctionHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrAuctionEnded),
		errors.Is(err, service.ErrPriceTooHigh),
		errors.Is(err, service.ErrQuotaExceeded),
		errors.Is(err, service.ErrPaymentNotCompleted):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
