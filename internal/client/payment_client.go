package client

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/Shpigford/dutch-auction/internal/config"
	"github.com/Shpigford/dutch-auction/internal/util"
)

// CheckoutSession is the payment provider's hosted checkout object. Amounts
// are in cents; PaymentStatus is "paid" once the buyer completed payment.
type CheckoutSession struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentStatus string `json:"payment_status"`
	AmountTotal   int64  `json:"amount_total"`
}

// WebhookEvent is the envelope the provider POSTs to our webhook endpoint.
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object CheckoutSession `json:"object"`
	} `json:"data"`
}

const webhookTolerance = 5 * time.Minute

// PaymentClient talks to the card processor's REST API and verifies the
// signatures on its webhook callbacks.
type PaymentClient struct {
	http   *resty.Client
	config *config.PaymentConfig
}

func NewPaymentClient(cfg *config.Config) *PaymentClient {
	httpClient := resty.New().
		SetBaseURL(cfg.Payment.APIURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetBasicAuth(cfg.Payment.SecretKey, "")

	util.Info("payment client initialized", zap.String("api_url", cfg.Payment.APIURL))

	return &PaymentClient{
		http:   httpClient,
		config: &cfg.Payment,
	}
}

// CreateCheckoutSession opens a hosted checkout for the item at the given
// price in cents and returns the session with its redirect URL.
func (p *PaymentClient) CreateCheckoutSession(ctx context.Context, priceCents int64) (*CheckoutSession, error) {
	var session CheckoutSession

	resp, err := p.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"mode":                                  "payment",
			"success_url":                           p.config.SuccessURL,
			"cancel_url":                            p.config.CancelURL,
			"line_items[0][quantity]":               "1",
			"line_items[0][price_data][currency]":   "usd",
			"line_items[0][price_data][unit_amount]": strconv.FormatInt(priceCents, 10),
			"line_items[0][price_data][product_data][name]":        p.config.ItemName,
			"line_items[0][price_data][product_data][description]": p.config.ItemDesc,
		}).
		SetResult(&session).
		Post("/v1/checkout/sessions")
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("checkout session request rejected: %s", resp.Status())
	}

	return &session, nil
}

// RetrieveCheckoutSession fetches a session by ID so its payment status can
// be confirmed server-side rather than trusted from the client redirect.
func (p *PaymentClient) RetrieveCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	var session CheckoutSession

	resp, err := p.http.R().
		SetContext(ctx).
		SetResult(&session).
		Get("/v1/checkout/sessions/" + sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("checkout session lookup rejected: %s", resp.Status())
	}

	return &session, nil
}

// ConstructWebhookEvent authenticates a raw webhook payload against its
// signature header and decodes the event. The header carries a unix
// timestamp and an HMAC-SHA256 of "<timestamp>.<body>" keyed with the
// webhook secret; stale timestamps are rejected to stop replay.
func (p *PaymentClient) ConstructWebhookEvent(payload []byte, sigHeader string) (*WebhookEvent, error) {
	timestamp, signature, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return nil, err
	}

	if d := time.Since(time.Unix(timestamp, 0)); d > webhookTolerance || d < -webhookTolerance {
		return nil, fmt.Errorf("webhook timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(p.config.WebhookSecret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return nil, fmt.Errorf("malformed webhook signature: %w", err)
	}
	if !hmac.Equal(expected, provided) {
		return nil, fmt.Errorf("webhook signature mismatch")
	}

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to decode webhook event: %w", err)
	}
	return &event, nil
}

// parseSignatureHeader splits "t=<unix>,v1=<hex>" into its parts.
func parseSignatureHeader(header string) (int64, string, error) {
	var timestamp int64
	var signature string

	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("malformed webhook timestamp: %w", err)
			}
			timestamp = ts
		case "v1":
			signature = kv[1]
		}
	}

	if timestamp == 0 || signature == "" {
		return 0, "", fmt.Errorf("missing webhook signature fields")
	}
	return timestamp, signature, nil
}
