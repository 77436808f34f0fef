package client

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/Shpigford/dutch-auction/internal/config"
	"github.com/Shpigford/dutch-auction/internal/util"
)

// EmailMessage is a single outbound transactional email.
type EmailMessage struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HTMLBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody,omitempty"`
}

type emailResponse struct {
	MessageID string `json:"MessageID"`
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

// EmailClient sends transactional mail through the delivery provider's REST
// API. Send only reports success once the provider returns a message ID, so
// callers can gate their own bookkeeping on confirmed handoff.
type EmailClient struct {
	http   *resty.Client
	config *config.EmailConfig
}

func NewEmailClient(cfg *config.Config) *EmailClient {
	httpClient := resty.New().
		SetBaseURL(cfg.Email.APIURL).
		SetTimeout(10 * time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("X-Postmark-Server-Token", cfg.Email.ServerToken)

	util.Info("email client initialized", zap.String("api_url", cfg.Email.APIURL))

	return &EmailClient{
		http:   httpClient,
		config: &cfg.Email,
	}
}

// Send delivers one message and returns the provider message ID.
func (e *EmailClient) Send(ctx context.Context, msg EmailMessage) (string, error) {
	if msg.From == "" {
		msg.From = e.config.FromAddress
	}

	var result emailResponse
	resp, err := e.http.R().
		SetContext(ctx).
		SetBody(msg).
		SetResult(&result).
		SetError(&result).
		Post("/email")
	if err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	if resp.IsError() || result.ErrorCode != 0 {
		return "", fmt.Errorf("email provider rejected message: %s", result.Message)
	}
	if result.MessageID == "" {
		return "", fmt.Errorf("email provider returned no message id")
	}

	return result.MessageID, nil
}
