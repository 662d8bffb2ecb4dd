package relay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/schoolcms/internal/db"
)

// WebhookConfig points the relay at an HTTP endpoint, typically the public
// site's revalidation hook.
type WebhookConfig struct {
	URL     string
	Secret  string // signs the body with HMAC-SHA256 when set
	Timeout time.Duration
}

// WebhookSender POSTs every notification as JSON.
type WebhookSender struct {
	client *http.Client
	cfg    WebhookConfig
	logger *zap.Logger
}

func NewWebhookSender(cfg WebhookConfig, logger *zap.Logger) (*WebhookSender, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebhookSender{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (s *WebhookSender) Name() string { return "webhook" }

func (s *WebhookSender) Accepts(string) bool { return true }

func (s *WebhookSender) Send(ctx context.Context, notif *db.Notification) error {
	body, err := json.Marshal(NewMessage(notif))
	if err != nil {
		return fmt.Errorf("failed to marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "schoolcms-lifecycle/1.0")
	req.Header.Set("X-SchoolCMS-Notification-ID", notif.ID.String())
	req.Header.Set("X-SchoolCMS-Notification-Type", notif.Type)
	if s.cfg.Secret != "" {
		req.Header.Set("X-SchoolCMS-Signature", "sha256="+Sign(body, s.cfg.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d, body: %s", resp.StatusCode, string(preview))
	}

	s.logger.Debug("webhook delivered",
		zap.String("notification_id", notif.ID.String()),
		zap.Int("status_code", resp.StatusCode),
	)
	return nil
}

// Sign returns the hex HMAC-SHA256 of body. Receivers recompute it to verify
// the X-SchoolCMS-Signature header.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
