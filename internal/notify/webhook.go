package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// WebhookSender delivers run events to a generic HTTP endpoint.
type WebhookSender struct {
	url        string
	method     string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger
}

// WebhookConfig holds configuration for a webhook sender.
type WebhookConfig struct {
	URL     string
	Method  string
	Headers map[string]string
}

// WebhookPayload represents the JSON payload sent to webhooks.
type WebhookPayload struct {
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	RunID     string    `json:"run_id"`
	Database  string    `json:"database"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// NewWebhookSender creates a webhook notification sender.
func NewWebhookSender(cfg WebhookConfig, logger *slog.Logger) (*WebhookSender, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook sender requires a URL")
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookSender{
		url:     cfg.URL,
		method:  cfg.Method,
		headers: cfg.Headers,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With("component", "webhook-sender"),
	}, nil
}

// Type returns the channel type.
func (s *WebhookSender) Type() string {
	return "webhook"
}

// Send delivers the event to the webhook endpoint.
func (s *WebhookSender) Send(ctx context.Context, event Event) error {
	payload := WebhookPayload{
		Version:   "1.0",
		Timestamp: time.Now(),
		Event:     string(event.Outcome),
		RunID:     event.RunID,
		Database:  event.Database,
		Error:     event.Error,
		StartedAt: event.StartedAt,
		EndedAt:   event.FinishedAt,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, s.method, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Hermes/1.0")

	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	// Accept 2xx status codes
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-success status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// SetHTTPClient allows setting a custom HTTP client (useful for testing).
func (s *WebhookSender) SetHTTPClient(client *http.Client) {
	s.httpClient = client
}

// Ensure WebhookSender implements Sender interface.
var _ Sender = (*WebhookSender)(nil)
