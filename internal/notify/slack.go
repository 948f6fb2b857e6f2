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

// SlackSender delivers run events to a Slack incoming webhook.
type SlackSender struct {
	webhookURL string
	channel    string
	username   string
	httpClient *http.Client
	logger     *slog.Logger
}

// SlackConfig holds configuration for a Slack sender.
type SlackConfig struct {
	WebhookURL string
	Channel    string
	Username   string
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Fallback  string       `json:"fallback"`
	Color     string       `json:"color"`
	Title     string       `json:"title"`
	Text      string       `json:"text,omitempty"`
	Fields    []slackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackSender creates a Slack notification sender.
func NewSlackSender(cfg SlackConfig, logger *slog.Logger) (*SlackSender, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("slack sender requires a webhook URL")
	}
	if cfg.Username == "" {
		cfg.Username = "Hermes"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &SlackSender{
		webhookURL: cfg.WebhookURL,
		channel:    cfg.Channel,
		username:   cfg.Username,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With("component", "slack-sender"),
	}, nil
}

// Type returns the channel type.
func (s *SlackSender) Type() string {
	return "slack"
}

// Send delivers the event to the Slack webhook.
func (s *SlackSender) Send(ctx context.Context, event Event) error {
	msg := s.buildMessage(event)

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned non-OK status %d: %s", resp.StatusCode, string(body))
	}

	// Slack returns "ok" as the response body on success
	if string(body) != "ok" {
		return fmt.Errorf("slack returned unexpected response: %s", string(body))
	}

	return nil
}

// SetHTTPClient allows setting a custom HTTP client (useful for testing).
func (s *SlackSender) SetHTTPClient(client *http.Client) {
	s.httpClient = client
}

func (s *SlackSender) buildMessage(event Event) slackMessage {
	color := "#2eb886" // Green
	title := fmt.Sprintf("Sync run succeeded: %s", event.Database)
	if event.Outcome == OutcomeFailed {
		color = "#dc3545" // Red
		title = fmt.Sprintf("Sync run failed: %s", event.Database)
	}

	fields := []slackField{
		{Title: "Run ID", Value: event.RunID, Short: true},
		{Title: "Duration", Value: event.FinishedAt.Sub(event.StartedAt).Round(time.Millisecond).String(), Short: true},
	}

	attachment := slackAttachment{
		Fallback:  title,
		Color:     color,
		Title:     title,
		Fields:    fields,
		Footer:    "Hermes",
		Timestamp: event.FinishedAt.Unix(),
	}
	if event.Error != "" {
		attachment.Text = event.Error
	}

	return slackMessage{
		Channel:     s.channel,
		Username:    s.username,
		Attachments: []slackAttachment{attachment},
	}
}

// Ensure SlackSender implements Sender interface.
var _ Sender = (*SlackSender)(nil)
