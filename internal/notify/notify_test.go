package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func testEvent(outcome Outcome, errMsg string) Event {
	started := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	return Event{
		RunID:      "0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0",
		Database:   "appdata",
		Outcome:    outcome,
		Error:      errMsg,
		StartedAt:  started,
		FinishedAt: started.Add(42 * time.Second),
	}
}

func TestWebhookSender_Send(t *testing.T) {
	var (
		mu      sync.Mutex
		payload WebhookPayload
		headers http.Header
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		json.Unmarshal(body, &payload)
		headers = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender, err := NewWebhookSender(WebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer token"},
	}, nil)
	if err != nil {
		t.Fatalf("NewWebhookSender() error = %v", err)
	}

	event := testEvent(OutcomeFailed, "stream users: cursor lost")
	if err := sender.Send(context.Background(), event); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if payload.Event != "sync_failed" {
		t.Errorf("event = %q, want sync_failed", payload.Event)
	}
	if payload.RunID != event.RunID {
		t.Errorf("run_id = %q, want %q", payload.RunID, event.RunID)
	}
	if payload.Database != "appdata" {
		t.Errorf("database = %q, want appdata", payload.Database)
	}
	if payload.Error != "stream users: cursor lost" {
		t.Errorf("error = %q, want cursor lost message", payload.Error)
	}
	if got := headers.Get("Authorization"); got != "Bearer token" {
		t.Errorf("authorization header = %q, want Bearer token", got)
	}
}

func TestWebhookSender_SendNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such endpoint", http.StatusNotFound)
	}))
	defer srv.Close()

	sender, err := NewWebhookSender(WebhookConfig{URL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("NewWebhookSender() error = %v", err)
	}

	if err := sender.Send(context.Background(), testEvent(OutcomeSucceeded, "")); err == nil {
		t.Error("expected error for non-success status")
	}
}

func TestNewWebhookSender_RequiresURL(t *testing.T) {
	if _, err := NewWebhookSender(WebhookConfig{}, nil); err == nil {
		t.Error("expected error for missing URL")
	}
}

func TestSlackSender_Send(t *testing.T) {
	var (
		mu  sync.Mutex
		msg slackMessage
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		json.Unmarshal(body, &msg)
		mu.Unlock()
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	sender, err := NewSlackSender(SlackConfig{
		WebhookURL: srv.URL,
		Channel:    "#data-infra",
	}, nil)
	if err != nil {
		t.Fatalf("NewSlackSender() error = %v", err)
	}

	if err := sender.Send(context.Background(), testEvent(OutcomeFailed, "stream users: cursor lost")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if msg.Channel != "#data-infra" {
		t.Errorf("channel = %q, want #data-infra", msg.Channel)
	}
	if msg.Username != "Hermes" {
		t.Errorf("username = %q, want default Hermes", msg.Username)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(msg.Attachments))
	}
	if msg.Attachments[0].Color != "#dc3545" {
		t.Errorf("color = %q, want failure red", msg.Attachments[0].Color)
	}
	if msg.Attachments[0].Text != "stream users: cursor lost" {
		t.Errorf("text = %q, want error text", msg.Attachments[0].Text)
	}
}

func TestSlackSender_SendUnexpectedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("invalid_payload"))
	}))
	defer srv.Close()

	sender, err := NewSlackSender(SlackConfig{WebhookURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("NewSlackSender() error = %v", err)
	}

	if err := sender.Send(context.Background(), testEvent(OutcomeSucceeded, "")); err == nil {
		t.Error("expected error for unexpected slack response")
	}
}

type recordingSender struct {
	name   string
	err    error
	mu     sync.Mutex
	events []Event
}

func (s *recordingSender) Type() string { return s.name }

func (s *recordingSender) Send(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func TestManager_Notify(t *testing.T) {
	failing := &recordingSender{name: "slack", err: errors.New("webhook gone")}
	working := &recordingSender{name: "webhook"}

	mgr := NewManager([]Sender{failing, working}, time.Second, nil)
	mgr.Notify(context.Background(), testEvent(OutcomeSucceeded, ""))

	if len(failing.events) != 1 {
		t.Errorf("failing sender received %d events, want 1", len(failing.events))
	}
	if len(working.events) != 1 {
		t.Errorf("working sender received %d events, want 1", len(working.events))
	}
}
