package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/ChrisB0-2/apguard/internal/core"
)

// Event types for webhook notifications
type EventType string

const (
	EventPendingDecision   EventType = "pending_decision"
	EventDecisionWithdrawn EventType = "decision_withdrawn"
)

// WebhookPayload is the JSON payload sent to webhook endpoints
type WebhookPayload struct {
	Event       EventType          `json:"event"`
	Timestamp   time.Time          `json:"timestamp"`
	Hostname    string             `json:"hostname,omitempty"`
	Network     core.NetworkName   `json:"network,omitempty"`
	AccessPoint core.AccessPointID `json:"access_point,omitempty"`
	Message     string             `json:"message,omitempty"`
}

// WebhookConfig configures a webhook endpoint
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Events  []EventType       `yaml:"events,omitempty"` // Empty = all events
	Timeout time.Duration     `yaml:"timeout,omitempty"`
	Format  string            `yaml:"format,omitempty"` // "json" (default) or "slack"
}

// Webhook posts pending decisions to an HTTP endpoint. Each network's
// prompt is posted once until it changes access point or is withdrawn, so
// cycles repeating the same Unknown verdicts do not flood the endpoint.
type Webhook struct {
	config   WebhookConfig
	client   *http.Client
	hostname string

	mu   sync.Mutex
	sent map[core.NetworkName]Pending
}

// NewWebhook creates a new webhook prompter
func NewWebhook(cfg WebhookConfig) *Webhook {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	host, _ := os.Hostname()

	return &Webhook{
		config:   cfg,
		client:   &http.Client{Timeout: timeout},
		hostname: host,
		sent:     make(map[core.NetworkName]Pending),
	}
}

func (w *Webhook) ShowPendingDecision(ctx context.Context, name core.NetworkName, ap core.AccessPointID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.sent[name]; ok && p.AccessPoint == ap {
		return nil
	}
	err := w.Notify(ctx, WebhookPayload{
		Event:       EventPendingDecision,
		Timestamp:   time.Now(),
		Network:     name,
		AccessPoint: ap,
		Message:     fmt.Sprintf("Unknown access point %s is broadcasting %q. Trust it?", ap, name),
	})
	if err != nil {
		return err
	}
	w.sent[name] = Pending{Network: name, AccessPoint: ap, Since: time.Now()}
	return nil
}

func (w *Webhook) WithdrawPendingDecision(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	names := make([]core.NetworkName, 0, len(w.sent))
	for name := range w.sent {
		names = append(names, name)
	}
	slices.Sort(names)

	var errs []error
	for _, name := range names {
		p := w.sent[name]
		errs = append(errs, w.Notify(ctx, WebhookPayload{
			Event:       EventDecisionWithdrawn,
			Timestamp:   time.Now(),
			Network:     p.Network,
			AccessPoint: p.AccessPoint,
		}))
	}
	clear(w.sent)
	return errors.Join(errs...)
}

// Notify sends one payload to the webhook endpoint
func (w *Webhook) Notify(ctx context.Context, payload WebhookPayload) error {
	// Check if we should send this event type
	if !w.shouldNotify(payload.Event) {
		return nil
	}
	if payload.Hostname == "" {
		payload.Hostname = w.hostname
	}

	var body []byte
	var err error
	if w.config.Format == "slack" {
		body, err = json.Marshal(SlackPayload(payload))
	} else {
		body, err = json.Marshal(payload)
	}
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "apguard/1.0")

	// Add custom headers
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

func (w *Webhook) shouldNotify(event EventType) bool {
	// Empty events list means notify for all events
	if len(w.config.Events) == 0 {
		return true
	}

	for _, e := range w.config.Events {
		if e == event {
			return true
		}
	}
	return false
}

// SlackPayload formats a webhook payload for a Slack incoming webhook
func SlackPayload(payload WebhookPayload) map[string]interface{} {
	var color, title string
	switch payload.Event {
	case EventPendingDecision:
		color = "warning"
		title = "apguard: trust decision needed"
	case EventDecisionWithdrawn:
		color = "#808080"
		title = "apguard: decision no longer needed"
	default:
		color = "#808080"
		title = fmt.Sprintf("apguard: %s", payload.Event)
	}

	fields := []map[string]interface{}{
		{"title": "Network", "value": string(payload.Network), "short": true},
		{"title": "Access point", "value": string(payload.AccessPoint), "short": true},
	}
	if payload.Hostname != "" {
		fields = append(fields, map[string]interface{}{"title": "Host", "value": payload.Hostname, "short": true})
	}

	return map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":  color,
				"title":  title,
				"text":   payload.Message,
				"fields": fields,
				"footer": "apguard",
				"ts":     payload.Timestamp.Unix(),
			},
		},
	}
}

var _ core.Prompter = (*Webhook)(nil)
