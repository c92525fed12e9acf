package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	appLog "campusevents/internal/log"
	"campusevents/internal/model"
)

// Deliverer presents a due reminder to the user.
type Deliverer interface {
	Deliver(ctx context.Context, r model.Reminder) error
}

// LogDeliverer writes reminders to the application log.
type LogDeliverer struct{}

func (LogDeliverer) Deliver(_ context.Context, r model.Reminder) error {
	appLog.Info("notification", "id", r.ID, "event", r.EventID, "title", r.Title, "body", r.Body)
	return nil
}

// WebhookDeliverer POSTs each reminder as JSON to URL.
type WebhookDeliverer struct {
	URL    string
	Client *http.Client
}

func NewWebhookDeliverer(url string) *WebhookDeliverer {
	return &WebhookDeliverer{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookDeliverer) Deliver(ctx context.Context, r model.Reminder) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "campusevents/1.0")

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Multi delivers to every deliverer and joins their errors.
type Multi []Deliverer

func (m Multi) Deliver(ctx context.Context, r model.Reminder) error {
	var errs []error
	for _, d := range m {
		if err := d.Deliver(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
