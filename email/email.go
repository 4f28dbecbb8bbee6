// Package email sends transactional mail through the SendGrid v3 API.
// Sends are fire-and-forget for callers: failures are surfaced as errors
// to be logged, never to abort the work that scheduled them.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Sender interface {
	Send(ctx context.Context, to string, subject string, templateID string, data map[string]any) error
}

type Mailer struct {
	apiKey  string
	from    string
	baseURL string
	client  *http.Client
}

func New(apiKey, from, baseURL string) *Mailer {
	return &Mailer{
		apiKey:  apiKey,
		from:    from,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type address struct {
	Email string `json:"email"`
}

type personalization struct {
	To           []address      `json:"to"`
	TemplateData map[string]any `json:"dynamic_template_data,omitempty"`
}

type mailRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	Subject          string            `json:"subject,omitempty"`
	TemplateID       string            `json:"template_id"`
}

func (m *Mailer) Send(ctx context.Context, to string, subject string, templateID string, data map[string]any) error {
	body := mailRequest{
		Personalizations: []personalization{{
			To:           []address{{Email: to}},
			TemplateData: data,
		}},
		From:       address{Email: m.from},
		Subject:    subject,
		TemplateID: templateID,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return fmt.Errorf("encoding mail request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v3/mail/send", &buf)
	if err != nil {
		return fmt.Errorf("building mail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending mail to [%s]: %w", to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sending mail to [%s]: status %d: %s", to, resp.StatusCode, raw)
	}

	return nil
}
