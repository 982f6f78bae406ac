// Package resend sends invitation email through the Resend HTTP API.
package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/okredo/go-recurly/pkg/gorecurly"
)

const apiURL = "https://api.resend.com/emails"

var (
	ErrNotConfigured = errors.New("resend: API key not configured")
	ErrSendFailed    = errors.New("resend: send failed")
)

// Mailer implements gorecurly.Mailer on the Resend API.
type Mailer struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// Option customizes the mailer.
type Option func(*Mailer)

// WithHTTPClient overrides the transport, for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Mailer) { m.httpClient = c }
}

// WithEndpoint overrides the API URL, for tests.
func WithEndpoint(url string) Option {
	return func(m *Mailer) { m.endpoint = url }
}

// New creates a mailer with the given API key.
func New(apiKey string, opts ...Option) *Mailer {
	m := &Mailer{
		apiKey:     apiKey,
		endpoint:   apiURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type sendRequest struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Send delivers one message.
func (m *Mailer) Send(ctx context.Context, msg *gorecurly.Email) error {
	if m.apiKey == "" {
		return ErrNotConfigured
	}

	payload, err := json.Marshal(sendRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Headers: msg.Headers,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: status %d", ErrSendFailed, res.StatusCode)
	}
	return nil
}
