// Package recurly implements the billing gateway over the Recurly v2 XML API.
package recurly

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okredo/go-recurly/pkg/gorecurly"
)

const (
	defaultTimeout = 15 * time.Second
	userAgent      = "go-recurly"
)

// Config configures the API client.
type Config struct {
	// Subdomain is the Recurly site subdomain, e.g. "mysite" for
	// mysite.recurly.com. Ignored when BaseURL is set.
	Subdomain string

	// APIKey is the private API key, sent as the basic-auth username.
	APIKey string

	// PrivateKey signs recurly.js form payloads. Optional unless SignPayload
	// is used.
	PrivateKey string

	// BaseURL overrides the API endpoint, for tests.
	BaseURL string

	// HTTPClient overrides the transport. A default with Timeout is used
	// when nil.
	Timeout    time.Duration
	HTTPClient *http.Client

	Logger  gorecurly.Logger
	Metrics gorecurly.Metrics
}

// Client talks to the Recurly v2 API. It implements gorecurly.Gateway.
type Client struct {
	baseURL    string
	apiKey     string
	privateKey string
	httpClient *http.Client
	logger     gorecurly.Logger
	metrics    gorecurly.Metrics
}

var _ gorecurly.Gateway = (*Client)(nil)

// New creates an API client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("recurly: API key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Subdomain == "" {
			return nil, fmt.Errorf("recurly: subdomain or base URL is required")
		}
		baseURL = fmt.Sprintf("https://%s.recurly.com/v2", cfg.Subdomain)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = &gorecurly.NoopLogger{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = gorecurly.NoopMetrics{}
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		privateKey: cfg.PrivateKey,
		httpClient: httpClient,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// do executes one API call. body and out are XML-marshalable structs, either
// may be nil. endpoint labels the call for metrics.
func (c *Client) do(ctx context.Context, method, path, endpoint string, body, out interface{}) error {
	var reqBody io.Reader = http.NoBody
	if body != nil {
		encoded, err := xml.Marshal(body)
		if err != nil {
			return fmt.Errorf("recurly: encoding request: %w", err)
		}
		reqBody = bytes.NewReader(append([]byte(xml.Header), encoded...))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("recurly: creating request: %w", err)
	}
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Accept", "application/xml")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordGatewayCall(endpoint, "transport_error")
		return fmt.Errorf("%w: %v", gorecurly.ErrGatewayUnavailable, err)
	}
	defer res.Body.Close()

	c.metrics.RecordGatewayCall(endpoint, fmt.Sprintf("%d", res.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", gorecurly.ErrGatewayUnavailable, err)
	}

	if err := c.checkStatus(res.StatusCode, raw, endpoint); err != nil {
		return err
	}

	if out != nil && len(raw) > 0 {
		if err := xml.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("recurly: decoding %s response: %w", endpoint, err)
		}
	}
	return nil
}

func (c *Client) checkStatus(status int, raw []byte, endpoint string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return gorecurly.ErrNotFound
	case status == http.StatusUnprocessableEntity:
		return parseValidationErrors(raw)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("recurly: authentication rejected for %s (status %d)", endpoint, status)
	default:
		c.logger.Warn("unexpected API status",
			gorecurly.Field{Key: "endpoint", Value: endpoint},
			gorecurly.Field{Key: "status", Value: status})
		return fmt.Errorf("%w: %s returned status %d", gorecurly.ErrGatewayUnavailable, endpoint, status)
	}
}

// parseValidationErrors maps a 422 <errors> document onto the package
// validation error.
func parseValidationErrors(raw []byte) error {
	var doc xmlErrors
	if err := xml.Unmarshal(raw, &doc); err != nil || len(doc.Errors) == 0 {
		return &gorecurly.ValidationError{Messages: []string{"request rejected by billing provider"}}
	}
	messages := make([]string, 0, len(doc.Errors))
	for _, e := range doc.Errors {
		msg := strings.TrimSpace(e.Message)
		if e.Field != "" {
			msg = e.Field + " " + msg
		}
		messages = append(messages, msg)
	}
	return &gorecurly.ValidationError{Messages: messages}
}
