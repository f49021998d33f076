package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/unclebandit/campaign-batch-sender/internal/model"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	maxDiagnosticBody     = 512
)

// WebhookMailer hands each message to an HTTP relay that performs delivery.
type WebhookMailer struct {
	URL        string
	httpClient *http.Client
}

type WebhookRequest struct {
	RecipientID int64  `json:"recipient_id"`
	To          string `json:"to"`
	Name        string `json:"name,omitempty"`
	Subject     string `json:"subject"`
	HTMLBody    string `json:"html_body"`
}

func NewWebhookMailer(url string, httpClient *http.Client) *WebhookMailer {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(&http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 10 * time.Second,
				ForceAttemptHTTP2:     true,
			}),
			Timeout: DefaultRequestTimeout,
		}
	}
	return &WebhookMailer{URL: url, httpClient: httpClient}
}

func (w *WebhookMailer) Send(ctx context.Context, to model.Recipient, subject, htmlBody string) error {
	payload, err := json.Marshal(WebhookRequest{
		RecipientID: to.ID,
		To:          to.Email,
		Name:        to.DisplayName,
		Subject:     subject,
		HTMLBody:    htmlBody,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDiagnosticBody))
		return fmt.Errorf("relay rejected message: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}

var _ Mailer = (*WebhookMailer)(nil)
