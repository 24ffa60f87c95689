// Package reminder sends rent-due reminder emails on a daily schedule and
// operational alert emails on demand. Delivery goes through the Resend HTTP
// API.
package reminder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultResendURL = "https://api.resend.com"

// Mailer sends one email. Implemented by ResendClient.
type Mailer interface {
	Send(ctx context.Context, from string, to []string, subject, html string) error
}

// ResendClient talks to the Resend email API.
type ResendClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewResendClient creates a client. An empty baseURL uses the public API.
func NewResendClient(baseURL, apiKey string) *ResendClient {
	if baseURL == "" {
		baseURL = defaultResendURL
	}
	return &ResendClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Send delivers one email via POST /emails.
func (c *ResendClient) Send(ctx context.Context, from string, to []string, subject, html string) error {
	body, err := json.Marshal(sendRequest{From: from, To: to, Subject: subject, HTML: html})
	if err != nil {
		return fmt.Errorf("encoding email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr resendError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("resend: %s (%s)", apiErr.Message, resp.Status)
		}
		return fmt.Errorf("resend: unexpected status %s", resp.Status)
	}
	return nil
}
