// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package digest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/paperscope/paperscope/internal/config"
)

// WebhookChannel posts digests as JSON to a configured endpoint.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// webhookPayload is the wire shape posted per digest.
type webhookPayload struct {
	UserID  int64          `json:"user_id"`
	Email   string         `json:"email"`
	Subject string         `json:"subject"`
	Body    string         `json:"body"`
	Papers  []webhookPaper `json:"papers"`
}

type webhookPaper struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// NewWebhookChannel builds the webhook channel from config.
func NewWebhookChannel(cfg config.WebhookConfig) (*WebhookChannel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WebhookChannel{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the channel identifier.
func (c *WebhookChannel) Name() string {
	return "webhook"
}

// Send posts one digest. HTTP 5xx and transport errors are transient;
// 4xx responses are permanent.
func (c *WebhookChannel) Send(ctx context.Context, d *Digest) *DeliveryResult {
	res := &DeliveryResult{Channel: c.Name()}

	payload := webhookPayload{
		UserID:  d.User.ID,
		Email:   d.User.Email,
		Subject: d.Subject,
		Body:    d.Body,
		Papers:  make([]webhookPaper, 0, len(d.Papers)),
	}
	for _, p := range d.Papers {
		payload.Papers = append(payload.Papers, webhookPaper{ID: p.ID, Title: p.Title, URL: p.URL})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		res.Class = ErrorPermanent
		res.Err = fmt.Errorf("failed to encode webhook payload: %w", err)
		return res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		res.Class = ErrorPermanent
		res.Err = err
		return res
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		res.Class = ErrorTransient
		res.Err = fmt.Errorf("webhook request failed: %w", err)
		return res
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		res.Success = true
	case resp.StatusCode >= 500:
		res.Class = ErrorTransient
		res.Err = fmt.Errorf("webhook returned status %d", resp.StatusCode)
	default:
		res.Class = ErrorPermanent
		res.Err = fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return res
}
