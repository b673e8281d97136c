// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package digest

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/paperscope/paperscope/internal/config"
)

// EmailChannel delivers digests over SMTP.
type EmailChannel struct {
	cfg         config.SMTPConfig
	dialTimeout time.Duration
}

// NewEmailChannel builds the SMTP channel from config.
func NewEmailChannel(cfg config.SMTPConfig) (*EmailChannel, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, fmt.Errorf("smtp host and port are required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	return &EmailChannel{
		cfg:         cfg,
		dialTimeout: 30 * time.Second,
	}, nil
}

// Name returns the channel identifier.
func (c *EmailChannel) Name() string {
	return "email"
}

// Send delivers one digest to the user's email address.
func (c *EmailChannel) Send(ctx context.Context, d *Digest) *DeliveryResult {
	res := &DeliveryResult{Channel: c.Name()}

	to := d.User.Email
	if !strings.Contains(to, "@") {
		res.Class = ErrorPermanent
		res.Err = fmt.Errorf("invalid recipient address %q", to)
		return res
	}

	msg := c.buildMessage(to, d.Subject, d.Body)
	if err := c.sendSMTP(ctx, to, msg); err != nil {
		res.Err = err
		res.Class = classifySMTPError(err)
		return res
	}

	res.Success = true
	return res
}

// buildMessage constructs the RFC 5322 message with headers.
func (c *EmailChannel) buildMessage(to, subject, body string) string {
	fromName := c.cfg.FromName
	if fromName == "" {
		fromName = "Paperscope"
	}

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s <%s>\r\n", fromName, c.cfg.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.String()
}

// sendSMTP performs the SMTP conversation for a single message.
func (c *EmailChannel) sendSMTP(ctx context.Context, to, msg string) error {
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)

	dialer := &net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if c.cfg.UseTLS {
		tlsConfig := &tls.Config{
			ServerName: c.cfg.Host,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if c.cfg.Username != "" && c.cfg.Password != "" {
		auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(c.cfg.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start message: %w", err)
	}
	if _, err := writer.Write([]byte(msg)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close message: %w", err)
	}

	// QUIT failure after DATA succeeded is not a delivery failure.
	_ = client.Quit()
	return nil
}

// classifySMTPError maps an SMTP error onto retry semantics.
func classifySMTPError(err error) ErrorClass {
	s := err.Error()
	switch {
	case strings.Contains(s, "authentication"),
		strings.Contains(s, "recipient"),
		strings.Contains(s, "mailbox"):
		return ErrorPermanent
	case strings.Contains(s, "connect"),
		strings.Contains(s, "timeout"),
		strings.Contains(s, "deadline"),
		strings.Contains(s, "rate"):
		return ErrorTransient
	default:
		return ErrorTransient
	}
}
