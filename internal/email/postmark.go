// Package email sends transactional mail through the Postmark API.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"time"
)

const postmarkEndpoint = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	endpoint    string
	resetTTL    time.Duration
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithEndpoint overrides the Postmark API URL.
func WithEndpoint(endpoint string) Option {
	return func(cl *Client) {
		cl.endpoint = endpoint
	}
}

// WithResetTTL sets the lifetime quoted in reset emails.
func WithResetTTL(d time.Duration) Option {
	return func(cl *Client) {
		cl.resetTTL = d
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		endpoint:    postmarkEndpoint,
		resetTTL:    time.Hour,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From          string `json:"From"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	HtmlBody      string `json:"HtmlBody"`
	TextBody      string `json:"TextBody"`
	MessageStream string `json:"MessageStream"`
}

type postmarkError struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

// SendPasswordReset mails a link carrying the reset secret.
func (c *Client) SendPasswordReset(ctx context.Context, toEmail, name, secret string) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", c.baseURL, url.QueryEscape(secret))
	greeting := "Hello"
	if name != "" {
		greeting = "Hello " + name
	}
	minutes := int(c.resetTTL.Minutes())

	textBody := fmt.Sprintf(
		"%s,\n\nSomeone asked to reset the password for your Flock account. Use the link below to choose a new one:\n\n%s\n\nThis link expires in %d minutes and works once. If you did not ask for this, ignore this email.",
		greeting, link, minutes,
	)
	htmlBody := fmt.Sprintf(
		`<p>%s,</p><p>Someone asked to reset the password for your Flock account.</p><p><a href="%s">Choose a new password</a></p><p>This link expires in %d minutes and works once. If you did not ask for this, ignore this email.</p>`,
		html.EscapeString(greeting), link, minutes,
	)

	return c.send(ctx, postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  "Reset your Flock password",
		HtmlBody: htmlBody,
		TextBody: textBody,
	})
}

// SendWelcome greets a login created by a church admin.
func (c *Client) SendWelcome(ctx context.Context, toEmail, name, churchName string) error {
	link := c.baseURL + "/login"
	textBody := fmt.Sprintf("Hello %s,\n\nAn account has been created for you at %s on Flock. Sign in here:\n\n%s", name, churchName, link)
	htmlBody := fmt.Sprintf(
		`<p>Hello %s,</p><p>An account has been created for you at %s on Flock.</p><p><a href="%s">Sign in</a></p>`,
		html.EscapeString(name), html.EscapeString(churchName), link,
	)

	return c.send(ctx, postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  fmt.Sprintf("Welcome to %s on Flock", churchName),
		HtmlBody: htmlBody,
		TextBody: textBody,
	})
}

func (c *Client) send(ctx context.Context, msg postmarkEmail) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}
	msg.MessageStream = "outbound"

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var pe postmarkError
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &pe) == nil && pe.Message != "" {
			return fmt.Errorf("postmark API error: status %d: code %d: %s", resp.StatusCode, pe.ErrorCode, pe.Message)
		}
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
