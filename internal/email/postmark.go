package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

const defaultAPIURL = "https://api.postmarkapp.com/email"

// ErrNotConfigured is returned when no Postmark server token is set.
var ErrNotConfigured = errors.New("email client not configured: missing server token")

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	apiURL      string
	httpClient  *http.Client
	cb          *gobreaker.CircuitBreaker
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAPIURL points the client at a different Postmark-compatible endpoint.
func WithAPIURL(u string) Option {
	return func(cl *Client) {
		cl.apiURL = u
	}
}

// NewClient creates a Postmark client. baseURL is the public app URL that
// deep links are resolved against.
func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		apiURL:      defaultAPIURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "postmark",
			MaxRequests: 3,
			Interval:    10 * time.Second,
			Timeout:     time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c != nil && c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
	Tag      string `json:"Tag,omitempty"`
}

// SendNotification emails a notification with a link back into the app.
// Calls fail fast with gobreaker.ErrOpenState while the provider is tripped.
func (c *Client) SendNotification(ctx context.Context, toEmail, subject, message, deepLink, tag string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	link := c.baseURL + deepLink
	textBody := fmt.Sprintf("%s\n\nOpen: %s", message, link)
	htmlBody := fmt.Sprintf(`<p>%s</p><p><a href="%s">Open</a></p>`,
		html.EscapeString(message), html.EscapeString(link))

	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.send(ctx, postmarkEmail{
			From:     c.fromEmail,
			To:       toEmail,
			Subject:  subject,
			HtmlBody: htmlBody,
			TextBody: textBody,
			Tag:      tag,
		})
	})
	return err
}

func (c *Client) send(ctx context.Context, payload postmarkEmail) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
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
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
