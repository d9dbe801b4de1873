package push

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dukerupert/budgetbell/internal/model"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// ErrSubscriptionGone is returned when the push service reports that an
// endpoint no longer exists or no longer accepts our key (404, 410, 403).
var ErrSubscriptionGone = errors.New("push subscription gone")

// ErrNotConfigured is returned when VAPID keys are missing.
var ErrNotConfigured = errors.New("push not configured: missing VAPID keys")

// Payload is the JSON sent to the push service.
type Payload struct {
	Title    string      `json:"title"`
	Body     string      `json:"body"`
	Tag      string      `json:"tag"`
	Renotify bool        `json:"renotify"`
	Badge    string      `json:"badge"`
	Data     PayloadData `json:"data"`
}

type PayloadData struct {
	DeepLink string `json:"deepLink"`
}

// Config holds VAPID configuration.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	TTL             int
}

// Service handles sending web push notifications.
type Service struct {
	cfg    Config
	client webpush.HTTPClient
}

// NewService creates a new push service. A zero TTL defaults to one day.
func NewService(cfg Config) *Service {
	if cfg.TTL == 0 {
		cfg.TTL = 86400
	}
	if cfg.Subscriber == "" {
		cfg.Subscriber = "mailto:noreply@budgetbell.app"
	}
	return &Service{cfg: cfg, client: &http.Client{}}
}

// Configured reports whether both VAPID keys are present.
func (s *Service) Configured() bool {
	return s.cfg.VAPIDPublicKey != "" && s.cfg.VAPIDPrivateKey != ""
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (s *Service) VAPIDPublicKey() string {
	return s.cfg.VAPIDPublicKey
}

// PayloadFor builds the wire payload for a job.
func PayloadFor(job model.Job) Payload {
	return Payload{
		Title:    job.Title,
		Body:     job.Message,
		Tag:      job.Data.Tag,
		Renotify: job.Data.Renotify,
		Badge:    job.Data.Badge,
		Data:     PayloadData{DeepLink: job.Data.DeepLink},
	}
}

// Send sends a push notification to a subscription.
func (s *Service) Send(ctx context.Context, sub model.Subscription, payload Payload) error {
	if !s.Configured() {
		return ErrNotConfigured
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	urgency := webpush.UrgencyNormal
	if payload.Renotify {
		urgency = webpush.UrgencyHigh
	}

	resp, err := webpush.SendNotificationWithContext(ctx, data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		Subscriber:      s.cfg.Subscriber,
		TTL:             s.cfg.TTL,
		Urgency:         urgency,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone, http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrSubscriptionGone, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}

	return nil
}

// GenerateVAPIDKeys generates a new ECDSA P-256 key pair for VAPID.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ECDSA key: %w", err)
	}
	pub, err := key.PublicKey.ECDH()
	if err != nil {
		return "", "", fmt.Errorf("convert public key: %w", err)
	}

	publicKey = base64.RawURLEncoding.EncodeToString(pub.Bytes())
	privateKey = base64.RawURLEncoding.EncodeToString(key.D.FillBytes(make([]byte, 32)))

	return publicKey, privateKey, nil
}
