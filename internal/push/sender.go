package push

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// Sender delivers one encrypted payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub Subscription, payload []byte) error
}

// VAPID holds the application server identity.
type VAPID struct {
	PublicKey  string
	PrivateKey string
	Subject    string // mailto: or https: contact
}

// Options tunes delivery.
type Options struct {
	TTL     time.Duration
	Urgency string
	Timeout time.Duration
}

// WebPushSender sends notifications through the subscriber's push service.
// Nil-safe: when not configured, Send logs nothing and returns nil.
type WebPushSender struct {
	vapid  VAPID
	opts   Options
	client *http.Client
	logger *slog.Logger
}

// NewWebPushSender returns nil if the VAPID key pair is incomplete
// (delivery disabled).
func NewWebPushSender(vapid VAPID, opts Options, logger *slog.Logger) *WebPushSender {
	if vapid.PublicKey == "" || vapid.PrivateKey == "" {
		return nil
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	return &WebPushSender{
		vapid:  vapid,
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger,
	}
}

// PublicKey returns the VAPID public key clients subscribe with.
func (s *WebPushSender) PublicKey() string {
	if s == nil {
		return ""
	}
	return s.vapid.PublicKey
}

func (s *WebPushSender) Send(ctx context.Context, sub Subscription, payload []byte) error {
	if s == nil {
		return nil // no-op when not configured
	}
	if err := sub.Validate(); err != nil {
		return err
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.vapid.Subject,
		VAPIDPublicKey:  s.vapid.PublicKey,
		VAPIDPrivateKey: s.vapid.PrivateKey,
		TTL:             int(s.opts.TTL.Seconds()),
		Urgency:         webpush.Urgency(s.opts.Urgency),
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	var body string
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		body = strings.TrimSpace(string(b))
	}
	s.logger.Debug("push delivered", "status", resp.StatusCode, "endpoint", Redact(sub.Endpoint))
	return classify(resp.StatusCode, body)
}

// GenerateVAPIDKeys creates a fresh key pair (base64url, unpadded).
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	return publicKey, privateKey, err
}

// Redact shortens an endpoint for logs: scheme, host and the last few
// characters of the path.
func Redact(endpoint string) string {
	const tail = 8
	i := strings.Index(endpoint, "://")
	if i < 0 {
		if len(endpoint) <= tail {
			return endpoint
		}
		return "…" + endpoint[len(endpoint)-tail:]
	}
	rest := endpoint[i+3:]
	host, path, _ := strings.Cut(rest, "/")
	if len(path) > tail {
		path = "…" + path[len(path)-tail:]
	}
	return endpoint[:i+3] + host + "/" + path
}
