// Package push defines browser push subscriptions and delivers payloads to
// them through the Web Push protocol.
package push

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrGone means the push service no longer knows the endpoint (404/410).
	// The subscription will never accept another message.
	ErrGone = errors.New("push: subscription gone")

	ErrInvalidSubscription = errors.New("push: invalid subscription")
)

// Keys are the client's message encryption keys.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is the JSON form of a browser PushSubscription. Endpoint is
// the stable identifier of the subscriber.
type Subscription struct {
	Endpoint       string `json:"endpoint"`
	ExpirationTime *int64 `json:"expirationTime,omitempty"`
	Keys           Keys   `json:"keys"`
}

// ID returns the subscriber identifier.
func (s Subscription) ID() string { return s.Endpoint }

// Validate checks the fields required to identify a subscriber.
func (s Subscription) Validate() error {
	if strings.TrimSpace(s.Endpoint) == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidSubscription)
	}
	return nil
}

// Payload is the notification body the service worker renders.
type Payload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// StatusError is a non-success response from the push service that does not
// mean the subscription is gone.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("push: service responded %d", e.StatusCode)
	}
	return fmt.Sprintf("push: service responded %d: %s", e.StatusCode, e.Body)
}

// classify maps a push service status code to an error.
func classify(status int, body string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 404 || status == 410:
		return fmt.Errorf("%w (status %d)", ErrGone, status)
	default:
		return &StatusError{StatusCode: status, Body: body}
	}
}
