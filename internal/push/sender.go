package push

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/ashureev/chatdesk/internal/domain"
)

// Sender delivers one encrypted payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub domain.PushSubscription, payload []byte) error
}

// DeliveryError is a non-2xx answer from a push service.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("push service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("push service returned %d: %s", e.StatusCode, e.Body)
}

// Gone reports whether the subscription no longer exists at the push
// service and should be forgotten.
func (e *DeliveryError) Gone() bool {
	return e.StatusCode == http.StatusGone || e.StatusCode == http.StatusNotFound
}

// VAPIDConfig holds the application server keys.
type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
	TTL        time.Duration
}

// Enabled reports whether both keys are configured.
func (c VAPIDConfig) Enabled() bool {
	return c.PublicKey != "" && c.PrivateKey != ""
}

// WebPushSender sends notifications through the Web Push protocol.
type WebPushSender struct {
	cfg    VAPIDConfig
	client *http.Client
}

// NewWebPushSender creates a sender using cfg's VAPID keys.
func NewWebPushSender(cfg VAPIDConfig) *WebPushSender {
	return &WebPushSender{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Send implements Sender.
func (s *WebPushSender) Send(ctx context.Context, sub domain.PushSubscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.cfg.Subject,
		VAPIDPublicKey:  s.cfg.PublicKey,
		VAPIDPrivateKey: s.cfg.PrivateKey,
		TTL:             int(s.cfg.TTL / time.Second),
	})
	if err != nil {
		return fmt.Errorf("send web push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &DeliveryError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}
