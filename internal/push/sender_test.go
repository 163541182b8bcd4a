package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/ashureev/chatdesk/internal/domain"
)

func testSubscription(t *testing.T, endpoint string) domain.PushSubscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatalf("generate auth: %v", err)
	}
	return domain.PushSubscription{
		ID:       "s1",
		Endpoint: endpoint,
		Keys: domain.PushKeys{
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	}
}

func testVAPID(t *testing.T) VAPIDConfig {
	t.Helper()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate VAPID keys: %v", err)
	}
	return VAPIDConfig{PublicKey: pub, PrivateKey: priv, Subject: "mailto:ops@example.com", TTL: time.Hour}
}

func TestWebPushSenderStatuses(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantErr  bool
		wantGone bool
	}{
		{"created", http.StatusCreated, false, false},
		{"gone", http.StatusGone, true, true},
		{"server error", http.StatusInternalServerError, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotTTL string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotTTL = r.Header.Get("TTL")
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			sender := NewWebPushSender(testVAPID(t))
			err := sender.Send(context.Background(), testSubscription(t, srv.URL), []byte(`{"title":"hi"}`))

			if gotTTL != "3600" {
				t.Errorf("TTL header = %q, want 3600", gotTTL)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("Send error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}
			var de *DeliveryError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DeliveryError, got %T", err)
			}
			if de.StatusCode != tt.status || de.Gone() != tt.wantGone {
				t.Fatalf("unexpected delivery error %+v", de)
			}
		})
	}
}

func TestVAPIDConfigEnabled(t *testing.T) {
	if (VAPIDConfig{}).Enabled() {
		t.Fatal("empty config should be disabled")
	}
	if !(VAPIDConfig{PublicKey: "a", PrivateKey: "b"}).Enabled() {
		t.Fatal("config with both keys should be enabled")
	}
}
