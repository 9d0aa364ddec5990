package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SettleWire/payment-webhook-service/internal/config"
)

func newTestLimiter(rate, burst int, gatewayCIDRs []string) *RateLimiter {
	return NewRateLimiter(config.RateLimitConfig{
		RatePerInterval: rate,
		Interval:        15 * time.Minute,
		Burst:           burst,
		KeyPrefix:       "rl:",
		BucketTTL:       time.Hour,
		GatewayCIDRs:    gatewayCIDRs,
	}, config.ServerConfig{}, nil)
}

func doRequest(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", nil)
	req.RemoteAddr = remoteAddr
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterDeniesOverBurst(t *testing.T) {
	h := newTestLimiter(100, 3, nil).Handler(okHandler())

	for i := 0; i < 3; i++ {
		if rr := doRequest(h, "203.0.113.7:1234"); rr.Code != http.StatusOK {
			t.Fatalf("request %d: got %d, want 200", i, rr.Code)
		}
	}

	rr := doRequest(h, "203.0.113.7:1234")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("got %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestRateLimiterIsolatesSources(t *testing.T) {
	h := newTestLimiter(100, 1, nil).Handler(okHandler())

	if rr := doRequest(h, "203.0.113.7:1234"); rr.Code != http.StatusOK {
		t.Fatalf("first source: got %d", rr.Code)
	}
	if rr := doRequest(h, "203.0.113.7:9999"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("same IP different port should share a bucket, got %d", rr.Code)
	}
	if rr := doRequest(h, "198.51.100.2:1234"); rr.Code != http.StatusOK {
		t.Fatalf("distinct source limited, got %d", rr.Code)
	}
}

func TestRateLimiterIgnoresSpoofedProxyHeaders(t *testing.T) {
	// Proxy headers are configured, but the peer is not a trusted proxy, so
	// they must not influence the bucket key or the gateway allowlist.
	rl := NewRateLimiter(config.RateLimitConfig{
		RatePerInterval: 100,
		Interval:        15 * time.Minute,
		Burst:           1,
		KeyPrefix:       "rl:",
		BucketTTL:       time.Hour,
		GatewayCIDRs:    []string{"192.0.2.0/24"},
	}, config.ServerConfig{
		TrustedProxyIPHeaders: []string{"X-Real-IP", "X-Forwarded-For"},
		TrustedProxyCIDRs:     []string{"10.0.0.0/8"},
	}, nil)
	h := rl.Handler(okHandler())

	send := func(hdr, val string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		if hdr != "" {
			req.Header.Set(hdr, val)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := send("", ""); code != http.StatusOK {
		t.Fatalf("first request: got %d, want 200", code)
	}
	// Rotating XFF values must not mint fresh buckets.
	for i := 0; i < 5; i++ {
		if code := send("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i)); code != http.StatusTooManyRequests {
			t.Fatalf("rotated XFF %d: got %d, want 429", i, code)
		}
	}
	// Claiming a gateway address must not bypass the limiter.
	if code := send("X-Real-IP", "192.0.2.9"); code != http.StatusTooManyRequests {
		t.Fatalf("spoofed gateway header: got %d, want 429", code)
	}
}

func TestRateLimiterGatewayBypass(t *testing.T) {
	h := newTestLimiter(100, 1, []string{"192.0.2.0/24"}).Handler(okHandler())

	// Trusted gateway range is never throttled.
	for i := 0; i < 10; i++ {
		if rr := doRequest(h, "192.0.2.50:443"); rr.Code != http.StatusOK {
			t.Fatalf("gateway request %d throttled: %d", i, rr.Code)
		}
	}
}
