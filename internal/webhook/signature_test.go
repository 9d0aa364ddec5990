package webhook

import (
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"
)

func newTestVerifier(secret string, now time.Time) *Verifier {
	v := NewVerifier(secret, 5*time.Minute, 1*time.Minute)
	v.now = func() time.Time { return now }
	return v
}

func unixStr(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func TestVerifyValidSignature(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := newTestVerifier("wh-secret", now)
	body := []byte(`{"event":"payment.success","data":{"reference":"PAY-1"}}`)

	if err := v.Verify(body, v.Sign(body), unixStr(now)); err != nil {
		t.Fatalf("valid delivery rejected: %v", err)
	}
}

func TestVerifySingleByteMutation(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := newTestVerifier("wh-secret", now)
	body := []byte(`{"event":"payment.success","data":{"reference":"PAY-1"}}`)
	sig := v.Sign(body)

	for i := range body {
		mutated := make([]byte, len(body))
		copy(mutated, body)
		mutated[i] ^= 0x01

		err := v.Verify(mutated, sig, unixStr(now))
		if !errors.Is(err, ErrSignatureInvalid) {
			t.Fatalf("mutation at byte %d: got %v, want ErrSignatureInvalid", i, err)
		}
	}
}

func TestVerifyReplayWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := newTestVerifier("wh-secret", now)
	body := []byte(`{"event":"payment.success"}`)
	sig := v.Sign(body)

	cases := []struct {
		name    string
		ts      string
		wantErr error
	}{
		{"ten minutes old", unixStr(now.Add(-10 * time.Minute)), ErrReplayExpired},
		{"just inside window", unixStr(now.Add(-4 * time.Minute)), nil},
		{"future beyond skew", unixStr(now.Add(2 * time.Minute)), ErrReplayExpired},
		{"future within skew", unixStr(now.Add(30 * time.Second)), nil},
		{"missing", "", ErrReplayExpired},
		{"garbage", "not-a-number", ErrReplayExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Verify(body, sig, tc.ts)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("got %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestVerifyFailsClosedWithoutSecret(t *testing.T) {
	now := time.Now()
	v := newTestVerifier("", now)
	body := []byte(`{}`)

	err := v.Verify(body, fmt.Sprintf("%0128x", 0), unixStr(now))
	if !errors.Is(err, ErrSecretNotConfigured) {
		t.Fatalf("got %v, want ErrSecretNotConfigured", err)
	}
}
