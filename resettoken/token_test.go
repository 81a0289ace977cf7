package resettoken

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestSignVerifyRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token, err := Sign(testSecret, "user-42", now, DefaultTTL)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	claims, err := Verify(testSecret, token, now)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "user-42")
	}
	if !claims.IssuedAt.Equal(now) {
		t.Errorf("IssuedAt = %v, want %v", claims.IssuedAt, now)
	}
}

func TestVerifyExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token, err := Sign(testSecret, "user-42", now, DefaultTTL)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	tests := []struct {
		name    string
		at      time.Time
		wantErr bool
	}{
		{"just issued", now, false},
		{"before expiry", now.Add(DefaultTTL - time.Second), false},
		{"after expiry", now.Add(DefaultTTL + time.Second), true},
		{"long after expiry", now.Add(24 * time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Verify(testSecret, token, tt.at)
			if tt.wantErr && !errors.Is(err, ErrInvalid) {
				t.Errorf("Verify at %v: err = %v, want ErrInvalid", tt.at, err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Verify at %v: unexpected error %v", tt.at, err)
			}
		})
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token, err := Sign(testSecret, "user-42", now, DefaultTTL)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d segments, want 3", len(parts))
	}

	flip := func(s string, i int) string {
		b := []byte(s)
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
		return string(b)
	}
	// neighbour swaps the last character for the base64url character
	// whose value differs only in the lowest bit.
	neighbour := func(s string) string {
		const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
		i := strings.IndexByte(alphabet, s[len(s)-1])
		return s[:len(s)-1] + string(alphabet[i^1])
	}

	tests := []struct {
		name  string
		token string
	}{
		{"payload byte", parts[0] + "." + flip(parts[1], len(parts[1])/2) + "." + parts[2]},
		{"signature byte", parts[0] + "." + parts[1] + "." + flip(parts[2], 5)},
		{"last signature character", parts[0] + "." + parts[1] + "." + neighbour(parts[2])},
		{"header byte", flip(parts[0], 3) + "." + parts[1] + "." + parts[2]},
		{"truncated", token[:len(token)-10]},
		{"garbage", "not-a-token"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Verify(testSecret, tt.token, now); !errors.Is(err, ErrInvalid) {
				t.Errorf("Verify(%q): err = %v, want ErrInvalid", tt.token, err)
			}
		})
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token, err := Sign(testSecret, "user-42", now, DefaultTTL)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := Verify([]byte("a-different-secret-entirely"), token, now); !errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestSignRejectsEmptyInputs(t *testing.T) {
	now := time.Now()
	if _, err := Sign(nil, "user", now, DefaultTTL); err == nil {
		t.Error("Sign with empty secret succeeded")
	}
	if _, err := Sign(testSecret, "", now, DefaultTTL); err == nil {
		t.Error("Sign with empty subject succeeded")
	}
}
