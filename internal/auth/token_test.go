package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, expiry time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(expiry),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func TestNewTokenParsesExpiry(t *testing.T) {
	expiry := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	tok := NewToken(signedToken(t, expiry))

	if tok.Expiry().IsZero() {
		t.Fatal("expected expiry to be parsed")
	}
	if !tok.Expiry().Equal(expiry) {
		t.Errorf("Expiry() = %v, want %v", tok.Expiry(), expiry)
	}
}

func TestNewTokenUndecodable(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "not a jwt", raw: "just-an-opaque-string"},
		{name: "two segments", raw: "aaa.bbb"},
		{name: "garbage payload", raw: "aaa.!!!.ccc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := NewToken(tt.raw)
			if !tok.Expiry().IsZero() {
				t.Errorf("Expiry() = %v, want zero", tok.Expiry())
			}
			if tok.Raw() != tt.raw {
				t.Errorf("Raw() = %q, want %q", tok.Raw(), tt.raw)
			}
			if tok.NeedsRefresh(time.Hour) {
				t.Error("undecodable token must never need refresh")
			}
		})
	}
}

func TestNeedsRefresh(t *testing.T) {
	tests := []struct {
		name   string
		expiry time.Duration // from now
		lead   time.Duration
		want   bool
	}{
		{
			name:   "well before lead window",
			expiry: 48 * time.Hour,
			lead:   time.Hour,
			want:   false,
		},
		{
			name:   "inside lead window",
			expiry: 30 * time.Minute,
			lead:   time.Hour,
			want:   true,
		},
		{
			name:   "already expired",
			expiry: -time.Minute,
			lead:   time.Hour,
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := NewToken(signedToken(t, time.Now().Add(tt.expiry)))
			if got := tok.NeedsRefresh(tt.lead); got != tt.want {
				t.Errorf("NeedsRefresh(%v) = %v, want %v", tt.lead, got, tt.want)
			}
		})
	}
}

func TestRefreshGate(t *testing.T) {
	var g RefreshGate

	if g.InProgress() {
		t.Fatal("new gate must not be in progress")
	}
	if !g.TryBegin() {
		t.Fatal("first TryBegin must succeed")
	}
	if g.TryBegin() {
		t.Error("second TryBegin must fail while held")
	}
	if !g.InProgress() {
		t.Error("InProgress must be true while held")
	}

	g.End()
	if g.InProgress() {
		t.Error("InProgress must be false after End")
	}
	if !g.TryBegin() {
		t.Error("TryBegin must succeed after End")
	}
	g.End()

	// End without a matching TryBegin is harmless.
	g.End()
}
