package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token is the bearer credential for the cloud API and push feed.
// It is immutable; a refresh replaces the whole value.
type Token struct {
	raw    string
	expiry time.Time // zero when the payload could not be decoded
}

// NewToken wraps a raw bearer token and extracts its expiry claim.
//
// The token's signature is NOT verified: the expiry is used only to schedule
// refreshes, and trust in the token itself is delegated to the cloud API
// that issued it. A token whose payload cannot be decoded is still usable;
// it simply never reports as needing refresh.
func NewToken(raw string) Token {
	t := Token{raw: raw}

	parsed, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return t
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return t
	}

	t.expiry = exp.Time
	return t
}

// Raw returns the token string for use in requests.
func (t Token) Raw() string {
	return t.raw
}

// Expiry returns the parsed expiry instant, or the zero time if the token
// payload was undecodable or carried no expiry claim.
func (t Token) Expiry() time.Time {
	return t.expiry
}

// NeedsRefresh reports whether the token expires within the lead window.
// Tokens without a decodable expiry never need refresh.
func (t Token) NeedsRefresh(lead time.Duration) bool {
	if t.expiry.IsZero() {
		return false
	}
	return !time.Now().Add(lead).Before(t.expiry)
}
