package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokens() *Tokens {
	return NewTokens(TokenConfig{Secret: "s3cret", Issuer: "farmlink", Audience: "market-api", TTL: time.Minute})
}

func TestTokenRoundTrip(t *testing.T) {
	tk := newTokens()
	raw, err := tk.Issue(Principal{UserID: "u1", Role: RoleFarmer, Email: "f@farm.io"})
	require.NoError(t, err)

	p, err := tk.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "u1", Role: RoleFarmer, Email: "f@farm.io"}, p)
}

func TestTokenRejects(t *testing.T) {
	tk := newTokens()
	good, err := tk.Issue(Principal{UserID: "u1", Role: RoleBuyer})
	require.NoError(t, err)

	other := NewTokens(TokenConfig{Secret: "s3cret", Issuer: "farmlink", Audience: "admin"})
	wrongAud, err := other.Issue(Principal{UserID: "u1", Role: RoleBuyer})
	require.NoError(t, err)

	expired := newTokens()
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := expired.Issue(Principal{UserID: "u1", Role: RoleBuyer})
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1", Role: RoleBuyer}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"tampered":       good[:len(good)-2] + "xx",
		"wrong audience": wrongAud,
		"expired":        old,
		"alg none":       none,
		"garbage":        "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := tk.Parse(raw)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestIssueValidatesPrincipal(t *testing.T) {
	tk := newTokens()
	_, err := tk.Issue(Principal{UserID: "u1", Role: "admin"})
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = tk.Issue(Principal{Role: RoleBuyer})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestWebhookSignature(t *testing.T) {
	v := NewWebhookVerifier("sk_test")
	body := []byte(`{"event":"charge.success","data":{"reference":"order_1"}}`)
	sig := v.Sign(body)

	assert.Len(t, sig, 128)
	assert.True(t, v.Verify(body, sig))
	assert.False(t, v.Verify(append(body, ' '), sig))
	assert.False(t, v.Verify(body, "zz"))
	assert.False(t, v.Verify(body, ""))
	assert.False(t, NewWebhookVerifier("").Verify(body, sig))
}
