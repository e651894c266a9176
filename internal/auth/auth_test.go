package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rentwise/riskd/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueAndVerify(t *testing.T) {
	m := NewManager(testSecret, "riskd")
	tok, err := m.Issue("user-1", RoleInspector, time.Hour)
	require.NoError(t, err)

	p, err := m.Verify("Bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "user-1", Role: RoleInspector}, p)

	p, err = m.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)
}

func TestVerify_Rejects(t *testing.T) {
	m := NewManager(testSecret, "riskd")
	good, err := m.Issue("user-1", RoleAdmin, time.Hour)
	require.NoError(t, err)

	other := NewManager("ffffffffffffffffffffffffffffffff", "riskd")
	wrongKey, _ := other.Issue("user-1", RoleAdmin, time.Hour)

	foreign := NewManager(testSecret, "someone-else")
	wrongIssuer, _ := foreign.Issue("user-1", RoleAdmin, time.Hour)

	past := NewManager(testSecret, "riskd")
	past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := past.Issue("user-1", RoleAdmin, time.Hour)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role:             RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", Issuer: "riskd", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	_, err = m.Verify("")
	assert.ErrorIs(t, err, apierr.ErrUnauthenticated)

	for name, tok := range map[string]string{
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"expired":      expired,
		"alg none":     unsigned,
		"garbage":      "not.a.jwt",
		"tampered":     good + "x",
	} {
		_, err := m.Verify(tok)
		assert.ErrorIs(t, err, apierr.ErrUnauthenticated, name)
	}
}

func TestIssue_RejectsUnknownRole(t *testing.T) {
	m := NewManager(testSecret, "riskd")
	_, err := m.Issue("user-1", Role("GUEST"), time.Hour)
	assert.Error(t, err)
	_, err = m.Issue("", RoleAdmin, time.Hour)
	assert.Error(t, err)
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole(" super_admin ")
	assert.True(t, ok)
	assert.Equal(t, RoleSuperAdmin, r)
	_, ok = ParseRole("guest")
	assert.False(t, ok)
}

func TestPrincipalContext(t *testing.T) {
	assert.Equal(t, "system", Actor(context.Background()))
	ctx := WithPrincipal(context.Background(), Principal{UserID: "u9", Role: RoleOwner})
	assert.Equal(t, "u9", Actor(ctx))
	p, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.True(t, p.HasRole(RoleRenter, RoleOwner))
	assert.False(t, p.HasRole(Admins...))
}
