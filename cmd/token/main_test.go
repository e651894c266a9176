package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestIssueAndVerify(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("JWT_ISSUER", "")

	tok, err := run(t, "issue", "--user", "inspector-7", "--role", "inspector", "--ttl", "1h")
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	out, err := run(t, "verify", tok)
	require.NoError(t, err)
	assert.Equal(t, "user=inspector-7 role=INSPECTOR", out)
}

func TestIssue_Errors(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")

	_, err := run(t, "issue", "--user", "u", "--role", "janitor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")

	_, err = run(t, "issue")
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "")
	_, err = run(t, "issue", "--user", "u")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestVerify_RejectsForeignToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	tok, err := run(t, "issue", "--user", "u")
	require.NoError(t, err)

	t.Setenv("JWT_SECRET", "another-secret-another-secret-xx")
	_, err = run(t, "verify", tok)
	require.Error(t, err)
}
