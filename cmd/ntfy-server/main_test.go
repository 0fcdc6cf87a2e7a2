package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/ntfy-go/internal/httpapi"
)

func execute(args ...string) (string, error) {
	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// TestVersionFlag tests the --version flag
func TestVersionFlag(t *testing.T) {
	out, err := execute("--version")
	require.NoError(t, err)
	assert.Equal(t, "ntfy-server v0.1.0\n", out)
}

func TestIssueToken(t *testing.T) {
	out, err := execute("--secret-key", "s3cret", "--issue-token", "phil")
	require.NoError(t, err)

	token := strings.TrimSpace(out)
	claims, err := httpapi.NewJWTAuth("s3cret", time.Hour).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "phil", claims.Username)
}

func TestBuildConfig(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("users_and_limits", func(t *testing.T) {
		config, err := buildConfig(serverFlags{
			port:         "9000",
			users:        []string{"phil:mypass", "ben:secret"},
			requireAuth:  true,
			cacheSize:    10,
			keepalive:    time.Second,
			visitorRate:  2,
			visitorBurst: 5,
		}, &logger)
		require.NoError(t, err)

		assert.Equal(t, "9000", config.Port)
		assert.Equal(t, map[string]string{"phil": "mypass", "ben": "secret"}, config.Users)
		assert.True(t, config.RequireAuth)
		assert.Equal(t, 10, config.CacheSize)
		assert.Equal(t, time.Second, config.KeepaliveInterval)
		assert.Equal(t, 2.0, config.VisitorRequestRate)
		assert.Equal(t, 5, config.VisitorRequestBurst)
		assert.Same(t, &logger, config.Logger)
	})

	t.Run("invalid_user", func(t *testing.T) {
		for _, user := range []string{"phil", ":pass", "phil:"} {
			_, err := buildConfig(serverFlags{users: []string{user}}, &logger)
			assert.Error(t, err, user)
		}
	})

	t.Run("require_auth_without_credentials", func(t *testing.T) {
		_, err := buildConfig(serverFlags{requireAuth: true}, &logger)
		assert.Error(t, err)
	})
}

func TestUnexpectedArguments(t *testing.T) {
	_, err := execute("extra")
	assert.Error(t, err)
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute("--log-level", "chatty")
	assert.Error(t, err)
}
