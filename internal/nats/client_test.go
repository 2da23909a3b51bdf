package nats

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/canvas-chat/pkg/logger"
)

func TestConnect_RequiresURL(t *testing.T) {
	_, err := Connect(context.Background(), Config{}, logger.NewNop())
	require.Error(t, err)
}

func TestConnectOptions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	plain, err := connectOptions(ctx, Config{URL: "nats://localhost:4222"}, logger.NewNop())
	require.NoError(t, err)

	withToken, err := connectOptions(ctx, Config{URL: "nats://localhost:4222", Token: "t"}, logger.NewNop())
	require.NoError(t, err)
	assert.Len(t, withToken, len(plain)+1)

	_, err = connectOptions(ctx, Config{CAFile: filepath.Join(t.TempDir(), "missing.pem")}, logger.NewNop())
	assert.ErrorContains(t, err, "failed to read CA file")
}

func TestTLSConfig(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))

	_, err := tlsConfig(Config{CAFile: bad})
	assert.ErrorContains(t, err, "failed to parse CA certificate")

	_, err = tlsConfig(Config{CertFile: "client.pem"})
	assert.ErrorContains(t, err, "together")

	cfg, err := tlsConfig(Config{})
	require.NoError(t, err)
	assert.Nil(t, cfg.RootCAs)
	assert.Empty(t, cfg.Certificates)
}
