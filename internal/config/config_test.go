package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablegate/internal/apperr"
)

func TestDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tablegate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: 127.0.0.1:9000
tables: conf/tables.yaml
log_level: debug
shutdown_timeout: 3s
`), 0o600))
	t.Setenv("TABLEGATE_LOG_LEVEL", "warn")
	t.Setenv("TABLEGATE_DATABASE_URL", "sqlite:///tmp/x.db")
	t.Setenv("TABLEGATE_SHUTDOWN_TIMEOUT", "")
	t.Setenv("TABLEGATE_CORS_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "conf/tables.yaml", cfg.Tables)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "sqlite:///tmp/x.db", cfg.DatabaseURL)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestBadInputs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [oops"), 0o600))
	_, err := Load(path)
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))

	t.Setenv("TABLEGATE_SHUTDOWN_TIMEOUT", "soon")
	_, err = Load("")
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Listen = "8080"
	cfg.LogLevel = "loud"
	cfg.ShutdownTimeout = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
	msg := apperr.From(err).Detail
	assert.Contains(t, msg, `listen: must be host:port, got "8080"`)
	assert.Contains(t, msg, "log_level: must be one of: debug info warn error")
	assert.Contains(t, msg, "shutdown_timeout: must be greater than 0")
}
