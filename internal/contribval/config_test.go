package contribval

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "0.0.0.0:5000", cfg.Addr())
	assert.Equal(t, DefaultSchemaURL, cfg.Upstream.SchemaURL)
	assert.Equal(t, DefaultCanonicalContributeURL, cfg.Upstream.CanonicalContributeURL)
	assert.Equal(t, time.Hour, cfg.Cache.schemaTTL)
	assert.Equal(t, 240*time.Hour, cfg.Cache.historyTTL)
	assert.Equal(t, time.Minute, cfg.Cache.reachabilityTTL)
	assert.Equal(t, 10*time.Second, cfg.Fetch.timeoutDur)
	assert.Equal(t, int64(2<<20), cfg.Fetch.maxBody)
	assert.Equal(t, int64(0), cfg.Storage.ramMax)
	assert.Equal(t, time.Duration(0), cfg.Logging.logStatsEveryDur)
	assert.False(t, cfg.History.RecordAnonymous)
}

func TestLoadConfig(t *testing.T) {
	for _, k := range []string{"PORT", "HOST", "MEMCACHE_URL", "SCHEMA_URL"} {
		t.Setenv(k, "")
	}

	t.Run("yaml file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "contribval.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
fetch:
  timeout: 3s
  maxBody: 64k
cache:
  reachabilityTTL: 30s
storage:
  ram:
    max: 1mb
history:
  recordAnonymous: true
`), 0o644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, 3*time.Second, cfg.Fetch.timeoutDur)
		assert.Equal(t, int64(64*1024), cfg.Fetch.maxBody)
		assert.Equal(t, 30*time.Second, cfg.Cache.reachabilityTTL)
		assert.Equal(t, int64(1<<20), cfg.Storage.ramMax)
		assert.True(t, cfg.History.RecordAnonymous)
	})

	t.Run("missing file uses defaults", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("bad duration names the field", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("cache:\n  schemaTTL: soon\n"), 0o644))
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cache.schemaTTL")
	})

	t.Run("bad size names the field", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("storage:\n  disk:\n    max: lots\n"), 0o644))
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "storage.disk.max")
	})
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":         "8123",
		"HOST":         "127.0.0.1",
		"DEBUG":        "yes",
		"MEMCACHE_URL": "10.0.0.1:11211, 10.0.0.2:11211",
		"SCHEMA_URL":   "http://schemas.local/schema.json",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	var cfg Config
	require.NoError(t, cfg.applyEnv(lookup))
	require.NoError(t, cfg.finalize())

	assert.Equal(t, "127.0.0.1:8123", cfg.Addr())
	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, []string{"10.0.0.1:11211", "10.0.0.2:11211"}, cfg.Storage.Memcache.Servers)
	assert.Equal(t, "http://schemas.local/schema.json", cfg.Upstream.SchemaURL)

	env["DEBUG"] = "off"
	require.NoError(t, cfg.applyEnv(lookup))
	assert.False(t, cfg.Server.Debug)

	env["PORT"] = "http"
	assert.Error(t, cfg.applyEnv(lookup))
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "0", want: 0},
		{in: "512", want: 512},
		{in: "512b", want: 512},
		{in: "64k", want: 64 << 10},
		{in: "64KB", want: 64 << 10},
		{in: "2mb", want: 2 << 20},
		{in: "1.5g", want: 3 << 29},
		{in: "", wantErr: true},
		{in: "mb", wantErr: true},
		{in: "-1k", wantErr: true},
		{in: "lots", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseBytes(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512b", formatBytes(512))
	assert.Equal(t, "2kb", formatBytes(2048))
	assert.Equal(t, "1.5mb", formatBytes(3<<19))
	assert.Equal(t, "1gb", formatBytes(1<<30))
}
