package config

import (
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoadFormats(t *testing.T) {
	files := map[string]string{
		"server.json": `{"server": {"port": 9001, "read_timeout": "3s", "max_connections": 50},
			"limits": {"max_body_size": 1024}, "env": "production", "log": {"level": "debug"}}`,
		"server.toml": `
env = "production"

[server]
port = 9001
read_timeout = "3s"
max_connections = 50

[limits]
max_body_size = 1024

[log]
level = "debug"
`,
		"server.yaml": `
env: production
server:
  port: 9001
  read_timeout: 3s
  max_connections: 50
limits:
  max_body_size: 1024
log:
  level: debug
`,
	}
	for name, data := range files {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, name, data))
			require.NoError(t, err)
			assert.Equal(t, 9001, cfg.Port)
			assert.Equal(t, 3*time.Second, cfg.ReadTimeout)
			assert.Equal(t, 50, cfg.MaxConnections)
			assert.Equal(t, int64(1024), cfg.MaxBodySize)
			assert.True(t, cfg.IsProduction())
			assert.Equal(t, "debug", cfg.LogLevel)

			// untouched keys keep their defaults
			assert.Equal(t, Default().WriteTimeout, cfg.WriteTimeout)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(writeFile(t, "server.ini", "port=1"))
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeFile(t, "bad.yaml", "server:\n  port: many\n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.json", `{"env": "staging"}`))
	assert.ErrorContains(t, err, `unknown env "staging"`)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("APP_SERVER__IDLE_TIMEOUT", "90s")
	t.Setenv("APP_LOG__LEVEL", "warn")
	t.Setenv("PORT", "7070")

	cfg, err := Load(writeFile(t, "c.json", `{"server": {"port": 1, "idle_timeout": "5s"}}`))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, 90*time.Second, cfg.IdleTimeout)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestParseFlagPrecedence(t *testing.T) {
	t.Setenv("APP_SERVER__HOST", "10.0.0.1")
	path := writeFile(t, "c.toml", "[server]\nport = 9100\nwrite_timeout = \"2s\"\n")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg, err := Parse(fs, []string{"-config", path, "-port", "9200", "-env", "production"})
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Port, "flag beats file")
	assert.Equal(t, 2*time.Second, cfg.WriteTimeout, "file beats default")
	assert.Equal(t, "10.0.0.1", cfg.Host, "env beats default")
	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "10.0.0.1:9200", cfg.Addr())
}

func TestParseRejectsInvalid(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	_, err := Parse(fs, []string{"-port", "70000", "-log-level", "loud"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "port 70000 out of range")
	assert.ErrorContains(t, err, "log level")
}

func TestServerOptions(t *testing.T) {
	cfg := Default()
	cfg.MaxHeaderSize = 4096
	opts := cfg.ServerOptions(nil)
	assert.Equal(t, cfg.ReadTimeout, opts.ReadTimeout)
	assert.Equal(t, cfg.MaxConnections, opts.MaxConnections)
	assert.Equal(t, 4096, opts.Limits.MaxHeaderSize)
	assert.Equal(t, cfg.MaxBodySize, opts.Limits.MaxBodySize)
}

func TestManagerGetters(t *testing.T) {
	m := NewManager()
	m.Set("a.int", "42")
	m.Set("a.float", 1.5)
	m.Set("a.bool", "yes")
	m.Set("a.dur", int64(3))
	m.Set("a.list", "x, y")

	assert.Equal(t, 42, m.GetInt("a.int"))
	assert.Equal(t, 1.5, m.GetFloat("a.float"))
	assert.True(t, m.GetBool("a.bool"))
	assert.Equal(t, 3*time.Second, m.GetDuration("a.dur"))
	assert.Equal(t, []string{"x", "y"}, m.GetStringSlice("a.list"))
	assert.Equal(t, "fallback", m.GetString("missing", "fallback"))
	assert.Equal(t, "42", m.GetString("a.int"))
}

func TestManagerWatchNotifiesOnChange(t *testing.T) {
	m := NewManager()
	var calls atomic.Int32
	m.Watch("k", func(string, any) { calls.Add(1) })

	m.Set("k", 1)
	m.Set("k", 1)
	m.Set("k", 2)
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return calls.Load() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestManagerSaveToJSON(t *testing.T) {
	m := NewManager()
	m.Set("server.port", 8081)
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, m.SaveToJSON(path))

	loaded := NewManager()
	require.NoError(t, loaded.LoadFile(path))
	assert.Equal(t, 8081, loaded.GetInt("server.port"))
}

func TestWatchFileReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 1000\n"), 0o644))

	m := NewManager()
	require.NoError(t, m.LoadFile(path))

	changed := make(chan any, 4)
	m.Watch("server.port", func(_ string, v any) { changed <- v })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.WatchFile(ctx, path, nil))

	tmp := filepath.Join(dir, "live.yaml.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("server:\n  port: 2000\n"), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	select {
	case v := <-changed:
		assert.Equal(t, 2000, v)
	case <-time.After(5 * time.Second):
		t.Fatal("reload not observed")
	}
	assert.Equal(t, 2000, m.GetInt("server.port"))
}
