package config

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "procd.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadExpandsEnvAndDefaults(t *testing.T) {
	t.Setenv("PROCD_TEST_DIR", "/var/log/procd")

	path := writeConfig(t, `{
		"supervisor": {"log-level": "info"},
		"jobs": {
			"web": {
				"command": "/usr/bin/web-server",
				"stdout": "$PROCD_TEST_DIR/web.log",
				"autostart": true,
				"restart": true
			}
		}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9090", cfg.ControlAddr)
	assert.Equal(t, "127.0.0.1:9091", cfg.EventAddr)

	j, ok := cfg.Catalog.Get("web")
	require.True(t, ok)
	assert.Equal(t, "/var/log/procd/web.log", j.Stdout)
	assert.Equal(t, "/dev/null", j.Stdin)
	assert.Equal(t, syscall.SIGTERM, j.ExitSignal)
	assert.True(t, j.Autostart)
	assert.True(t, j.Restart)
}

func TestLoadHonorsSupervisorPorts(t *testing.T) {
	path := writeConfig(t, `{
		"supervisor": {"control-port": 7001, "event-port": 7002},
		"jobs": {"web": {"command": "x"}}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7001", cfg.ControlAddr)
	assert.Equal(t, "127.0.0.1:7002", cfg.EventAddr)
}

func TestLoadMergesIncludeDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.json"), []byte(`{
		"jobs": {"worker": {"command": "/usr/bin/worker"}}
	}`), 0o644))

	path := writeConfig(t, `{
		"supervisor": {"include-dirs": ["`+dir+`"]},
		"jobs": {"web": {"command": "/usr/bin/web-server"}}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	_, ok := cfg.Catalog.Get("web")
	assert.True(t, ok)
	_, ok = cfg.Catalog.Get("worker")
	assert.True(t, ok)
}

func TestLoadRejectsDuplicateJobFromIncludeDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.json"), []byte(`{
		"jobs": {"web": {"command": "/usr/bin/other"}}
	}`), 0o644))

	path := writeConfig(t, `{
		"supervisor": {"include-dirs": ["`+dir+`"]},
		"jobs": {"web": {"command": "/usr/bin/web-server"}}
	}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeConfig(t, `{"jobs": {"web": {"command": "x", "bogus": true}}}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownSignal(t *testing.T) {
	path := writeConfig(t, `{"jobs": {"web": {"command": "x", "signal": "SIGBOGUS"}}}`)

	_, err := Load(path)
	require.Error(t, err)
}
