package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabguard/pkg/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, NewConfig(), cfg)
	assert.Equal(t, 50*time.Millisecond, cfg.Tab.DrainInterval)
	assert.False(t, cfg.TabActivatedOnStart())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
host:
  majorVersion: 9
  debugBlock: false
tab:
  drainInterval: 20ms
pool:
  size: 2
  loaderSize: 3
filters:
  rules:
    - id: ads
      pattern: "*/ads/*"
      contentTypes: [script, image]
    - id: ok
      pattern: "http://cdn.example/"
      mode: prefix
      exception: true
  hide:
    - selector: ".ad"
  whitelist:
    - "http://trusted.example/*"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Host.MajorVersion)
	assert.False(t, cfg.Host.DebugBlock)
	assert.True(t, cfg.Host.PluginEnabled)
	assert.Equal(t, 20*time.Millisecond, cfg.Tab.DrainInterval)
	assert.Equal(t, 2, cfg.Pool.Size)
	assert.Equal(t, 3, cfg.Pool.LoaderSize)
	assert.True(t, cfg.TabActivatedOnStart())

	require.Len(t, cfg.Filters.Rules, 2)
	assert.Equal(t, model.RuleID("ads"), cfg.Filters.Rules[0].ID)
	assert.Equal(t, []string{"script", "image"}, cfg.Filters.Rules[0].ContentTypes)
	assert.True(t, cfg.Filters.Rules[1].Exception)
	assert.Equal(t, "prefix", cfg.Filters.Rules[1].Mode)
	assert.Equal(t, []model.HideRule{{Selector: ".ad"}}, cfg.Filters.Hide)
	assert.Equal(t, []string{"http://trusted.example/*"}, cfg.Filters.Whitelist)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TABGUARD_POOL_SIZE", "8")
	t.Setenv("TABGUARD_PROXY_ADDR", "0.0.0.0:9000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Pool.Size)
	assert.Equal(t, "0.0.0.0:9000", cfg.Proxy.Addr)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "pool:\n  size: 0\n"))
	assert.ErrorContains(t, err, "pool.size")

	_, err = Load(writeConfig(t, "pool:\n  loaderSize: -1\n"))
	assert.ErrorContains(t, err, "pool.loaderSize")

	_, err = Load(writeConfig(t, "filters:\n  rules:\n    - pattern: x\n      mode: fuzzy\n"))
	assert.ErrorContains(t, err, "unknown mode")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestActivatedOnStartOverride(t *testing.T) {
	cfg, err := Load(writeConfig(t, "tab:\n  activatedOnStart: true\n"))
	require.NoError(t, err)
	assert.True(t, cfg.TabActivatedOnStart())
}
