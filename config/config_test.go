package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSourcesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "SQLite")
	t.Setenv("SOURCE_TIMEOUT_SECONDS", "4")
	t.Setenv("CACHE_TTL_MINUTES", "bogus")
	t.Setenv("CLEAN_SYNC", "true")
	t.Setenv("NSETOOLS_URL", "http://localhost:9000")

	cfg := LoadConfig()
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 4*time.Second, cfg.SourceTimeout)
	assert.Equal(t, 15*time.Minute, cfg.CacheTTL)
	assert.True(t, cfg.CleanSync)
	assert.Equal(t, "http://localhost:9000", cfg.NSEToolsURL)

	pipeline := cfg.Pipeline()
	assert.Equal(t, 4*time.Second, pipeline.Aggregation.SourceTimeout)
	assert.Equal(t, 1, pipeline.Database.MaxOpenConns)
}

func TestLoadSourcesMissingFileUsesDefaults(t *testing.T) {
	cfg := &Config{SourceTimeout: 7 * time.Second, NSEToolsURL: "http://bridge.local"}
	sources, err := LoadSources(filepath.Join(t.TempDir(), "absent.yaml"), cfg)
	require.NoError(t, err)

	enabled := sources.Enabled()
	require.Len(t, enabled, 5)
	assert.Equal(t, "chittorgarh", enabled[0].ID)
	assert.Equal(t, "https://www.chittorgarh.com", enabled[0].BaseURL)
	assert.Equal(t, 7*time.Second, enabled[0].Timeout)
	assert.Equal(t, "http://bridge.local", enabled[4].BaseURL)
	assert.Equal(t, []string{"investorgain"}, sources.FieldPriority["gmp"])
}

func TestLoadSourcesWithoutBridgeURLDisablesNSETools(t *testing.T) {
	sources, err := LoadSources(filepath.Join(t.TempDir(), "absent.yaml"), &Config{SourceTimeout: time.Second})
	require.NoError(t, err)

	enabled := sources.Enabled()
	require.Len(t, enabled, 4)
	for _, src := range enabled {
		assert.NotEqual(t, "nsetools", src.ID)
		assert.NotEmpty(t, src.BaseURL)
	}
}

func TestLoadSourcesFromYAML(t *testing.T) {
	path := writeSourcesFile(t, `
sources:
  - id: groww
    priority: 1
    timeout: 3s
  - id: nse
    priority: 1
  - id: chittorgarh
    enabled: false
  - id: investorgain
    priority: 9
    renderer: http
field_priority:
  gmp: [investorgain, groww]
`)

	sources, err := LoadSources(path, &Config{SourceTimeout: 10 * time.Second, ChromedpEnabled: true})
	require.NoError(t, err)

	enabled := sources.Enabled()
	require.Len(t, enabled, 3)
	assert.Equal(t, "groww", enabled[0].ID)
	assert.Equal(t, 3*time.Second, enabled[0].Timeout)
	assert.Equal(t, "nse", enabled[1].ID, "equal priority keeps file order")
	assert.Equal(t, "chromedp", enabled[2].Renderer)
	assert.Equal(t, []string{"investorgain", "groww"}, sources.FieldPriority["gmp"])
}

func TestLoadSourcesRejectsInvalidFiles(t *testing.T) {
	cases := map[string]string{
		"unknown source":  "sources:\n  - id: moneycontrol\n",
		"duplicate":       "sources:\n  - id: nse\n  - id: nse\n",
		"negative rate":   "sources:\n  - id: nse\n    requests_per_second: -1\n",
		"bad field":       "sources:\n  - id: nse\nfield_priority:\n  colour: [nse]\n",
		"bad field value": "sources:\n  - id: nse\nfield_priority:\n  gmp: [yahoo]\n",
		"empty":           "sources: []\n",
		"bad renderer":    "sources:\n  - id: investorgain\n    renderer: selenium\n",
		"malformed":       "sources: [\n",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadSources(writeSourcesFile(t, content), &Config{})
			require.Error(t, err)
			assert.True(t, shared.HasCode(err, shared.CodeInvalidConfig))
		})
	}
}
