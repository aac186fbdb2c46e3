package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Name)
	assert.Equal(t, "data", cfg.Storage.DataDir)
	assert.Equal(t, 21, cfg.Storage.KeepDays)
	assert.Equal(t, 25*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, "ArgentinaChainTracker/1.0", cfg.Fetch.UserAgent)
	assert.Equal(t, 10, cfg.Sources.FRED.Limit)
	assert.Equal(t, "us_10y_yield", cfg.Sources.FRED.Series["DGS10"])
	assert.Equal(t, 4.0, cfg.Analysis.Thresholds.GlobalElevatedBps)
	assert.Equal(t, -200.0, cfg.Analysis.Thresholds.ReservesStressedMM)
	assert.Equal(t, 90, cfg.Analysis.Sparklines.Spread)
	assert.Equal(t, 3, cfg.Pipeline.Workers)
}

func TestLoadNormalizesSeriesKeys(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load(writeConfig(t, "sources:\n  fred:\n    series:\n      dgs10: us_10y_yield\n"))
	require.NoError(t, err)

	assert.Equal(t, "us_10y_yield", cfg.Sources.FRED.Series["DGS10"])
	for id := range cfg.Sources.FRED.Series {
		assert.Equal(t, strings.ToUpper(id), id)
	}
}

func TestLoadFREDKeyFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("FRED_API_KEY", "secret-key")

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "secret-key", cfg.Sources.FRED.APIKey)
}

func TestLoadFromDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FRED_API_KEY=from-dotenv\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("FRED_API_KEY") })

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Sources.FRED.APIKey)
}

func TestLoadOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CHAINTRACKER_STORAGE_KEEP_DAYS", "5")

	cfg, err := Load(writeConfig(t, `
fetch:
  timeout: 5s
analysis:
  thresholds:
    spread_elevated_pct: 12
alerting:
  channels: telegram,log
`))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Storage.KeepDays)
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 12.0, cfg.Analysis.Thresholds.SpreadElevatedPct)
	assert.Equal(t, []string{"telegram", "log"}, cfg.Alerting.Channels)
}

func TestValidateRejects(t *testing.T) {
	chdir(t, t.TempDir())

	cases := map[string]string{
		"keep days":        "storage:\n  keep_days: 0\n",
		"workers":          "pipeline:\n  workers: 0\n",
		"thresholds order": "analysis:\n  thresholds:\n    global_elevated_bps: 20\n",
		"min status":       "alerting:\n  min_status: calm\n",
		"telegram token":   "alerting:\n  telegram:\n    enabled: true\n    chat_id: \"1\"\n",
		"timezone":         "scheduler:\n  timezone: Mars/Olympus\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 365}}
	assert.Equal(t, 365, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 30, cfg.ResolveMaxPoints(30))
}
