package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/geodekking/pakketpunten/internal/resilience"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "output", cfg.Data.OutputDir)
	assert.Equal(t, 50, cfg.Grid.Cap)
	assert.InDelta(t, 10000, cfg.Grid.RadiusM, 0.001)
	assert.InDelta(t, 14000, cfg.Grid.SpacingM, 0.001)
	assert.Equal(t, 4, cfg.Grid.MaxDepth)
	assert.Equal(t, 1, cfg.Batch.Concurrency)
	assert.Equal(t, []float64{300, 400}, cfg.Batch.BufferRadiiM)
	assert.Equal(t, "overpass", cfg.Boundary.Provider)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.InDelta(t, 0.2, cfg.Monitoring.DropThreshold, 0.001)
	assert.Equal(t, 8080, cfg.Server.Port)

	dhl, ok := cfg.Carrier("DHL")
	require.True(t, ok)
	assert.True(t, dhl.Enabled)
	assert.True(t, dhl.Cached)
	assert.Equal(t, "https://api-gw.dhlparcel.nl", dhl.BaseURL)

	amazon, ok := cfg.Carrier("amazon")
	require.True(t, ok)
	assert.False(t, amazon.Enabled)
	assert.Equal(t, []string{"deburen", "dhl", "dpd", "postnl", "vintedgo"}, cfg.EnabledCarriers())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
  format: console
grid:
  cap: 25
batch:
  concurrency: 4
  buffer_radii_m: [250]
carriers:
  amazon:
    enabled: true
  postnl:
    enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 25, cfg.Grid.Cap)
	assert.Equal(t, 4, cfg.Batch.Concurrency)
	assert.Equal(t, []float64{250}, cfg.Batch.BufferRadiiM)

	amazon, _ := cfg.Carrier("amazon")
	assert.True(t, amazon.Enabled)
	// Defaults still apply for unset values
	assert.Equal(t, "https://overpass-api.de/api/interpreter", amazon.BaseURL)
	assert.NotContains(t, cfg.EnabledCarriers(), "postnl")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
grid:
  cap: 25
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("PAKKETPUNTEN_LOG_LEVEL", "warn")
	t.Setenv("PAKKETPUNTEN_GRID_CAP", "40")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 40, cfg.Grid.Cap)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("PAKKETPUNTEN_SERVER_PORT", "3000")
	t.Setenv("PAKKETPUNTEN_CARRIERS_DHL_BASE_URL", "http://localhost:9999")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	dhl, _ := cfg.Carrier("dhl")
	assert.Equal(t, "http://localhost:9999", dhl.BaseURL)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PAKKETPUNTEN_STORE_PATH=runs.db\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("PAKKETPUNTEN_STORE_PATH") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "runs.db", cfg.Store.Path)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestValidateGenerate_Defaults(t *testing.T) {
	cfg := validConfig(t)
	assert.NoError(t, cfg.Validate("generate"))
	assert.NoError(t, cfg.Validate("grid"))
	assert.NoError(t, cfg.Validate("merge"))
	assert.NoError(t, cfg.Validate("store"))
	assert.NoError(t, cfg.Validate("dump"))
}

func TestValidateGenerate_MissingFields(t *testing.T) {
	cfg := validConfig(t)
	cfg.Data.OutputDir = ""
	cfg.Batch.BufferRadiiM = []float64{300, -1}
	cfg.Boundary.Provider = "nominatim"

	err := cfg.Validate("generate")
	require.Error(t, err)
	assert.True(t, resilience.IsFatal(err))
	assert.Contains(t, err.Error(), "data.output_dir is required")
	assert.Contains(t, err.Error(), "batch.buffer_radii_m must be positive")
	assert.Contains(t, err.Error(), "boundary.provider must be overpass or shapefile")
}

func TestValidateGenerate_NoCarriers(t *testing.T) {
	cfg := validConfig(t)
	for name, cc := range cfg.Carriers {
		cc.Enabled = false
		cfg.Carriers[name] = cc
	}
	err := cfg.Validate("generate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no carriers enabled")
}

func TestValidateShapefileNeedsPath(t *testing.T) {
	cfg := validConfig(t)
	cfg.Boundary.Provider = "shapefile"
	err := cfg.Validate("generate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boundary.shapefile_path is required")

	cfg.Boundary.ShapefilePath = "gemeenten.shp"
	assert.NoError(t, cfg.Validate("generate"))
}

func TestValidateGrid_BadBounds(t *testing.T) {
	cfg := validConfig(t)
	cfg.Grid.MinLat, cfg.Grid.MaxLat = 53, 52
	cfg.Grid.Cap = 0
	cfg.Grid.Carrier = "fedex"

	err := cfg.Validate("grid")
	require.Error(t, err)
	assert.True(t, resilience.IsFatal(err))
	assert.Contains(t, err.Error(), "grid bounds are empty")
	assert.Contains(t, err.Error(), "grid.cap must be positive")
	assert.Contains(t, err.Error(), "grid.carrier fedex has no base_url")
}

func TestValidateUnknownSection(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown section")
}
