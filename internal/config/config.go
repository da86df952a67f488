package config

import (
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/geodekking/pakketpunten/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig                `yaml:"log" mapstructure:"log"`
	Data       DataConfig               `yaml:"data" mapstructure:"data"`
	Grid       GridConfig               `yaml:"grid" mapstructure:"grid"`
	Batch      BatchConfig              `yaml:"batch" mapstructure:"batch"`
	Carriers   map[string]CarrierConfig `yaml:"carriers" mapstructure:"carriers"`
	Boundary   BoundaryConfig           `yaml:"boundary" mapstructure:"boundary"`
	Retry      RetryConfig              `yaml:"retry" mapstructure:"retry"`
	Store      StoreConfig              `yaml:"store" mapstructure:"store"`
	Monitoring MonitoringConfig         `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig             `yaml:"server" mapstructure:"server"`
	Metrics    MetricsConfig            `yaml:"metrics" mapstructure:"metrics"`
}

// DataConfig locates the municipality list and the generated files.
type DataConfig struct {
	MunicipalitiesFile string `yaml:"municipalities_file" mapstructure:"municipalities_file"`
	OutputDir          string `yaml:"output_dir" mapstructure:"output_dir"`
	CacheDir           string `yaml:"cache_dir" mapstructure:"cache_dir"`
}

// GridConfig configures the adaptive grid fetch for capped circle-search carriers.
type GridConfig struct {
	Carrier    string  `yaml:"carrier" mapstructure:"carrier"`
	MinLat     float64 `yaml:"min_lat" mapstructure:"min_lat"`
	MaxLat     float64 `yaml:"max_lat" mapstructure:"max_lat"`
	MinLon     float64 `yaml:"min_lon" mapstructure:"min_lon"`
	MaxLon     float64 `yaml:"max_lon" mapstructure:"max_lon"`
	RadiusM    float64 `yaml:"radius_m" mapstructure:"radius_m"`
	SpacingM   float64 `yaml:"spacing_m" mapstructure:"spacing_m"`
	Cap        int     `yaml:"cap" mapstructure:"cap"`
	MaxDepth   int     `yaml:"max_depth" mapstructure:"max_depth"`
	MinRadiusM float64 `yaml:"min_radius_m" mapstructure:"min_radius_m"`
	DelayMs    int     `yaml:"delay_ms" mapstructure:"delay_ms"`
}

// BatchConfig configures the per-municipality batch run.
type BatchConfig struct {
	Concurrency  int       `yaml:"concurrency" mapstructure:"concurrency"`
	DelayMs      int       `yaml:"delay_ms" mapstructure:"delay_ms"`
	BufferRadiiM []float64 `yaml:"buffer_radii_m" mapstructure:"buffer_radii_m"`
	SummaryFile  string    `yaml:"summary_file" mapstructure:"summary_file"`
}

// CarrierConfig configures one carrier adapter.
type CarrierConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Cached      bool    `yaml:"cached" mapstructure:"cached"`
	CacheFile   string  `yaml:"cache_file" mapstructure:"cache_file"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
}

// BoundaryConfig selects and configures the municipality boundary source.
type BoundaryConfig struct {
	Provider      string  `yaml:"provider" mapstructure:"provider"`
	OverpassURL   string  `yaml:"overpass_url" mapstructure:"overpass_url"`
	ShapefilePath string  `yaml:"shapefile_path" mapstructure:"shapefile_path"`
	NameField     string  `yaml:"name_field" mapstructure:"name_field"`
	CodeField     string  `yaml:"code_field" mapstructure:"code_field"`
	CacheTTLHours int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec    float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// RetryConfig configures backoff for every outbound call.
type RetryConfig struct {
	MaxAttempts             int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs        int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs            int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier              float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction          float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	CircuitFailureThreshold int     `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// StoreConfig configures the SQLite run history.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// MonitoringConfig configures run-over-run alerting.
type MonitoringConfig struct {
	DropThreshold  float64 `yaml:"drop_threshold" mapstructure:"drop_threshold"`
	MaxFailureRate float64 `yaml:"max_failure_rate" mapstructure:"max_failure_rate"`
	WebhookURL     string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the read-only file server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MetricsConfig configures Prometheus output for batch commands.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path" mapstructure:"textfile_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// carrierDefaults mirrors the public endpoints each adapter talks to.
var carrierDefaults = map[string]CarrierConfig{
	"dhl":      {Enabled: true, BaseURL: "https://api-gw.dhlparcel.nl", Cached: true, RatePerSec: 2, TimeoutSecs: 30},
	"postnl":   {Enabled: true, BaseURL: "https://productprijslokatie.postnl.nl", RatePerSec: 1, TimeoutSecs: 30},
	"dpd":      {Enabled: true, BaseURL: "https://pickup.dpd.cz", Cached: true, RatePerSec: 1, TimeoutSecs: 60},
	"deburen":  {Enabled: true, BaseURL: "https://mijnburen.deburen.nl", RatePerSec: 0.5, TimeoutSecs: 30},
	"vintedgo": {Enabled: true, BaseURL: "https://vintedgo.com", RatePerSec: 0.5, TimeoutSecs: 30},
	"amazon":   {Enabled: false, BaseURL: "https://overpass-api.de/api/interpreter", Cached: true, RatePerSec: 0.2, TimeoutSecs: 180},
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAKKETPUNTEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("data.municipalities_file", "data/municipalities.yaml")
	v.SetDefault("data.output_dir", "output")
	v.SetDefault("data.cache_dir", "data/cache")
	v.SetDefault("grid.carrier", "dhl")
	v.SetDefault("grid.min_lat", 50.75)
	v.SetDefault("grid.max_lat", 53.55)
	v.SetDefault("grid.min_lon", 3.31)
	v.SetDefault("grid.max_lon", 7.23)
	v.SetDefault("grid.radius_m", 10000)
	v.SetDefault("grid.spacing_m", 14000)
	v.SetDefault("grid.cap", 50)
	v.SetDefault("grid.max_depth", 4)
	v.SetDefault("grid.min_radius_m", 1000)
	v.SetDefault("grid.delay_ms", 500)
	v.SetDefault("batch.concurrency", 1)
	v.SetDefault("batch.delay_ms", 2000)
	v.SetDefault("batch.buffer_radii_m", []float64{300, 400})
	v.SetDefault("batch.summary_file", "summary.json")
	for name, c := range carrierDefaults {
		prefix := "carriers." + name + "."
		v.SetDefault(prefix+"enabled", c.Enabled)
		v.SetDefault(prefix+"base_url", c.BaseURL)
		v.SetDefault(prefix+"cached", c.Cached)
		v.SetDefault(prefix+"cache_file", "")
		v.SetDefault(prefix+"rate_per_sec", c.RatePerSec)
		v.SetDefault(prefix+"timeout_secs", c.TimeoutSecs)
		v.SetDefault(prefix+"api_key", "")
	}
	v.SetDefault("boundary.provider", "overpass")
	v.SetDefault("boundary.overpass_url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("boundary.name_field", "statnaam")
	v.SetDefault("boundary.code_field", "statcode")
	v.SetDefault("boundary.cache_ttl_hours", 12)
	v.SetDefault("boundary.timeout_secs", 90)
	v.SetDefault("boundary.rate_per_sec", 0.5)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 2000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("retry.circuit_failure_threshold", 5)
	v.SetDefault("retry.circuit_reset_secs", 60)
	v.SetDefault("store.path", "data/pakketpunten.db")
	v.SetDefault("monitoring.drop_threshold", 0.2)
	v.SetDefault("monitoring.max_failure_rate", 0.1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Carrier returns the configuration for a carrier by lowercase name.
func (c *Config) Carrier(name string) (CarrierConfig, bool) {
	cc, ok := c.Carriers[strings.ToLower(name)]
	return cc, ok
}

// EnabledCarriers returns the names of enabled carriers in sorted order.
func (c *Config) EnabledCarriers() []string {
	var names []string
	for name, cc := range c.Carriers {
		if cc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Validate checks the settings a command depends on. Any failure is a
// resilience.ConfigError and aborts the run.
func (c *Config) Validate(section string) error {
	var problems []string
	switch section {
	case "grid":
		g := c.Grid
		if g.MinLat >= g.MaxLat || g.MinLon >= g.MaxLon {
			problems = append(problems, "grid bounds are empty")
		}
		if g.RadiusM <= 0 || g.SpacingM <= 0 {
			problems = append(problems, "grid.radius_m and grid.spacing_m must be positive")
		}
		if g.Cap <= 0 {
			problems = append(problems, "grid.cap must be positive")
		}
		if g.MaxDepth < 0 {
			problems = append(problems, "grid.max_depth must not be negative")
		}
		if cc, ok := c.Carrier(g.Carrier); !ok || cc.BaseURL == "" {
			problems = append(problems, "grid.carrier "+g.Carrier+" has no base_url")
		}
		if c.Data.CacheDir == "" {
			problems = append(problems, "data.cache_dir is required")
		}
	case "generate":
		if c.Data.MunicipalitiesFile == "" {
			problems = append(problems, "data.municipalities_file is required")
		}
		if c.Data.OutputDir == "" {
			problems = append(problems, "data.output_dir is required")
		}
		if len(c.EnabledCarriers()) == 0 {
			problems = append(problems, "no carriers enabled")
		}
		for _, name := range c.EnabledCarriers() {
			if c.Carriers[name].BaseURL == "" {
				problems = append(problems, "carriers."+name+".base_url is required")
			}
		}
		for _, r := range c.Batch.BufferRadiiM {
			if r <= 0 {
				problems = append(problems, "batch.buffer_radii_m must be positive")
				break
			}
		}
		problems = append(problems, c.boundaryProblems()...)
	case "dump":
		if c.Data.CacheDir == "" {
			problems = append(problems, "data.cache_dir is required")
		}
	case "merge", "serve":
		if c.Data.OutputDir == "" {
			problems = append(problems, "data.output_dir is required")
		}
	case "store":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required")
		}
	default:
		return resilience.NewConfigError(eris.Errorf("config: unknown section %q", section))
	}
	if len(problems) > 0 {
		return resilience.NewConfigError(eris.Errorf("config: invalid %s settings: %s", section, strings.Join(problems, "; ")))
	}
	return nil
}

func (c *Config) boundaryProblems() []string {
	switch c.Boundary.Provider {
	case "overpass":
		if c.Boundary.OverpassURL == "" {
			return []string{"boundary.overpass_url is required"}
		}
	case "shapefile":
		if c.Boundary.ShapefilePath == "" {
			return []string{"boundary.shapefile_path is required"}
		}
	default:
		return []string{"boundary.provider must be overpass or shapefile"}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
