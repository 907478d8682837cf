// Package config loads the job configuration and initializes logging.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Cache drivers.
const (
	DriverJSON     = "json"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the full application configuration.
type Config struct {
	DataDir  string         `yaml:"data_dir" mapstructure:"data_dir"`
	Input    InputConfig    `yaml:"input" mapstructure:"input"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Wikidata WikidataConfig `yaml:"wikidata" mapstructure:"wikidata"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// InputConfig locates the list of cities to enrich.
type InputConfig struct {
	// Path is a local file or an http(s) URL.
	Path      string `yaml:"path" mapstructure:"path"`
	NameField string `yaml:"name_field" mapstructure:"name_field"`
	// Encoding is a WHATWG encoding label, e.g. "windows-1256".
	Encoding string `yaml:"encoding" mapstructure:"encoding"`
	// Format overrides detection by extension: json, yaml, csv or xlsx.
	Format string `yaml:"format" mapstructure:"format"`
}

// OutputConfig locates the enrichment ledger.
type OutputConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// CacheConfig selects and locates the lookup cache backend.
type CacheConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"`
	QIDPath       string `yaml:"qid_path" mapstructure:"qid_path"`
	CountriesPath string `yaml:"countries_path" mapstructure:"countries_path"`
	StatesPath    string `yaml:"states_path" mapstructure:"states_path"`
	SQLitePath    string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	DatabaseURL   string `yaml:"database_url" mapstructure:"database_url"`
}

// WikidataConfig holds the knowledge-base endpoints and request policy.
type WikidataConfig struct {
	APIURL           string  `yaml:"api_url" mapstructure:"api_url"`
	EntityURL        string  `yaml:"entity_url" mapstructure:"entity_url"`
	Language         string  `yaml:"language" mapstructure:"language"`
	UserAgent        string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	CircuitThreshold int     `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// PipelineConfig configures the enrichment loop.
type PipelineConfig struct {
	// PacingDelay is slept after every emitted or skipped record.
	PacingDelay time.Duration `yaml:"pacing_delay" mapstructure:"pacing_delay"`
	// Limit caps the pending records processed per run. 0 means no cap.
	Limit int `yaml:"limit" mapstructure:"limit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from configFile (or ./config.yaml when empty) and
// the environment, then resolves relative paths against the data directory.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CITIES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_dir", "data")
	v.SetDefault("input.path", "cities_input.json")
	v.SetDefault("input.name_field", "CityNameEn")
	v.SetDefault("input.encoding", "utf-8")
	v.SetDefault("input.format", "")
	v.SetDefault("output.path", "cities_enriched.jsonl")
	v.SetDefault("cache.driver", DriverJSON)
	v.SetDefault("cache.qid_path", "qid_lookup.json")
	v.SetDefault("cache.countries_path", "countries_cache.json")
	v.SetDefault("cache.states_path", "states_cache.json")
	v.SetDefault("cache.sqlite_path", "cache.db")
	v.SetDefault("cache.database_url", "")
	v.SetDefault("wikidata.api_url", "https://www.wikidata.org/w/api.php")
	v.SetDefault("wikidata.entity_url", "https://www.wikidata.org/wiki/Special:EntityData/%s.json")
	v.SetDefault("wikidata.language", "en")
	v.SetDefault("wikidata.user_agent", "world-cities-enriched/1.0 (https://github.com/jamsshhayd/world-cities-enriched)")
	v.SetDefault("wikidata.timeout_secs", 10)
	v.SetDefault("wikidata.rate_limit", 5.0)
	v.SetDefault("wikidata.max_attempts", 3)
	v.SetDefault("wikidata.circuit_threshold", 5)
	v.SetDefault("wikidata.circuit_reset_secs", 30)
	v.SetDefault("pipeline.pacing_delay", time.Second)
	v.SetDefault("pipeline.limit", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Resolve joins relative file paths onto DataDir. URLs and absolute paths are
// left untouched.
func (c *Config) Resolve() {
	c.Input.Path = c.inDataDir(c.Input.Path)
	c.Output.Path = c.inDataDir(c.Output.Path)
	c.Cache.QIDPath = c.inDataDir(c.Cache.QIDPath)
	c.Cache.CountriesPath = c.inDataDir(c.Cache.CountriesPath)
	c.Cache.StatesPath = c.inDataDir(c.Cache.StatesPath)
	c.Cache.SQLitePath = c.inDataDir(c.Cache.SQLitePath)
}

func (c *Config) inDataDir(p string) string {
	if p == "" || filepath.IsAbs(p) || IsURL(p) || c.DataDir == "" {
		return p
	}
	if strings.HasPrefix(filepath.Clean(p), filepath.Clean(c.DataDir)+string(filepath.Separator)) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// Validate rejects settings the job cannot run with.
func (c *Config) Validate() error {
	switch c.Cache.Driver {
	case DriverJSON, DriverSQLite:
	case DriverPostgres:
		if c.Cache.DatabaseURL == "" {
			return eris.New("config: cache.database_url is required for the postgres driver")
		}
	default:
		return eris.Errorf("config: unknown cache.driver %q", c.Cache.Driver)
	}
	if strings.Count(c.Wikidata.EntityURL, "%s") != 1 {
		return eris.Errorf("config: wikidata.entity_url must contain exactly one %%s, got %q", c.Wikidata.EntityURL)
	}
	if c.Pipeline.PacingDelay < 0 {
		return eris.New("config: pipeline.pacing_delay must not be negative")
	}
	if c.Input.NameField == "" {
		return eris.New("config: input.name_field must not be empty")
	}
	return nil
}

// IsURL reports whether p is an http or https URL.
func IsURL(p string) bool {
	return strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://")
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
