package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Session       SessionConfig       `yaml:"session" mapstructure:"session"`
	Grid          GridConfig          `yaml:"grid" mapstructure:"grid"`
	Interpolation InterpolationConfig `yaml:"interpolation" mapstructure:"interpolation"`
	Zonal         ZonalConfig         `yaml:"zonal" mapstructure:"zonal"`
	Boundary      BoundaryConfig      `yaml:"boundary" mapstructure:"boundary"`
	Index         IndexConfig         `yaml:"index" mapstructure:"index"`
	Metrics       MetricsConfig       `yaml:"metrics" mapstructure:"metrics"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// SessionConfig configures the session workspace registry.
type SessionConfig struct {
	Root       string `yaml:"root" mapstructure:"root"`
	TTLMinutes int    `yaml:"ttl_minutes" mapstructure:"ttl_minutes"`
	Index      string `yaml:"index" mapstructure:"index"` // json, sqlite
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// GridConfig configures grid construction.
type GridConfig struct {
	CellSize float64 `yaml:"cell_size" mapstructure:"cell_size"`
	CRS      string  `yaml:"crs" mapstructure:"crs"`
}

// InterpolationConfig configures IDW interpolation.
type InterpolationConfig struct {
	Power     float64 `yaml:"power" mapstructure:"power"`
	Mode      string  `yaml:"mode" mapstructure:"mode"`
	Neighbors int     `yaml:"neighbors" mapstructure:"neighbors"`
	Radius    float64 `yaml:"radius" mapstructure:"radius"`
	ChunkRows int     `yaml:"chunk_rows" mapstructure:"chunk_rows"`
}

// ZonalConfig configures zonal aggregation.
type ZonalConfig struct {
	MaxWorkers int  `yaml:"max_workers" mapstructure:"max_workers"`
	AllTouched bool `yaml:"all_touched" mapstructure:"all_touched"`
}

// BoundaryConfig configures the zone polygon source.
type BoundaryConfig struct {
	DatabaseURL     string `yaml:"database_url" mapstructure:"database_url"`
	Table           string `yaml:"table" mapstructure:"table"`
	IDColumn        string `yaml:"id_column" mapstructure:"id_column"`
	GeomColumn      string `yaml:"geom_column" mapstructure:"geom_column"`
	SRID            int    `yaml:"srid" mapstructure:"srid"`
	Shapefile       string `yaml:"shapefile" mapstructure:"shapefile"`
	IDField         string `yaml:"id_field" mapstructure:"id_field"`
	CacheEntries    int    `yaml:"cache_entries" mapstructure:"cache_entries"`
	CacheTTLMinutes int    `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
	RetryAttempts   int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs  int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// IndexConfig configures the composite index.
type IndexConfig struct {
	Profile string `yaml:"profile" mapstructure:"profile"` // threshold profile YAML
}

// MetricsConfig configures metrics export.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path" mapstructure:"textfile_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks that the fields required by mode are set. Modes are
// "analyze" and "session".
func (c *Config) Validate(mode string) error {
	var errs []string

	if c.Session.Root == "" {
		errs = append(errs, "session.root is required")
	}
	if c.Session.TTLMinutes < 0 {
		errs = append(errs, "session.ttl_minutes must be >= 0")
	}
	switch c.Session.Index {
	case "json":
	case "sqlite":
		if c.Session.SQLitePath == "" {
			errs = append(errs, "session.sqlite_path is required for the sqlite index")
		}
	default:
		errs = append(errs, fmt.Sprintf("session.index must be json or sqlite, got %q", c.Session.Index))
	}

	switch mode {
	case "session":
	case "analyze":
		if c.Grid.CellSize <= 0 {
			errs = append(errs, "grid.cell_size must be > 0")
		}
		if c.Interpolation.Power <= 0 {
			errs = append(errs, "interpolation.power must be > 0")
		}
		switch c.Interpolation.Mode {
		case "variable", "global":
		case "fixed":
			if c.Interpolation.Radius <= 0 {
				errs = append(errs, "interpolation.radius must be > 0 in fixed mode")
			}
		default:
			errs = append(errs, fmt.Sprintf("interpolation.mode %q is not variable, fixed or global", c.Interpolation.Mode))
		}
		if c.Interpolation.Neighbors < 1 {
			errs = append(errs, "interpolation.neighbors must be >= 1")
		}
		if c.Zonal.MaxWorkers < 1 || c.Zonal.MaxWorkers > 8 {
			errs = append(errs, "zonal.max_workers must be between 1 and 8")
		}
		if c.Boundary.DatabaseURL != "" && c.Boundary.Table == "" {
			errs = append(errs, "boundary.table is required with boundary.database_url")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("HYDROINDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("session.root", "/tmp/hydroindex")
	v.SetDefault("session.ttl_minutes", 30)
	v.SetDefault("session.index", "json")
	v.SetDefault("grid.cell_size", 30.0)
	v.SetDefault("grid.crs", "")
	v.SetDefault("interpolation.power", 2.0)
	v.SetDefault("interpolation.mode", "variable")
	v.SetDefault("interpolation.neighbors", 12)
	v.SetDefault("interpolation.radius", 0.0)
	v.SetDefault("interpolation.chunk_rows", 64)
	v.SetDefault("zonal.max_workers", 8)
	v.SetDefault("zonal.all_touched", false)
	v.SetDefault("boundary.database_url", "")
	v.SetDefault("boundary.table", "")
	v.SetDefault("boundary.id_column", "id")
	v.SetDefault("boundary.geom_column", "geom")
	v.SetDefault("boundary.srid", 0)
	v.SetDefault("boundary.shapefile", "")
	v.SetDefault("boundary.id_field", "id")
	v.SetDefault("boundary.cache_entries", 1024)
	v.SetDefault("boundary.cache_ttl_minutes", 60)
	v.SetDefault("boundary.retry_attempts", 3)
	v.SetDefault("boundary.retry_backoff_ms", 250)
	v.SetDefault("index.profile", "")
	v.SetDefault("metrics.textfile_path", "")

	// Read config file (optional)
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
