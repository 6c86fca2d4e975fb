package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Validation modes, one per CLI operation.
const (
	ModeMigrate    = "migrate"
	ModeBoundaries = "boundaries"
	ModeStores     = "stores"
	ModeAssign     = "assign"
	ModeExport     = "export"
	ModeStatus     = "status"
)

// Config holds the full application configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Boundaries BoundariesConfig `yaml:"boundaries" mapstructure:"boundaries"`
	Stores     StoresConfig     `yaml:"stores" mapstructure:"stores"`
	Assign     AssignConfig     `yaml:"assign" mapstructure:"assign"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Journal    JournalConfig    `yaml:"journal" mapstructure:"journal"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
}

// DatabaseConfig configures the PostGIS datastore.
type DatabaseConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// BoundariesConfig configures boundary ingestion.
type BoundariesConfig struct {
	Path    string `yaml:"path" mapstructure:"path"`
	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// StoresConfig configures the store importer.
type StoresConfig struct {
	Path      string `yaml:"path" mapstructure:"path"`
	BatchSize int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// AssignConfig configures the assignment engine.
type AssignConfig struct {
	TieBreak string `yaml:"tie_break" mapstructure:"tie_break"`
}

// ExportConfig configures the map exporter.
type ExportConfig struct {
	Path      string  `yaml:"path" mapstructure:"path"`
	Tolerance float64 `yaml:"tolerance" mapstructure:"tolerance"`
	Title     string  `yaml:"title" mapstructure:"title"`
}

// JournalConfig configures the local run journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// MetricsConfig configures the textfile metrics output. An empty path disables it.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	// Local overrides; a missing file is fine.
	_ = godotenv.Load(".env.local")

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TERRITORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key needs one so AutomaticEnv can override it.
	v.SetDefault("database.url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("boundaries.path", "")
	v.SetDefault("boundaries.temp_dir", "")
	v.SetDefault("stores.path", "")
	v.SetDefault("stores.batch_size", 100)
	v.SetDefault("assign.tie_break", "smallest_area")
	v.SetDefault("export.path", "output/msa_map.html")
	v.SetDefault("export.tolerance", 0.01)
	v.SetDefault("export.title", "Store Territories by MSA")
	v.SetDefault("journal.path", "territory-journal.db")
	v.SetDefault("metrics.textfile", "")

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

// Validate checks the values the given mode depends on. All problems are
// reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case ModeMigrate, ModeAssign, ModeStatus:
	case ModeBoundaries:
		if c.Boundaries.Path == "" {
			errs = append(errs, "boundaries.path is required")
		}
	case ModeStores:
		if c.Stores.Path == "" {
			errs = append(errs, "stores.path is required")
		}
		if c.Stores.BatchSize <= 0 {
			errs = append(errs, "stores.batch_size must be > 0")
		}
	case ModeExport:
		if c.Export.Path == "" {
			errs = append(errs, "export.path is required")
		}
		if c.Export.Tolerance < 0 {
			errs = append(errs, "export.tolerance must be >= 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Database.URL == "" {
		errs = append(errs, "database.url is required")
	}
	if mode == ModeAssign {
		switch c.Assign.TieBreak {
		case "smallest_area", "lowest_code":
		default:
			errs = append(errs, "assign.tie_break must be smallest_area or lowest_code")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
