package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full run configuration. Values come from an optional
// YAML file, overridden by environment variables, with built-in
// defaults underneath. It is immutable after Load.
type Config struct {
	Input     InputConfig     `yaml:"input"`
	Database  DatabaseConfig  `yaml:"database"`
	Workers   WorkersConfig   `yaml:"workers"`
	Memory    MemoryConfig    `yaml:"memory"`
	Normalize NormalizeConfig `yaml:"normalize"`
	Report    ReportConfig    `yaml:"report"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type InputConfig struct {
	// Dir is the directory scanned for workbook files.
	Dir string `yaml:"dir"`
	// CompanyTag brands every staging and ledger table name.
	CompanyTag string `yaml:"company_tag"`
	// MaxFileSizeMB rejects workbooks above this size outright.
	MaxFileSizeMB int `yaml:"max_file_size_mb"`
}

type DatabaseConfig struct {
	// Path of the SQLite database file.
	Path string `yaml:"path"`
	// ShardDir holds the intermediate shard files for a run.
	ShardDir string `yaml:"shard_dir"`
	// InsertChunkRows is the row count per INSERT batch.
	InsertChunkRows int `yaml:"insert_chunk_rows"`
}

type WorkersConfig struct {
	// Count is the worker pool size; 0 means auto (CPUs minus one).
	Count int `yaml:"count"`
	// Min floors the pool after disk-busy reduction.
	Min int `yaml:"min"`
	// Sequential disables the pool entirely and imports file by file
	// inside per-file transactions.
	Sequential bool `yaml:"sequential"`
	// IOBusyThresholdPercent and ReduceFactor shrink the pool when the
	// disk is saturated at startup.
	IOBusyThresholdPercent float64 `yaml:"io_busy_threshold_percent"`
	ReduceFactor           float64 `yaml:"reduce_factor"`
}

type MemoryConfig struct {
	// LargeFileMB forces streaming reads for files above this size.
	LargeFileMB float64 `yaml:"large_file_mb"`
	// StreamSwitchPercent forces streaming when system memory usage
	// reaches this percentage.
	StreamSwitchPercent float64 `yaml:"stream_switch_percent"`
	// AvailableFraction forces streaming when a file exceeds this
	// fraction of available memory.
	AvailableFraction float64 `yaml:"available_fraction"`
	// StreamChunkRows is the base streaming chunk; 0 means derive it
	// from available memory at run time.
	StreamChunkRows int `yaml:"stream_chunk_rows"`
}

type NormalizeConfig struct {
	// TaxTextToZero maps exemption words in the tax rate column to 0.
	TaxTextToZero bool `yaml:"tax_text_to_zero"`
	// DateSuccessRatio is the minimum parse ratio for a date layout to
	// win a column.
	DateSuccessRatio float64 `yaml:"date_success_ratio"`
	// MaxFailureSamples bounds the retained conversion failures per
	// column.
	MaxFailureSamples int `yaml:"max_failure_samples"`
}

type ReportConfig struct {
	// Dir receives manifests, summaries and duplicate exports.
	Dir string `yaml:"dir"`
	// DuplicateExportMaxRows switches the duplicate export from xlsx
	// to compressed CSV above this row count.
	DuplicateExportMaxRows int `yaml:"duplicate_export_max_rows"`
}

type MetricsConfig struct {
	// Enabled starts the Prometheus scrape endpoint for the run.
	Enabled bool `yaml:"enabled"`
	// Address the metrics HTTP server listens on.
	Address string `yaml:"address"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Input: InputConfig{
			Dir:           "./input",
			CompanyTag:    "DEFAULT",
			MaxFileSizeMB: 500,
		},
		Database: DatabaseConfig{
			Path:            "./invoice_ledger.db",
			ShardDir:        "./shards",
			InsertChunkRows: 1000,
		},
		Workers: WorkersConfig{
			Count:                  0,
			Min:                    1,
			IOBusyThresholdPercent: 75,
			ReduceFactor:           0.5,
		},
		Memory: MemoryConfig{
			LargeFileMB:         100,
			StreamSwitchPercent: 75,
			AvailableFraction:   0.4,
			StreamChunkRows:     10000,
		},
		Normalize: NormalizeConfig{
			TaxTextToZero:     true,
			DateSuccessRatio:  0.7,
			MaxFailureSamples: 100,
		},
		Report: ReportConfig{
			Dir:                    "./reports",
			DuplicateExportMaxRows: 100000,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at
// path (skipped when path is empty or missing), then environment
// variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Input.Dir = getenvDefault("INPUT_DIR", cfg.Input.Dir)
	cfg.Input.CompanyTag = getenvDefault("COMPANY_TAG", cfg.Input.CompanyTag)
	cfg.Database.Path = getenvDefault("DATABASE_PATH", cfg.Database.Path)
	cfg.Database.ShardDir = getenvDefault("SHARD_DIR", cfg.Database.ShardDir)
	cfg.Report.Dir = getenvDefault("REPORT_DIR", cfg.Report.Dir)

	if v := os.Getenv("WORKER_COUNT"); v != "" {
		if v == "auto" {
			cfg.Workers.Count = 0
		} else if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Workers.Count = parsed
		}
	}
	if v := os.Getenv("SEQUENTIAL"); v != "" {
		cfg.Workers.Sequential = v == "true" || v == "1"
	}
	if v := os.Getenv("INSERT_CHUNK_ROWS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Database.InsertChunkRows = parsed
		}
	}
	if v := os.Getenv("TAX_TEXT_TO_ZERO"); v != "" {
		cfg.Normalize.TaxTextToZero = v == "true" || v == "1"
	}
	if v := os.Getenv("METRICS_ADDRESS"); v != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = v
	}
}

func (c Config) validate() error {
	if c.Input.CompanyTag == "" {
		return fmt.Errorf("config: company tag must not be empty")
	}
	if c.Database.InsertChunkRows < 1 {
		return fmt.Errorf("config: insert_chunk_rows must be positive, got %d", c.Database.InsertChunkRows)
	}
	if c.Normalize.DateSuccessRatio <= 0 || c.Normalize.DateSuccessRatio > 1 {
		return fmt.Errorf("config: date_success_ratio must be in (0, 1], got %v", c.Normalize.DateSuccessRatio)
	}
	if c.Normalize.MaxFailureSamples < 0 {
		return fmt.Errorf("config: max_failure_samples must not be negative, got %d", c.Normalize.MaxFailureSamples)
	}
	if c.Workers.ReduceFactor <= 0 || c.Workers.ReduceFactor > 1 {
		return fmt.Errorf("config: reduce_factor must be in (0, 1], got %v", c.Workers.ReduceFactor)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
