package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Input.CompanyTag != "DEFAULT" {
		t.Errorf("company tag = %q, want DEFAULT", cfg.Input.CompanyTag)
	}
	if cfg.Database.InsertChunkRows != 1000 {
		t.Errorf("insert chunk = %d, want 1000", cfg.Database.InsertChunkRows)
	}
	if !cfg.Normalize.TaxTextToZero {
		t.Error("tax_text_to_zero should default to true")
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
input:
  company_tag: ACME
workers:
  count: 4
  sequential: true
normalize:
  date_success_ratio: 0.9
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Input.CompanyTag != "ACME" {
		t.Errorf("company tag = %q, want ACME", cfg.Input.CompanyTag)
	}
	if cfg.Workers.Count != 4 || !cfg.Workers.Sequential {
		t.Errorf("workers = %+v", cfg.Workers)
	}
	if cfg.Normalize.DateSuccessRatio != 0.9 {
		t.Errorf("ratio = %v, want 0.9", cfg.Normalize.DateSuccessRatio)
	}
	// Untouched sections keep defaults.
	if cfg.Database.InsertChunkRows != 1000 {
		t.Errorf("insert chunk = %d, want 1000", cfg.Database.InsertChunkRows)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("input:\n  company_tag: ACME\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COMPANY_TAG", "BETA")
	t.Setenv("WORKER_COUNT", "auto")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Input.CompanyTag != "BETA" {
		t.Errorf("company tag = %q, want BETA", cfg.Input.CompanyTag)
	}
	if cfg.Workers.Count != 0 {
		t.Errorf("worker count = %d, want 0 for auto", cfg.Workers.Count)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Input.CompanyTag != "DEFAULT" {
		t.Errorf("company tag = %q, want DEFAULT", cfg.Input.CompanyTag)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty company tag", func(c *Config) { c.Input.CompanyTag = "" }},
		{"zero insert chunk", func(c *Config) { c.Database.InsertChunkRows = 0 }},
		{"ratio above one", func(c *Config) { c.Normalize.DateSuccessRatio = 1.5 }},
		{"negative samples", func(c *Config) { c.Normalize.MaxFailureSamples = -1 }},
		{"zero reduce factor", func(c *Config) { c.Workers.ReduceFactor = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
