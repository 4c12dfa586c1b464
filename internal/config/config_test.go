package config

import "testing"

func TestApplyDefaults_FillsZeroValues(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Database.Host != "localhost" {
		t.Errorf("Database.Host = %q, want localhost", cfg.Database.Host)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("Database.Port = %d, want 5432", cfg.Database.Port)
	}
	if cfg.Embedding.TimeoutMin == 0 || cfg.Embedding.TimeoutMax == 0 {
		t.Error("expected embedding timeout bounds to be defaulted")
	}
	if cfg.Search.DefaultLimit != 10 {
		t.Errorf("Search.DefaultLimit = %d, want 10", cfg.Search.DefaultLimit)
	}
	if cfg.Queue.Concurrency != 4 {
		t.Errorf("Queue.Concurrency = %d, want 4", cfg.Queue.Concurrency)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := Config{Database: DatabaseConfig{Host: "db.internal", Port: 6543}}
	cfg.ApplyDefaults()

	if cfg.Database.Host != "db.internal" {
		t.Errorf("Database.Host was overwritten: %q", cfg.Database.Host)
	}
	if cfg.Database.Port != 6543 {
		t.Errorf("Database.Port was overwritten: %d", cfg.Database.Port)
	}
}

func TestApplyDefaults_SearchThresholdZeroMeansAdaptive(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.Search.DefaultThreshold != 0 {
		t.Errorf("expected DefaultThreshold to remain 0 (adaptive), got %v", cfg.Search.DefaultThreshold)
	}
}
