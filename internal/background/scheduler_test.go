package background

import (
	"testing"
	"time"

	"github.com/jonhardwick-spec/specmem-sub022/internal/consolidation"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	if cfg.DrainSpec != "@every 10s" {
		t.Errorf("DrainSpec = %q, want @every 10s", cfg.DrainSpec)
	}
	if cfg.DrainBatchSize != 16 {
		t.Errorf("DrainBatchSize = %d, want 16", cfg.DrainBatchSize)
	}
	if cfg.DecaySpec != "@every 1h" {
		t.Errorf("DecaySpec = %q, want @every 1h", cfg.DecaySpec)
	}
	if cfg.ConsolidateSpec != "@every 24h" {
		t.Errorf("ConsolidateSpec = %q, want @every 24h", cfg.ConsolidateSpec)
	}
	if cfg.ConsolidateStrategy != consolidation.StrategySimilarity {
		t.Errorf("ConsolidateStrategy = %q, want similarity", cfg.ConsolidateStrategy)
	}
	if cfg.QueueCleanupSpec != "@every 1h" {
		t.Errorf("QueueCleanupSpec = %q, want @every 1h", cfg.QueueCleanupSpec)
	}
	if cfg.QueueCleanupAge != 24*time.Hour {
		t.Errorf("QueueCleanupAge = %v, want 24h", cfg.QueueCleanupAge)
	}
}

func TestConfig_ApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{
		DrainSpec:           "@every 1s",
		DrainBatchSize:      4,
		DecaySpec:           "@every 5m",
		ConsolidateSpec:     "@every 1h",
		ConsolidateStrategy: consolidation.StrategyTagBased,
		QueueCleanupSpec:    "@every 2h",
		QueueCleanupAge:     time.Hour,
	}
	cfg.applyDefaults()

	if cfg.DrainSpec != "@every 1s" || cfg.DrainBatchSize != 4 || cfg.DecaySpec != "@every 5m" ||
		cfg.ConsolidateSpec != "@every 1h" || cfg.ConsolidateStrategy != consolidation.StrategyTagBased ||
		cfg.QueueCleanupSpec != "@every 2h" || cfg.QueueCleanupAge != time.Hour {
		t.Errorf("applyDefaults overwrote an explicit value: %+v", cfg)
	}
}

func TestNew_DoesNotPanicWithNilComponents(t *testing.T) {
	s := New(Config{}, nil, nil, nil, nil, nil)
	if s == nil {
		t.Fatal("New returned nil")
	}
}
