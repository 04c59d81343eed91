// Package config centralizes the Context Memory Core's recognized
// configuration options (spec §6.2), loaded through koanf the same way
// internal/secrets.Config and internal/checkpoint's config are structured
// with `koanf` struct tags and a Validate step.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/memforge/cmc/internal/cmc/consolidate"
	"github.com/memforge/cmc/internal/cmc/rank"
)

// Config is the full set of recognized options from spec §6.2.
type Config struct {
	EmbeddingModelID string `koanf:"embedding_model_id"`
	EmbeddingDim     int    `koanf:"embedding_dim"`

	RedactionPatterns          []NamedPattern `koanf:"redaction_patterns"`
	RedactionGitleaksSecondary bool           `koanf:"redaction_gitleaks_secondary"`

	Consolidation ConsolidationConfig `koanf:"consolidation"`
	Rank          RankConfig          `koanf:"rank"`
	WorkingSet    WorkingSetConfig    `koanf:"working_set"`

	VectorIndexTopKCap int `koanf:"vector_index_topk_cap"`
	PoolSize           int `koanf:"pool_size"`

	Timeouts TimeoutConfig `koanf:"timeouts"`
}

// NamedPattern is one (name, regex) redaction pattern override (spec
// §6.2 redaction_patterns).
type NamedPattern struct {
	Name  string `koanf:"name"`
	Regex string `koanf:"regex"`
}

// ConsolidationConfig holds the three dedup/link thresholds.
type ConsolidationConfig struct {
	ExactThreshold float64 `koanf:"exact_threshold"`
	NearThreshold  float64 `koanf:"near_threshold"`
	ReferThreshold float64 `koanf:"refer_threshold"`
}

// RankConfig holds the Ranker's weights and recency time constants.
type RankConfig struct {
	Weights            rank.Weights `koanf:"weights"`
	TauSemanticSeconds int          `koanf:"tau_semantic_seconds"`
	TauEpisodicSeconds int          `koanf:"tau_episodic_seconds"`
}

// WorkingSetConfig selects the token estimator.
type WorkingSetConfig struct {
	TokenEstimator string `koanf:"token_estimator"` // "chars_over_4" | "whitespace_tokens"
}

// TimeoutConfig holds the default per-operation deadlines (spec §5).
type TimeoutConfig struct {
	Ingest       time.Duration `koanf:"ingest"`
	Recall       time.Duration `koanf:"recall"`
	BuildWorkingSet time.Duration `koanf:"build_working_set"`
	Feedback     time.Duration `koanf:"feedback"`
}

// Default returns the spec-mandated defaults (§4.6, §4.7, §5, §6.2).
func Default() Config {
	return Config{
		EmbeddingModelID: "text-embed-default",
		EmbeddingDim:     1536,
		Consolidation: ConsolidationConfig{
			ExactThreshold: 1.0,
			NearThreshold:  consolidate.DefaultThresholds().Near,
			ReferThreshold: consolidate.DefaultThresholds().Refer,
		},
		Rank: RankConfig{
			Weights:            rank.DefaultWeights(),
			TauSemanticSeconds: 604800,
			TauEpisodicSeconds: 129600,
		},
		WorkingSet:         WorkingSetConfig{TokenEstimator: "chars_over_4"},
		VectorIndexTopKCap: 256,
		PoolSize:           64,
		Timeouts: TimeoutConfig{
			Ingest:          30 * time.Second,
			Recall:          5 * time.Second,
			BuildWorkingSet: 1 * time.Second,
			Feedback:        1 * time.Second,
		},
	}
}

// Validate enforces spec §6.2's rank.weights sum-to-1.0 constraint and
// basic sanity on the remaining fields.
func (c Config) Validate() error {
	if !c.Rank.Weights.Validate() {
		return fmt.Errorf("config: rank.weights must sum to 1.0 (+/- 0.01)")
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("config: embedding_dim must be positive")
	}
	if c.VectorIndexTopKCap <= 0 || c.VectorIndexTopKCap > 256 {
		return fmt.Errorf("config: vector_index_topk_cap must be in (0,256]")
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("config: pool_size must be positive")
	}
	switch c.WorkingSet.TokenEstimator {
	case "", "chars_over_4", "whitespace_tokens":
	default:
		return fmt.Errorf("config: unknown working_set.token_estimator %q", c.WorkingSet.TokenEstimator)
	}
	return nil
}

// Load merges the spec-mandated defaults with a YAML config file (when
// path is non-empty) and CMC_-prefixed environment variables, in that
// order, mirroring internal/config.Loader's koanf provider chain.
func Load(path string) (Config, error) {
	cfg := Default()

	k := koanf.New(".")
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("CMC_", ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, "CMC_"))
		return strings.ReplaceAll(lower, "_", ".")
	}), nil); err != nil {
		return cfg, fmt.Errorf("config: load env: %w", err)
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
