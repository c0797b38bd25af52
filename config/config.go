// Package config loads and validates the prefetcher configuration.
package config

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// TraceConfig locates the input trace.
type TraceConfig struct {
	TraceDir  string `json:"trace_dir"`
	TraceFile string `json:"trace_file"`
}

// SystemConfig describes the modeled memory system.
type SystemConfig struct {
	PageSizeBytes      uint64 `json:"page_size_bytes"`
	CacheLineSizeBytes uint64 `json:"cache_line_size_bytes"`
}

// QFetcherConfig holds the learning parameters.
type QFetcherConfig struct {
	SignatureBits  int  `json:"signature_bits"`
	SignatureShift uint `json:"signature_shift"`
	HistoryDepth   int  `json:"history_depth"`

	// ActionSet enumerates the candidate block deltas. Delta 0 is the
	// no-prefetch action and must be present.
	ActionSet []int64 `json:"action_set"`

	LearningRate     float64 `json:"learning_rate"`
	Discount         float64 `json:"discount"`
	ExplorationRate  float64 `json:"exploration_rate"`
	ExplorationDecay float64 `json:"exploration_decay"`

	RewardWindow uint64  `json:"reward_window"`
	EarlyWindow  uint64  `json:"early_window"`
	RewardHit    float64 `json:"reward_hit"`
	RewardLate   float64 `json:"reward_late"`
	RewardMiss   float64 `json:"reward_miss"`

	ContextTableCapacity int `json:"context_table_capacity"`
	QTableCapacity       int `json:"q_table_capacity"`
	MaxPendingPerContext int `json:"max_pending_per_context"`

	Seed int64 `json:"seed"`
}

// OutputConfig locates the run outputs.
type OutputConfig struct {
	OutputDir  string `json:"output_dir"`
	OutputFile string `json:"output_file"`
	RecordDB   bool   `json:"record_db"`
}

// Config is the full configuration file.
type Config struct {
	Trace    TraceConfig    `json:"trace_config"`
	System   SystemConfig   `json:"system_config"`
	QFetcher QFetcherConfig `json:"q_fetcher_config"`
	Output   OutputConfig   `json:"output_config"`
}

// Default returns a configuration with working learning parameters for a
// 4 KB page, 64 B line system. Trace and output locations still need to
// be filled in.
func Default() Config {
	return Config{
		System: SystemConfig{
			PageSizeBytes:      4096,
			CacheLineSizeBytes: 64,
		},
		QFetcher: QFetcherConfig{
			SignatureBits:        12,
			SignatureShift:       3,
			HistoryDepth:         4,
			ActionSet:            []int64{0, 1, -1, 2, -2, 4, -4, 8, -8},
			LearningRate:         0.5,
			Discount:             0.9,
			ExplorationRate:      0.05,
			ExplorationDecay:     1.0,
			RewardWindow:         64,
			EarlyWindow:          8,
			RewardHit:            16,
			RewardLate:           8,
			RewardMiss:           -1,
			ContextTableCapacity: 4096,
			QTableCapacity:       1 << 12,
			MaxPendingPerContext: 1,
			Seed:                 1,
		},
		Output: OutputConfig{
			OutputDir:  "out",
			OutputFile: "prefetches.txt",
			RecordDB:   true,
		},
	}
}

// Load reads a JSON configuration file over the defaults and then applies
// QFETCH_* environment overrides, loading a .env file first when one
// exists.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	// A missing .env file is fine; explicit environment variables still
	// apply.
	_ = godotenv.Load()

	if v := os.Getenv("QFETCH_TRACE_FILE"); v != "" {
		c.Trace.TraceFile = v
	}

	if v := os.Getenv("QFETCH_TRACE_DIR"); v != "" {
		c.Trace.TraceDir = v
	}

	if v := os.Getenv("QFETCH_OUTPUT_DIR"); v != "" {
		c.Output.OutputDir = v
	}

	if v := os.Getenv("QFETCH_OUTPUT_FILE"); v != "" {
		c.Output.OutputFile = v
	}

	if v := os.Getenv("QFETCH_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("QFETCH_SEED: %w", err)
		}
		c.QFetcher.Seed = seed
	}

	if v := os.Getenv("QFETCH_EXPLORATION_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("QFETCH_EXPLORATION_RATE: %w", err)
		}
		c.QFetcher.ExplorationRate = rate
	}

	return nil
}

// TracePath joins the trace directory and file name.
func (t TraceConfig) TracePath() string {
	return filepath.Join(t.TraceDir, t.TraceFile)
}

// PrefetchPath joins the output directory and the prefetch file name.
func (o OutputConfig) PrefetchPath() string {
	return filepath.Join(o.OutputDir, o.OutputFile)
}

// Validate checks every parameter range. All violations are fatal at
// startup; the engine never starts on a partially valid configuration.
func (c Config) Validate() error {
	if err := c.System.validate(); err != nil {
		return err
	}

	if err := c.QFetcher.validate(); err != nil {
		return err
	}

	maxDelta := int64(c.System.PageSizeBytes/c.System.CacheLineSizeBytes) - 1
	for _, delta := range c.QFetcher.ActionSet {
		if delta > maxDelta || delta < -maxDelta {
			return fmt.Errorf("action delta %d exceeds the page span [%d, %d]",
				delta, -maxDelta, maxDelta)
		}
	}

	return nil
}

func (s SystemConfig) validate() error {
	if s.PageSizeBytes == 0 || bits.OnesCount64(s.PageSizeBytes) != 1 {
		return fmt.Errorf(
			"page size must be a power of 2, given %d", s.PageSizeBytes)
	}

	if s.CacheLineSizeBytes == 0 ||
		bits.OnesCount64(s.CacheLineSizeBytes) != 1 {
		return fmt.Errorf("cache line size must be a power of 2, given %d",
			s.CacheLineSizeBytes)
	}

	if s.CacheLineSizeBytes >= s.PageSizeBytes {
		return fmt.Errorf(
			"cache line size %d must be smaller than page size %d",
			s.CacheLineSizeBytes, s.PageSizeBytes)
	}

	return nil
}

func (q QFetcherConfig) validate() error {
	if q.SignatureBits <= 1 || q.SignatureBits > 62 {
		return fmt.Errorf(
			"signature bits must be in [2, 62], given %d", q.SignatureBits)
	}

	if q.SignatureShift == 0 {
		return fmt.Errorf("signature shift must be positive")
	}

	if q.HistoryDepth <= 0 {
		return fmt.Errorf(
			"history depth must be positive, given %d", q.HistoryDepth)
	}

	if err := q.validateActionSet(); err != nil {
		return err
	}

	if q.LearningRate <= 0 || q.LearningRate > 1 {
		return fmt.Errorf(
			"learning rate must be in (0, 1], given %f", q.LearningRate)
	}

	if q.Discount < 0 || q.Discount >= 1 {
		return fmt.Errorf("discount must be in [0, 1), given %f", q.Discount)
	}

	if q.ExplorationRate < 0 || q.ExplorationRate > 1 {
		return fmt.Errorf("exploration rate must be in [0, 1], given %f",
			q.ExplorationRate)
	}

	if q.ExplorationDecay <= 0 || q.ExplorationDecay > 1 {
		return fmt.Errorf("exploration decay must be in (0, 1], given %f",
			q.ExplorationDecay)
	}

	if q.EarlyWindow > q.RewardWindow {
		return fmt.Errorf("early window %d must not exceed reward window %d",
			q.EarlyWindow, q.RewardWindow)
	}

	if q.ContextTableCapacity <= 0 {
		return fmt.Errorf("context table capacity must be positive, given %d",
			q.ContextTableCapacity)
	}

	if q.QTableCapacity < 0 {
		return fmt.Errorf("q-table capacity must not be negative, given %d",
			q.QTableCapacity)
	}

	if q.MaxPendingPerContext <= 0 {
		return fmt.Errorf(
			"max pending per context must be positive, given %d",
			q.MaxPendingPerContext)
	}

	return nil
}

func (q QFetcherConfig) validateActionSet() error {
	if len(q.ActionSet) == 0 {
		return fmt.Errorf("action set must not be empty")
	}

	seen := make(map[int64]bool)
	hasNoPrefetch := false

	for _, delta := range q.ActionSet {
		if seen[delta] {
			return fmt.Errorf("action set has duplicate delta %d", delta)
		}
		seen[delta] = true

		if delta == 0 {
			hasNoPrefetch = true
		}
	}

	if !hasNoPrefetch {
		return fmt.Errorf(
			"action set must contain the no-prefetch action (delta 0)")
	}

	return nil
}
