// Package latency provides timing parameters for cycle-accurate simulation
// of the memory system.
package latency

import (
	"encoding/json"
	"fmt"
	"os"
)

// TimingConfig holds latency values for the memory system. The defaults
// model a single-cycle private cache in front of a 100-cycle main memory.
type TimingConfig struct {
	// CacheHitLatency is the number of cycles one cache tag access takes,
	// for both reads and writes. Default: 1 cycle.
	CacheHitLatency uint64 `json:"cache_hit_latency"`

	// MemoryLatency is the number of cycles one main-memory transaction
	// takes, for both fetches and writebacks. Default: 100 cycles.
	MemoryLatency uint64 `json:"memory_latency"`

	// WordSize is the number of bytes carried by one bus update message.
	// Default: 4 bytes.
	WordSize uint64 `json:"word_size"`
}

// DefaultTimingConfig returns the default timing values.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		CacheHitLatency: 1,
		MemoryLatency:   100,
		WordSize:        4,
	}
}

// LoadConfig loads timing configuration from a JSON file. Fields not set
// in the file keep their default values.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config %s: %w", path, err)
	}

	if config.CacheHitLatency == 0 {
		return nil, fmt.Errorf("timing config %s: cache_hit_latency must be positive", path)
	}
	if config.MemoryLatency == 0 {
		return nil, fmt.Errorf("timing config %s: memory_latency must be positive", path)
	}
	if config.WordSize == 0 {
		return nil, fmt.Errorf("timing config %s: word_size must be positive", path)
	}

	return config, nil
}
