package overlay

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentConfigVersion is the latest EngineConfig schema version. Bump this
// when adding fields that require migration.
const CurrentConfigVersion = 1

// EngineConfig carries every tunable constant spec.md marks as
// "implementation may parameterise" (I6 children caps, timer intervals,
// cache sizes, retry budgets). All durations are stored in milliseconds on
// the wire/YAML form and converted to time.Duration by the accessor
// methods below.
type EngineConfig struct {
	Version int `yaml:"version,omitempty"`

	MaxHostChildren int `yaml:"max_host_children,omitempty"`
	MaxNodeChildren int `yaml:"max_node_children,omitempty"`
	MaxCousins      int `yaml:"max_cousins,omitempty"`

	RainIntervalMS          int `yaml:"rain_interval_ms,omitempty"`
	SubtreeStatusIntervalMS int `yaml:"subtree_status_interval_ms,omitempty"`
	StallThresholdMS        int `yaml:"stall_threshold_ms,omitempty"`
	PatchToRebindMS         int `yaml:"patch_to_rebind_ms,omitempty"`
	RebindJitterMaxMS       int `yaml:"rebind_jitter_max_ms,omitempty"`
	AckTimeoutMS            int `yaml:"ack_timeout_ms,omitempty"`
	TickIntervalMS          int `yaml:"tick_interval_ms,omitempty"`

	HostEventCacheSize int `yaml:"host_event_cache_size,omitempty"`
	NodeEventCacheSize int `yaml:"node_event_cache_size,omitempty"`
	DedupSetMax        int `yaml:"dedup_set_max,omitempty"`

	MaxAttachAttempts int `yaml:"max_attach_attempts,omitempty"`
	MaxRedirectDepth  int `yaml:"max_redirect_depth,omitempty"`

	RateLimitWindowMS    int `yaml:"rate_limit_window_ms,omitempty"`
	RateLimitMaxAttempts int `yaml:"rate_limit_max_attempts,omitempty"`
	RateLimitSweepMS     int `yaml:"rate_limit_sweep_ms,omitempty"`
}

// DefaultEngineConfig returns the constants named throughout spec.md §3-§8.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Version:                 CurrentConfigVersion,
		MaxHostChildren:         5,
		MaxNodeChildren:         3,
		MaxCousins:              2,
		RainIntervalMS:          1000,
		SubtreeStatusIntervalMS: 5000,
		StallThresholdMS:        3000,
		PatchToRebindMS:         60000,
		RebindJitterMaxMS:       10000,
		AckTimeoutMS:            10000,
		TickIntervalMS:          1000,
		HostEventCacheSize:      100,
		NodeEventCacheSize:      20,
		DedupSetMax:             100,
		MaxAttachAttempts:       10,
		MaxRedirectDepth:        5,
		RateLimitWindowMS:       10000,
		RateLimitMaxAttempts:    5,
		RateLimitSweepMS:        30000,
	}
}

// applyDefaults fills any zero-valued field with the library default,
// following internal/config's loader convention of defaulting unset YAML
// fields rather than leaving them at Go's zero value.
func (c *EngineConfig) applyDefaults() {
	d := DefaultEngineConfig()
	if c.Version == 0 {
		c.Version = d.Version
	}
	if c.MaxHostChildren == 0 {
		c.MaxHostChildren = d.MaxHostChildren
	}
	if c.MaxNodeChildren == 0 {
		c.MaxNodeChildren = d.MaxNodeChildren
	}
	if c.MaxCousins == 0 {
		c.MaxCousins = d.MaxCousins
	}
	if c.RainIntervalMS == 0 {
		c.RainIntervalMS = d.RainIntervalMS
	}
	if c.SubtreeStatusIntervalMS == 0 {
		c.SubtreeStatusIntervalMS = d.SubtreeStatusIntervalMS
	}
	if c.StallThresholdMS == 0 {
		c.StallThresholdMS = d.StallThresholdMS
	}
	if c.PatchToRebindMS == 0 {
		c.PatchToRebindMS = d.PatchToRebindMS
	}
	if c.RebindJitterMaxMS == 0 {
		c.RebindJitterMaxMS = d.RebindJitterMaxMS
	}
	if c.AckTimeoutMS == 0 {
		c.AckTimeoutMS = d.AckTimeoutMS
	}
	if c.TickIntervalMS == 0 {
		c.TickIntervalMS = d.TickIntervalMS
	}
	if c.HostEventCacheSize == 0 {
		c.HostEventCacheSize = d.HostEventCacheSize
	}
	// NodeEventCacheSize may legitimately be configured to 0 (spec.md §3:
	// "configurable ≥ 0"), so it is not defaulted here.
	if c.DedupSetMax == 0 {
		c.DedupSetMax = d.DedupSetMax
	}
	if c.MaxAttachAttempts == 0 {
		c.MaxAttachAttempts = d.MaxAttachAttempts
	}
	if c.MaxRedirectDepth == 0 {
		c.MaxRedirectDepth = d.MaxRedirectDepth
	}
	if c.RateLimitWindowMS == 0 {
		c.RateLimitWindowMS = d.RateLimitWindowMS
	}
	if c.RateLimitMaxAttempts == 0 {
		c.RateLimitMaxAttempts = d.RateLimitMaxAttempts
	}
	if c.RateLimitSweepMS == 0 {
		c.RateLimitSweepMS = d.RateLimitSweepMS
	}
}

// LoadEngineConfig reads and parses a YAML engine config file, defaulting
// any field left unset.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engine config %s: %w", path, err)
	}
	// Start from the defaults so a field absent from the file keeps its
	// default, while an explicit node_event_cache_size: 0 stays 0.
	cfg := *DefaultEngineConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse engine config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *EngineConfig) rainInterval() time.Duration          { return time.Duration(c.RainIntervalMS) * time.Millisecond }
func (c *EngineConfig) subtreeStatusInterval() time.Duration { return time.Duration(c.SubtreeStatusIntervalMS) * time.Millisecond }
func (c *EngineConfig) stallThreshold() time.Duration        { return time.Duration(c.StallThresholdMS) * time.Millisecond }
func (c *EngineConfig) patchToRebind() time.Duration         { return time.Duration(c.PatchToRebindMS) * time.Millisecond }
func (c *EngineConfig) rebindJitterMax() time.Duration       { return time.Duration(c.RebindJitterMaxMS) * time.Millisecond }
func (c *EngineConfig) ackTimeout() time.Duration            { return time.Duration(c.AckTimeoutMS) * time.Millisecond }
func (c *EngineConfig) tickInterval() time.Duration          { return time.Duration(c.TickIntervalMS) * time.Millisecond }
func (c *EngineConfig) rateLimitWindow() time.Duration       { return time.Duration(c.RateLimitWindowMS) * time.Millisecond }
func (c *EngineConfig) rateLimitSweep() time.Duration        { return time.Duration(c.RateLimitSweepMS) * time.Millisecond }
