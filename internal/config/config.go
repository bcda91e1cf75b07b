// Package config holds the runtime configuration described in spec §6,
// loadable from defaults, YAML (the pack's preferred config format — see
// _examples/oriys-nova/internal/config and _examples/pithecene-io-quarry),
// or environment variables.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig is the init-time configuration for the panel runtime core.
type RuntimeConfig struct {
	MaxInstances        int    `yaml:"max_instances"`
	MemoryLimitBytes    int64  `yaml:"memory_limit_bytes"`
	StackSizeBytes      int64  `yaml:"stack_size_bytes"`
	ExecutionTimeoutMs  int64  `yaml:"execution_timeout_ms"`
	SuspensionTimeoutMs int64  `yaml:"suspension_timeout_ms"`
	CacheDir            string `yaml:"cache_dir"` // empty disables the disk tier
	MaxCacheBytes       int64  `yaml:"max_cache_bytes"`
	MaxDiskCacheEntries int    `yaml:"max_disk_cache_entries"`

	// Feature toggles, pass-through to the underlying engine where meaningful.
	AOTEnabled bool `yaml:"aot_enabled"`
	SIMD       bool `yaml:"simd"`
	BulkMemory bool `yaml:"bulk_memory"`
}

const (
	minMemoryLimitBytes = 1 << 20  // 1 MiB
	minStackSizeBytes   = 64 << 10 // 64 KiB
)

// Default returns the configuration documented in spec §6.
func Default() RuntimeConfig {
	return RuntimeConfig{
		MaxInstances:        10,
		MemoryLimitBytes:    32 << 20,
		StackSizeBytes:      1 << 20,
		ExecutionTimeoutMs:  5000,
		SuspensionTimeoutMs: 15000,
		CacheDir:            "",
		MaxCacheBytes:       64 << 20,
		MaxDiskCacheEntries: 1000,
		AOTEnabled:          false,
		SIMD:                false,
		BulkMemory:          false,
	}
}

// Validate enforces the documented minimums. It mutates nothing; callers
// apply defaults for zero-valued fields before calling Validate if desired,
// via ApplyDefaults.
func (c RuntimeConfig) Validate() error {
	if c.MaxInstances < 1 {
		return fmt.Errorf("config: max_instances must be >= 1, got %d", c.MaxInstances)
	}
	if c.MemoryLimitBytes < minMemoryLimitBytes {
		return fmt.Errorf("config: memory_limit_bytes must be >= %d, got %d", minMemoryLimitBytes, c.MemoryLimitBytes)
	}
	if c.StackSizeBytes < minStackSizeBytes {
		return fmt.Errorf("config: stack_size_bytes must be >= %d, got %d", minStackSizeBytes, c.StackSizeBytes)
	}
	if c.ExecutionTimeoutMs <= 0 {
		return fmt.Errorf("config: execution_timeout_ms must be > 0, got %d", c.ExecutionTimeoutMs)
	}
	if c.SuspensionTimeoutMs <= 0 {
		return fmt.Errorf("config: suspension_timeout_ms must be > 0, got %d", c.SuspensionTimeoutMs)
	}
	if c.MaxCacheBytes <= 0 {
		return fmt.Errorf("config: max_cache_bytes must be > 0, got %d", c.MaxCacheBytes)
	}
	if c.MaxDiskCacheEntries < 0 {
		return fmt.Errorf("config: max_disk_cache_entries must be >= 0, got %d", c.MaxDiskCacheEntries)
	}
	return nil
}

// ApplyDefaults fills zero-valued numeric fields with spec defaults, leaving
// explicitly-set fields (including CacheDir="" meaning "disk tier disabled")
// untouched.
func (c RuntimeConfig) ApplyDefaults() RuntimeConfig {
	d := Default()
	if c.MaxInstances == 0 {
		c.MaxInstances = d.MaxInstances
	}
	if c.MemoryLimitBytes == 0 {
		c.MemoryLimitBytes = d.MemoryLimitBytes
	}
	if c.StackSizeBytes == 0 {
		c.StackSizeBytes = d.StackSizeBytes
	}
	if c.ExecutionTimeoutMs == 0 {
		c.ExecutionTimeoutMs = d.ExecutionTimeoutMs
	}
	if c.SuspensionTimeoutMs == 0 {
		c.SuspensionTimeoutMs = d.SuspensionTimeoutMs
	}
	if c.MaxCacheBytes == 0 {
		c.MaxCacheBytes = d.MaxCacheBytes
	}
	if c.MaxDiskCacheEntries == 0 {
		c.MaxDiskCacheEntries = d.MaxDiskCacheEntries
	}
	return c
}

// FromYAML reads and validates a RuntimeConfig from YAML, layering it over
// defaults for any field the document omits.
func FromYAML(r io.Reader) (RuntimeConfig, error) {
	var c RuntimeConfig
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&c); err != nil && err != io.EOF {
		return RuntimeConfig{}, fmt.Errorf("config: decode yaml: %w", err)
	}
	c = c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return RuntimeConfig{}, err
	}
	return c, nil
}

// envPrefix is the environment-variable namespace a host may optionally map
// onto RuntimeConfig; spec §6 notes no env vars are required, this is a
// convenience a host may opt into.
const envPrefix = "NEXUS_"

// FromEnv layers NEXUS_* environment variables over the defaults.
func FromEnv() (RuntimeConfig, error) {
	c := Default()
	if v := os.Getenv(envPrefix + "MAX_INSTANCES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return RuntimeConfig{}, fmt.Errorf("config: %sMAX_INSTANCES: %w", envPrefix, err)
		}
		c.MaxInstances = n
	}
	if v := os.Getenv(envPrefix + "MEMORY_LIMIT_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return RuntimeConfig{}, fmt.Errorf("config: %sMEMORY_LIMIT_BYTES: %w", envPrefix, err)
		}
		c.MemoryLimitBytes = n
	}
	if v := os.Getenv(envPrefix + "STACK_SIZE_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return RuntimeConfig{}, fmt.Errorf("config: %sSTACK_SIZE_BYTES: %w", envPrefix, err)
		}
		c.StackSizeBytes = n
	}
	if v := os.Getenv(envPrefix + "EXECUTION_TIMEOUT_MS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return RuntimeConfig{}, fmt.Errorf("config: %sEXECUTION_TIMEOUT_MS: %w", envPrefix, err)
		}
		c.ExecutionTimeoutMs = n
	}
	if v := os.Getenv(envPrefix + "SUSPENSION_TIMEOUT_MS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return RuntimeConfig{}, fmt.Errorf("config: %sSUSPENSION_TIMEOUT_MS: %w", envPrefix, err)
		}
		c.SuspensionTimeoutMs = n
	}
	if v := os.Getenv(envPrefix + "CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv(envPrefix + "MAX_CACHE_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return RuntimeConfig{}, fmt.Errorf("config: %sMAX_CACHE_BYTES: %w", envPrefix, err)
		}
		c.MaxCacheBytes = n
	}
	if err := c.Validate(); err != nil {
		return RuntimeConfig{}, err
	}
	return c, nil
}
