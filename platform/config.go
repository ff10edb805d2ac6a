// Package platform assembles cores, private L1 caches, a shared L2 and an
// ideal memory into a runnable coherence simulation.
package platform

import (
	"fmt"
	"math/bits"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/coherence/mem/coherence/protocol"
	"github.com/sarchlab/coherence/mem/frontend"
)

// Shared cache organizations.
const (
	SharedInclusive = "inclusive"
	SharedDirectory = "directory"
)

// CacheConfig describes one level of cache.
type CacheConfig struct {
	// NumLines is the number of lines, or of directory entries for a
	// directory cache.
	NumLines int `yaml:"num_lines"`

	Ways int `yaml:"ways"`

	// DataLines and DataWays size the data array of a directory cache.
	DataLines int `yaml:"data_lines,omitempty"`
	DataWays  int `yaml:"data_ways,omitempty"`

	// Policy is one of lru, lfu, mru, nmru and random.
	Policy string `yaml:"policy"`

	MSHR        int `yaml:"mshr"`
	MSHRReserve int `yaml:"mshr_reserve"`

	AccessLatency uint64 `yaml:"access_latency"`
	TagLatency    uint64 `yaml:"tag_latency"`
	MSHRLatency   uint64 `yaml:"mshr_latency"`
}

// CoreConfig describes how cores issue their records.
type CoreConfig struct {
	Width          int    `yaml:"width"`
	MaxOutstanding int    `yaml:"max_outstanding"`
	BackoffBase    uint64 `yaml:"backoff_base"`
}

// WorkloadConfig selects what the cores run. When Traces is set, core i
// reads Traces[i]. Otherwise every core runs the synthetic Pattern.
type WorkloadConfig struct {
	Traces []string `yaml:"traces,omitempty"`

	Pattern     string  `yaml:"pattern"`
	NumAccesses int     `yaml:"num_accesses"`
	BaseAddr    uint64  `yaml:"base_addr"`
	NumLines    int     `yaml:"num_lines"`
	AccessSize  int     `yaml:"access_size"`
	WriteRatio  float64 `yaml:"write_ratio"`
}

// VMConfig describes the address translation of the cores. Each core runs
// its own process.
type VMConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Log2PageSize uint64 `yaml:"log2_page_size"`
	NumFrames    uint64 `yaml:"num_frames"`

	// AutoMap maps pages on first touch. Synthetic workloads need it since
	// they never allocate.
	AutoMap bool `yaml:"auto_map"`
}

// Config describes a whole platform.
type Config struct {
	NumCores int `yaml:"num_cores"`

	// Protocol is mesi, msi or incoherent.
	Protocol string `yaml:"protocol"`

	// SharedCache is inclusive or directory.
	SharedCache string `yaml:"shared_cache"`

	FreqGHz       float64 `yaml:"freq_ghz"`
	LineSize      int     `yaml:"line_size"`
	ConnLatency   int     `yaml:"conn_latency"`
	MemoryLatency int     `yaml:"memory_latency"`

	L1 CacheConfig `yaml:"l1"`
	L2 CacheConfig `yaml:"l2"`

	Core     CoreConfig     `yaml:"core"`
	Workload WorkloadConfig `yaml:"workload"`
	VM       VMConfig       `yaml:"vm"`

	WritebackAcks    bool  `yaml:"writeback_acks"`
	FatalOnUnmatched bool  `yaml:"fatal_on_unmatched"`
	Seed             int64 `yaml:"seed"`

	// TraceLog prints every transaction of the caches. LogEvents prints
	// every event the engine handles.
	TraceLog  bool `yaml:"trace_log"`
	LogEvents bool `yaml:"log_events"`
}

// DefaultConfig returns a 4-core MESI platform with 32KB 8-way L1s, a 256KB
// 16-way inclusive L2 and a false sharing workload.
func DefaultConfig() *Config {
	return &Config{
		NumCores:      4,
		Protocol:      "mesi",
		SharedCache:   SharedInclusive,
		FreqGHz:       1,
		LineSize:      64,
		ConnLatency:   1,
		MemoryLatency: 100,
		L1: CacheConfig{
			NumLines:      512,
			Ways:          8,
			Policy:        "lru",
			MSHR:          16,
			MSHRReserve:   2,
			AccessLatency: 2,
			TagLatency:    1,
			MSHRLatency:   1,
		},
		L2: CacheConfig{
			NumLines:      4096,
			Ways:          16,
			DataLines:     2048,
			DataWays:      16,
			Policy:        "lru",
			MSHR:          64,
			MSHRReserve:   4,
			AccessLatency: 10,
			TagLatency:    2,
			MSHRLatency:   1,
		},
		Core: CoreConfig{
			Width:          1,
			MaxOutstanding: 4,
			BackoffBase:    4,
		},
		Workload: WorkloadConfig{
			Pattern:     frontend.PatternFalseSharing,
			NumAccesses: 1000,
			BaseAddr:    0x100000,
			NumLines:    16,
			AccessSize:  8,
			WriteRatio:  0.5,
		},
		VM: VMConfig{
			Log2PageSize: 12,
			NumFrames:    1 << 16,
			AutoMap:      true,
		},
	}
}

// LoadConfig loads a Config from a YAML file. Fields missing from the file
// keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read platform config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse platform config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid platform config %s: %w", path, err)
	}

	return config, nil
}

// SaveConfig writes the Config to a YAML file.
func (c *Config) SaveConfig(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize platform config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write platform config file: %w", err)
	}

	return nil
}

// Validate checks that the Config describes a platform that can be built.
func (c *Config) Validate() error {
	p, err := c.protocol()
	if err != nil {
		return err
	}

	if c.NumCores <= 0 {
		return fmt.Errorf("num_cores must be > 0")
	}

	if c.FreqGHz <= 0 {
		return fmt.Errorf("freq_ghz must be > 0")
	}

	if c.LineSize <= 0 || bits.OnesCount(uint(c.LineSize)) != 1 {
		return fmt.Errorf("line_size must be a power of 2")
	}

	switch c.SharedCache {
	case SharedInclusive:
	case SharedDirectory:
		if p != protocol.MESI {
			return fmt.Errorf("a directory shared cache requires mesi")
		}

		if c.L2.DataLines <= 0 || c.L2.DataWays <= 0 {
			return fmt.Errorf("l2 data_lines and data_ways must be > 0")
		}
	default:
		return fmt.Errorf("unknown shared_cache %q", c.SharedCache)
	}

	if err := c.L1.validate("l1"); err != nil {
		return err
	}

	if err := c.L2.validate("l2"); err != nil {
		return err
	}

	if c.Core.Width <= 0 || c.Core.MaxOutstanding <= 0 {
		return fmt.Errorf("core width and max_outstanding must be > 0")
	}

	return c.validateWorkload()
}

func (c *Config) validateWorkload() error {
	if len(c.Workload.Traces) > 0 {
		if len(c.Workload.Traces) != c.NumCores {
			return fmt.Errorf("%d traces given for %d cores",
				len(c.Workload.Traces), c.NumCores)
		}

		return nil
	}

	if c.VM.Enabled && !c.VM.AutoMap {
		return fmt.Errorf("synthetic workloads require vm auto_map")
	}

	_, err := frontend.NewGenerator(c.generatorConfig(0))

	return err
}

func (c CacheConfig) validate(name string) error {
	if c.NumLines <= 0 || c.Ways <= 0 || c.NumLines%c.Ways != 0 {
		return fmt.Errorf("%s num_lines must be a positive multiple of ways",
			name)
	}

	if c.MSHR <= 0 || c.MSHRReserve < 0 || c.MSHRReserve >= c.MSHR {
		return fmt.Errorf("%s mshr must be > mshr_reserve >= 0", name)
	}

	return nil
}

func (c *Config) protocol() (protocol.Protocol, error) {
	return protocol.ParseProtocol(c.Protocol)
}

func (c *Config) log2LineSize() int {
	return bits.TrailingZeros(uint(c.LineSize))
}

func (c *Config) generatorConfig(core int) frontend.GeneratorConfig {
	return frontend.GeneratorConfig{
		Pattern:     c.Workload.Pattern,
		CoreIndex:   core,
		NumAccesses: c.Workload.NumAccesses,
		BaseAddr:    c.Workload.BaseAddr,
		LineSize:    c.LineSize,
		NumLines:    c.Workload.NumLines,
		AccessSize:  c.Workload.AccessSize,
		WriteRatio:  c.Workload.WriteRatio,
		Seed:        c.Seed,
	}
}
