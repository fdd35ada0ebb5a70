package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/brettbedarf/bootvfs/internal/util"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// CLI verbosity values accepted by ConfigOverride.LogLvl. They run the other
// way round from util.LogLevel: a higher verbosity logs more.
const (
	ErrorVerbose = iota + 1
	WarnVerbose
	InfoVerbose
	DebugVerbose
	TraceVerbose
)

// Default configuration constants. See [Config] for field descriptions.
const (
	DefaultLogLvl = util.InfoLevel

	// DefaultPhysBlocksize is the block size a volume starts with until the
	// driver discovers the real one.
	DefaultPhysBlocksize = 512

	// DefaultLogBlocksize is the logical (file data) block size a volume
	// starts with.
	DefaultLogBlocksize = 512

	// DefaultMaxSymlinkDepth bounds symlink resolution, matching Linux's
	// MAXSYMLINKS.
	DefaultMaxSymlinkDepth = 40

	// DefaultMaxPathLen is the largest symlink target read from node data.
	DefaultMaxPathLen = 4096

	// DefaultHostEncoding is the string encoding hosts use when none is given.
	DefaultHostEncoding = "utf-16"

	// DefaultAttrTimeout is the FUSE attribute cache timeout in seconds
	DefaultAttrTimeout = 1.0

	// DefaultEntryTimeout is the FUSE directory entry cache timeout in seconds
	DefaultEntryTimeout = 1.0

	DefaultFsName = "bootvfs"
	DefaultName   = "bootvfs"
)

// Config contains runtime configuration values for mounted volumes.
type Config struct {
	MountOptions
	LogLvl          util.LogLevel // Internal log level (Default Info)
	PhysBlocksize   uint32        // Initial physical block size of a volume (Default 512)
	LogBlocksize    uint32        // Initial logical block size of a volume (Default 512)
	MaxSymlinkDepth int           // Maximum symlinks followed by one resolve (Default 40)
	MaxPathLen      int           // Maximum symlink target size read from node data (Default 4096)
	HostEncoding    string        // Native string encoding of the host: iso-8859-1, utf-8 or utf-16 (Default utf-16)
	AttrTimeout     float64       // FUSE attribute cache timeout in seconds (Default 1.0)
	EntryTimeout    float64       // FUSE directory entry cache timeout in seconds (Default 1.0)
}

// ConfigOverride uses pointer fields to distinguish between unset and zero values
// when loading partial configuration. See [Config] for field descriptions.
type ConfigOverride struct {
	LogLvl          *int     `yaml:"log_lvl,omitempty" json:"log_lvl,omitempty"` // CLI verbosity 1 (error) to 5 (trace)
	PhysBlocksize   *uint32  `yaml:"phys_blocksize,omitempty" json:"phys_blocksize,omitempty"`
	LogBlocksize    *uint32  `yaml:"log_blocksize,omitempty" json:"log_blocksize,omitempty"`
	MaxSymlinkDepth *int     `yaml:"max_symlink_depth,omitempty" json:"max_symlink_depth,omitempty"`
	MaxPathLen      *int     `yaml:"max_path_len,omitempty" json:"max_path_len,omitempty"`
	HostEncoding    *string  `yaml:"host_encoding,omitempty" json:"host_encoding,omitempty"`
	AttrTimeout     *float64 `yaml:"attr_timeout,omitempty" json:"attr_timeout,omitempty"`
	EntryTimeout    *float64 `yaml:"entry_timeout,omitempty" json:"entry_timeout,omitempty"`
	FsName          *string  `yaml:"fs_name,omitempty" json:"fs_name,omitempty"`
	Name            *string  `yaml:"name,omitempty" json:"name,omitempty"`
	Debug           *bool    `yaml:"debug,omitempty" json:"debug,omitempty"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		MountOptions: MountOptions{
			FsName: DefaultFsName,
			Name:   DefaultName,
		},
		LogLvl:          DefaultLogLvl,
		PhysBlocksize:   DefaultPhysBlocksize,
		LogBlocksize:    DefaultLogBlocksize,
		MaxSymlinkDepth: DefaultMaxSymlinkDepth,
		MaxPathLen:      DefaultMaxPathLen,
		HostEncoding:    DefaultHostEncoding,
		AttrTimeout:     DefaultAttrTimeout,
		EntryTimeout:    DefaultEntryTimeout,
	}
}

// NewConfig returns the defaults with override applied. A nil override
// yields the defaults.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.LogLvl != nil {
		c.LogLvl = VerbosityToLogLevel(*override.LogLvl)
	}
	if override.PhysBlocksize != nil {
		c.PhysBlocksize = *override.PhysBlocksize
	}
	if override.LogBlocksize != nil {
		c.LogBlocksize = *override.LogBlocksize
	}
	if override.MaxSymlinkDepth != nil {
		c.MaxSymlinkDepth = *override.MaxSymlinkDepth
	}
	if override.MaxPathLen != nil {
		c.MaxPathLen = *override.MaxPathLen
	}
	if override.HostEncoding != nil {
		c.HostEncoding = *override.HostEncoding
	}
	if override.AttrTimeout != nil {
		c.AttrTimeout = *override.AttrTimeout
	}
	if override.EntryTimeout != nil {
		c.EntryTimeout = *override.EntryTimeout
	}
	if override.FsName != nil {
		c.FsName = *override.FsName
	}
	if override.Name != nil {
		c.Name = *override.Name
	}
	if override.Debug != nil {
		c.Debug = *override.Debug
	}
}

// VerbosityToLogLevel converts a CLI verbosity (1 error .. 5 trace) into a
// util.LogLevel, clamping out of range values.
func VerbosityToLogLevel(verbose int) util.LogLevel {
	verbose = max(ErrorVerbose, min(verbose, TraceVerbose))
	logLvls := [5]util.LogLevel{util.ErrorLevel, util.WarnLevel, util.InfoLevel, util.DebugLevel, util.TraceLevel}
	return logLvls[verbose-1]
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports YAML (.yaml, .yml), JSON (.json) and JSON with comments (.jsonc).
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	// Determine format by file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
// This is a convenience function that combines NewDefaultConfig, LoadConfigOverrideFile, and Merge.
func NewConfigFromFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	cfg.Merge(override)
	return cfg, nil
}
