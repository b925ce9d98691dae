package vm

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// ConfigFileName is the file FindConfig looks for.
const ConfigFileName = "framehook.toml"

// Defaults used when framehook.toml is absent or leaves a value unset.
const (
	DefaultSwitchInterval = 5 * time.Millisecond
	DefaultPendingCalls   = 32
	DefaultRecursionLimit = 1000
	DefaultExtensionName  = "framehook_jit"
	DefaultHotThreshold   = 100
)

// Config represents a framehook.toml runtime configuration.
type Config struct {
	Runtime   RuntimeConfig   `toml:"runtime"`
	Extension ExtensionConfig `toml:"extension"`
	JIT       JITConfig       `toml:"jit"`
	Log       LogConfig       `toml:"log"`

	// Dir is the directory containing the framehook.toml file (set at load time).
	Dir string `toml:"-"`
}

// RuntimeConfig configures the global execution lock and interrupt queue.
type RuntimeConfig struct {
	SwitchInterval Duration `toml:"switch-interval"`
	PendingCalls   int      `toml:"pending-calls"`
	RecursionLimit int      `toml:"recursion-limit"`
}

// ExtensionConfig configures the extension installer.
type ExtensionConfig struct {
	Name       string   `toml:"name"`
	SearchPath []string `toml:"search-path"`
	Disabled   bool     `toml:"disabled"`
}

// JITConfig configures the tiering evaluator.
type JITConfig struct {
	HotThreshold uint64 `toml:"hot-threshold"`
	Background   bool   `toml:"background"`
}

// LogConfig configures commonlog output.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Duration is a time.Duration written as a string such as "5ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Runtime.SwitchInterval.Duration <= 0 {
		c.Runtime.SwitchInterval.Duration = DefaultSwitchInterval
	}
	if c.Runtime.PendingCalls <= 0 {
		c.Runtime.PendingCalls = DefaultPendingCalls
	}
	if c.Runtime.RecursionLimit <= 0 {
		c.Runtime.RecursionLimit = DefaultRecursionLimit
	}
	if c.Extension.Name == "" {
		c.Extension.Name = DefaultExtensionName
	}
	if len(c.Extension.SearchPath) == 0 {
		c.Extension.SearchPath = []string{"."}
	}
	if c.JIT.HotThreshold == 0 {
		c.JIT.HotThreshold = DefaultHotThreshold
	}
}

// LoadConfig parses a framehook.toml file from the given directory.
func LoadConfig(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// ParseConfig decodes TOML configuration data and fills in defaults.
func ParseConfig(data []byte) (*Config, error) {
	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return &c, nil
}

// FindConfig walks up from startDir to find a framehook.toml file, then
// loads it. Returns DefaultConfig if no file is found.
func FindConfig(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(path); err == nil {
			return LoadConfig(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return DefaultConfig(), nil
		}
		dir = parent
	}
}

// SearchPaths returns the extension search path resolved against the
// config file's directory.
func (c *Config) SearchPaths() []string {
	paths := make([]string, 0, len(c.Extension.SearchPath))
	for _, p := range c.Extension.SearchPath {
		if !filepath.IsAbs(p) && c.Dir != "" {
			p = filepath.Join(c.Dir, p)
		}
		paths = append(paths, p)
	}
	return paths
}
