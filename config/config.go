// Package config handles perlcore.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/fglock/perlcore/vm"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "perlcore.toml"

// Config represents a perlcore.toml file.
type Config struct {
	Runtime Runtime `toml:"runtime"`
	Pragmas Pragmas `toml:"pragmas"`
	Cache   Cache   `toml:"cache"`
	Log     Log     `toml:"log"`

	// Dir is the directory containing the perlcore.toml file (set at load
	// time, empty for defaults).
	Dir string `toml:"-"`
}

// Runtime bounds execution and compilation.
type Runtime struct {
	MaxDepth     int  `toml:"max_depth"`
	MaxRegisters int  `toml:"max_registers"`
	VerifyUnits  bool `toml:"verify_units"`
}

// Pragmas are the lexical pragmas in effect at the top of every program.
type Pragmas struct {
	Strict   bool     `toml:"strict"`
	Warnings bool     `toml:"warnings"`
	Features []string `toml:"features"`
}

// Cache configures the compiled-unit cache.
type Cache struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Runtime: Runtime{
			MaxDepth:     vm.DefaultMaxDepth,
			MaxRegisters: 65535,
			VerifyUnits:  true,
		},
		Pragmas: Pragmas{Features: []string{"say"}},
		Cache:   Cache{Path: ".perlcore-cache.db"},
	}
}

// Load parses a perlcore.toml file from the given directory. Keys missing
// from the file keep their defaults.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s in %s", undecoded[0], path)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a perlcore.toml file, then
// loads it. It returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

func (c *Config) validate() error {
	if c.Runtime.MaxDepth < 0 {
		return fmt.Errorf("runtime.max_depth must not be negative")
	}
	if c.Runtime.MaxRegisters < vm.RegFirst+1 || c.Runtime.MaxRegisters > 65535 {
		return fmt.Errorf("runtime.max_registers must be between %d and 65535", vm.RegFirst+1)
	}
	return nil
}

// VMPragmas converts the configured pragmas to the snapshot compiled into
// units.
func (c *Config) VMPragmas() vm.Pragmas {
	return vm.Pragmas{
		Strict:   c.Pragmas.Strict,
		Warnings: c.Pragmas.Warnings,
		Features: append([]string(nil), c.Pragmas.Features...),
	}
}

// CachePath returns the cache database path, resolved against the config
// directory when relative.
func (c *Config) CachePath() string {
	if filepath.IsAbs(c.Cache.Path) || c.Dir == "" {
		return c.Cache.Path
	}
	return filepath.Join(c.Dir, c.Cache.Path)
}
