// Package config loads pycfg's settings from .pycfg.toml/.pycfg.yaml
// or the [tool.pycfg] table of pyproject.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// Config holds the lowering and output options.
type Config struct {
	Output   OutputConfig   `mapstructure:"output"`
	Lowering LoweringConfig `mapstructure:"lowering"`
	Files    FilesConfig    `mapstructure:"files"`
}

// OutputConfig controls how graphs are rendered.
type OutputConfig struct {
	// Format is one of "text", "dot", or "yaml".
	Format string `mapstructure:"format"`

	// ShowLabels includes block debug labels in dumps.
	ShowLabels bool `mapstructure:"show_labels"`
}

// LoweringConfig controls the CFG pass.
type LoweringConfig struct {
	// CheckNames turns on the temporary-name collision audit.
	CheckNames bool `mapstructure:"check_names"`
}

// FilesConfig controls file collection.
type FilesConfig struct {
	IncludePatterns []string `mapstructure:"include"`
	ExcludePatterns []string `mapstructure:"exclude"`
	Recursive       bool     `mapstructure:"recursive"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Output: OutputConfig{
			Format:     "text",
			ShowLabels: true,
		},
		Files: FilesConfig{
			Recursive: true,
		},
	}
}

// Load finds and loads the configuration starting from startDir. Search
// order: .pycfg.toml, .pycfg.yaml, then [tool.pycfg] in pyproject.toml,
// walking up the directory tree. Missing configuration is not an error;
// defaults apply.
func Load(startDir string) (*Config, error) {
	cfg := Default()

	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}

	for {
		for _, name := range []string{".pycfg.toml", ".pycfg.yaml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				if err := loadViperFile(path, cfg); err != nil {
					return nil, err
				}
				return cfg, nil
			}
		}
		if path := filepath.Join(dir, "pyproject.toml"); fileExists(path) {
			found, err := loadPyprojectTable(path, cfg)
			if err != nil {
				return nil, err
			}
			if found {
				return cfg, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return cfg, nil
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func loadViperFile(path string, cfg *Config) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// pyprojectFile models the slice of pyproject.toml we care about.
type pyprojectFile struct {
	Tool struct {
		Pycfg map[string]interface{} `toml:"pycfg"`
	} `toml:"tool"`
}

// loadPyprojectTable extracts [tool.pycfg] from pyproject.toml. Returns
// whether the table was present.
func loadPyprojectTable(path string, cfg *Config) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var parsed pyprojectFile
	if err := toml.Unmarshal(data, &parsed); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(parsed.Tool.Pycfg) == 0 {
		return false, nil
	}

	v := viper.New()
	if err := v.MergeConfigMap(parsed.Tool.Pycfg); err != nil {
		return false, fmt.Errorf("failed to merge %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return false, fmt.Errorf("failed to parse [tool.pycfg] in %s: %w", path, err)
	}
	return true, nil
}
