// Package config loads pager tuning settings from JSONC files, layered the
// same way the teacher CLI layers its own config: built-in defaults, then a
// global user file, then a project file, then explicit caller overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/pagecache/pager"
)

// Config holds the subset of a Pager's construction parameters that makes
// sense to externalize: its memory limits and the generation rotation
// period SPEC_FULL.md's MODULE ADDITIONS introduced.
type Config struct {
	GlobalHardBytes uint64 `json:"global_hard_bytes,omitempty"`
	GlobalSoftBytes uint64 `json:"global_soft_bytes,omitempty"`
	SelfHardBytes   uint64 `json:"self_hard_bytes,omitempty"`
	SelfSoftBytes   uint64 `json:"self_soft_bytes,omitempty"`
	RotationPeriod  uint64 `json:"rotation_period,omitempty"`
}

// FileName is the default project config file name.
const FileName = ".pagecache.json"

var (
	errConfigFileNotFound = errors.New("config: file not found")
	errConfigFileRead     = errors.New("config: cannot read file")
	errConfigInvalid      = errors.New("config: invalid file")
	errLimitsIncomplete   = errors.New("config: self_hard_bytes and self_soft_bytes must both be set")
)

// Default returns the zero-tuning configuration: no limits set (the caller
// must supply them) and the default rotation period.
func Default() Config {
	return Config{}
}

// Sources tracks which files a Load call actually read, for diagnostics.
type Sources struct {
	Global  string
	Project string
}

// Load layers configuration with the following precedence (highest wins):
//  1. Default()
//  2. the global user file (getGlobalPath, if present)
//  3. the project file at workDir/FileName, or configPath if non-empty
//  4. overrides, applied field-by-field where non-zero
func Load(workDir, configPath string, overrides Config) (Config, Sources, error) {
	cfg := Default()

	var sources Sources

	globalCfg, globalPath, err := loadGlobalConfig()
	if err != nil {
		return Config{}, Sources{}, err
	}

	sources.Global = globalPath
	cfg = merge(cfg, globalCfg)

	projectCfg, projectPath, err := loadProjectConfig(workDir, configPath)
	if err != nil {
		return Config{}, Sources{}, err
	}

	sources.Project = projectPath
	cfg = merge(cfg, projectCfg)

	cfg = merge(cfg, overrides)

	if err := validate(cfg); err != nil {
		return Config{}, Sources{}, err
	}

	return cfg, sources, nil
}

// getGlobalPath returns $XDG_CONFIG_HOME/pagecache/config.json, falling
// back to ~/.config/pagecache/config.json. Returns "" if neither can be
// determined.
func getGlobalPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pagecache", "config.json")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "pagecache", "config.json")
}

func loadGlobalConfig() (Config, string, error) {
	path := getGlobalPath()
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadConfigFile(path, false)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, path, nil
}

func loadProjectConfig(workDir, configPath string) (Config, string, error) {
	var (
		file      string
		mustExist bool
	)

	if configPath != "" {
		file = configPath
		if !filepath.IsAbs(file) {
			file = filepath.Join(workDir, file)
		}

		mustExist = true

		if _, err := os.Stat(file); err != nil {
			return Config{}, "", fmt.Errorf("%w: %s", errConfigFileNotFound, configPath)
		}
	} else {
		file = filepath.Join(workDir, FileName)
		mustExist = false
	}

	cfg, loaded, err := loadConfigFile(file, mustExist)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, file, nil
}

func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled, same as the teacher CLI's config loader
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", errConfigFileRead, path)
		}

		return Config{}, false, nil
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.GlobalHardBytes != 0 {
		base.GlobalHardBytes = overlay.GlobalHardBytes
	}

	if overlay.GlobalSoftBytes != 0 {
		base.GlobalSoftBytes = overlay.GlobalSoftBytes
	}

	if overlay.SelfHardBytes != 0 {
		base.SelfHardBytes = overlay.SelfHardBytes
	}

	if overlay.SelfSoftBytes != 0 {
		base.SelfSoftBytes = overlay.SelfSoftBytes
	}

	if overlay.RotationPeriod != 0 {
		base.RotationPeriod = overlay.RotationPeriod
	}

	return base
}

func validate(cfg Config) error {
	if (cfg.SelfHardBytes == 0) != (cfg.SelfSoftBytes == 0) {
		return errLimitsIncomplete
	}

	return nil
}

// Options converts cfg into a [pager.Options]. Any limit left at zero in
// cfg is left at zero in the result; it is the caller's responsibility to
// have supplied complete limits before calling [pager.Open].
func (cfg Config) Options() pager.Options {
	return pager.Options{
		Limits: pager.Limits{
			GlobalHard: cfg.GlobalHardBytes,
			GlobalSoft: cfg.GlobalSoftBytes,
			SelfHard:   cfg.SelfHardBytes,
			SelfSoft:   cfg.SelfSoftBytes,
		},
		RotationPeriod: cfg.RotationPeriod,
	}
}

// FormatJSON returns cfg as formatted JSON, mirroring the teacher CLI's
// FormatConfig helper.
func FormatJSON(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("config: format: %w", err)
	}

	return string(data), nil
}
