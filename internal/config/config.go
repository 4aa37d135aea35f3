// Package config loads and validates the site list and global settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/cidproject/cid/internal/safety"
)

// DefaultDBPath is where the download history lives unless overridden.
const DefaultDBPath = "~/.cache/cid/cid.db"

// Settings is the top-level configuration.
type Settings struct {
	DBPath string `toml:"db_path" yaml:"db_path"`
	Sites  []Site `toml:"sites" yaml:"sites"`
}

// Site describes one web site publishing cloud images.
type Site struct {
	Name             string   `toml:"name" yaml:"name"`
	BaseURL          string   `toml:"base_url" yaml:"base_url"`
	VersionList      []string `toml:"version_list" yaml:"version_list"`
	AfterVersionURL  []string `toml:"after_version_url" yaml:"after_version_url"`
	ImageNameFilter  string   `toml:"image_name_filter" yaml:"image_name_filter"`
	ImageNameCleanse []string `toml:"image_name_cleanse" yaml:"image_name_cleanse"`
	Normalize        string   `toml:"normalize" yaml:"normalize"`
	Destination      string   `toml:"destination" yaml:"destination"`
}

// Default returns an empty configuration with the default database path.
func Default() *Settings {
	return &Settings{DBPath: DefaultDBPath}
}

// Load reads a configuration file. TOML is the native format; files ending
// in .yaml/.yml are decoded as YAML instead.
func Load(path string) (*Settings, error) {
	expanded, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(expanded)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Environment wins over the file, flags win over both (the CLI applies
	// flag overrides after Load).
	if env := os.Getenv("CID_DB_PATH"); env != "" {
		cfg.DBPath = env
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations.
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"cid.toml",
		"cid.yaml",
		"/etc/cid/cid.toml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "cid", "cid.toml"),
			filepath.Join(home, ".config", "cid", "cid.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks everything a run depends on up front: malformed
// configuration aborts before any network activity.
func (s *Settings) Validate() error {
	seen := make(map[string]bool)
	for i := range s.Sites {
		site := &s.Sites[i]
		if err := site.validate(); err != nil {
			return fmt.Errorf("site %q: %w", site.Name, err)
		}
		if seen[site.Name] {
			return fmt.Errorf("duplicate site name %q", site.Name)
		}
		seen[site.Name] = true
	}
	return nil
}

func (site *Site) validate() error {
	if site.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := safety.ValidateHTTPURL(site.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if len(site.VersionList) == 0 {
		return fmt.Errorf("version_list must name at least one version")
	}
	if site.Destination == "" {
		return fmt.Errorf("destination is required")
	}
	if site.ImageNameFilter == "" {
		return fmt.Errorf("image_name_filter is required")
	}
	if _, err := regexp.Compile(site.ImageNameFilter); err != nil {
		return fmt.Errorf("invalid image_name_filter: %w", err)
	}
	for _, cleanse := range site.ImageNameCleanse {
		if _, err := regexp.Compile(cleanse); err != nil {
			return fmt.Errorf("invalid image_name_cleanse pattern %q: %w", cleanse, err)
		}
	}
	return nil
}

// ExpandPath expands a leading tilde and any environment variables in a
// configured filesystem path.
func ExpandPath(path string) (string, error) {
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding %q: %w", path, err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path, nil
}
