package config

import (
	"os"
	"path/filepath"
)

const (
	// EnvConfigPath is the environment variable for explicit config path
	EnvConfigPath = "ELLEN_CONFIG"
	// ConfigFileName is the default config file name
	ConfigFileName = "ellen.yaml"
	// ConfigDirName is the config directory name under XDG
	ConfigDirName = "ellen"
)

// FindConfigPath searches for config file in priority order:
// 1. $ELLEN_CONFIG (explicit path)
// 2. ./ellen.yaml (working directory)
// 3. $XDG_CONFIG_HOME/ellen/config.yaml
// 4. ~/.config/ellen/config.yaml
// 5. /etc/ellen/config.yaml
//
// Returns empty string if no config file found
func FindConfigPath() string {
	for _, path := range searchPaths() {
		if fileExists(path) {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}

func searchPaths() []string {
	var paths []string
	if path := os.Getenv(EnvConfigPath); path != "" {
		paths = append(paths, path)
	}
	paths = append(paths, ConfigFileName)
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		paths = append(paths, filepath.Join(xdgHome, ConfigDirName, "config.yaml"))
	}
	if home := os.Getenv("HOME"); home != "" {
		paths = append(paths, filepath.Join(home, ".config", ConfigDirName, "config.yaml"))
	}
	return append(paths, filepath.Join("/etc", ConfigDirName, "config.yaml"))
}

// DefaultConfigPath returns where a new config file is written: the
// explicit $ELLEN_CONFIG path if set, otherwise ./ellen.yaml next to the
// data it describes.
func DefaultConfigPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path
	}
	return ConfigFileName
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir(configPath string) error {
	dir := filepath.Dir(configPath)
	return os.MkdirAll(dir, 0755)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
