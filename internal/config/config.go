// Package config manages persistent preferences for the aecm command.
// Settings are stored as JSON at os.UserConfigDir()/aecm/config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all persistent preferences. Command-line flags override them.
type Config struct {
	Mode           string `json:"mode"`
	CNG            bool   `json:"cng"`
	SampleRate     int    `json:"sample_rate"`
	MsInSndCardBuf int    `json:"ms_in_snd_card_buf"`
	Profile        string `json:"profile"`
	Database       string `json:"database"` // empty means DatabasePath()
}

// Default returns a Config populated with the engine defaults.
func Default() Config {
	return Config{
		Mode:           "aggressive",
		CNG:            true,
		SampleRate:     16000,
		MsInSndCardBuf: 40,
		Profile:        "default",
	}
}

// Dir returns the directory holding the config file and database.
func Dir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "aecm"), nil
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// DatabasePath returns the database location used when Config.Database is
// empty.
func DatabasePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "aecm.db"), nil
}

// Load reads the config file and returns it. If the file is missing or
// unreadable, the default config is returned, never an error.
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
