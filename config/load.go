package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/openhearth/hearth/errors"
)

var globalConfig *Config
var viperInstance *viper.Viper

// Load reads the hub configuration. The result is cached; use Reset in
// tests that need a fresh load.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &config
	return globalConfig, nil
}

// GetViper returns the shared viper instance for advanced access.
func GetViper() *viper.Viper {
	return initViper()
}

// LoadFromFile loads configuration from one specific file, with
// defaults but without environment binding.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Reset clears the cached configuration.
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()
	v.SetEnvPrefix("HEARTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// findProjectConfig walks up from the working directory looking for a
// hearth.toml.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, "hearth.toml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// UserConfigDir returns ~/.hearth, creating it if needed.
func UserConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(home, ".hearth")
	os.MkdirAll(dir, DefaultDirPermissions)
	return dir
}

// mergeConfigFiles merges config files in precedence order, lowest
// first: system < user < UI-managed < project. Environment variables
// still win over all files.
func mergeConfigFiles(v *viper.Viper) {
	configPaths := []string{
		"/etc/hearth/config.toml",
	}
	if userDir := UserConfigDir(); userDir != "" {
		configPaths = append(configPaths,
			filepath.Join(userDir, "hearth.toml"),
			filepath.Join(userDir, "hearth_from_ui.toml"),
		)
	}
	if projectConfig := findProjectConfig(); projectConfig != "" {
		configPaths = append(configPaths, projectConfig)
	}

	for _, configPath := range configPaths {
		if _, err := os.Stat(configPath); err != nil {
			continue
		}
		tempViper := viper.New()
		tempViper.SetConfigFile(configPath)
		tempViper.SetConfigType("toml")
		if err := tempViper.ReadInConfig(); err != nil {
			continue
		}
		for key, value := range tempViper.AllSettings() {
			v.Set(key, value)
		}
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port != nil && *c.Server.Port == 0 {
		return errors.New("server.port cannot be 0 (omit for default port 8700)")
	}
	if c.Server.Port != nil && *c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", *c.Server.Port)
	}
	if c.Server.MaxClients < 0 {
		return errors.Newf("server.max_clients must be >= 0, got %d", c.Server.MaxClients)
	}

	// loop intervals: 0 disables, negative is invalid
	for _, iv := range []struct {
		key string
		val int
	}{
		{"store.prune_interval_ms", c.Store.PruneIntervalMs},
		{"store.close_sweep_interval_ms", c.Store.CloseSweepIntervalMs},
		{"store.hard_delete_interval_ms", c.Store.HardDeleteIntervalMs},
		{"store.due_poll_interval_ms", c.Store.DuePollIntervalMs},
	} {
		if iv.val < 0 {
			return errors.Newf("%s must be >= 0, got %d", iv.key, iv.val)
		}
	}
	if c.Store.RetentionMs <= 0 {
		return errors.Newf("store.retention_ms must be > 0, got %d", c.Store.RetentionMs)
	}
	if c.Storage.WriteIntervalMs < 0 {
		return errors.Newf("storage.write_interval_ms must be >= 0, got %d", c.Storage.WriteIntervalMs)
	}
	if c.Archive.KeepPreviousWeeks < 0 {
		return errors.Newf("archive.keep_previous_weeks must be >= 0, got %d", c.Archive.KeepPreviousWeeks)
	}
	if c.QuietHours.Enabled {
		if _, err := c.QuietHours.Build(); err != nil {
			return err
		}
	}
	return nil
}

// SnapshotPath joins the storage dir and file name.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.Storage.BaseDir, c.Storage.FileName)
}
