package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/openhearth/hearth/errors"
)

// createBackup rotates .back1-.back3 before a config write.
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete oldest backup")
	}
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}

// UIConfigPath returns the UI-managed config file, ~/.hearth/hearth_from_ui.toml.
func UIConfigPath() string {
	dir := UserConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "hearth_from_ui.toml")
}

func loadOrInitializeUIConfig() (map[string]interface{}, string, error) {
	configPath := UIConfigPath()
	if configPath == "" {
		return nil, "", errors.New("could not determine home directory")
	}

	var config map[string]interface{}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, "", errors.Wrap(err, "failed to parse UI config")
		}
	} else {
		config = make(map[string]interface{})
	}
	return config, configPath, nil
}

func saveUIConfig(config map[string]interface{}, configPath string) error {
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write UI config")
	}
	return nil
}

func updateSection(section string, mutate func(map[string]interface{})) error {
	config, configPath, err := loadOrInitializeUIConfig()
	if err != nil {
		return err
	}
	var sec map[string]interface{}
	if s, ok := config[section].(map[string]interface{}); ok {
		sec = s
	} else {
		sec = make(map[string]interface{})
	}
	mutate(sec)
	config[section] = sec
	return saveUIConfig(config, configPath)
}

// UpdateQuietHoursEnabled flips quiet_hours.enabled in the UI config.
func UpdateQuietHoursEnabled(enabled bool) error {
	return updateSection("quiet_hours", func(s map[string]interface{}) {
		s["enabled"] = enabled
	})
}

// UpdateQuietHoursWindows replaces quiet_hours.windows in the UI config.
func UpdateQuietHoursWindows(windows []string) error {
	return updateSection("quiet_hours", func(s map[string]interface{}) {
		s["windows"] = windows
	})
}

// UpdateQuietHoursMinLevel sets quiet_hours.min_level in the UI config.
func UpdateQuietHoursMinLevel(level int) error {
	return updateSection("quiet_hours", func(s map[string]interface{}) {
		s["min_level"] = level
	})
}

// UpdateStoreRetention sets store.retention_ms in the UI config.
func UpdateStoreRetention(retentionMs int) error {
	return updateSection("store", func(s map[string]interface{}) {
		s["retention_ms"] = retentionMs
	})
}
