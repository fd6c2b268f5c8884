// Package config loads the hub configuration. Files are TOML, merged
// system < user < project, with HEARTH_* environment variables on top.
package config

import (
	"time"

	"github.com/openhearth/hearth/errors"
	"github.com/openhearth/hearth/msg"
	"github.com/openhearth/hearth/notify"
)

// Config is the full hub configuration.
type Config struct {
	Store      StoreConfig      `mapstructure:"store"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Server     ServerConfig     `mapstructure:"server"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	QuietHours QuietHoursConfig `mapstructure:"quiet_hours"`
	Log        LogConfig        `mapstructure:"log"`
}

// StoreConfig configures the scheduler loops and retention. Intervals
// are milliseconds; 0 disables the loop.
type StoreConfig struct {
	PruneIntervalMs      int `mapstructure:"prune_interval_ms"`
	CloseSweepIntervalMs int `mapstructure:"close_sweep_interval_ms"`
	HardDeleteIntervalMs int `mapstructure:"hard_delete_interval_ms"`
	DuePollIntervalMs    int `mapstructure:"due_poll_interval_ms"`
	RetentionMs          int `mapstructure:"retention_ms"`
}

func (c StoreConfig) PruneInterval() time.Duration      { return msDuration(c.PruneIntervalMs) }
func (c StoreConfig) CloseSweepInterval() time.Duration { return msDuration(c.CloseSweepIntervalMs) }
func (c StoreConfig) HardDeleteInterval() time.Duration { return msDuration(c.HardDeleteIntervalMs) }
func (c StoreConfig) DuePollInterval() time.Duration    { return msDuration(c.DuePollIntervalMs) }
func (c StoreConfig) Retention() time.Duration          { return msDuration(c.RetentionMs) }

// StorageConfig configures the snapshot writer.
type StorageConfig struct {
	BaseDir         string `mapstructure:"base_dir"`
	FileName        string `mapstructure:"file_name"`
	WriteIntervalMs int    `mapstructure:"write_interval_ms"`
}

func (c StorageConfig) WriteInterval() time.Duration { return msDuration(c.WriteIntervalMs) }

// ArchiveConfig configures the per-ref history writer.
type ArchiveConfig struct {
	BaseDir           string `mapstructure:"base_dir"`
	FileExtension     string `mapstructure:"file_extension"`
	FlushIntervalMs   int    `mapstructure:"flush_interval_ms"`
	KeepPreviousWeeks int    `mapstructure:"keep_previous_weeks"`
}

func (c ArchiveConfig) FlushInterval() time.Duration { return msDuration(c.FlushIntervalMs) }

// ServerConfig configures the websocket command surface.
type ServerConfig struct {
	Port           *int     `mapstructure:"port"` // nil = default 8700, 0 is invalid (omit for default)
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxClients     int      `mapstructure:"max_clients"`
}

// DefaultServerPort is the websocket port when server.port is omitted.
const DefaultServerPort = 8700

// EffectivePort resolves the configured port against the default.
func (c ServerConfig) EffectivePort() int {
	if c.Port != nil {
		return *c.Port
	}
	return DefaultServerPort
}

// IngestConfig configures the producer host.
type IngestConfig struct {
	InstancesFile string `mapstructure:"instances_file"`
}

// QuietHoursConfig gates non-urgent dispatch during daily windows.
type QuietHoursConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Windows  []string `mapstructure:"windows"` // "HH:MM-HH:MM"
	MinLevel int      `mapstructure:"min_level"`
	Timezone string   `mapstructure:"timezone"` // IANA name, empty = local
}

// Build compiles the section into the dispatcher's gate, or nil when
// disabled.
func (c QuietHoursConfig) Build() (*notify.QuietHours, error) {
	if !c.Enabled {
		return nil, nil
	}
	windows, err := notify.ParseWindows(c.Windows)
	if err != nil {
		return nil, err
	}
	q := &notify.QuietHours{
		Windows:  windows,
		MinLevel: msg.Level(c.MinLevel),
	}
	if c.Timezone != "" {
		tz, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return nil, errors.Wrapf(err, "quiet_hours.timezone %q", c.Timezone)
		}
		q.TZ = tz
	}
	return q, nil
}

// LogConfig configures logger output.
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"` // user, info, debug, trace
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
