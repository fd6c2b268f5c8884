package config

import "github.com/spf13/viper"

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// SetDefaults installs the stock configuration into a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.prune_interval_ms", 30_000)
	v.SetDefault("store.close_sweep_interval_ms", 10_000)
	v.SetDefault("store.hard_delete_interval_ms", 14_400_000) // 4h
	v.SetDefault("store.due_poll_interval_ms", 10_000)
	v.SetDefault("store.retention_ms", 604_800_000) // 7d

	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.file_name", "messages.json")
	v.SetDefault("storage.write_interval_ms", 1_000)

	v.SetDefault("archive.base_dir", "data/archive")
	v.SetDefault("archive.file_extension", ".jsonl")
	v.SetDefault("archive.flush_interval_ms", 2_000)
	v.SetDefault("archive.keep_previous_weeks", 4)

	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.max_clients", 32)

	v.SetDefault("ingest.instances_file", "data/producers.json")

	v.SetDefault("quiet_hours.enabled", false)
	v.SetDefault("quiet_hours.windows", []string{"22:00-06:30"})
	v.SetDefault("quiet_hours.min_level", 30)

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}
