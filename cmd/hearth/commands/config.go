package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openhearth/hearth/config"
)

// ConfigCmd manages hub configuration.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Hearth configuration",
	Long: `Display and validate Hearth configuration.

Configuration sources (in order of precedence):
1. Environment variables (HEARTH_* prefix)
2. Project config (./hearth.toml)
3. UI config (~/.hearth/hearth_from_ui.toml)
4. User config (~/.hearth/hearth.toml)
5. System config (/etc/hearth/config.toml)
6. Default values

Examples:
  hearth config show                 # Show current configuration
  hearth config show --format json   # Show configuration in JSON format
  hearth config get server.port      # Get specific config value
  hearth config validate             # Validate current configuration`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current Hearth configuration from all sources",
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., server.port, store.retention_ms)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	Long:  "Validate that the current Hearth configuration is valid",
	RunE:  runConfigValidate,
}

var configWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	RunE:  runConfigWhere,
}

var configFormat string

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configGetCmd)
	ConfigCmd.AddCommand(configValidateCmd)
	ConfigCmd.AddCommand(configWhereCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Printf("# Hearth configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Printf("# Hearth configuration\n%s", string(data))

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}

	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	if _, err := config.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	v := config.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}
	fmt.Println(v.Get(key))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	fmt.Println("✓ Configuration is valid")
	return nil
}

func runConfigWhere(cmd *cobra.Command, args []string) error {
	home, _ := os.UserHomeDir()
	sources := []struct {
		name string
		path string
	}{
		{"System", "/etc/hearth/config.toml"},
		{"User", filepath.Join(home, ".hearth", "hearth.toml")},
		{"UI", config.UIConfigPath()},
		{"Project", "./hearth.toml"},
	}

	fmt.Println("Configuration cascade (later sources win):")
	for _, src := range sources {
		status := "missing"
		if _, err := os.Stat(src.path); err == nil {
			status = "found"
		}
		fmt.Printf("  %-8s %-45s [%s]\n", src.name, src.path, status)
	}
	fmt.Println("  Env      HEARTH_* variables                            [always]")
	return nil
}
