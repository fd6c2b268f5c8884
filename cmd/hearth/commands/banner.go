package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"

	"github.com/openhearth/hearth/config"
	"github.com/openhearth/hearth/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(cfg *config.Config) {
	cyan := "\033[36m"
	bold := "\033[1m"
	reset := "\033[0m"

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ╔══════════════════════════════════════╗\n")
	fmt.Printf("   ║                                      ║\n")
	fmt.Printf("   ║   ██   ██ ███████  █████  ██████     ║\n")
	fmt.Printf("   ║   ██   ██ ██      ██   ██ ██   ██    ║\n")
	fmt.Printf("   ║   ███████ █████   ███████ ██████     ║\n")
	fmt.Printf("   ║   ██   ██ ██      ██   ██ ██   ██    ║\n")
	fmt.Printf("   ║   ██   ██ ███████ ██   ██ ██   ██ th ║\n")
	fmt.Printf("   ║                                      ║\n")
	fmt.Printf("   ╚══════════════════════════════════════╝%s\n\n", reset)

	info := version.Get()
	rows := [][]string{
		{"Version", fmt.Sprintf("%s (commit %s)", info.Version, info.Short())},
		{"Port", fmt.Sprintf("%d", cfg.Server.EffectivePort())},
		{"Snapshot", cfg.SnapshotPath()},
		{"Archive", cfg.Archive.BaseDir},
	}
	if cfg.QuietHours.Enabled {
		rows = append(rows, []string{"Quiet hours", strings.Join(cfg.QuietHours.Windows, ", ")})
	}

	for _, row := range rows {
		pterm.Printf("%s %s\n", pterm.Gray(fmt.Sprintf("%-12s", row[0]+":")), row[1])
	}
	pterm.Println()
}
