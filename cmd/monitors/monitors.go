// Package monitors implements visage monitors, listing capturable regions.
package monitors

import (
	"fmt"
	"os"

	"github.com/gfonseca/visage/cmd/ctl"
	"github.com/gfonseca/visage/internal/capture"
	"github.com/gfonseca/visage/internal/sysinfo"
	"github.com/gfonseca/visage/pkg/config"
)

// Run prints the active monitors, marking the configured one.
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	regions, err := capture.NewScreen().Regions()
	if err != nil {
		return fmt.Errorf("enumerating monitors: %w", err)
	}

	host := "unknown"
	if info, err := sysinfo.Collect(cfg.Stream.NetworkRange); err == nil {
		host = info.Hostname
		if info.IPAddress != "" {
			host += " (" + info.IPAddress + ")"
		}
	}

	fmt.Printf("\n  Monitors on %s (%d found)\n\n", host, len(regions))
	ctl.PrintRegions(os.Stdout, regions, cfg.Stream.Monitor)
	fmt.Println()
	return nil
}
