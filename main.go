// visage streams the edge of a monitor to a networked LED strip.
//
// Usage:
//
//	visage stream [monitor]  discover the device and transmit frames
//	visage ctl <op>          control a running stream
//	visage device            emulate the receiving device
package main

import (
	"fmt"
	"os"

	"github.com/gfonseca/visage/cmd/ctl"
	"github.com/gfonseca/visage/cmd/device"
	"github.com/gfonseca/visage/cmd/monitors"
	"github.com/gfonseca/visage/cmd/stream"
)

const (
	defaultSystemPath = "/etc/visage/config.toml"
	defaultLocalPath  = "config.toml"
	version           = "1.0.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	configPath := ""

	// Parse --config flag if present
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			args = append(args[:i], args[i+2:]...)
			i--
			continue
		}
		if len(arg) > 9 && arg[:9] == "--config=" {
			configPath = arg[9:]
			args = append(args[:i], args[i+1:]...)
			i--
			continue
		}
	}

	// Auto-discover config if not specified. With no file anywhere, an empty
	// path makes commands run on defaults; edit still targets the system path.
	editPath := configPath
	if configPath == "" {
		if _, err := os.Stat(defaultLocalPath); err == nil {
			configPath = defaultLocalPath
		} else if _, err := os.Stat(defaultSystemPath); err == nil {
			configPath = defaultSystemPath
		}
		editPath = configPath
		if editPath == "" {
			editPath = defaultSystemPath
		}
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	var err error

	switch subcommand {
	case "stream":
		err = stream.Run(configPath, args[1:])
	case "ctl":
		err = ctl.Run(configPath, args[1:])
	case "monitors":
		err = monitors.Run(configPath)
	case "device":
		err = device.Run(configPath)
	case "edit":
		err = stream.EditConfig(editPath)
	case "version":
		fmt.Printf("visage v%s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`visage v%s - monitor edge streaming to networked LED strips

Usage:
  visage <command> [--config <path>]

Commands:
  stream [monitor]  Discover the device and stream the monitor edge to it
  ctl [op]          Control a running stream: status, start, stop, restart, select <n>
  monitors          List active monitors
  device            Run a software device that answers probes and shows frames
  edit              Edit the configuration file in your system editor
  version           Print version information
  help              Show this help message

Options:
  --config <path>  Path to config file (default: looks for ./config.toml, then %s)

Examples:
  visage stream 2                       # Stream the second monitor
  visage ctl select 1                   # Switch a running stream to monitor 1
  visage ctl restart                    # Stop, cool down, start again
  visage device                         # Emulate a device on this host

`, version, defaultSystemPath)
}
