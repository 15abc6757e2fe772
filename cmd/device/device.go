// Package device implements visage device, a software stand-in for the receiver.
package device

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/gfonseca/visage/internal/device"
	"github.com/gfonseca/visage/pkg/config"
	"github.com/gfonseca/visage/pkg/logger"
)

// Run answers discovery probes and receives frames until interrupted.
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Device.LogLevel)

	interval, err := cfg.Device.ParseReportInterval()
	if err != nil {
		return fmt.Errorf("parsing report interval: %w", err)
	}

	var render io.Writer
	if term.IsTerminal(int(os.Stdout.Fd())) {
		render = os.Stdout
	}

	emu, err := device.Listen(device.Options{
		ListenAddr:     &net.UDPAddr{IP: net.IPv4zero, Port: cfg.Device.DiscoveryPort},
		ResponsePort:   cfg.Device.ResponsePort,
		GridSize:       cfg.Device.GridSize,
		ProbeLimit:     cfg.Device.ProbeLimit,
		ReportInterval: interval,
		Render:         render,
	}, log)
	if err != nil {
		return fmt.Errorf("starting device: %w", err)
	}
	defer emu.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := emu.Serve(ctx); err != nil {
		return fmt.Errorf("device error: %w", err)
	}

	st := emu.Stats()
	log.Info().
		Uint64("probes", st.Probes).
		Uint64("frames", st.Frames).
		Uint64("malformed", st.Malformed).
		Msg("Shutting down")
	return nil
}
