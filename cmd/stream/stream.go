// Package stream implements visage stream, the capturing and transmitting side.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/gfonseca/visage/cmd/ctl"
	"github.com/gfonseca/visage/internal/capture"
	"github.com/gfonseca/visage/internal/control"
	"github.com/gfonseca/visage/internal/discovery"
	"github.com/gfonseca/visage/internal/frame"
	"github.com/gfonseca/visage/internal/session"
	"github.com/gfonseca/visage/internal/sysinfo"
	"github.com/gfonseca/visage/pkg/config"
	"github.com/gfonseca/visage/pkg/logger"
)

// Run starts a session on the configured (or given) monitor and serves the
// control socket until interrupted.
func Run(configPath string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Stream.LogLevel)

	monitor := cfg.Stream.Monitor
	if len(args) > 0 {
		monitor, err = strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid monitor number: %s", args[0])
		}
	}

	timeout, err := cfg.Stream.ParseProbeTimeout()
	if err != nil {
		return fmt.Errorf("parsing probe timeout: %w", err)
	}
	cooldown, err := cfg.Stream.ParseRestartCooldown()
	if err != nil {
		return fmt.Errorf("parsing restart cooldown: %w", err)
	}
	pollInterval, err := cfg.Stream.ParsePollInterval()
	if err != nil {
		return fmt.Errorf("parsing poll interval: %w", err)
	}
	interp, err := frame.ParseResampler(cfg.Stream.Resample)
	if err != nil {
		return err
	}
	target, err := discovery.ResolveTarget(cfg.Stream.BroadcastAddress, cfg.Stream.NetworkRange, cfg.Stream.DiscoveryPort)
	if err != nil {
		return fmt.Errorf("resolving broadcast target: %w", err)
	}

	if info, err := sysinfo.Collect(cfg.Stream.NetworkRange); err != nil {
		log.Warn().Err(err).Msg("Failed to collect host info")
	} else {
		log.Info().
			Str("hostname", info.Hostname).
			Str("os", info.OSName).
			Str("interface", info.Interface).
			Str("ip", info.IPAddress).
			Msg("Host")
	}

	sess, err := session.New(capture.NewScreen(), session.Options{
		Monitor:   monitor,
		GridSize:  cfg.Stream.GridSize,
		Resampler: interp,
		Discovery: discovery.Options{
			Target:     target,
			ListenAddr: &net.UDPAddr{IP: net.IPv4zero, Port: cfg.Stream.ResponsePort},
			Timeout:    timeout,
			TOS:        cfg.Stream.TOS,
		},
	}, log)
	if err != nil {
		return err
	}

	// Ensure control socket directory exists
	sockDir := filepath.Dir(cfg.Stream.ControlSocket)
	if err := os.MkdirAll(sockDir, 0700); err != nil {
		return fmt.Errorf("creating socket directory %s: %w", sockDir, err)
	}

	srv, err := control.Listen(cfg.Stream.ControlSocket, sess, cooldown, log)
	if err != nil {
		return fmt.Errorf("starting control server: %w", err)
	}
	srv.Serve()

	st := sess.Status()
	log.Info().
		Str("monitor", st.Region.String()).
		Int("grid_size", st.GridSize).
		Str("target", target.String()).
		Str("resample", cfg.Stream.Resample).
		Msg("Starting visage stream")

	if err := sess.Start(); err != nil {
		srv.Close()
		return fmt.Errorf("starting transmission: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go watch(ctx, sess, pollInterval, log)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		go console(ctx, cancel, sess, cooldown, log)
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	sess.Stop()
	if err := srv.Close(); err != nil {
		log.Debug().Err(err).Msg("Control server close")
	}
	sess.Wait()
	return nil
}

// watch polls the session and logs label and phase changes.
func watch(ctx context.Context, sess *session.Session, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last session.Status
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st := sess.Status()
		if st.Label == last.Label && st.Phase == last.Phase {
			continue
		}
		log.Info().
			Str("phase", st.Phase.String()).
			Str("label", st.Label).
			Msg("Status")
		last = st
	}
}

const consoleHelp = `Commands: start, stop, restart, <monitor number>, status, monitors, quit`

// console reads operator commands from the terminal.
func console(ctx context.Context, quit context.CancelFunc, sess *session.Session, cooldown time.Duration, log zerolog.Logger) {
	fmt.Println(consoleHelp)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if n, err := strconv.Atoi(line); err == nil {
			if err := sess.SelectRegion(n); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
			continue
		}

		switch line {
		case "start":
			if err := sess.Start(); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		case "stop":
			sess.Stop()
		case "restart":
			go func() {
				if err := sess.Restart(ctx, cooldown); err != nil && !errors.Is(err, context.Canceled) {
					log.Warn().Err(err).Msg("Restart failed")
				}
			}()
		case "status":
			ctl.PrintStatus(os.Stdout, sess.Status())
		case "monitors":
			ctl.PrintRegions(os.Stdout, sess.Regions(), sess.Status().Region.Index)
		case "quit", "exit", "q":
			quit()
			return
		default:
			fmt.Println(consoleHelp)
		}
	}
}
