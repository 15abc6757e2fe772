// Package ctl implements visage ctl, the control client for a running stream.
package ctl

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gfonseca/visage/internal/capture"
	"github.com/gfonseca/visage/internal/control"
	"github.com/gfonseca/visage/internal/session"
	"github.com/gfonseca/visage/pkg/config"
)

// Run sends one operation to the stream's control socket and prints the
// resulting status.
func Run(configPath string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	req, err := parseRequest(args)
	if err != nil {
		return err
	}

	client, err := control.Dial(cfg.Stream.ControlSocket)
	if err != nil {
		return fmt.Errorf("%w\nIs 'visage stream' running?", err)
	}
	defer client.Close()

	if req.Op == control.OpRestart {
		fmt.Println("Restarting...")
	}

	st, err := client.Call(req)
	PrintStatus(os.Stdout, st)
	return err
}

func parseRequest(args []string) (control.Request, error) {
	if len(args) == 0 {
		return control.Request{Op: control.OpStatus}, nil
	}

	op := args[0]
	switch op {
	case control.OpStatus, control.OpStart, control.OpStop, control.OpRestart:
		return control.Request{Op: op}, nil
	case control.OpSelect:
		if len(args) < 2 {
			return control.Request{}, fmt.Errorf("usage: visage ctl select <monitor>")
		}
		index, err := strconv.Atoi(args[1])
		if err != nil {
			return control.Request{}, fmt.Errorf("invalid monitor number: %s", args[1])
		}
		return control.Request{Op: op, Index: index}, nil
	default:
		return control.Request{}, fmt.Errorf("unknown ctl operation: %s", op)
	}
}

// PrintStatus writes a session status block.
func PrintStatus(w io.Writer, st session.Status) {
	peer := st.Peer
	if peer == "" {
		peer = "-"
	}

	fmt.Fprintf(w, "\n  %-12s %s\n", "Phase", st.Phase)
	fmt.Fprintf(w, "  %-12s %s\n", "Label", st.Label)
	fmt.Fprintf(w, "  %-12s %s\n", "Peer", peer)
	fmt.Fprintf(w, "  %-12s %d of %d %s\n", "Monitor", st.Region.Index, st.RegionCount, boundsString(st.Region))
	fmt.Fprintf(w, "  %-12s %dx1 (%d bytes/frame)\n", "Grid", st.GridSize, st.GridSize*3)
	if st.Running {
		fmt.Fprintf(w, "  %-12s %d sent, %d errors\n", "Frames", st.FramesSent, st.SendErrors)
		fmt.Fprintf(w, "  %-12s %s\n", "Execution", st.Execution)
		fmt.Fprintf(w, "  %-12s %s\n", "Uptime", time.Since(st.StartedAt).Truncate(time.Second))
	}
	fmt.Fprintln(w)
}

// PrintRegions writes the monitor table, marking the selected one.
func PrintRegions(w io.Writer, regions []capture.Region, selected int) {
	fmt.Fprintf(w, "  %-4s %-14s %-12s %-3s\n", "#", "Position", "Size", "")
	fmt.Fprintf(w, "  %s %s %s %s\n",
		strings.Repeat("─", 4),
		strings.Repeat("─", 14),
		strings.Repeat("─", 12),
		strings.Repeat("─", 3))

	for _, r := range regions {
		mark := ""
		if r.Index == selected {
			mark = "✓"
		}
		fmt.Fprintf(w, "  %-4d %-14s %-12s %-3s\n",
			r.Index,
			truncate(fmt.Sprintf("%d,%d", r.Bounds.Min.X, r.Bounds.Min.Y), 14),
			fmt.Sprintf("%dx%d", r.Bounds.Dx(), r.Bounds.Dy()),
			mark,
		)
	}
}

func boundsString(r capture.Region) string {
	if r.Bounds.Empty() {
		return ""
	}
	return fmt.Sprintf("(%dx%d+%d+%d)", r.Bounds.Dx(), r.Bounds.Dy(), r.Bounds.Min.X, r.Bounds.Min.Y)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-1] + "…"
}
