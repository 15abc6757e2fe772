// Package device implements a software stand-in for the visage lighting device.
//
// It answers discovery probes with a grid size command and accepts frames on
// the same socket, which is what the sender expects from real hardware.
package device

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"

	"github.com/gfonseca/visage/internal/protocol"
)

const (
	maxPacketSize         = 65535
	defaultProbeLimit     = 30
	defaultReportInterval = 5 * time.Second
)

// Options configures an Emulator.
type Options struct {
	// ListenAddr defaults to 0.0.0.0:DiscoveryPort.
	ListenAddr *net.UDPAddr
	// ResponsePort is where replies are sent on the prober's host.
	ResponsePort int
	GridSize     int
	// ProbeLimit caps probes answered per source per minute.
	ProbeLimit     int
	ReportInterval time.Duration
	// Render, if set, receives each frame as a row of colored terminal cells.
	Render io.Writer
}

// Stats summarizes what the emulator has received.
type Stats struct {
	Probes    uint64
	Replies   uint64
	Frames    uint64
	Malformed uint64
	Dropped   uint64
	Peer      string
	LastFrame []byte
}

// rateTracker tracks per-source-IP probe counts for rate limiting.
type rateTracker struct {
	counts    map[string]int
	resetTime time.Time
}

func (t *rateTracker) allow(ip string, limit int, now time.Time) bool {
	if now.After(t.resetTime) {
		t.counts = make(map[string]int)
		t.resetTime = now.Add(time.Minute)
	}
	t.counts[ip]++
	return t.counts[ip] <= limit
}

// Emulator is a UDP device that replies to probes and consumes frames.
type Emulator struct {
	conn    *net.UDPConn
	opts    Options
	reply   []byte
	tracker *rateTracker
	log     zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// Listen binds the emulator socket.
func Listen(opts Options, log zerolog.Logger) (*Emulator, error) {
	if opts.ListenAddr == nil {
		opts.ListenAddr = &net.UDPAddr{IP: net.IPv4zero, Port: protocol.DiscoveryPort}
	}
	if opts.ResponsePort == 0 {
		opts.ResponsePort = protocol.ResponsePort
	}
	if opts.GridSize == 0 {
		opts.GridSize = protocol.DefaultGridSize
	}
	if opts.ProbeLimit <= 0 {
		opts.ProbeLimit = defaultProbeLimit
	}
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = defaultReportInterval
	}

	reply, err := protocol.EncodeGridSize(opts.GridSize)
	if err != nil {
		return nil, fmt.Errorf("encoding reply: %w", err)
	}

	conn, err := net.ListenUDP("udp4", opts.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on UDP %s: %w", opts.ListenAddr, err)
	}

	if err := conn.SetReadBuffer(protocol.FrameSize(opts.GridSize) * 64); err != nil {
		log.Warn().Err(err).Msg("Failed to set read buffer")
	}

	// Report the local destination of each datagram so broadcast probes can be told apart.
	if err := ipv4.NewPacketConn(conn).SetControlMessage(ipv4.FlagDst, true); err != nil {
		log.Debug().Err(err).Msg("Destination control messages unavailable")
	}

	return &Emulator{
		conn:  conn,
		opts:  opts,
		reply: reply,
		tracker: &rateTracker{
			counts:    make(map[string]int),
			resetTime: time.Now().Add(time.Minute),
		},
		log: log,
	}, nil
}

// Addr returns the bound address.
func (e *Emulator) Addr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// Close releases the socket.
func (e *Emulator) Close() error {
	return e.conn.Close()
}

// Stats returns a copy of the counters.
func (e *Emulator) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stats
	st.LastFrame = append([]byte(nil), e.stats.LastFrame...)
	return st
}

// Serve processes datagrams until ctx is done.
func (e *Emulator) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		e.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	e.log.Info().
		Str("listen", e.Addr().String()).
		Int("response_port", e.opts.ResponsePort).
		Int("grid_size", e.opts.GridSize).
		Msg("Device emulator started, waiting for probes")

	go e.reportLoop(ctx)

	pc := ipv4.NewPacketConn(e.conn)
	buf := make([]byte, maxPacketSize)
	for {
		n, cm, src, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			e.log.Error().Err(err).Msg("Error reading from UDP")
			continue
		}

		udpSrc, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}

		var dst net.IP
		if cm != nil {
			dst = cm.Dst
		}
		e.handlePacket(buf[:n], udpSrc, dst)
	}
}

func (e *Emulator) handlePacket(packet []byte, src *net.UDPAddr, dst net.IP) {
	srcIP := src.IP.String()

	if protocol.IsProbe(packet) {
		e.handleProbe(src, dst)
		return
	}

	want := protocol.FrameSize(e.opts.GridSize)
	if len(packet) != want {
		e.mu.Lock()
		e.stats.Malformed++
		e.mu.Unlock()
		e.log.Warn().
			Str("src_ip", srcIP).
			Int("bytes", len(packet)).
			Int("want", want).
			Msg("Unexpected frame size, discarding")
		return
	}

	e.mu.Lock()
	e.stats.Frames++
	e.stats.Peer = src.String()
	e.stats.LastFrame = append(e.stats.LastFrame[:0], packet...)
	e.mu.Unlock()

	e.log.Trace().
		Str("src", src.String()).
		Str("colors", hex.EncodeToString(packet)).
		Msg("Frame received")

	if e.opts.Render != nil {
		fmt.Fprint(e.opts.Render, Render(packet))
	}
}

func (e *Emulator) handleProbe(src *net.UDPAddr, dst net.IP) {
	srcIP := src.IP.String()

	e.mu.Lock()
	e.stats.Probes++
	allowed := e.tracker.allow(srcIP, e.opts.ProbeLimit, time.Now())
	e.mu.Unlock()

	if !allowed {
		e.log.Warn().Str("src_ip", srcIP).Msg("Rate limit exceeded, dropping probe")
		e.mu.Lock()
		e.stats.Dropped++
		e.mu.Unlock()
		return
	}

	target := &net.UDPAddr{IP: src.IP, Port: e.opts.ResponsePort}
	if _, err := e.conn.WriteToUDP(e.reply, target); err != nil {
		e.log.Error().Err(err).Str("target", target.String()).Msg("Failed to send reply")
		return
	}

	e.mu.Lock()
	e.stats.Replies++
	e.mu.Unlock()

	ev := e.log.Info().Str("target", target.String())
	if dst != nil {
		ev = ev.Str("dst", dst.String())
	}
	ev.Msg("Probe answered")
}

func (e *Emulator) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(e.opts.ReportInterval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := e.Stats()
			fps := float64(st.Frames-last) / e.opts.ReportInterval.Seconds()
			last = st.Frames
			if st.Frames == 0 {
				continue
			}
			e.log.Info().
				Str("peer", st.Peer).
				Uint64("frames", st.Frames).
				Uint64("malformed", st.Malformed).
				Float64("fps", fps).
				Msg("Frame stats")
		}
	}
}

// Render draws a frame as 24-bit colored terminal cells, bottom of the strip first.
func Render(frame []byte) string {
	var b strings.Builder
	b.WriteString("\r")
	for i := 0; i+2 < len(frame); i += 3 {
		fmt.Fprintf(&b, "\x1b[48;2;%d;%d;%dm  ", frame[i], frame[i+1], frame[i+2])
	}
	b.WriteString("\x1b[0m")
	return b.String()
}
