// Package discovery finds the lighting device with a broadcast probe and owns
// the sockets of one transmission.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"

	"github.com/gfonseca/visage/internal/protocol"
)

// DefaultTimeout is how long each probe waits for a reply before re-broadcasting.
const DefaultTimeout = 3 * time.Second

// Options configures a Prober.
type Options struct {
	// Target is where probes are sent. Defaults to 255.255.255.255:DiscoveryPort.
	Target *net.UDPAddr
	// ListenAddr is where replies are received. Defaults to 0.0.0.0:ResponsePort.
	ListenAddr *net.UDPAddr
	// Timeout bounds each wait for a reply.
	Timeout time.Duration
	// TOS is applied to outgoing probes and frames when non-zero.
	TOS int
}

// Result describes the device that answered a probe.
type Result struct {
	Peer     *net.UDPAddr
	Reply    *protocol.Reply
	ReplyErr error
	// GridSize is the size requested by the device, or 0 to keep the current one.
	GridSize int
	Attempts int
}

// Prober holds the broadcast sender and reply listener sockets.
type Prober struct {
	sender   *net.UDPConn
	listener *net.UDPConn
	target   *net.UDPAddr
	timeout  time.Duration
	log      zerolog.Logger

	closeOnce sync.Once
}

// Open binds both sockets. Nothing is left open on error.
func Open(opts Options, log zerolog.Logger) (*Prober, error) {
	target := opts.Target
	if target == nil {
		target = &net.UDPAddr{IP: net.IPv4bcast, Port: protocol.DiscoveryPort}
	}
	listenAddr := opts.ListenAddr
	if listenAddr == nil {
		listenAddr = &net.UDPAddr{IP: net.IPv4zero, Port: protocol.ResponsePort}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// The Go runtime enables SO_BROADCAST on every UDP socket.
	sender, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("opening sender socket: %w", err)
	}

	if opts.TOS != 0 {
		if err := ipv4.NewPacketConn(sender).SetTOS(opts.TOS); err != nil {
			log.Warn().Err(err).Int("tos", opts.TOS).Msg("Failed to set TOS on sender socket")
		}
	}

	listener, err := net.ListenUDP("udp4", listenAddr)
	if err != nil {
		sender.Close()
		return nil, fmt.Errorf("listening on UDP %s: %w", listenAddr, err)
	}

	if err := listener.SetReadBuffer(protocol.MaxPacketSize * 10); err != nil {
		log.Warn().Err(err).Msg("Failed to set read buffer")
	}

	return &Prober{
		sender:   sender,
		listener: listener,
		target:   target,
		timeout:  timeout,
		log:      log,
	}, nil
}

// ListenAddr returns the bound address of the reply listener.
func (p *Prober) ListenAddr() *net.UDPAddr {
	return p.listener.LocalAddr().(*net.UDPAddr)
}

// Target returns the probe destination.
func (p *Prober) Target() *net.UDPAddr {
	return p.target
}

// Discover broadcasts the probe until a reply arrives or ctx is done.
// onAttempt, if set, is called before every probe.
//
// The first datagram received binds the peer. A reply that fails to parse
// is reported in Result.ReplyErr but still completes discovery.
func (p *Prober) Discover(ctx context.Context, onAttempt func(attempt int)) (*Result, error) {
	// Wake a blocked read as soon as the transmission is cancelled.
	stop := context.AfterFunc(ctx, func() {
		p.listener.SetReadDeadline(time.Now())
	})
	defer stop()

	probe := []byte(protocol.Magic)
	buf := make([]byte, protocol.MaxPacketSize)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if onAttempt != nil {
			onAttempt(attempt)
		}

		if _, err := p.sender.WriteToUDP(probe, p.target); err != nil {
			p.log.Warn().Err(err).Str("target", p.target.String()).Msg("Failed to send probe")
		} else {
			p.log.Debug().Str("target", p.target.String()).Int("attempt", attempt).Msg("Probe sent")
		}

		if err := p.listener.SetReadDeadline(time.Now().Add(p.timeout)); err != nil {
			return nil, fmt.Errorf("setting read deadline: %w", err)
		}
		// A cancel that landed before the deadline was reset must still win.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, src, err := p.listener.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return nil, fmt.Errorf("reading reply: %w", err)
		}

		res := &Result{Peer: src, Attempts: attempt}
		p.log.Info().
			Str("peer", src.String()).
			Int("bytes", n).
			Int("attempts", attempt).
			Msg("Device replied")

		p.decode(buf[:n], res)
		return res, nil
	}
}

func (p *Prober) decode(data []byte, res *Result) {
	reply, err := protocol.ParseReply(data)
	if err != nil {
		res.ReplyErr = err
		p.log.Warn().Err(err).Str("peer", res.Peer.String()).Msg("Failed to decode device reply")
		return
	}
	res.Reply = reply

	size, ok, err := reply.GridSize()
	switch {
	case !ok:
		p.log.Info().
			Uint8("command", reply.Command).
			Str("peer", res.Peer.String()).
			Msg("Ignoring unknown reply command")
	case err != nil:
		res.ReplyErr = err
		p.log.Warn().Err(err).Str("peer", res.Peer.String()).Msg("Invalid grid size in device reply")
	default:
		res.GridSize = size
	}
}

// Send writes one frame to the peer through the sender socket.
func (p *Prober) Send(payload []byte, peer *net.UDPAddr) error {
	if _, err := p.sender.WriteToUDP(payload, peer); err != nil {
		return fmt.Errorf("writing frame to %s: %w", peer, err)
	}
	return nil
}

// Close releases both sockets. It is safe to call more than once.
func (p *Prober) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = errors.Join(p.sender.Close(), p.listener.Close())
	})
	return err
}

// ResolveTarget picks the probe destination from the configured overrides.
// broadcastAddress wins over networkRange; with neither set the limited
// broadcast address is used.
func ResolveTarget(broadcastAddress, networkRange string, port int) (*net.UDPAddr, error) {
	if broadcastAddress != "" {
		host, portStr, err := net.SplitHostPort(broadcastAddress)
		if err != nil {
			host, portStr = broadcastAddress, strconv.Itoa(port)
		}
		addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, portStr))
		if err != nil {
			return nil, fmt.Errorf("resolving broadcast address %s: %w", broadcastAddress, err)
		}
		return addr, nil
	}

	if networkRange != "" {
		_, ipNet, err := net.ParseCIDR(networkRange)
		if err != nil {
			return nil, fmt.Errorf("parsing network range: %w", err)
		}
		ip := BroadcastIP(ipNet)
		if ip == nil {
			return nil, fmt.Errorf("network range %s is not IPv4", networkRange)
		}
		return &net.UDPAddr{IP: ip, Port: port}, nil
	}

	return &net.UDPAddr{IP: net.IPv4bcast, Port: port}, nil
}

// BroadcastIP returns the directed broadcast address of an IPv4 network.
func BroadcastIP(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	if ip == nil {
		return nil
	}
	mask := n.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	broadcastIP := make(net.IP, len(ip))
	for i := range ip {
		broadcastIP[i] = ip[i] | ^mask[i]
	}
	return broadcastIP
}
