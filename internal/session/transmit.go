package session

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gfonseca/visage/internal/discovery"
	"github.com/gfonseca/visage/internal/frame"
)

// FrameRate caps how many frames per second are sent to the device.
const FrameRate = 30

// FrameInterval is the time slice of one capture-encode-send iteration.
const FrameInterval = time.Second / FrameRate

// frameSender delivers one encoded frame to the bound peer.
type frameSender interface {
	Send(payload []byte, peer *net.UDPAddr) error
}

// searchLabel cycles through zero to nine trailing dots.
func searchLabel(attempt int) string {
	return SearchingLabel + " " + strings.Repeat(".", attempt%10)
}

// transmit is the body of one execution: discover once, then stream frames
// until ctx is cancelled or capture fails.
func (s *Session) transmit(ctx context.Context, e *execution) {
	log := s.log.With().Str("execution", e.id).Logger()

	final := StoppedLabel
	defer func() {
		s.finish(e, final)
		log.Info().Str("label", final).Msg("Transmission ended")
	}()

	prober, err := discovery.Open(s.discovery, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open discovery sockets")
		final = fmt.Sprintf("Discovery failed: %v", err)
		return
	}
	defer prober.Close()

	log.Info().
		Str("target", prober.Target().String()).
		Str("listen", prober.ListenAddr().String()).
		Msg("Searching for device")

	res, err := prober.Discover(ctx, func(attempt int) {
		s.update(e, func() { s.label = searchLabel(attempt) })
	})
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("Discovery aborted")
			final = fmt.Sprintf("Discovery failed: %v", err)
		}
		return
	}

	if !s.bind(e, res, log) {
		return
	}

	if err := s.stream(ctx, e, s.sender(prober), res.Peer, log); err != nil {
		log.Error().Err(err).Msg("Capture failed, ending transmission")
		final = fmt.Sprintf("Capture failed: %v", err)
	}
}

// bind records the discovered peer and applies the device's grid size.
func (s *Session) bind(e *execution, res *discovery.Result, log zerolog.Logger) bool {
	return s.update(e, func() {
		s.peer = res.Peer
		s.label = res.Peer.IP.String()
		s.phase = Streaming
		if res.GridSize > 0 && res.GridSize != s.gridSize {
			log.Info().
				Int("old", s.gridSize).
				Int("new", res.GridSize).
				Msg("Updated grid size")
			s.gridSize = res.GridSize
		}
	})
}

// stream sends one frame per tick. A slow iteration drops ticks rather than
// queueing them.
func (s *Session) stream(ctx context.Context, e *execution, out frameSender, peer *net.UDPAddr, log zerolog.Logger) error {
	ticker := time.NewTicker(FrameInterval)
	defer ticker.Stop()

	log.Info().Str("peer", peer.String()).Int("fps", FrameRate).Msg("Streaming frames")

	for {
		region, size := s.target()

		img, err := s.source.Capture(region)
		if err != nil {
			return err
		}
		payload, err := frame.Encode(img, size, s.resampler)
		if err != nil {
			return fmt.Errorf("encoding frame: %w", err)
		}

		if err := out.Send(payload, peer); err != nil {
			log.Warn().Err(err).Msg("Failed to send frame")
			s.update(e, func() { s.sendErrors++ })
		} else {
			s.update(e, func() { s.framesSent++ })
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
