// Package session holds the shared streaming state and the start/stop state
// machine around a single transmission goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"

	"github.com/gfonseca/visage/internal/capture"
	"github.com/gfonseca/visage/internal/discovery"
	"github.com/gfonseca/visage/internal/protocol"
)

// Labels shown by control surfaces.
const (
	NotFoundLabel  = "SERVER NOT FOUND"
	SearchingLabel = "Searching for server"
	StoppedLabel   = "Transmission Stopped."
)

// ErrAlreadyRunning is returned by Start while a transmission is active.
var ErrAlreadyRunning = errors.New("transmission already running")

// ConfigError reports an invalid monitor selection.
type ConfigError struct {
	Index int
	Count int
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid monitor number %d (have %d)", e.Index, e.Count)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Phase is the lifecycle state of the session. Idle means a stop was
// requested, not that the last execution has released its sockets; use Wait
// for that.
type Phase int

const (
	Idle Phase = iota
	Starting
	Streaming
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Streaming:
		return "streaming"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Options configures a Session.
type Options struct {
	// Monitor is the 1-based index of the initially selected region.
	Monitor   int
	GridSize  int
	Resampler draw.Interpolator
	Discovery discovery.Options
}

// Status is a point-in-time copy of the session state.
type Status struct {
	Phase       Phase          `msgpack:"phase"`
	Running     bool           `msgpack:"running"`
	Peer        string         `msgpack:"peer"`
	Label       string         `msgpack:"label"`
	GridSize    int            `msgpack:"grid_size"`
	Region      capture.Region `msgpack:"region"`
	RegionCount int            `msgpack:"region_count"`
	Execution   string         `msgpack:"execution"`
	FramesSent  uint64         `msgpack:"frames_sent"`
	SendErrors  uint64         `msgpack:"send_errors"`
	StartedAt   time.Time      `msgpack:"started_at"`
}

// execution is one run of the transmission loop.
type execution struct {
	id     string
	cancel context.CancelFunc
}

// Session is shared between control surfaces and the transmission goroutine.
// Every field below mu is guarded by it.
type Session struct {
	source    capture.Source
	regions   []capture.Region
	resampler draw.Interpolator
	discovery discovery.Options
	sender    func(*discovery.Prober) frameSender
	log       zerolog.Logger
	wg        sync.WaitGroup

	mu         sync.RWMutex
	region     capture.Region
	gridSize   int
	running    bool
	phase      Phase
	peer       *net.UDPAddr
	label      string
	current    *execution
	framesSent uint64
	sendErrors uint64
	startedAt  time.Time
}

// New enumerates the capture regions once and validates the initial selection.
func New(source capture.Source, opts Options, log zerolog.Logger) (*Session, error) {
	regions, err := source.Regions()
	if err != nil {
		return nil, fmt.Errorf("enumerating monitors: %w", err)
	}

	region, err := capture.Lookup(regions, opts.Monitor)
	if err != nil {
		return nil, &ConfigError{Index: opts.Monitor, Count: len(regions), Err: err}
	}

	gridSize := opts.GridSize
	if gridSize == 0 {
		gridSize = protocol.DefaultGridSize
	}
	if err := protocol.ValidateGridSize(gridSize); err != nil {
		return nil, fmt.Errorf("grid size: %w", err)
	}

	resampler := opts.Resampler
	if resampler == nil {
		resampler = draw.BiLinear
	}

	return &Session{
		source:    source,
		regions:   regions,
		resampler: resampler,
		discovery: opts.Discovery,
		sender:    func(p *discovery.Prober) frameSender { return p },
		log:       log,
		region:    region,
		gridSize:  gridSize,
		label:     NotFoundLabel,
	}, nil
}

// Regions returns the regions enumerated at startup.
func (s *Session) Regions() []capture.Region {
	out := make([]capture.Region, len(s.regions))
	copy(out, s.regions)
	return out
}

// Start spawns a transmission. It is only valid while idle.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &execution{id: uuid.NewString(), cancel: cancel}

	s.current = e
	s.running = true
	s.phase = Starting
	s.peer = nil
	s.label = SearchingLabel
	s.framesSent = 0
	s.sendErrors = 0
	s.startedAt = time.Now()

	s.log.Info().
		Str("execution", e.id).
		Str("region", s.region.String()).
		Int("grid_size", s.gridSize).
		Msg("Transmission starting")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.transmit(ctx, e)
	}()
	return nil
}

// Stop asks the active transmission to end. It does not wait for it.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.phase = Idle
	s.peer = nil
	if s.current != nil {
		s.current.cancel()
		s.log.Info().Str("execution", s.current.id).Msg("Transmission stop requested")
	}
}

// Restart stops the transmission, waits for cooldown so the previous sockets
// are released, then starts a new one.
func (s *Session) Restart(ctx context.Context, cooldown time.Duration) error {
	s.Stop()

	t := time.NewTimer(cooldown)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return s.Start()
}

// SelectRegion switches the captured monitor. A running transmission picks it
// up on its next frame.
func (s *Session) SelectRegion(index int) error {
	region, err := capture.Lookup(s.regions, index)
	if err != nil {
		return &ConfigError{Index: index, Count: len(s.regions), Err: err}
	}

	s.mu.Lock()
	s.region = region
	s.mu.Unlock()

	s.log.Info().Str("region", region.String()).Msg("Monitor selected")
	return nil
}

// Status returns a snapshot of the shared state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Phase:       s.phase,
		Running:     s.running,
		Label:       s.label,
		GridSize:    s.gridSize,
		Region:      s.region,
		RegionCount: len(s.regions),
		FramesSent:  s.framesSent,
		SendErrors:  s.sendErrors,
		StartedAt:   s.startedAt,
	}
	if s.peer != nil {
		st.Peer = s.peer.String()
	}
	if s.current != nil && s.running {
		st.Execution = s.current.id
	}
	return st
}

// Wait blocks until every transmission goroutine has returned.
func (s *Session) Wait() {
	s.wg.Wait()
}

// update applies fn under the lock if e is still the session's live execution.
func (s *Session) update(e *execution, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != e || !s.running {
		return false
	}
	fn()
	return true
}

// target returns what the next frame should capture.
func (s *Session) target() (capture.Region, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.region, s.gridSize
}

// finish moves the session back to idle, unless a newer execution owns it.
func (s *Session) finish(e *execution, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != e {
		return
	}
	s.running = false
	s.phase = Idle
	s.peer = nil
	s.label = label
}
