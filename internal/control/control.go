// Package control provides Unix socket IPC between a running stream and the ctl CLI.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/gfonseca/visage/internal/session"
)

// Operations understood by the server.
const (
	OpStatus  = "status"
	OpStart   = "start"
	OpStop    = "stop"
	OpRestart = "restart"
	OpSelect  = "select"
)

// Controller is the part of a session the control channel drives.
type Controller interface {
	Start() error
	Stop()
	Restart(ctx context.Context, cooldown time.Duration) error
	SelectRegion(index int) error
	Status() session.Status
}

// Request is one msgpack-encoded call.
type Request struct {
	Op    string `msgpack:"op"`
	Index int    `msgpack:"index,omitempty"`
}

// Response answers a Request. Status is always filled, after the operation ran.
type Response struct {
	OK     bool           `msgpack:"ok"`
	Error  string         `msgpack:"error,omitempty"`
	Status session.Status `msgpack:"status"`
}

// Server serves Requests on a Unix socket.
type Server struct {
	ctl      Controller
	cooldown time.Duration
	path     string
	listener net.Listener
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Listen binds the Unix socket, replacing any stale socket file.
func Listen(socketPath string, ctl Controller, cooldown time.Duration, log zerolog.Logger) (*Server, error) {
	// Remove existing socket file if present
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", socketPath, err)
	}

	if err := os.Chmod(socketPath, 0660); err != nil {
		log.Warn().Err(err).Msg("Failed to set socket permissions")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ctl:      ctl,
		cooldown: cooldown,
		path:     socketPath,
		listener: listener,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Serve accepts connections in the background until Close.
func (s *Server) Serve() {
	s.log.Info().Str("socket", s.listener.Addr().String()).Msg("Control server started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.log.Error().Err(err).Msg("Control accept error")
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.serveConn(conn)
			}()
		}
	}()
}

// Close stops accepting, aborts pending restarts and removes the socket file.
func (s *Server) Close() error {
	s.cancel()
	err := s.listener.Close()
	s.wg.Wait()
	if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		err = errors.Join(err, rmErr)
	}
	return err
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(s.ctx, func() { conn.Close() })
	defer stop()

	dec := msgpack.NewDecoder(conn)
	enc := msgpack.NewEncoder(conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) && s.ctx.Err() == nil {
				s.log.Debug().Err(err).Msg("Control connection closed")
			}
			return
		}

		resp := s.dispatch(req)
		if err := enc.Encode(&resp); err != nil {
			s.log.Warn().Err(err).Msg("Failed to write control response")
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	s.log.Debug().Str("op", req.Op).Int("index", req.Index).Msg("Control request")

	var err error
	switch req.Op {
	case OpStatus:
	case OpStart:
		err = s.ctl.Start()
	case OpStop:
		s.ctl.Stop()
	case OpRestart:
		err = s.ctl.Restart(s.ctx, s.cooldown)
	case OpSelect:
		err = s.ctl.SelectRegion(req.Index)
	default:
		err = fmt.Errorf("unknown operation %q", req.Op)
	}

	resp := Response{OK: err == nil, Status: s.ctl.Status()}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// Client is a client for the control server.
type Client struct {
	conn net.Conn
	enc  *msgpack.Encoder
	dec  *msgpack.Decoder
}

// Dial connects to the control socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to control socket %s: %w", socketPath, err)
	}
	return &Client{
		conn: conn,
		enc:  msgpack.NewEncoder(conn),
		dec:  msgpack.NewDecoder(conn),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends a request and returns the server's status. A refused operation
// is returned as an error alongside the status.
func (c *Client) Call(req Request) (session.Status, error) {
	if err := c.enc.Encode(&req); err != nil {
		return session.Status{}, fmt.Errorf("sending %s request: %w", req.Op, err)
	}
	var resp Response
	if err := c.dec.Decode(&resp); err != nil {
		return session.Status{}, fmt.Errorf("reading %s response: %w", req.Op, err)
	}
	if !resp.OK {
		return resp.Status, errors.New(resp.Error)
	}
	return resp.Status, nil
}

// Status fetches the current session status.
func (c *Client) Status() (session.Status, error) {
	return c.Call(Request{Op: OpStatus})
}

// Start asks the server to start transmitting.
func (c *Client) Start() (session.Status, error) {
	return c.Call(Request{Op: OpStart})
}

// Stop asks the server to stop transmitting.
func (c *Client) Stop() (session.Status, error) {
	return c.Call(Request{Op: OpStop})
}

// Restart stops, waits out the server's cooldown and starts again.
func (c *Client) Restart() (session.Status, error) {
	return c.Call(Request{Op: OpRestart})
}

// Select switches the captured monitor.
func (c *Client) Select(index int) (session.Status, error) {
	return c.Call(Request{Op: OpSelect, Index: index})
}
