// Package protocol defines the visage wire format shared by the sender and the lighting device.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// DiscoveryPort is the UDP port devices listen on for the broadcast probe.
	DiscoveryPort = 4210
	// ResponsePort is the UDP port the sender listens on for discovery replies.
	ResponsePort = 4211

	// Magic is the literal probe payload broadcast by the sender.
	Magic = "fna349fn"
	// Signature prefixes every discovery reply.
	Signature = "vsg"

	// HeaderSize is the signature plus the command byte.
	HeaderSize = len(Signature) + 1

	// MaxPacketSize bounds a single discovery reply.
	MaxPacketSize = 1024

	// DefaultGridSize is the downsample grid edge used until a device asks otherwise.
	DefaultGridSize = 10
	// MaxGridSize keeps a frame (MaxGridSize*3 bytes) well inside one datagram.
	MaxGridSize = 1024
)

// Command codes carried in byte 3 of a reply.
const (
	CmdGridSize byte = 10
)

var (
	// ErrInvalidSignature is returned when a reply does not start with Signature.
	ErrInvalidSignature = errors.New("invalid reply signature")
	// ErrShortReply is returned when a reply is missing its command or payload bytes.
	ErrShortReply = errors.New("reply too short")
	// ErrGridSize is returned when a grid size is outside [1, MaxGridSize].
	ErrGridSize = errors.New("grid size out of range")
)

// Reply is a parsed discovery reply.
type Reply struct {
	Command byte
	Payload []byte
}

// ParseReply validates the signature and splits a reply into command and payload.
func ParseReply(data []byte) (*Reply, error) {
	if len(data) < len(Signature) || !bytes.Equal(data[:len(Signature)], []byte(Signature)) {
		return nil, ErrInvalidSignature
	}
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("missing command byte: %w", ErrShortReply)
	}

	payload := make([]byte, len(data)-HeaderSize)
	copy(payload, data[HeaderSize:])

	return &Reply{
		Command: data[len(Signature)],
		Payload: payload,
	}, nil
}

// GridSize returns the grid size carried by a CmdGridSize reply.
// ok is false for any other command.
func (r *Reply) GridSize() (size int, ok bool, err error) {
	if r.Command != CmdGridSize {
		return 0, false, nil
	}
	if len(r.Payload) < 2 {
		return 0, true, fmt.Errorf("grid size payload has %d bytes: %w", len(r.Payload), ErrShortReply)
	}
	size = int(binary.LittleEndian.Uint16(r.Payload[:2]))
	if err := ValidateGridSize(size); err != nil {
		return 0, true, err
	}
	return size, true, nil
}

// EncodeGridSize builds the reply a device sends to set the sender's grid size.
func EncodeGridSize(size int) ([]byte, error) {
	if err := ValidateGridSize(size); err != nil {
		return nil, err
	}
	packet := make([]byte, HeaderSize+2)
	copy(packet, Signature)
	packet[len(Signature)] = CmdGridSize
	binary.LittleEndian.PutUint16(packet[HeaderSize:], uint16(size))
	return packet, nil
}

// ValidateGridSize reports whether size can be used as a grid edge.
func ValidateGridSize(size int) error {
	if size < 1 || size > MaxGridSize {
		return fmt.Errorf("%d: %w", size, ErrGridSize)
	}
	return nil
}

// IsProbe reports whether a datagram is the discovery probe.
func IsProbe(data []byte) bool {
	return string(data) == Magic
}

// FrameSize is the payload length of one frame for the given grid size.
func FrameSize(gridSize int) int {
	return gridSize * 3
}
