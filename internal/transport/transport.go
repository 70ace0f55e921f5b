// Package transport moves encoded frames from the drone to the ground
// station over UDP.
//
// The wire format is chosen by a Framing. RawFraming is the default
// unnumbered format: payload chunks followed by an "END" datagram. It cannot
// detect loss, duplication or reordering; interleaved frames silently
// corrupt each other. SequencedFraming tags every chunk with a frame id,
// index and count so those cases are detected and dropped instead.
package transport

import (
	"context"

	"github.com/pkg/errors"
)

const (
	// DefaultMaxChunk keeps datagrams well below the 65507 byte UDP ceiling
	DefaultMaxChunk = 8000

	// DefaultMaxFrameBytes bounds a frame under reassembly
	DefaultMaxFrameBytes = 4 << 20

	// maxDatagram is the receive buffer size
	maxDatagram = 65536
)

var (
	// ErrBadChunk means a datagram could not be interpreted by the framing
	ErrBadChunk = errors.New("malformed chunk")

	// ErrStaleChunk means a chunk belongs to a frame that was already
	// completed or abandoned
	ErrStaleChunk = errors.New("stale chunk")

	// ErrFrameTooLarge means a frame does not fit the framing's limits
	ErrFrameTooLarge = errors.New("frame too large")
)

// Drop reasons reported by assemblers
const (
	DropOversize  = "oversize"
	DropAbandoned = "abandoned"
)

// FrameTransport sends whole encoded frames to the peer
type FrameTransport interface {
	SendFrame(ctx context.Context, frame []byte) error
	Close() error
}

// Framing converts frames to datagrams and back
type Framing interface {
	Name() string

	// Datagrams returns the datagrams carrying frame, in send order
	Datagrams(frame []byte) ([][]byte, error)

	// NewAssembler returns receiver-side state. onDrop is called whenever a
	// partially assembled frame is discarded.
	NewAssembler(maxFrameBytes int, onDrop func(reason string)) Assembler
}

// Assembler rebuilds frames from datagrams. It is not safe for concurrent use.
type Assembler interface {
	// Push consumes one datagram. done is true when a non-empty frame
	// completed. The datagram is copied; callers may reuse it.
	Push(datagram []byte) (frame []byte, done bool, err error)

	// Reset discards any partial frame
	Reset()

	// Pending returns the number of bytes held for the partial frame
	Pending() int
}

// NewFraming returns the framing registered under name
func NewFraming(name string, maxChunk int) (Framing, error) {
	if maxChunk <= 0 {
		return nil, errors.Errorf("invalid chunk size %d", maxChunk)
	}

	switch name {
	case "", "raw":
		return NewRawFraming(maxChunk), nil
	case "sequenced":
		return NewSequencedFraming(maxChunk)
	default:
		return nil, errors.Errorf("unknown framing %q", name)
	}
}

// Chunk splits buf into consecutive slices of at most size bytes. The
// slices alias buf.
func Chunk(buf []byte, size int) [][]byte {
	if size <= 0 {
		panic("transport: chunk size must be positive")
	}

	chunks := make([][]byte, 0, (len(buf)+size-1)/size)
	for i := 0; i < len(buf); i += size {
		end := min(i+size, len(buf))
		chunks = append(chunks, buf[i:end])
	}
	return chunks
}
