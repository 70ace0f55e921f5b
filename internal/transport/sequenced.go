package transport

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"go.dedis.ch/protobuf"
)

// chunkOverhead is an upper bound on the encoded size of the chunk header
// fields plus the payload tag and length
const chunkOverhead = 32

// maxChunksPerFrame bounds the slot table an incoming header can allocate
const maxChunksPerFrame = 1 << 14

// chunk is the sequenced wire message
type chunk struct {
	FrameID uint32
	Index   uint32
	Count   uint32
	Payload []byte
}

// SequencedFraming numbers every chunk. There is no terminator: a frame is
// complete once all Count chunks have arrived.
type SequencedFraming struct {
	payloadSize int
	nextID      atomic.Uint32
}

// NewSequencedFraming creates a sequenced framing whose datagrams stay
// within maxChunk bytes
func NewSequencedFraming(maxChunk int) (*SequencedFraming, error) {
	if maxChunk <= chunkOverhead {
		return nil, errors.Errorf("chunk size %d too small for sequenced framing", maxChunk)
	}
	return &SequencedFraming{payloadSize: maxChunk - chunkOverhead}, nil
}

func (f *SequencedFraming) Name() string { return "sequenced" }

// Datagrams encodes frame under a new frame id. An empty frame produces no
// datagrams.
func (f *SequencedFraming) Datagrams(frame []byte) ([][]byte, error) {
	pieces := Chunk(frame, f.payloadSize)
	if len(pieces) > maxChunksPerFrame {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d bytes needs %d chunks", len(frame), len(pieces))
	}

	id := f.nextID.Add(1)
	datagrams := make([][]byte, 0, len(pieces))
	for i, p := range pieces {
		b, err := protobuf.Encode(&chunk{
			FrameID: id,
			Index:   uint32(i),
			Count:   uint32(len(pieces)),
			Payload: p,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode chunk")
		}
		datagrams = append(datagrams, b)
	}
	return datagrams, nil
}

func decodeChunk(datagram []byte) (c chunk, err error) {
	// Datagrams are untrusted input
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrBadChunk, "decoder panic: %v", r)
		}
	}()

	if err := protobuf.Decode(datagram, &c); err != nil {
		return chunk{}, errors.Wrap(ErrBadChunk, err.Error())
	}
	return c, nil
}

func (f *SequencedFraming) NewAssembler(maxFrameBytes int, onDrop func(reason string)) Assembler {
	if onDrop == nil {
		onDrop = func(string) {}
	}
	return &sequencedAssembler{max: maxFrameBytes, onDrop: onDrop}
}

type sequencedAssembler struct {
	max    int
	onDrop func(reason string)

	active   bool
	frameID  uint32
	parts    [][]byte
	received int
	size     int

	hasLast bool
	lastID  uint32 // last frame completed or abandoned
}

// staleWindow is how far behind a reference id a frame id may be and still
// count as a late chunk. Anything further back is taken as a restarted
// sender.
const staleWindow = 64

// stale reports whether frame id is the reference frame or shortly before
// it, allowing for wraparound
func stale(id, ref uint32) bool {
	return ref-id < staleWindow
}

func (a *sequencedAssembler) Push(datagram []byte) ([]byte, bool, error) {
	c, err := decodeChunk(datagram)
	if err != nil {
		return nil, false, err
	}
	if c.Count == 0 || c.Count > maxChunksPerFrame || c.Index >= c.Count {
		return nil, false, errors.Wrapf(ErrBadChunk, "index %d of %d", c.Index, c.Count)
	}

	if a.hasLast && stale(c.FrameID, a.lastID) {
		return nil, false, errors.Wrapf(ErrStaleChunk, "frame %d", c.FrameID)
	}

	if a.active && c.FrameID != a.frameID {
		if stale(c.FrameID, a.frameID) {
			return nil, false, errors.Wrapf(ErrStaleChunk, "frame %d", c.FrameID)
		}
		// A newer frame started before this one completed
		a.abandon(DropAbandoned)
	}

	if !a.active {
		a.active = true
		a.frameID = c.FrameID
		a.parts = make([][]byte, c.Count)
	}

	if int(c.Count) != len(a.parts) {
		return nil, false, errors.Wrapf(ErrBadChunk, "count changed to %d within frame %d", c.Count, c.FrameID)
	}

	if a.parts[c.Index] != nil {
		// duplicate
		return nil, false, nil
	}

	if a.max > 0 && a.size+len(c.Payload) > a.max {
		a.abandon(DropOversize)
		return nil, false, nil
	}

	a.parts[c.Index] = append([]byte{}, c.Payload...)
	a.received++
	a.size += len(c.Payload)

	if a.received < len(a.parts) {
		return nil, false, nil
	}

	frame := make([]byte, 0, a.size)
	for _, p := range a.parts {
		frame = append(frame, p...)
	}
	a.finish()

	if len(frame) == 0 {
		return nil, false, nil
	}
	return frame, true, nil
}

func (a *sequencedAssembler) abandon(reason string) {
	a.finish()
	a.onDrop(reason)
}

func (a *sequencedAssembler) finish() {
	a.hasLast = true
	a.lastID = a.frameID
	a.clear()
}

func (a *sequencedAssembler) clear() {
	a.active = false
	a.parts = nil
	a.received = 0
	a.size = 0
}

// Reset discards the partial frame. Stale tracking is kept so late chunks
// of the discarded frame are still rejected.
func (a *sequencedAssembler) Reset() {
	if a.active {
		a.hasLast = true
		a.lastID = a.frameID
	}
	a.clear()
}

func (a *sequencedAssembler) Pending() int {
	return a.size
}
