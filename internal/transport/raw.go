package transport

import "bytes"

// Terminator marks the end of a frame in the raw framing
var Terminator = []byte("END")

// RawFraming is the unnumbered chunk + "END" wire format. A final chunk
// whose payload is exactly "END" would be read as a terminator; JPEG data
// always ends with the EOI marker so this cannot happen for JPEG frames.
type RawFraming struct {
	maxChunk int
}

// NewRawFraming creates a raw framing with the given chunk size
func NewRawFraming(maxChunk int) *RawFraming {
	return &RawFraming{maxChunk: maxChunk}
}

func (f *RawFraming) Name() string { return "raw" }

// Datagrams returns the chunks of frame followed by the terminator
func (f *RawFraming) Datagrams(frame []byte) ([][]byte, error) {
	return append(Chunk(frame, f.maxChunk), Terminator), nil
}

func (f *RawFraming) NewAssembler(maxFrameBytes int, onDrop func(reason string)) Assembler {
	if onDrop == nil {
		onDrop = func(string) {}
	}
	return &rawAssembler{max: maxFrameBytes, onDrop: onDrop}
}

type rawAssembler struct {
	buf    []byte
	max    int
	onDrop func(reason string)
}

func (a *rawAssembler) Push(datagram []byte) ([]byte, bool, error) {
	if bytes.Equal(datagram, Terminator) {
		frame := a.buf
		a.buf = nil
		// A terminator with nothing buffered publishes nothing
		if len(frame) == 0 {
			return nil, false, nil
		}
		return frame, true, nil
	}

	if a.max > 0 && len(a.buf)+len(datagram) > a.max {
		// The terminator for this frame was probably lost
		a.buf = nil
		a.onDrop(DropOversize)
		return nil, false, nil
	}

	a.buf = append(a.buf, datagram...)
	return nil, false, nil
}

func (a *rawAssembler) Reset() {
	a.buf = nil
}

func (a *rawAssembler) Pending() int {
	return len(a.buf)
}
