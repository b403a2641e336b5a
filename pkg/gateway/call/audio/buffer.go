// Package audio accumulates raw inbound audio into fixed-size frames for the
// agent socket.
package audio

import "errors"

// DefaultFrameBytes is 20 packets of 160 bytes of 8kHz mu-law, the frame size
// the agent expects on its input.
const DefaultFrameBytes = 20 * 160

var ErrSealed = errors.New("audio: append after seal")

// FrameBuffer is a single-owner accumulator with a fixed flush threshold.
// It is not safe for concurrent use; the transport receiver owns it and hands
// emitted frames to the uplink over a channel.
type FrameBuffer struct {
	frameBytes int
	buf        []byte
	sealed     bool
}

func NewFrameBuffer(frameBytes int) *FrameBuffer {
	if frameBytes <= 0 {
		frameBytes = DefaultFrameBytes
	}
	return &FrameBuffer{frameBytes: frameBytes}
}

// Append adds a chunk and returns every complete frame now available, in
// arrival order. Each returned frame is exactly the configured length.
func (b *FrameBuffer) Append(chunk []byte) ([][]byte, error) {
	if b.sealed {
		return nil, ErrSealed
	}
	b.buf = append(b.buf, chunk...)

	var frames [][]byte
	for len(b.buf) >= b.frameBytes {
		frame := make([]byte, b.frameBytes)
		copy(frame, b.buf[:b.frameBytes])
		frames = append(frames, frame)
		b.buf = b.buf[b.frameBytes:]
	}
	return frames, nil
}

// Seal marks end-of-stream and returns the residual partial frame, if any.
// The bool reports whether a non-empty residual was produced. Further appends
// fail with ErrSealed.
func (b *FrameBuffer) Seal() ([]byte, bool) {
	if b.sealed {
		return nil, false
	}
	b.sealed = true
	if len(b.buf) == 0 {
		return nil, false
	}
	residual := make([]byte, len(b.buf))
	copy(residual, b.buf)
	b.buf = nil
	return residual, true
}

// Buffered reports the bytes currently accumulated below the threshold.
func (b *FrameBuffer) Buffered() int {
	return len(b.buf)
}
