package events

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxFrameSize bounds a single frame body. Real messages are a few bytes.
const maxFrameSize = 64 << 10

// message is the msgpack body of one socket frame.
type message struct {
	Op   Op  `msgpack:"op"`
	Core int `msgpack:"core"`
}

// WriteFrame writes e as one frame: 4-byte big-endian length + msgpack body.
func WriteFrame(w io.Writer, e Event) error {
	body, err := msgpack.Marshal(message{Op: e.Op(), Core: e.Core})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write event frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame written by WriteFrame. Returns io.EOF when the
// stream ends cleanly between frames.
func ReadFrame(r io.Reader) (Event, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return Event{}, err
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length > maxFrameSize {
		return Event{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Event{}, fmt.Errorf("failed to read event body: %w", err)
	}

	var msg message
	if err := msgpack.Unmarshal(body, &msg); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return FromOp(msg.Op, msg.Core)
}
