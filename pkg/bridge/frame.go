package bridge

import (
	"encoding/binary"
	"io"
	"iter"
)

// MaxPayload is the largest payload one frame can carry.
const MaxPayload = 65535

// reservedLength is the length value the strict protocol variant reserves.
const reservedLength = 0xffff

// EncodeFrame prefixes the payload with its 16-bit big-endian length.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}

	frame := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(frame[:2], uint16(len(payload)))
	copy(frame[2:], payload)
	return frame, nil
}

// Decoder is an incremental frame parser over a byte stream. It tolerates
// arbitrary read fragmentation and never yields a partial payload.
type Decoder struct {
	// Strict rejects frames carrying the reserved length value.
	// Off by default; the reserved value is then an ordinary length.
	Strict bool

	r io.Reader
}

// NewDecoder returns a decoder consuming frames from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next blocks until one complete frame has been read and returns its
// payload. It returns io.ErrUnexpectedEOF if the stream ends inside a
// frame, and ErrMalformedFrame for a reserved length in strict mode.
func (d *Decoder) Next() ([]byte, error) {
	var header [2]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint16(header[:])
	if d.Strict && length == reservedLength {
		return nil, ErrMalformedFrame
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// Frames yields complete payloads as they arrive, ending on the first
// read error. The sequence is restartable: breaking out and ranging again
// resumes at the next length prefix.
func (d *Decoder) Frames() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			payload, err := d.Next()
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(payload, nil) {
				return
			}
		}
	}
}
