package bridge

import "errors"

// Fragments sized for the radio path carry a two-byte meta header: the
// message index (so concurrent messages from one source do not mix) and a
// signed fragment position. Positions are one-based; the final fragment
// carries its position negated, which doubles as the end-of-message marker.
const fragmentMetaSize = 2

// maxFragments is bounded by the signed one-byte position field.
const maxFragments = 127

// ErrMessageTooLong indicates a payload that does not fit the fragment
// position space at the given MTU.
var ErrMessageTooLong = errors.New("payload needs too many fragments")

// SplitPayload chunks one payload into radio-sized fragments, each carrying
// the meta header. mtu is the full fragment budget including the header.
func SplitPayload(index uint8, payload []byte, mtu int) ([][]byte, error) {
	chunkSize := mtu - fragmentMetaSize
	if chunkSize < 1 {
		return nil, ErrMessageTooLong
	}

	numChunks := (len(payload) + chunkSize - 1) / chunkSize
	if numChunks == 0 {
		numChunks = 1
	}
	if numChunks > maxFragments {
		return nil, ErrMessageTooLong
	}

	fragments := make([][]byte, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		chunk := payload[i*chunkSize : min((i+1)*chunkSize, len(payload))]

		pos := int8(i + 1)
		if i == numChunks-1 {
			pos = -pos
		}

		fragment := make([]byte, fragmentMetaSize+len(chunk))
		fragment[0] = index
		fragment[1] = byte(pos)
		copy(fragment[fragmentMetaSize:], chunk)
		fragments = append(fragments, fragment)
	}
	return fragments, nil
}

// FragmentIndex returns the message index a fragment belongs to, used to
// route fragments from one source to the right assembler.
func FragmentIndex(fragment []byte) (uint8, bool) {
	if len(fragment) < fragmentMetaSize {
		return 0, false
	}
	return fragment[0], true
}

// Assembler reassembles one fragmented message. Fragments may arrive in
// any order; the message completes when the negative position marker has
// arrived and no positions are missing.
type Assembler struct {
	fragments map[int][]byte
	last      int
}

// NewAssembler returns an empty assembler for a single message index.
func NewAssembler() *Assembler {
	return &Assembler{fragments: map[int][]byte{}}
}

// Add consumes one fragment. It returns the reassembled payload and true
// once the message is complete. A marker fragment arriving while earlier
// positions are still missing yields nothing; the message stays incomplete
// until the gaps fill.
func (a *Assembler) Add(fragment []byte) ([]byte, bool) {
	if len(fragment) <= fragmentMetaSize {
		return nil, false
	}

	pos := int(int8(fragment[1]))
	if pos == 0 {
		return nil, false
	}
	if pos < 0 {
		pos = -pos
		a.last = pos
	}
	a.fragments[pos] = fragment[fragmentMetaSize:]

	if a.last == 0 {
		return nil, false
	}
	return a.assemble()
}

func (a *Assembler) assemble() ([]byte, bool) {
	size := 0
	for pos := 1; pos <= a.last; pos++ {
		chunk, ok := a.fragments[pos]
		if !ok {
			return nil, false
		}
		size += len(chunk)
	}

	payload := make([]byte, 0, size)
	for pos := 1; pos <= a.last; pos++ {
		payload = append(payload, a.fragments[pos]...)
	}
	return payload, true
}
