// Package adapter implements the networking-stack side of the bridge
// protocol: a send/receive interface over either a directly attached radio
// or the bridge's local socket, with radio-MTU fragmentation and
// reassembly on both variants so the two stay wire-compatible.
package adapter

import (
	"context"
	"sync"

	"github.com/reticulum-go/meshbridge/pkg/bridge"
	"github.com/reticulum-go/meshbridge/pkg/radio"
)

// DefaultMTU is the radio path budget per fragment.
const DefaultMTU = 180

// minFrameSize is the smallest payload worth delivering upward; anything
// shorter cannot be a valid frame of the networking stack.
const minFrameSize = 16

// ReceiveHandler consumes one reassembled inbound payload.
type ReceiveHandler func(payload []byte)

// Interface is the single contract the networking stack requires:
// submit outbound payloads and receive inbound ones. Run drives the
// underlying connection until the context is cancelled.
type Interface interface {
	Send(payload []byte) error
	SetReceiveHandler(fn ReceiveHandler)
	Run(ctx context.Context) error
}

// indexCounter hands out per-message indexes, wrapping at 256.
type indexCounter struct {
	mu   sync.Mutex
	next uint8
}

func (c *indexCounter) take() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	index := c.next
	c.next++
	return index
}

// reassembly routes inbound fragments to per-source, per-message
// assemblers and returns completed payloads.
type reassembly struct {
	mu       sync.Mutex
	bySource map[radio.Address]map[uint8]*bridge.Assembler
}

func newReassembly() *reassembly {
	return &reassembly{bySource: map[radio.Address]map[uint8]*bridge.Assembler{}}
}

// feed consumes one fragment and returns the reassembled payload once its
// message completes, nil otherwise.
func (r *reassembly) feed(source radio.Address, fragment []byte) []byte {
	index, ok := bridge.FragmentIndex(fragment)
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	messages := r.bySource[source]
	if messages == nil {
		messages = map[uint8]*bridge.Assembler{}
		r.bySource[source] = messages
	}
	asm := messages[index]
	if asm == nil {
		asm = bridge.NewAssembler()
		messages[index] = asm
	}

	payload, done := asm.Add(fragment)
	if !done {
		return nil
	}
	delete(messages, index)
	return payload
}
