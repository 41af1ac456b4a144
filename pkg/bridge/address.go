package bridge

import (
	"sync"

	"github.com/reticulum-go/meshbridge/pkg/radio"
)

// AddressPolicy selects the destination for outbound frames: broadcast to
// all reachable nodes, or unicast to a configured gateway. It is togglable
// at runtime; the change applies to the next frame submitted, frames
// already queued keep the address they were submitted with.
type AddressPolicy struct {
	mu      sync.Mutex
	unicast bool
	gateway radio.Address
}

// NewAddressPolicy returns a policy in broadcast mode.
func NewAddressPolicy() *AddressPolicy {
	return &AddressPolicy{}
}

// Current returns the destination for the next outbound frame.
func (p *AddressPolicy) Current() radio.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unicast {
		return p.gateway
	}
	return radio.Broadcast
}

// SetBroadcast switches the policy to broadcast.
func (p *AddressPolicy) SetBroadcast() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unicast = false
}

// SetUnicast switches the policy to unicast toward the given gateway node.
func (p *AddressPolicy) SetUnicast(gateway radio.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unicast = true
	p.gateway = gateway
}
