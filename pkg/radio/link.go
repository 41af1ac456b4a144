package radio

import (
	"context"
	"errors"
)

// Broadcast addresses every reachable node ("^all" in Meshtastic terms).
const Broadcast Address = 0xffffffff

// Address identifies the destination node of an outbound payload.
// The zero value is not a valid destination; use Broadcast or a node number.
type Address uint32

// IsBroadcast reports whether the address targets all reachable nodes.
func (a Address) IsBroadcast() bool { return a == Broadcast }

// ChannelBinding selects the logical radio channel payloads are tagged with
// and filtered by on receipt. It is fixed for the lifetime of a connection;
// changing it requires reconnecting the link.
type ChannelBinding struct {
	// Name of the channel to bind to. Empty means the reserved
	// application channel on the primary device channel.
	Name string
}

// PrivateApp returns the default binding: the reserved Reticulum application
// port on the device's primary channel. No channel configuration is required.
func PrivateApp() ChannelBinding {
	return ChannelBinding{}
}

// NamedStream returns a binding to a named broadcast stream, e.g. "RNS".
func NamedStream(name string) ChannelBinding {
	return ChannelBinding{Name: name}
}

// Inbound is a payload delivered by the radio, tagged with its source node.
type Inbound struct {
	Payload []byte
	Source  Address
}

// Link is the capability set a radio channel exposes to the bridge: an IPC
// binding to the radio-management application, a directly attached device,
// or an MQTT gateway, all behind the same contract.
//
// Send is only valid while the link is connected; implementations return
// ErrNotBound otherwise. Receive blocks until a payload tagged with the
// bound channel arrives; payloads on other channels or ports are skipped
// internally and never surface.
type Link interface {
	// Connect establishes the underlying transport and binds the channel.
	Connect(ctx context.Context, binding ChannelBinding) error
	// Send transmits one payload to the given address.
	Send(ctx context.Context, payload []byte, to Address) error
	// Receive blocks until the next inbound payload on the bound channel.
	Receive(ctx context.Context) (Inbound, error)
	// Disconnect releases the transport. Idempotent.
	Disconnect() error
}

// ErrBindUnavailable indicates the radio-management application or device
// was not reachable when connecting. It is always recoverable by retrying.
var ErrBindUnavailable = errors.New("radio transport unavailable")

// ErrNotBound indicates a send was attempted while the link is not connected.
var ErrNotBound = errors.New("radio link not bound")

// ErrInvalidPacketFormat indicates a problem in structure of a received packet.
var ErrInvalidPacketFormat = errors.New("invalid packet data format")
