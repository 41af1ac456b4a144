package adapter

import (
	"context"
	"sync/atomic"

	"github.com/reticulum-go/meshbridge/pkg/bridge"
	"github.com/reticulum-go/meshbridge/pkg/radio"
)

var _ Interface = (*DeviceInterface)(nil)

// DeviceInterface speaks the bridge framing directly over a radio link:
// serial, the radio application's TCP API, MQTT or HTTP. The link runs
// under its own reconnect supervisor; sends submitted while the link is
// down follow the supervisor's queue policy.
type DeviceInterface struct {
	mtu        int
	policy     *bridge.AddressPolicy
	supervisor *bridge.Supervisor
	index      indexCounter
	asm        *reassembly
	handler    atomic.Value // ReceiveHandler
}

// NewDeviceInterface wraps a radio link. mtu <= 0 selects DefaultMTU.
func NewDeviceInterface(link radio.Link, policy *bridge.AddressPolicy, opts bridge.SupervisorOptions, mtu int) *DeviceInterface {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	d := &DeviceInterface{
		mtu:        mtu,
		policy:     policy,
		supervisor: bridge.NewSupervisor(link, opts),
		asm:        newReassembly(),
	}
	d.supervisor.OnReceive(d.onInbound)
	return d
}

// Supervisor exposes the link supervisor, e.g. for state-change reporting.
func (d *DeviceInterface) Supervisor() *bridge.Supervisor {
	return d.supervisor
}

// Run drives the radio connection until ctx is cancelled.
func (d *DeviceInterface) Run(ctx context.Context) error {
	return d.supervisor.Run(ctx)
}

// Send fragments one payload to the radio MTU and submits the fragments
// in order, all addressed by the current policy.
func (d *DeviceInterface) Send(payload []byte) error {
	fragments, err := bridge.SplitPayload(d.index.take(), payload, d.mtu)
	if err != nil {
		return err
	}

	to := d.policy.Current()
	for _, fragment := range fragments {
		d.supervisor.Send(fragment, to)
	}
	return nil
}

// SetReceiveHandler registers the consumer of reassembled inbound payloads.
func (d *DeviceInterface) SetReceiveHandler(fn ReceiveHandler) {
	d.handler.Store(fn)
}

func (d *DeviceInterface) onInbound(fragment []byte, source radio.Address) {
	payload := d.asm.feed(source, fragment)
	if payload == nil || len(payload) < minFrameSize {
		return
	}
	if fn, ok := d.handler.Load().(ReceiveHandler); ok && fn != nil {
		fn(payload)
	}
}
