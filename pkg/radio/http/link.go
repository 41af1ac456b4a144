// Package http provides the radio link through the Meshtastic device HTTP API.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/reticulum-go/meshbridge/pkg/radio"

	pb "github.com/meshnet-gophers/meshtastic-go/meshtastic"
	protobuf "google.golang.org/protobuf/proto"
)

var _ radio.Link = (*Link)(nil)

// Link talks to a Meshtastic device over its HTTP API. Outbound packets go
// through PUT /api/v1/toradio; inbound packets are polled from
// GET /api/v1/fromradio.
type Link struct {
	// URL is the base URL of the meshtastic API endpoint.
	URL string
	// Client is an HTTP client used to send requests.
	Client http.Client
	// PollInterval is the pause between empty fromradio polls.
	// Zero means one second.
	PollInterval time.Duration
	// HopLimit for outbound mesh packets. Zero means one hop.
	HopLimit uint32

	// bound is read by the sender and receiver goroutines while the
	// supervisor toggles it.
	bound atomic.Bool
}

// Connect verifies the device API is reachable. The HTTP API exposes only
// the primary channel, so a named-stream binding is rejected.
func (l *Link) Connect(ctx context.Context, binding radio.ChannelBinding) error {
	if binding.Name != "" {
		return fmt.Errorf("named stream %q is not supported over the HTTP API", binding.Name)
	}

	if _, err := l.poll(ctx); err != nil {
		return fmt.Errorf("%w: %w", radio.ErrBindUnavailable, err)
	}
	l.bound.Store(true)
	return nil
}

// Send wraps one payload in a mesh packet and PUTs it to the device.
func (l *Link) Send(ctx context.Context, payload []byte, to radio.Address) error {
	if !l.bound.Load() {
		return radio.ErrNotBound
	}

	hopLimit := l.HopLimit
	if hopLimit == 0 {
		hopLimit = 1
	}

	body, err := protobuf.Marshal(&pb.ToRadio{
		PayloadVariant: &pb.ToRadio_Packet{
			Packet: &pb.MeshPacket{
				To:       uint32(to),
				Id:       rand.Uint32(),
				HopLimit: hopLimit,
				PayloadVariant: &pb.MeshPacket_Decoded{
					Decoded: &pb.Data{
						Portnum: radio.PortReticulumTunnel,
						Payload: payload,
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "PUT", l.URL+"/api/v1/toradio", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Content-Type", "application/x-protobuf")

	response, err := l.Client.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected response status code %d", response.StatusCode)
	}
	return nil
}

// Receive polls the device until a Reticulum application packet arrives.
func (l *Link) Receive(ctx context.Context) (radio.Inbound, error) {
	if !l.bound.Load() {
		return radio.Inbound{}, radio.ErrNotBound
	}

	interval := l.PollInterval
	if interval == 0 {
		interval = time.Second
	}

	for {
		body, err := l.poll(ctx)
		if err != nil {
			return radio.Inbound{}, err
		}

		if len(body) > 0 {
			packet := new(pb.FromRadio)
			if err = protobuf.Unmarshal(body, packet); err != nil {
				return radio.Inbound{}, radio.ErrInvalidPacketFormat
			}

			mesh := packet.GetPacket()
			if mesh != nil {
				data := mesh.GetDecoded()
				if data != nil && data.GetPortnum() == radio.PortReticulumTunnel {
					return radio.Inbound{
						Payload: data.GetPayload(),
						Source:  radio.Address(mesh.GetFrom()),
					}, nil
				}
			}
			continue
		}

		select {
		case <-ctx.Done():
			return radio.Inbound{}, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Disconnect marks the link unbound. The HTTP API is connectionless, so
// there is no transport to release.
func (l *Link) Disconnect() error {
	l.bound.Store(false)
	return nil
}

func (l *Link) poll(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", l.URL+"/api/v1/fromradio?all=false", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Connection", "keep-alive")

	response, err := l.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected response status code %d", response.StatusCode)
	}

	return io.ReadAll(response.Body)
}
