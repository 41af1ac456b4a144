// Package tcp provides the radio link to an already-connected
// radio-management application exposing the Meshtastic client API on TCP.
package tcp

import (
	"context"
	"io"
	"net"
	"strconv"

	"github.com/reticulum-go/meshbridge/pkg/radio/stream"
)

// DefaultPort is the TCP port the Meshtastic host API listens on.
const DefaultPort = 4403

// NewLink creates a stream link that dials the host API on every connect.
// A host without an explicit port gets DefaultPort.
func NewLink(host string) *stream.Link {
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, strconv.Itoa(DefaultPort))
	}

	return &stream.Link{
		Dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", host)
		},
	}
}
