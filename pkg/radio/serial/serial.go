// Package serial provides the direct-device radio link over a serial port.
package serial

import (
	"context"
	"fmt"
	"io"

	"github.com/reticulum-go/meshbridge/pkg/radio/stream"

	"go.bug.st/serial"
)

// NewLink creates a stream link that opens the given serial port on every
// connect, with default settings (115200 baud rate).
func NewLink(port string) *stream.Link {
	return &stream.Link{
		Dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
			mode := &serial.Mode{
				BaudRate: 115200,
			}
			p, err := serial.Open(port, mode)
			if err != nil {
				return nil, fmt.Errorf("failed to open serial port: %w", err)
			}
			return p, nil
		},
	}
}
