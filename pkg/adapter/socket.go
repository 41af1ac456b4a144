package adapter

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reticulum-go/meshbridge/pkg/bridge"
	"github.com/reticulum-go/meshbridge/pkg/radio"
)

// ErrNotConnected is returned for sends while the bridge socket is down.
// The networking stack retransmits end-to-end, so dropped sends are not
// buffered here.
var ErrNotConnected = errors.New("bridge socket not connected")

// socketSource keys inbound reassembly; the bridge multiplexes all radio
// sources onto one socket, and fragments already carry a message index.
const socketSource = radio.Address(0)

var _ Interface = (*SocketInterface)(nil)

// SocketInterface speaks the bridge framing over the bridge process's
// local socket, reconnecting with capped exponential backoff when the
// bridge goes away or rebinds.
type SocketInterface struct {
	// Addr is the bridge endpoint. Empty means bridge.DefaultListenAddr.
	Addr string
	// AuthToken answers the bridge's nonce challenge when set.
	AuthToken string
	// MTU is the radio path budget per fragment. Zero means DefaultMTU.
	MTU int
	// BackoffMin and BackoffMax bound the reconnect delay.
	// Zero selects 1s and 60s.
	BackoffMin time.Duration
	BackoffMax time.Duration

	mu      sync.Mutex
	conn    net.Conn
	index   indexCounter
	asm     *reassembly
	handler atomic.Value // ReceiveHandler
}

// Run dials the bridge and pumps inbound frames until ctx is cancelled,
// redialing after connection loss.
func (s *SocketInterface) Run(ctx context.Context) error {
	addr := s.Addr
	if addr == "" {
		addr = bridge.DefaultListenAddr
	}

	backoffMin := s.BackoffMin
	if backoffMin <= 0 {
		backoffMin = time.Second
	}
	backoffMax := s.BackoffMax
	if backoffMax <= 0 {
		backoffMax = 60 * time.Second
	}

	if s.asm == nil {
		s.asm = newReassembly()
	}

	backoff := backoffMin
	for {
		connected, err := s.serve(ctx, addr)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = backoffMin
		}
		slog.Warn("Bridge connection lost", "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// serve reports whether a connection was established so the caller can
// reset the redial backoff, matching the reconnect behavior of the link
// supervisor.
func (s *SocketInterface) serve(ctx context.Context, addr string) (bool, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false, err
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer s.teardown(conn)

	dec := bridge.NewDecoder(conn)

	if s.AuthToken != "" {
		nonce, err := dec.Next()
		if err != nil {
			return true, err
		}
		response, err := bridge.EncodeFrame(bridge.SolveChallenge(s.AuthToken, nonce))
		if err != nil {
			return true, err
		}
		if _, err = conn.Write(response); err != nil {
			return true, err
		}
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	slog.Info("Connected to bridge", "addr", addr)

	for fragment, err := range dec.Frames() {
		if err != nil {
			return true, err
		}

		payload := s.asm.feed(socketSource, fragment)
		if payload == nil || len(payload) < minFrameSize {
			continue
		}
		if fn, ok := s.handler.Load().(ReceiveHandler); ok && fn != nil {
			fn(payload)
		}
	}
	return true, nil
}

func (s *SocketInterface) teardown(conn net.Conn) {
	_ = conn.Close()
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
}

// Send fragments one payload to the radio MTU and writes each fragment as
// its own length-prefixed frame. Fails with ErrNotConnected while the
// bridge socket is down.
func (s *SocketInterface) Send(payload []byte) error {
	mtu := s.MTU
	if mtu <= 0 {
		mtu = DefaultMTU
	}

	fragments, err := bridge.SplitPayload(s.index.take(), payload, mtu)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}

	for _, fragment := range fragments {
		frame, err := bridge.EncodeFrame(fragment)
		if err != nil {
			return err
		}
		if _, err = s.conn.Write(frame); err != nil {
			conn := s.conn
			s.conn = nil
			_ = conn.Close()
			return err
		}
	}
	return nil
}

// SetReceiveHandler registers the consumer of reassembled inbound payloads.
func (s *SocketInterface) SetReceiveHandler(fn ReceiveHandler) {
	s.handler.Store(fn)
}
