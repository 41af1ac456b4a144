package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/reticulum-go/meshbridge/pkg/radio"
)

// DefaultListenAddr is the loopback endpoint the session accepts on.
const DefaultListenAddr = "127.0.0.1:45832"

// Session serves the networking stack's byte-stream socket: it accepts one
// local client at a time, decodes its length-prefixed frames into radio
// sends, and frames inbound radio payloads back onto the socket. Client
// churn never touches the radio link; the supervisor keeps running.
type Session struct {
	// ListenAddr is the TCP endpoint to accept on. Empty means DefaultListenAddr.
	ListenAddr string
	// AuthToken enables the nonce-challenge handshake when non-empty.
	AuthToken string
	// MTU is the radio path budget; decoded payloads above it are dropped
	// with a warning since the radio would refuse them anyway.
	MTU int

	policy     *AddressPolicy
	supervisor *Supervisor

	mu       sync.Mutex
	listener net.Listener
	client   net.Conn
}

// NewSession wires a session to its address policy and radio supervisor.
// The supervisor's receive handler is claimed here, before anything runs.
func NewSession(policy *AddressPolicy, supervisor *Supervisor) *Session {
	s := &Session{
		ListenAddr: DefaultListenAddr,
		policy:     policy,
		supervisor: supervisor,
	}
	supervisor.OnReceive(s.deliver)
	return s
}

// Addr returns the bound listener address, or nil before Run has bound it.
func (s *Session) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run listens and serves clients until ctx is cancelled. On return the
// listener and any active client are closed.
func (s *Session) Run(ctx context.Context) error {
	addr := s.ListenAddr
	if addr == "" {
		addr = DefaultListenAddr
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	context.AfterFunc(ctx, func() {
		_ = listener.Close()
		s.mu.Lock()
		client := s.client
		s.mu.Unlock()
		if client != nil {
			_ = client.Close()
		}
	})

	slog.Info("Bridge listening", "addr", addr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		s.mu.Lock()
		busy := s.client != nil
		if !busy {
			s.client = conn
		}
		s.mu.Unlock()

		if busy {
			// single consumer per bridge; refuse, do not queue
			slog.Warn("Rejecting second client", "remote", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}

		go s.serveClient(ctx, conn)
	}
}

// deliver frames one inbound radio payload onto the client socket, if a
// client is connected. Writes are serialized under the session lock; a
// write failure closes the client and the listener takes over again.
func (s *Session) deliver(payload []byte, _ radio.Address) {
	frame, err := EncodeFrame(payload)
	if err != nil {
		slog.Warn("Dropping inbound payload above frame limit", "size", len(payload))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return
	}
	if _, err := s.client.Write(frame); err != nil {
		slog.Warn("Client write failed", "error", err)
		_ = s.client.Close()
		s.client = nil
	}
}

func (s *Session) serveClient(ctx context.Context, conn net.Conn) {
	slog.Info("Client connected", "remote", conn.RemoteAddr())

	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		if s.client == conn {
			s.client = nil
		}
		s.mu.Unlock()
		slog.Info("Client disconnected", "remote", conn.RemoteAddr())
	}()

	dec := NewDecoder(conn)

	if s.AuthToken != "" {
		if err := challengeClient(conn, dec, s.AuthToken); err != nil {
			slog.Warn("Client failed authentication", "remote", conn.RemoteAddr(), "error", err)
			return
		}
	}

	for payload, err := range dec.Frames() {
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Warn("Client stream error", "error", err)
			}
			return
		}

		if s.MTU > 0 && len(payload) > s.MTU {
			slog.Warn("Dropping payload above radio MTU", "size", len(payload), "mtu", s.MTU)
			continue
		}

		s.supervisor.Send(payload, s.policy.Current())
	}
}
