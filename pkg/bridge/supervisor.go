package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/reticulum-go/meshbridge/pkg/radio"
)

const (
	defaultBackoffMin = time.Second
	defaultBackoffMax = 60 * time.Second
	defaultStaleness  = 90 * time.Second
	defaultQueueSize  = 64
)

// SupervisorOptions tune the reconnect and pacing behavior.
// Zero values select the defaults.
type SupervisorOptions struct {
	// Binding is the channel the link binds on every connect.
	Binding radio.ChannelBinding
	// SendDelay is the minimum spacing between consecutive transmissions,
	// normally taken from the speed profile table.
	SendDelay time.Duration
	// BackoffMin and BackoffMax bound the capped exponential retry delay.
	BackoffMin time.Duration
	BackoffMax time.Duration
	// Staleness is how long the link may stay silent while bound before it
	// is considered degraded and reconnected.
	Staleness time.Duration
	// QueueSize bounds the buffer for sends submitted while not bound.
	// When full the oldest frame is dropped; the reliability layer above
	// the bridge retransmits end-to-end, stale frames are not worth keeping.
	QueueSize int
}

type outbound struct {
	payload []byte
	to      radio.Address
}

// Supervisor owns a radio link and its connection state. It establishes
// the link, detects loss through errors and inbound staleness, and
// re-establishes it with capped exponential backoff. Callers submit sends
// and receive inbound payloads through it and never touch the link.
type Supervisor struct {
	link radio.Link
	opts SupervisorOptions

	mu          sync.Mutex
	state       radio.ConnectionState
	queue       []outbound
	lastInbound time.Time
	stopped     bool

	wake chan struct{}

	onReceive func(payload []byte, source radio.Address)
	onState   func(radio.ConnectionState)
}

// NewSupervisor creates a supervisor for the given link. The link must not
// be used by anything else afterwards.
func NewSupervisor(link radio.Link, opts SupervisorOptions) *Supervisor {
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = defaultBackoffMin
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = defaultBackoffMax
	}
	if opts.Staleness <= 0 {
		opts.Staleness = defaultStaleness
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	return &Supervisor{
		link: link,
		opts: opts,
		wake: make(chan struct{}, 1),
	}
}

// OnReceive registers the handler for inbound payloads. Set before Run.
func (s *Supervisor) OnReceive(fn func(payload []byte, source radio.Address)) {
	s.onReceive = fn
}

// OnStateChange registers a handler notified on every connection state
// transition, e.g. for the host platform's status display. Set before Run.
func (s *Supervisor) OnStateChange(fn func(radio.ConnectionState)) {
	s.onState = fn
}

// State returns the current connection state.
func (s *Supervisor) State() radio.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send submits one payload for transmission to the given address. The
// address travels with the frame, so a later policy toggle does not affect
// it. While the link is not bound the frame is queued; if the queue is
// full the oldest queued frame is dropped.
func (s *Supervisor) Send(payload []byte, to radio.Address) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.opts.QueueSize {
		s.queue = s.queue[1:]
		slog.Debug("Send queue full, dropping oldest frame")
	}
	s.queue = append(s.queue, outbound{payload: payload, to: to})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the connection lifecycle until ctx is cancelled. On return
// the link is disconnected and no timers remain.
func (s *Supervisor) Run(ctx context.Context) error {
	defer func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		_ = s.link.Disconnect()
		s.setState(radio.StateDisconnected)
	}()

	backoff := s.opts.BackoffMin
	for {
		s.setState(radio.StateConnecting)
		err := s.link.Connect(ctx, s.opts.Binding)
		if err != nil {
			slog.Warn("Radio link connect failed", "error", err, "retry_in", backoff)
			s.setState(radio.StateDisconnected)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}

		s.setState(radio.StateBound)
		backoff = s.opts.BackoffMin
		slog.Info("Radio link bound")

		s.serveBound(ctx)

		_ = s.link.Disconnect()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.setState(radio.StateDisconnected)
	}
}

// serveBound runs the sender, the receive pump and the staleness watchdog
// until one of them detects link failure or ctx is cancelled.
func (s *Supervisor) serveBound(ctx context.Context) {
	boundCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.lastInbound = time.Now()
	s.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		defer cancel()
		s.sendLoop(boundCtx)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		s.receiveLoop(boundCtx)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		s.watchStaleness(boundCtx)
	}()

	<-boundCtx.Done()
	// unblock a receive stuck inside the link
	_ = s.link.Disconnect()
	wg.Wait()
}

// sendLoop drains the queue in submission order, spacing transmissions by
// the configured delay.
func (s *Supervisor) sendLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		var frame outbound
		have := len(s.queue) > 0
		if have {
			frame = s.queue[0]
			s.queue = s.queue[1:]
		}
		s.mu.Unlock()

		if !have {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}

		if err := s.link.Send(ctx, frame.payload, frame.to); err != nil {
			slog.Warn("Radio send failed", "error", err)
			// put the frame back so it survives the reconnect
			s.mu.Lock()
			s.queue = append([]outbound{frame}, s.queue...)
			s.mu.Unlock()
			return
		}

		if s.opts.SendDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.opts.SendDelay):
			}
		}
	}
}

func (s *Supervisor) receiveLoop(ctx context.Context) {
	for {
		in, err := s.link.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Radio receive failed", "error", err)
			}
			return
		}

		s.mu.Lock()
		s.lastInbound = time.Now()
		s.mu.Unlock()

		if s.onReceive != nil {
			s.onReceive(in.Payload, in.Source)
		}
	}
}

// watchStaleness marks the link degraded and forces a reconnect when no
// inbound activity was seen within the staleness window.
func (s *Supervisor) watchStaleness(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Staleness / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			stale := time.Since(s.lastInbound) > s.opts.Staleness
			s.mu.Unlock()
			if stale {
				slog.Warn("Radio link stale, reconnecting", "window", s.opts.Staleness)
				s.setState(radio.StateDegraded)
				return
			}
		}
	}
}

func (s *Supervisor) setState(state radio.ConnectionState) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()

	if changed && s.onState != nil {
		s.onState(state)
	}
}

// nextBackoff doubles the retry delay up to the cap.
func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
