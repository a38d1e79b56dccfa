package modem

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pwitab/ublox/at"
)

// Socket is one module-backed socket. The caller sees a logical handle; the
// numeric id underneath is the handle the module allocated in its own socket
// table. Every send and receive is an AT command round trip, so throughput
// is bounded by the control channel - an accepted property of the
// transport, not a defect.
//
// A Socket becomes closed through Close or through the module announcing the
// closure with a URC; either way every later operation fails with
// ErrSocketClosed.
type Socket struct {
	m         *Modem
	id        int
	proto     SocketProtocol
	localPort int

	mu      sync.Mutex
	closed  bool
	pending int // bytes the module last reported buffered

	// dataReady gets a token whenever the module announces pending data;
	// done is closed once, when the socket closes. Both exist to wake a
	// blocked ReceiveFrom.
	dataReady chan struct{}
	done      chan struct{}
}

// Datagram is one received message with its source address.
type Datagram struct {
	Data []byte
	Addr string
	Port int
}

// CreateSocket asks the module for a new socket. localPort may be zero for
// the R4 dialect; the N2 dialect requires it. The returned handle is bound
// to the module-assigned numeric handle.
func (m *Modem) CreateSocket(ctx context.Context, proto SocketProtocol, localPort int) (*Socket, error) {
	if !m.profile.supports(proto) {
		return nil, fmt.Errorf("create %s socket: %w", proto, ErrNotSupported)
	}

	m.socksMu.Lock()
	full := len(m.socks) >= m.profile.MaxSockets
	m.socksMu.Unlock()
	if full {
		return nil, fmt.Errorf("create %s socket: %w", proto, ErrTooManySockets)
	}

	outcome, err := m.Execute(ctx, Request{Cmd: m.profile.createSocketCmd(proto, localPort)})
	if err != nil {
		return nil, fmt.Errorf("create %s socket: %w", proto, err)
	}
	id, err := m.profile.parseSocketCreate(outcome.Lines)
	if err != nil {
		return nil, fmt.Errorf("create %s socket: %w", proto, err)
	}

	s := &Socket{
		m:         m,
		id:        id,
		proto:     proto,
		localPort: localPort,
		dataReady: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	m.socksMu.Lock()
	if stale, ok := m.socks[id]; ok {
		// The module reused a handle we still track; the old one is gone.
		m.log.Warn("module reused socket handle", "socket", id)
		stale.markClosedByModule()
	}
	m.socks[id] = s
	m.socksMu.Unlock()

	m.log.Info("socket created", "socket", id, "protocol", proto.String())
	return s, nil
}

// ID returns the module-side numeric handle.
func (s *Socket) ID() int { return s.id }

// Protocol returns the socket's transport protocol tag.
func (s *Socket) Protocol() SocketProtocol { return s.proto }

// Closed reports whether the socket was closed, locally or by the module.
func (s *Socket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Pending returns the number of buffered bytes the module last announced.
func (s *Socket) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// SendTo transmits one datagram. The payload travels hex-encoded as a
// literal command argument, since the control channel is text. Returns the
// byte count the module accepted, which can be short.
func (s *Socket) SendTo(ctx context.Context, host string, port int, payload []byte) (int, error) {
	if s.proto != UDP {
		return 0, fmt.Errorf("sendto on %s socket %d: %w", s.proto, s.id, ErrNotSupported)
	}
	if s.Closed() {
		return 0, fmt.Errorf("sendto on socket %d: %w", s.id, ErrSocketClosed)
	}
	// Back-to-back writes outrun the module's internal buffer and get
	// silently dropped; space them out.
	if err := s.m.paceSend(ctx); err != nil {
		return 0, err
	}

	outcome, err := s.m.Execute(ctx, Request{Cmd: s.m.profile.sendCmd(s.id, host, port, payload)})
	s.m.noteSend()
	if err != nil {
		return 0, fmt.Errorf("sendto on socket %d: %w", s.id, err)
	}
	sent, err := s.m.profile.parseSocketSend(outcome.Lines)
	if err != nil {
		return 0, fmt.Errorf("sendto on socket %d: %w", s.id, err)
	}
	return sent, nil
}

// ReceiveFrom returns the next datagram, waiting until the module announces
// pending data or the context ends. maxBytes bounds how much is drained
// from the module buffer in one query.
func (s *Socket) ReceiveFrom(ctx context.Context, maxBytes int) (Datagram, error) {
	for {
		d, err := s.TryReceiveFrom(ctx, maxBytes)
		if err == nil || !isNoData(err) {
			return d, err
		}
		select {
		case <-s.dataReady:
		case <-s.done:
			return Datagram{}, fmt.Errorf("receive on socket %d: %w", s.id, ErrSocketClosed)
		case <-ctx.Done():
			return Datagram{}, ctx.Err()
		}
	}
}

// TryReceiveFrom queries the module once. When nothing is pending it
// returns ErrNoData - a would-block condition, deliberately distinct from a
// successful zero-length datagram, which still carries its source address.
func (s *Socket) TryReceiveFrom(ctx context.Context, maxBytes int) (Datagram, error) {
	if s.Closed() {
		return Datagram{}, fmt.Errorf("receive on socket %d: %w", s.id, ErrSocketClosed)
	}

	outcome, err := s.m.Execute(ctx, Request{Cmd: s.m.profile.receiveCmd(s.id, maxBytes)})
	if err != nil {
		return Datagram{}, fmt.Errorf("receive on socket %d: %w", s.id, err)
	}
	d, err := s.m.profile.parseSocketReceive(outcome.Lines)
	if err != nil {
		if isNoData(err) {
			s.setPending(0)
			return Datagram{}, fmt.Errorf("receive on socket %d: %w", s.id, ErrNoData)
		}
		return Datagram{}, fmt.Errorf("receive on socket %d: %w", s.id, err)
	}

	if d.remaining >= 0 {
		s.setPending(d.remaining)
		if d.remaining > 0 {
			s.signalData()
		}
	}
	return Datagram{Data: d.data, Addr: d.addr, Port: d.port}, nil
}

// Close releases the socket on the module and marks the handle closed.
// Closing an already-closed socket is a no-op, including one the module
// closed on its own.
func (s *Socket) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.m.dropSocket(s.id, s)
	if _, err := s.m.Execute(ctx, Request{Cmd: s.m.profile.closeCmd(s.id)}); err != nil {
		return fmt.Errorf("close socket %d: %w", s.id, err)
	}
	s.m.log.Info("socket closed", "socket", s.id)
	return nil
}

// markClosedByModule transitions the handle to closed without issuing a
// close command, for module-originated closures.
func (s *Socket) markClosedByModule() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()
}

func (s *Socket) setPending(n int) {
	s.mu.Lock()
	s.pending = n
	s.mu.Unlock()
}

func (s *Socket) signalData() {
	select {
	case s.dataReady <- struct{}{}:
	default:
	}
}

func isNoData(err error) bool {
	return errors.Is(err, ErrNoData)
}

// dropSocket removes the handle from the table if it still maps to s.
func (m *Modem) dropSocket(id int, s *Socket) {
	m.socksMu.Lock()
	if m.socks[id] == s {
		delete(m.socks, id)
	}
	m.socksMu.Unlock()
}

// paceSend delays until the configured gap since the previous socket write
// has passed.
func (m *Modem) paceSend(ctx context.Context) error {
	m.sendMu.Lock()
	wait := m.config.SendPacing - time.Since(m.lastSend)
	m.sendMu.Unlock()
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Modem) noteSend() {
	m.sendMu.Lock()
	m.lastSend = time.Now()
	m.sendMu.Unlock()
}

// handleSocketClosedURC consumes "+UUSOCL: <handle>" URCs.
func (m *Modem) handleSocketClosedURC(urc at.URC) {
	id, err := strconv.Atoi(urc.Field(0))
	if err != nil {
		m.log.Warn("malformed socket closed urc", "fields", urc.Fields)
		return
	}
	m.socksMu.Lock()
	s := m.socks[id]
	delete(m.socks, id)
	m.socksMu.Unlock()

	if s != nil {
		s.markClosedByModule()
		m.log.Info("socket closed by module", "socket", id)
	}
}

// handleSocketDataURC consumes pending-data URCs
// ("+UUSORF: <handle>,<len>" and dialect variants).
func (m *Modem) handleSocketDataURC(urc at.URC) {
	id, err := strconv.Atoi(urc.Field(0))
	if err != nil {
		m.log.Warn("malformed pending data urc", "fields", urc.Fields)
		return
	}
	n, err := strconv.Atoi(urc.Field(1))
	if err != nil {
		m.log.Warn("malformed pending data urc", "fields", urc.Fields)
		return
	}

	m.socksMu.Lock()
	s := m.socks[id]
	m.socksMu.Unlock()
	if s == nil {
		m.log.Debug("pending data for unknown socket", "socket", id)
		return
	}
	s.setPending(n)
	s.signalData()
}
