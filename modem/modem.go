// Package modem implements a driver session for u-blox cellular modules:
// an AT command executor and URC dispatcher over a byte-stream transport,
// with UDP-over-AT sockets and a network registration state machine on top.
package modem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pwitab/ublox/at"
)

// Modem is one driver session. All transport I/O happens on a single event
// loop (see Loop), which serializes AT commands and keeps reading the line
// even when no command is in flight so URCs are never missed.
//
// There is no process-wide module instance: every Modem owns its transport
// and its state, and is handed around explicitly.
type Modem struct {
	transport Transport
	config    Config
	profile   Profile
	log       *slog.Logger

	mu          sync.Mutex
	closed      bool
	loopRunning bool

	// commands queues AT command requests for the loop. It is unbuffered:
	// the loop only receives when no command is in flight, so a second
	// concurrent Execute blocks until the first completes. This is the
	// documented serialization policy; there is no fail-fast busy error.
	commands chan *commandRequest
	// urcs carries parsed URC records from the reader loop to the dispatch
	// goroutine. Buffered so a burst of URCs does not stall reads.
	urcs chan at.URC

	dispatcher *dispatcher

	// socket table, see socket.go
	socksMu sync.Mutex
	socks   map[int]*Socket

	// registration state, see registration.go
	regMu     sync.Mutex
	regState  RegistrationState
	regNotify chan struct{}
	connected bool

	// socket write pacing, see socket.go
	sendMu   sync.Mutex
	lastSend time.Time

	loopCtx    context.Context
	loopCancel context.CancelFunc
}

// New creates a Modem: it dials the transport, runs the module init
// sequence (echo off, verbose errors, radio functions, URC enablement and
// the PDP context when an APN is configured) and wires the internal URC
// subscriptions. The event loop is prepared but not started; call Loop
// exactly once after New.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	// A SerialDialer without an explicit rate inherits the profile default.
	if sd, ok := config.Dialer.(SerialDialer); ok && sd.BaudRate == 0 {
		sd.BaudRate = config.Profile.BaudRate
		config.Dialer = sd
	}

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}

	m := &Modem{
		transport:  transport,
		config:     config,
		profile:    config.Profile,
		log:        config.Logger,
		commands:   make(chan *commandRequest),
		urcs:       make(chan at.URC, 100),
		dispatcher: newDispatcher(config.Logger),
		socks:      make(map[int]*Socket),
		regState:   Unregistered,
		regNotify:  make(chan struct{}),
	}
	m.loopCtx, m.loopCancel = context.WithCancel(context.Background())

	m.dispatcher.subscribe(at.UrcRegStatus, m.handleRegistrationURC)
	m.dispatcher.subscribe(at.UrcConnStatus, m.handleConnStatusURC)
	if m.profile.closedURC != "" {
		m.dispatcher.subscribe(m.profile.closedURC, m.handleSocketClosedURC)
	}
	for _, prefix := range m.profile.dataURCs {
		m.dispatcher.subscribe(prefix, m.handleSocketDataURC)
	}

	initCtx := ctx
	if config.InitTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, config.InitTimeout)
		defer cancel()
	}
	if err := m.init(initCtx); err != nil {
		transport.Close()
		return nil, fmt.Errorf("initialize modem: %w", err)
	}

	return m, nil
}

// Loop is the main event loop handling all transport I/O. It must be called
// exactly once after New, typically in its own goroutine, and runs until the
// context is cancelled or the transport fails:
//
//	m, err := modem.New(ctx, config)
//	if err != nil { return err }
//	go m.Loop(ctx)
//
// The loop is the only goroutine reading the transport. It frames and
// classifies every line and routes it: data lines and final results to the
// in-flight command, URCs to the dispatch goroutine (or into the command's
// captured set when it asked for that). Whatever path the in-flight command
// exits through - final result, timeout, transport failure, shutdown - the
// command slot is cleared before anything else happens, so no state leaks
// into the next command.
func (m *Modem) Loop(ctx context.Context) error {
	m.mu.Lock()
	if m.loopRunning {
		m.mu.Unlock()
		return ErrLoopRunning
	}
	m.loopRunning = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.loopRunning = false
		m.mu.Unlock()
	}()

	// Dispatch goroutine. Handlers run here, decoupled from reads, so a
	// slow handler delays other handlers but never the reader.
	quit := make(chan struct{})
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		for {
			select {
			case urc := <-m.urcs:
				m.dispatcher.dispatch(urc)
			case <-quit:
				return
			}
		}
	}()
	defer func() {
		close(quit)
		<-dispatchDone
	}()

	scanner := bufio.NewScanner(m.transport)
	scanner.Split(at.Splitter)

	tokens := make(chan string, 10)
	scanErrs := make(chan error, 1)
	go func() {
		defer close(tokens)
		for scanner.Scan() {
			token := scanner.Text()
			if token == "" {
				continue
			}
			select {
			case tokens <- token:
			case <-ctx.Done():
				return
			case <-m.loopCtx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case scanErrs <- err:
			default:
			}
		}
	}()

	var current *commandRequest
	var lines, captured []string

	finish := func(outcome Outcome, err error) {
		current.respond(outcome, err)
		current = nil
		lines, captured = nil, nil
	}

	for {
		// Only offer the command channel when the slot is free; a nil
		// channel blocks forever in select.
		pending := m.commands
		var cmdDone <-chan struct{}
		if current != nil {
			pending = nil
			cmdDone = current.ctx.Done()
		}

		select {
		case <-ctx.Done():
			if current != nil {
				finish(Outcome{Lines: lines, URCs: captured}, ctx.Err())
			}
			return ctx.Err()

		case <-m.loopCtx.Done():
			if current != nil {
				finish(Outcome{Lines: lines, URCs: captured}, ErrAlreadyClosed)
			}
			return nil

		case <-cmdDone:
			err := current.ctx.Err()
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("command %q: %w", current.req.Cmd, ErrCommandTimeout)
			}
			finish(Outcome{Lines: lines, URCs: captured}, err)

		case req := <-pending:
			current = req
			lines, captured = nil, nil
			wire := strings.TrimSpace(req.req.Cmd) + at.CRLF
			if _, err := m.transport.Write([]byte(wire)); err != nil {
				finish(Outcome{}, fmt.Errorf("write command %q: %w", req.req.Cmd, err))
			}

		case token, ok := <-tokens:
			if !ok {
				if current != nil {
					finish(Outcome{Lines: lines, URCs: captured}, io.EOF)
				}
				return io.EOF
			}
			m.handleToken(token, &current, &lines, &captured, finish)

		case err := <-scanErrs:
			if current != nil {
				finish(Outcome{Lines: lines, URCs: captured}, fmt.Errorf("read error: %w", err))
			}
			return fmt.Errorf("transport read: %w", err)
		}
	}
}

// handleToken classifies one framed line and routes it.
func (m *Modem) handleToken(token string, current **commandRequest, lines, captured *[]string, finish func(Outcome, error)) {
	switch at.Classify(token, m.urcPrefix) {
	case at.TypeURC:
		if *current != nil && (*current).req.CaptureURCs {
			*captured = append(*captured, token)
			return
		}
		urc, _ := at.ParseURC(token)
		select {
		case m.urcs <- urc:
		default:
			m.log.Warn("urc channel full, dropping", "urc", token)
		}

	case at.TypeFinal:
		if *current == nil {
			m.log.Debug("orphaned final result", "line", token)
			return
		}
		final, _ := at.ParseFinal(token)
		outcome := Outcome{Lines: *lines, URCs: *captured, Final: final}
		if final.OK() {
			finish(outcome, nil)
		} else {
			finish(outcome, moduleError(final))
		}

	case at.TypeData:
		if *current == nil {
			// Noise on the line outside a command is never fatal.
			m.log.Debug("discarding unexpected line", "line", token)
			return
		}
		*lines = append(*lines, token)
	}
}

// urcPrefix reports whether a prefix is currently a URC prefix: either some
// subscriber registered it, or the module profile declares it. Lines with
// such prefixes never count as command data.
func (m *Modem) urcPrefix(prefix string) bool {
	if m.dispatcher.hasPrefix(prefix) {
		return true
	}
	for _, p := range m.profile.extraURCs {
		if p == prefix {
			return true
		}
	}
	return false
}

// Execute sends one AT command and waits for its outcome.
//
// Commands are strictly serialized: at most one is in flight, and a
// concurrent Execute blocks until the loop accepts its request. A command
// that sees no final result within its deadline fails with ErrCommandTimeout
// wrapped in the returned error - distinct from a ModuleError, which means
// the module answered and rejected the command. The partially collected
// outcome is returned alongside the error in both cases.
func (m *Modem) Execute(ctx context.Context, req Request) (Outcome, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return Outcome{}, ErrAlreadyClosed
	}
	if m.transport == nil {
		return Outcome{}, ErrNotInitialized
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = m.config.ATTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	creq := &commandRequest{
		req:  req,
		ctx:  ctx,
		resp: make(chan commandResult, 1),
	}

	select {
	case m.commands <- creq:
	case <-ctx.Done():
		return Outcome{}, m.deadlineErr(ctx, req)
	case <-m.loopCtx.Done():
		return Outcome{}, ErrAlreadyClosed
	}

	// The loop guarantees a response on every exit path once the request
	// was accepted; the ctx case only covers a loop that was never started.
	select {
	case result := <-creq.resp:
		return result.outcome, result.err
	case <-ctx.Done():
		return Outcome{}, m.deadlineErr(ctx, req)
	}
}

func (m *Modem) deadlineErr(ctx context.Context, req Request) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("command %q: %w", req.Cmd, ErrCommandTimeout)
	}
	return ctx.Err()
}

// Subscribe registers a handler for a URC prefix, e.g. "+CEREG:". Handlers
// for the same prefix run in registration order. The returned Subscription
// is the revocation capability; after Unsubscribe returns the handler is
// guaranteed not to run again.
func (m *Modem) Subscribe(prefix string, fn Handler) *Subscription {
	return m.dispatcher.subscribe(prefix, fn)
}

// Unsubscribe revokes a subscription, waiting out an invocation already in
// flight. It must not be called from inside the handler being removed.
func (m *Modem) Unsubscribe(sub *Subscription) {
	m.dispatcher.unsubscribe(sub)
}

// Close shuts the session down: it unblocks any in-flight command, stops
// the event loop and closes the transport exactly once. A second Close
// returns ErrAlreadyClosed.
func (m *Modem) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	m.closed = true
	m.mu.Unlock()

	m.loopCancel()
	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}

// Reboot restarts the module with the profile's reboot command. The session
// is left as-is; callers typically Close and redial afterwards.
func (m *Modem) Reboot(ctx context.Context) error {
	_, err := m.Execute(ctx, Request{Cmd: m.profile.rebootCmd})
	if err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
}

// IPAddress queries the address assigned to the PDP context.
func (m *Modem) IPAddress(ctx context.Context) (string, error) {
	outcome, err := m.Execute(ctx, Request{Cmd: "AT+CGPADDR"})
	if err != nil {
		return "", fmt.Errorf("query ip address: %w", err)
	}
	for _, line := range outcome.Lines {
		urc, ok := at.ParseURC(line)
		if ok && urc.Prefix == "+CGPADDR:" && urc.Field(1) != "" {
			return urc.Field(1), nil
		}
	}
	return "", fmt.Errorf("query ip address: %w: no address in response", ErrProtocol)
}

// init runs the module setup sequence over the raw transport. It is called
// from New, before the event loop exists, so it reads the line directly the
// same way execDirect does.
func (m *Modem) init(ctx context.Context) error {
	commands := []string{
		"ATE0",      // echo off, the framer depends on it
		"AT+CMEE=2", // verbose errors, so failures carry codes
	}
	commands = append(commands, m.profile.initExtra...)
	if m.config.APN != "" {
		commands = append(commands, fmt.Sprintf(`AT+CGDCONT=1,"IP","%s"`, m.config.APN))
	}

	for _, cmd := range commands {
		if err := m.expectOkDirect(ctx, cmd); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
	}
	return nil
}

// execDirect executes an AT command directly on the transport, outside the
// event loop. URCs observed here are ignored. Only used during init, while
// the loop is not yet running; use Execute for everything else.
func (m *Modem) execDirect(ctx context.Context, cmd string) (Outcome, error) {
	wire := strings.TrimSpace(cmd) + at.CRLF
	if _, err := m.transport.Write([]byte(wire)); err != nil {
		return Outcome{}, fmt.Errorf("write command %q: %w", cmd, err)
	}

	scanner := bufio.NewScanner(m.transport)
	scanner.Split(at.Splitter)

	var outcome Outcome
	for {
		select {
		case <-ctx.Done():
			return outcome, ctx.Err()
		default:
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return outcome, fmt.Errorf("read error: %w", err)
			}
			return outcome, io.EOF
		}

		token := scanner.Text()
		if token == "" {
			continue
		}
		switch at.Classify(token, m.urcPrefix) {
		case at.TypeFinal:
			final, _ := at.ParseFinal(token)
			outcome.Final = final
			if final.OK() {
				return outcome, nil
			}
			return outcome, moduleError(final)
		case at.TypeData:
			outcome.Lines = append(outcome.Lines, token)
		case at.TypeURC:
			continue
		}
	}
}

// expectOkDirect executes a command via execDirect and requires a plain OK.
func (m *Modem) expectOkDirect(ctx context.Context, cmd string) error {
	outcome, err := m.execDirect(ctx, cmd)
	if err != nil {
		return err
	}
	if !outcome.Final.OK() {
		return fmt.Errorf("unexpected response to %q", cmd)
	}
	return nil
}
