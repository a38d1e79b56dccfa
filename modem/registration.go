package modem

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pwitab/ublox/at"
)

// RegistrationState is the network registration state as reported by the
// module via +CEREG. It is mutated only by the registration machinery, in
// response to command outcomes and registration URCs.
type RegistrationState int

const (
	Unregistered RegistrationState = iota
	Searching
	RegisteredHome
	RegisteredRoaming
	Denied
)

func (s RegistrationState) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Searching:
		return "searching"
	case RegisteredHome:
		return "registered-home"
	case RegisteredRoaming:
		return "registered-roaming"
	case Denied:
		return "denied"
	default:
		return fmt.Sprintf("registration-state(%d)", int(s))
	}
}

// terminal reports whether the state ends a connect attempt.
func (s RegistrationState) terminal() bool {
	switch s {
	case RegisteredHome, RegisteredRoaming, Denied:
		return true
	}
	return false
}

// Registered reports whether the state means attached to a network, on the
// home network or roaming.
func (s RegistrationState) Registered() bool {
	return s == RegisteredHome || s == RegisteredRoaming
}

// regStateFromStat maps a +CEREG <stat> value. Unknown values count as
// still searching rather than a terminal failure.
func regStateFromStat(stat int) RegistrationState {
	switch stat {
	case 0:
		return Unregistered
	case 1:
		return RegisteredHome
	case 2:
		return Searching
	case 3:
		return Denied
	case 5:
		return RegisteredRoaming
	default:
		return Searching
	}
}

// ConnectResult reports how a connect attempt ended.
type ConnectResult struct {
	State RegistrationState
	// RoamingMismatch is set when the observed registration type contradicts
	// the roaming expectation the caller declared. Being registered is the
	// primary goal, so a mismatch is flagged, not failed.
	RoamingMismatch bool
}

// RegistrationState returns the current registration state.
func (m *Modem) RegistrationState() RegistrationState {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	return m.regState
}

// Connected reports the RRC connection status as last announced via +CSCON.
func (m *Modem) Connected() bool {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	return m.connected
}

// regStateChan returns the current state together with the channel that is
// closed on the next state change. Snapshotting both under the lock avoids
// the missed-wakeup race between reading the state and starting to wait.
func (m *Modem) regStateChan() (RegistrationState, <-chan struct{}) {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	return m.regState, m.regNotify
}

func (m *Modem) setRegState(state RegistrationState) {
	m.regMu.Lock()
	if m.regState == state {
		m.regMu.Unlock()
		return
	}
	m.regState = state
	close(m.regNotify)
	m.regNotify = make(chan struct{})
	m.regMu.Unlock()
	m.log.Info("registration state changed", "state", state.String())
}

// handleRegistrationURC consumes "+CEREG: <stat>" URCs.
func (m *Modem) handleRegistrationURC(urc at.URC) {
	stat, err := strconv.Atoi(urc.Field(0))
	if err != nil {
		m.log.Warn("malformed registration urc", "fields", urc.Fields)
		return
	}
	m.setRegState(regStateFromStat(stat))
}

// handleConnStatusURC consumes "+CSCON: <mode>" URCs.
func (m *Modem) handleConnStatusURC(urc at.URC) {
	mode, err := strconv.Atoi(urc.Field(0))
	if err != nil {
		m.log.Warn("malformed connection status urc", "fields", urc.Fields)
		return
	}
	m.regMu.Lock()
	m.connected = mode != 0
	m.regMu.Unlock()
}

// queryRegistration reads the registration state with "AT+CEREG?" and folds
// it into the state machine. Used to poll modules whose URC stream went
// quiet mid-search. The response line "+CEREG: <mode>,<stat>" shares its
// prefix with the registration URC, so it is captured into the outcome
// rather than dispatched: the URC handler expects the URC field layout, not
// the read form.
func (m *Modem) queryRegistration(ctx context.Context) error {
	outcome, err := m.Execute(ctx, Request{Cmd: "AT+CEREG?", CaptureURCs: true})
	if err != nil {
		return err
	}
	for _, line := range outcome.URCs {
		urc, ok := at.ParseURC(line)
		if !ok || urc.Prefix != at.UrcRegStatus {
			continue
		}
		// Read form is "+CEREG: <mode>,<stat>".
		stat, err := strconv.Atoi(urc.Field(1))
		if err != nil {
			return fmt.Errorf("%w: bad registration status %q", ErrProtocol, line)
		}
		m.setRegState(regStateFromStat(stat))
		return nil
	}
	return fmt.Errorf("%w: no registration status in response", ErrProtocol)
}

// Connect drives network registration: it selects the operator (or automatic
// selection when operator is empty), then waits for a terminal registration
// state, polling with the configured backoff schedule and re-issuing the
// selection after a denial until the retry budget runs out. The whole
// attempt is bounded by the configured connect timeout.
//
// roaming declares whether the caller expects to register on a roaming
// network. A successful registration of the other type still succeeds; the
// mismatch is reported in the result.
func (m *Modem) Connect(ctx context.Context, operator string, roaming bool) (ConnectResult, error) {
	if m.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.ConnectTimeout)
		defer cancel()
	}

	selectCmd := "AT+COPS=0"
	if operator != "" {
		selectCmd = fmt.Sprintf(`AT+COPS=1,2,"%s"`, operator)
	}

	m.setRegState(Searching)
	if err := m.issueOperatorSelect(ctx, selectCmd); err != nil {
		return ConnectResult{State: m.RegistrationState()}, err
	}

	denials := 0
	for attempt := 0; ; attempt++ {
		state, changed := m.regStateChan()

		switch state {
		case RegisteredHome, RegisteredRoaming:
			result := ConnectResult{
				State:           state,
				RoamingMismatch: roaming != (state == RegisteredRoaming),
			}
			if result.RoamingMismatch {
				m.log.Warn("registration type contradicts expectation",
					"state", state.String(), "roaming_expected", roaming)
			}
			return result, nil

		case Denied:
			denials++
			if denials > m.config.RegistrationRetries {
				return ConnectResult{State: Denied}, fmt.Errorf(
					"connect: %w after %d attempts", ErrRegistrationDenied, denials)
			}
			m.log.Info("registration denied, retrying", "attempt", denials)
			m.setRegState(Searching)
			if err := m.issueOperatorSelect(ctx, selectCmd); err != nil {
				return ConnectResult{State: m.RegistrationState()}, err
			}
		}

		timer := time.NewTimer(m.config.RegistrationBackoff.delay(attempt))
		select {
		case <-changed:
			timer.Stop()
		case <-timer.C:
			// No URC for a while, ask the module directly.
			err := m.queryRegistration(ctx)
			switch {
			case err == nil, errors.Is(err, ErrProtocol):
				// Polled fine, or the answer was odd; keep waiting.
			case errors.Is(err, ErrCommandTimeout), errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
				m.setRegState(Denied)
				return ConnectResult{State: Denied}, m.connectFailure(ctx, err)
			default:
				return ConnectResult{State: m.RegistrationState()}, fmt.Errorf("connect: %w", err)
			}
		case <-ctx.Done():
			timer.Stop()
			m.setRegState(Denied)
			return ConnectResult{State: Denied}, m.connectFailure(ctx, ctx.Err())
		}
	}
}

// connectFailure shapes the terminal error: the overall connect deadline
// becomes ErrConnectTimeout so callers can tell "network never answered"
// from an explicit denial or their own cancellation.
func (m *Modem) connectFailure(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("connect: %w", ErrConnectTimeout)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("connect: %w", err)
}

// issueOperatorSelect sends the COPS command. Operator selection can answer
// ERROR while the radio is mid-search; that leaves the state machine
// searching and the poll loop in charge, so a ModuleError is not fatal here.
func (m *Modem) issueOperatorSelect(ctx context.Context, cmd string) error {
	_, err := m.Execute(ctx, Request{Cmd: cmd, Timeout: 30 * time.Second})
	var merr *ModuleError
	if errors.As(err, &merr) {
		m.log.Debug("operator selection rejected, still searching", "error", err)
		return nil
	}
	if err != nil {
		if errors.Is(err, ErrCommandTimeout) || errors.Is(err, context.DeadlineExceeded) {
			m.setRegState(Denied)
		}
		return m.connectFailure(ctx, err)
	}
	return nil
}

// WaitForRegistration blocks until the registration state is terminal
// (registered or denied) or the context ends. It issues no commands; it
// only observes URC-driven state changes.
func (m *Modem) WaitForRegistration(ctx context.Context) (RegistrationState, error) {
	for {
		state, changed := m.regStateChan()
		if state.terminal() {
			return state, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return m.RegistrationState(), ctx.Err()
		}
	}
}
