package modem

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/pwitab/ublox/at"
)

// Handler consumes one URC. Handlers run on the driver's dispatch goroutine;
// long-running work should be handed off to the handler's own goroutine so
// later URCs are not delayed behind it.
type Handler func(urc at.URC)

// Subscription is the capability returned by Subscribe and accepted by
// Unsubscribe. It owns the handler reference, so revoking it never races
// with state captured elsewhere.
type Subscription struct {
	prefix string
	id     uint64

	// mu serializes invocation against revocation: Unsubscribe takes it, so
	// by the time Unsubscribe returns any in-flight invocation has finished
	// and no future one can start.
	mu      sync.Mutex
	revoked bool
	fn      Handler
}

// invoke runs the handler unless the subscription was revoked. A panicking
// handler is contained here; it must not take down the dispatch goroutine
// or starve the handlers after it.
func (s *Subscription) invoke(urc at.URC, log *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("urc handler panicked", "prefix", s.prefix, "panic", r)
		}
	}()
	s.fn(urc)
}

// dispatcher routes URC records to subscribers, in registration order per
// prefix.
type dispatcher struct {
	log *slog.Logger

	mu     sync.Mutex
	nextID uint64
	subs   map[string][]*Subscription
}

func newDispatcher(log *slog.Logger) *dispatcher {
	return &dispatcher{
		log:  log,
		subs: make(map[string][]*Subscription),
	}
}

func (d *dispatcher) subscribe(prefix string, fn Handler) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	sub := &Subscription{prefix: prefix, id: d.nextID, fn: fn}
	d.subs[prefix] = append(d.subs[prefix], sub)
	return sub
}

// unsubscribe removes the subscription and waits out any invocation already
// in flight. Calling it from inside the handler being removed deadlocks.
func (d *dispatcher) unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	entries := d.subs[sub.prefix]
	for i, s := range entries {
		if s.id == sub.id {
			d.subs[sub.prefix] = slices.Delete(entries, i, i+1)
			break
		}
	}
	d.mu.Unlock()

	sub.mu.Lock()
	sub.revoked = true
	sub.fn = nil
	sub.mu.Unlock()
}

// hasPrefix reports whether any subscriber is registered for the prefix.
// The classifier consults this to tell URCs from command data lines.
func (d *dispatcher) hasPrefix(prefix string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs[prefix]) > 0
}

// dispatch invokes the subscribers registered for the URC's prefix. The
// handler set is snapshotted first, so a concurrent unsubscribe neither
// invalidates this dispatch nor gets its handler invoked once revoked.
func (d *dispatcher) dispatch(urc at.URC) {
	d.mu.Lock()
	snapshot := slices.Clone(d.subs[urc.Prefix])
	d.mu.Unlock()

	if len(snapshot) == 0 {
		d.log.Debug("unhandled urc", "prefix", urc.Prefix, "fields", urc.Fields)
		return
	}
	for _, sub := range snapshot {
		sub.invoke(urc, d.log)
	}
}
