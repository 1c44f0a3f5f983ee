// Package engine decides what to do with each knock: it classifies the
// request, updates the address reputation and the user table, and pushes
// the resulting grants and bans to the device.
//
// A single mutex, the decision lock, serializes every read-modify-write
// of both tables, so the strike increment and the threshold comparison
// are atomic. Device pushes run after the lock is released; a slow device
// never stalls other decisions.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"grimm.is/knockgate/internal/audit"
	"grimm.is/knockgate/internal/clock"
	"grimm.is/knockgate/internal/credentials"
	"grimm.is/knockgate/internal/logging"
	"grimm.is/knockgate/internal/metrics"
	"grimm.is/knockgate/internal/reputation"
)

// ErrDecisionPanic wraps a panic recovered while deciding.
var ErrDecisionPanic = errors.New("panic during decision")

// Journal receives one event per decision.
type Journal interface {
	Write(evt audit.Event) error
}

// ReloadFunc re-reads the configuration and swaps the state.
type ReloadFunc func(ctx context.Context) error

// Engine owns the current State and the decision lock.
type Engine struct {
	mu    sync.Mutex
	state atomic.Pointer[State]

	clk      clock.Clock
	logger   *logging.Logger
	metrics  *metrics.Registry
	journal  Journal
	reloader atomic.Pointer[ReloadFunc]
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) { e.clk = clk }
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics registry.
func WithMetrics(r *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithJournal records every decision in j.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// New creates an engine serving st.
func New(st *State, opts ...Option) *Engine {
	e := &Engine{
		clk:    clock.Real,
		logger: logging.WithComponent("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.Get()
	}
	e.state.Store(st)
	return e
}

// SetReloader installs the function behind the /reload path.
func (e *Engine) SetReloader(fn ReloadFunc) {
	e.reloader.Store(&fn)
}

// State returns the published state. Its tables must not be read
// without the decision lock; use the accessor methods instead.
func (e *Engine) State() *State {
	return e.state.Load()
}

// Swap builds the next state from the current one and publishes it.
// build runs under the decision lock, so every decision sees either the
// old or the new state in full. If build fails nothing changes. Swap
// returns the state that was current before the call.
func (e *Engine) Swap(build func(cur *State) (*State, error)) (*State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.state.Load()
	next, err := build(cur)
	if err != nil {
		return cur, err
	}
	e.state.Store(next)
	return cur, nil
}

// Snapshot copies both tables for persistence.
func (e *Engine) Snapshot() ([]reputation.AddressRecord, []credentials.History) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state.Load()
	return st.Addresses.All(), st.Users.History()
}

// Addresses returns a copy of every address record.
func (e *Engine) Addresses() []reputation.AddressRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Load().Addresses.All()
}

// Users returns a copy of every user record.
func (e *Engine) Users() []credentials.UserRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Load().Users.Users()
}

// Lookup returns a copy of the record for addr.
func (e *Engine) Lookup(addr string) (reputation.AddressRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.state.Load().Addresses.Get(addr)
	if !ok {
		return reputation.AddressRecord{}, false
	}
	return *rec, true
}

// StatusCounts implements metrics.Source.
func (e *Engine) StatusCounts() map[string]int {
	e.mu.Lock()
	counts := e.state.Load().Addresses.Counts()
	e.mu.Unlock()

	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	return out
}

// UserCount implements metrics.Source.
func (e *Engine) UserCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Load().Users.Len()
}
