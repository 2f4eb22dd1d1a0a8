// Package status tracks the connection state of the archive daemon.
package status

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wpp-archive/internal/bus"
)

// State represents a daemon runtime state.
type State string

const (
	Booting         State = "BOOTING"
	PairingRequired State = "PAIRING_REQUIRED"
	Connecting      State = "CONNECTING"
	Online          State = "ONLINE"
	Reconnecting    State = "RECONNECTING"
	Error           State = "ERROR"
)

// ErrInvalidTransition is returned for a move the machine does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// next lists the states reachable from each state. Any state can fail to
// Error, and Error only recovers through a fresh boot.
var next = map[State][]State{
	Booting:         {PairingRequired, Connecting, Error},
	PairingRequired: {Connecting, Error},
	Connecting:      {Online, PairingRequired, Reconnecting, Error},
	Online:          {Reconnecting, PairingRequired, Error},
	Reconnecting:    {Connecting, Online, PairingRequired, Error},
	Error:           {Booting},
}

// CanFetch reports whether the chat service can be reached in state s.
// Cached messages stay readable in every state.
func (s State) CanFetch() bool {
	return s == Online
}

// Change is the payload of bus.KindStatusChanged.
type Change struct {
	From State `json:"from"`
	To   State `json:"to"`
}

// Machine holds the daemon's connection state and publishes every change.
// The bus may be nil.
type Machine struct {
	mu    sync.RWMutex
	state State
	since time.Time
	bus   *bus.Bus
}

// NewMachine returns a machine in Booting.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{state: Booting, since: time.Now(), bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	s, _ := m.Snapshot()
	return s
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	_, t := m.Snapshot()
	return t
}

// Snapshot returns the current state and when it was entered, read together.
func (m *Machine) Snapshot() (State, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.since
}

// Transition moves the machine to to. Staying in the current state is a
// no-op and publishes nothing.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	if from == to {
		return nil
	}
	if !slices.Contains(next[from], to) {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}
	m.state, m.since = to, time.Now()
	m.bus.Emit(bus.KindStatusChanged, Change{From: from, To: to})
	return nil
}
