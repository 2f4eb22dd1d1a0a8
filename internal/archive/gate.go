package archive

import (
	"context"
	"sync"
)

// Gate lets one archive-mutating activity run at a time, so a save and a
// reconciliation never interleave on the same store.
type Gate struct {
	sem chan struct{}

	mu     sync.Mutex
	active string
}

// NewGate creates an open gate.
func NewGate() *Gate {
	return &Gate{sem: make(chan struct{}, 1)}
}

// Enter blocks until the gate is free or ctx ends. The returned func
// releases the gate.
func (g *Gate) Enter(ctx context.Context, activity string) (func(), error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	g.setActive(activity)
	return g.releaser(), nil
}

// TryEnter enters the gate only if it is free.
func (g *Gate) TryEnter(activity string) (func(), bool) {
	select {
	case g.sem <- struct{}{}:
		g.setActive(activity)
		return g.releaser(), true
	default:
		return nil, false
	}
}

// Active names the running activity, or "" when idle.
func (g *Gate) Active() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

func (g *Gate) setActive(activity string) {
	g.mu.Lock()
	g.active = activity
	g.mu.Unlock()
}

func (g *Gate) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			g.setActive("")
			<-g.sem
		})
	}
}
