package voice

import "sync/atomic"

type GateState int32

const (
	GateOpen GateState = iota
	GateMuted
	GateDelete
)

func (s GateState) String() string {
	switch s {
	case GateOpen:
		return "open"
	case GateMuted:
		return "muted"
	case GateDelete:
		return "delete"
	}
	return "unknown"
}

// gate decides whether a local pump forwards samples. It is read on every
// sample so it is a plain atomic rather than a lock.
type gate struct {
	state atomic.Int32 // Zero by default (GateOpen)
}

func (g *gate) State() GateState { return GateState(g.state.Load()) }

func (g *gate) Open() { g.set(GateOpen) }

func (g *gate) Mute() { g.set(GateMuted) }

// Delete is terminal; later Open or Mute calls are ignored.
func (g *gate) Delete() { g.state.Store(int32(GateDelete)) }

func (g *gate) set(s GateState) {
	for {
		cur := g.state.Load()
		if GateState(cur) == GateDelete {
			return
		}
		if g.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}
