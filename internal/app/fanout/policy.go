package fanout

type BackpressureAction int

const (
	// DropEvent skips the event for the slow subscriber only.
	DropEvent BackpressureAction = iota
	// Block waits for the subscriber to make room.
	Block
	// Unsubscribe removes the slow subscriber and closes its stream.
	Unsubscribe
)

func (a BackpressureAction) String() string {
	switch a {
	case DropEvent:
		return "drop"
	case Block:
		return "block"
	case Unsubscribe:
		return "unsubscribe"
	}
	return "unknown"
}

// Policy decides what happens when a subscriber's buffer is full.
type Policy interface {
	OnBackPressure(sub Info) BackpressureAction
}

// Info is what a Policy sees about a subscriber.
type Info struct {
	ID      uint64
	Name    string
	Dropped uint64
}

type FixedPolicy BackpressureAction

func (p FixedPolicy) OnBackPressure(Info) BackpressureAction { return BackpressureAction(p) }

// DropThenKick drops up to Limit events, then unsubscribes.
type DropThenKick struct{ Limit uint64 }

func (p DropThenKick) OnBackPressure(sub Info) BackpressureAction {
	if sub.Dropped >= p.Limit {
		return Unsubscribe
	}
	return DropEvent
}
