package hal

import "time"

// EventKind classifies a device log entry.
type EventKind string

const (
	EventDispatch          EventKind = "dispatch"
	EventComplete          EventKind = "complete"
	EventTaskError         EventKind = "task-error"
	EventHalt              EventKind = "halt"
	EventRestore           EventKind = "restore"
	EventInterrupt         EventKind = "interrupt"
	EventInterruptRejected EventKind = "interrupt-rejected"
)

// DefaultEventLogSize is the number of events kept before the older half is dropped.
const DefaultEventLogSize = 1000

// Event is one entry of the device's hardware event log.
type Event struct {
	Seq        uint64
	Kind       EventKind
	DispatchID string
	ScopeID    int64
	Detail     string
	At         time.Time
}

// eventLog is a bounded append-only log. Not thread-safe; guarded by SimDevice.mu.
type eventLog struct {
	max    int
	seq    uint64
	events []Event
}

func (l *eventLog) append(kind EventKind, id string, scope int64, detail string) {
	l.seq++
	l.events = append(l.events, Event{
		Seq:        l.seq,
		Kind:       kind,
		DispatchID: id,
		ScopeID:    scope,
		Detail:     detail,
		At:         time.Now(),
	})
	if len(l.events) > l.max {
		keep := l.max / 2
		l.events = append([]Event(nil), l.events[len(l.events)-keep:]...)
	}
}

func (l *eventLog) snapshot() []Event {
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}
