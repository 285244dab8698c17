package circuitbreaker

import "time"

// EventType identifies a breaker lifecycle event.
type EventType string

const (
	EventSuccess     EventType = "success"
	EventFailure     EventType = "failure"
	EventStateChange EventType = "stateChange"
	EventReset       EventType = "reset"
)

// Event is one breaker lifecycle notification.
type Event struct {
	Type    EventType
	Breaker string
	At      time.Time

	// From and To are set on stateChange events.
	From State
	To   State

	// Err is set on failure events.
	Err error
}

// Listener receives breaker events. Listeners must not block: they are
// invoked synchronously on the calling goroutine's hot path.
type Listener func(Event)
