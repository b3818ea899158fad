package domain

// EventKind is the kind of a coordination store change event.
type EventKind int

// Event kinds.
const (
	EventEmpty EventKind = iota
	EventPut
	EventDelete
)

func (k EventKind) String() string {
	switch k {
	case EventPut:
		return "put"
	case EventDelete:
		return "delete"
	default:
		return "empty"
	}
}

// Event is one change observed on a watched prefix. Value is only set for puts.
type Event struct {
	Kind  EventKind
	Key   string
	Value []byte
}

// PutEvent builds a put event.
func PutEvent(key string, value []byte) Event {
	return Event{Kind: EventPut, Key: key, Value: value}
}

// DeleteEvent builds a delete event.
func DeleteEvent(key string) Event {
	return Event{Kind: EventDelete, Key: key}
}
