package watcher

import "time"

// EventType classifies a settled change.
type EventType uint8

const (
	// EventAdded fires for a new directory at once and for a new file once it settles.
	EventAdded EventType = iota + 1
	EventModified
	// EventRemoved also covers the old name of a rename.
	EventRemoved
)

var eventTypeNames = [...]string{
	EventAdded:    "added",
	EventModified: "modified",
	EventRemoved:  "removed",
}

func (t EventType) String() string {
	if int(t) < len(eventTypeNames) && eventTypeNames[t] != "" {
		return eventTypeNames[t]
	}
	return "unknown"
}

// Event is one settled change below a watched root.
// Size and ModTime are unset for removals.
type Event struct {
	Type    EventType
	Path    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}
