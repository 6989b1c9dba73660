package downloader

import (
	"time"

	"github.com/tinoosan/devsync/internal/data"
)

// Event represents a state change or progress update of one transfer.
//
// Type indicates what kind of event occurred. Terminal events (Complete,
// Failed, Cancelled) close the transfer's history entry. Progress events
// carry transient information and only update the percentage.
type Event struct {
	ID       string
	Kind     data.TransferKind
	Type     EventType
	Product  string
	Name     string
	Size     float64
	Progress *Progress
	// Err is set on Failed and Cancelled events.
	Err  error
	Time time.Time
}

// EventType defines the set of events the loops may emit.
type EventType string

const (
	EventQueued    EventType = "Queued"
	EventStart     EventType = "Start"
	EventCancelled EventType = "Cancelled"
	EventComplete  EventType = "Complete"
	EventFailed    EventType = "Failed"
	EventProgress  EventType = "Progress"
)

// Terminal reports whether no further events follow for the transfer.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventFailed || t == EventCancelled
}

// Progress provides details about an in-progress transfer.
type Progress struct {
	Percent uint8
	// Bytes is the size of the finished file, set on Complete only.
	Bytes int64
}
