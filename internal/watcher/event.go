package watcher

import (
	"context"
	"time"
)

// Kind is the type of a normalized file event.
type Kind int

const (
	Created Kind = iota
	Modified
	Deleted
	Moved
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Moved:
		return "moved"
	default:
		return "unknown"
	}
}

// Event is a single change to a watched file. For Moved, Path is the old
// location and DestPath the new one.
type Event struct {
	Kind     Kind
	Path     string
	DestPath string
	Time     time.Time
}

// Target returns the path whose contents the event is about: DestPath for
// Moved, Path otherwise.
func (e Event) Target() string {
	if e.Kind == Moved {
		return e.DestPath
	}
	return e.Path
}

// Source produces normalized events for a directory.
type Source interface {
	// Start begins watching. The returned channel is closed when ctx is
	// cancelled or Stop is called.
	Start(ctx context.Context) (<-chan Event, error)

	// Stop releases the underlying watch and waits for the event loop to exit.
	Stop() error
}
