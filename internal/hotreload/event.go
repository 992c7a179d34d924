package hotreload

import (
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event signals that something under the template root changed.
// Consumers treat every event as "check again"; Path and Op are informational.
type Event struct {
	Seq  uint64
	Path string
	Op   fsnotify.Op
	Time time.Time
}

// Publisher accepts change events without blocking the caller.
type Publisher interface {
	Publish(event Event)
}
