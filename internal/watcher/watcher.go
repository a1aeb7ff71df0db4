package watcher

import (
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates the file appeared.
	OpCreate Operation = iota
	// OpModify indicates the file contents changed.
	OpModify
	// OpDelete indicates the file was removed.
	OpDelete
	// OpRename indicates the file was renamed away.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a change to a watched file.
type FileEvent struct {
	// Path is the absolute path of the watched file.
	Path string

	// Operation is the type of file system operation.
	Operation Operation

	// Timestamp is when the event was detected.
	Timestamp time.Time
}

// Options configures the watcher behavior.
type Options struct {
	// Debounce is the quiet period before a batch is emitted.
	// Default: 500ms
	Debounce time.Duration

	// PollInterval is the interval for polling mode.
	// Default: 2s
	PollInterval time.Duration

	// ForcePolling skips fsnotify.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		Debounce:     500 * time.Millisecond,
		PollInterval: 2 * time.Second,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.Debounce <= 0 {
		o.Debounce = defaults.Debounce
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	return o
}
