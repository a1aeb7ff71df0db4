package watcher

import (
	"context"
	"os"
	"time"
)

// fileSnapshot is what polling compares between ticks.
type fileSnapshot struct {
	exists  bool
	modTime time.Time
	size    int64
}

func snapshot(path string) fileSnapshot {
	info, err := os.Stat(path)
	if err != nil {
		return fileSnapshot{}
	}
	return fileSnapshot{exists: true, modTime: info.ModTime(), size: info.Size()}
}

// diff returns the operation that turns prev into cur, if any.
func diff(prev, cur fileSnapshot) (Operation, bool) {
	switch {
	case !prev.exists && cur.exists:
		return OpCreate, true
	case prev.exists && !cur.exists:
		return OpDelete, true
	case prev.exists && (prev.modTime != cur.modTime || prev.size != cur.size):
		return OpModify, true
	default:
		return 0, false
	}
}

// poll stats every target on each tick and feeds changes to emit until ctx
// is done or stop is closed.
func poll(ctx context.Context, stop <-chan struct{}, paths []string, interval time.Duration, emit func(FileEvent)) {
	state := make(map[string]fileSnapshot, len(paths))
	for _, p := range paths {
		state[p] = snapshot(p)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case now := <-ticker.C:
			for _, p := range paths {
				cur := snapshot(p)
				if op, changed := diff(state[p], cur); changed {
					emit(FileEvent{Path: p, Operation: op, Timestamp: now})
				}
				state[p] = cur
			}
		}
	}
}
