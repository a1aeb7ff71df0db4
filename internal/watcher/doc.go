// Package watcher notices when registry records files change so the
// server can rebuild its index.
//
// Watching uses fsnotify on each file's parent directory, which also
// catches editors and uploaders that replace a file by renaming a temp
// file over it. Where fsnotify cannot be used (some network mounts and
// container volumes) the watcher polls file size and modification time.
// Bursts of events are debounced into one batch.
//
// Usage:
//
//	w, err := watcher.New([]string{"data/registry.xlsx"}, watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	err = w.Run(ctx, func(ctx context.Context, events []watcher.FileEvent) error {
//	    return rebuild(ctx)
//	})
package watcher
