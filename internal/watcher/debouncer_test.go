package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, d *Debouncer, within time.Duration) []FileEvent {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(within):
		t.Fatal("timeout waiting for debounced batch")
		return nil
	}
}

func TestDebouncer_Coalescing(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
		want Operation
	}{
		{"single modify", []Operation{OpModify}, OpModify},
		{"burst of writes", []Operation{OpModify, OpModify, OpModify, OpModify}, OpModify},
		{"create then write", []Operation{OpCreate, OpModify}, OpCreate},
		{"replace by rename", []Operation{OpRename, OpCreate}, OpModify},
		{"delete then create", []Operation{OpDelete, OpCreate}, OpModify},
		{"modify then delete", []Operation{OpModify, OpDelete}, OpDelete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given
			d := NewDebouncer(30 * time.Millisecond)
			defer d.Stop()

			// When
			for _, op := range tt.ops {
				d.Add(FileEvent{Path: "/data/registry.csv", Operation: op, Timestamp: time.Now()})
			}

			// Then: one event per path with the merged operation
			batch := receive(t, d, time.Second)
			require.Len(t, batch, 1)
			assert.Equal(t, tt.want, batch[0].Operation)
		})
	}
}

func TestDebouncer_CreateThenDeleteCancels(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "/data/tmp.csv", Operation: OpCreate})
	d.Add(FileEvent{Path: "/data/tmp.csv", Operation: OpDelete})

	select {
	case batch := <-d.Output():
		t.Fatalf("expected no batch, got %v", batch)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDebouncer_WindowRestartsOnEachEvent(t *testing.T) {
	// Given: a 60ms window
	d := NewDebouncer(60 * time.Millisecond)
	defer d.Stop()

	// When: events keep arriving faster than the window for ~150ms
	for i := 0; i < 6; i++ {
		d.Add(FileEvent{Path: "/data/registry.xlsx", Operation: OpModify})
		time.Sleep(25 * time.Millisecond)
	}

	// Then: a single batch follows the last event
	batch := receive(t, d, time.Second)
	assert.Len(t, batch, 1)
	select {
	case extra := <-d.Output():
		t.Fatalf("unexpected second batch %v", extra)
	case <-time.After(120 * time.Millisecond):
	}
}

func TestDebouncer_BatchSortedByPath(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "/data/b.csv", Operation: OpModify})
	d.Add(FileEvent{Path: "/data/a.csv", Operation: OpModify})

	batch := receive(t, d, time.Second)
	require.Len(t, batch, 2)
	assert.Equal(t, "/data/a.csv", batch[0].Path)
	assert.Equal(t, "/data/b.csv", batch[1].Path)
}

func TestDebouncer_Stop(t *testing.T) {
	d := NewDebouncer(time.Hour)
	d.Add(FileEvent{Path: "/data/a.csv", Operation: OpModify})

	d.Stop()
	d.Stop()
	d.Add(FileEvent{Path: "/data/a.csv", Operation: OpModify})

	_, ok := <-d.Output()
	assert.False(t, ok, "output closed after stop")
}
