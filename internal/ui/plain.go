package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer outputs line-oriented progress for CI and pipes. Within a
// stage it prints at most one line per 10% step.
type PlainRenderer struct {
	mu       sync.Mutex
	out      io.Writer
	source   string
	stage    Stage
	lastStep int
	started  bool
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, source: cfg.Source, lastStep: -1}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.source != "" && !r.started {
		_, _ = fmt.Fprintf(r.out, "Building index from %s\n", r.source)
	}
	r.started = true
	return nil
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Stage != r.stage {
		r.stage = event.Stage
		r.lastStep = -1
	}

	if event.Total <= 0 {
		if event.Message != "" {
			_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), event.Message)
		}
		return
	}

	step := event.Current * 10 / event.Total
	if step == r.lastStep && event.Current != event.Total {
		return
	}
	r.lastStep = step
	_, _ = fmt.Fprintf(r.out, "[%s] %d/%d", event.Stage.Icon(), event.Current, event.Total)
	if event.Message != "" {
		_, _ = fmt.Fprintf(r.out, " - %s", event.Message)
	}
	_, _ = fmt.Fprintln(r.out)
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d records, %d text units indexed in %s",
		stats.Records, stats.Units, stats.Duration.Round(100*time.Millisecond))
	if stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d warnings)", stats.Warnings)
	}
	_, _ = fmt.Fprintln(r.out)

	if stats.BuildID != "" {
		_, _ = fmt.Fprintf(r.out, "Build:    %s\n", stats.BuildID)
	}
	if stats.Bundle != "" {
		_, _ = fmt.Fprintf(r.out, "Bundle:   %s\n", stats.Bundle)
	}
	if stats.Embedder.Model != "" {
		_, _ = fmt.Fprintf(r.out, "Embedder: %s (%d dims)\n", stats.Embedder.Model, stats.Embedder.Dimensions)
	}
	if stats.Reranker != "" {
		_, _ = fmt.Fprintf(r.out, "Reranker: %s\n", stats.Reranker)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

var _ Renderer = (*PlainRenderer)(nil)
