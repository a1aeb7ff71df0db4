// Package ui renders index build progress and bundle status in the terminal.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage represents a build stage.
type Stage int

const (
	// StageLoad reads the records file.
	StageLoad Stage = iota
	// StageNormalize cleans records and builds narratives.
	StageNormalize
	// StageEmbed computes narrative vectors.
	StageEmbed
	// StageIndex builds the lexical and semantic indexes.
	StageIndex
	// StageSave writes the bundle.
	StageSave
	// StageComplete indicates the build finished.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageLoad:
		return "Load"
	case StageNormalize:
		return "Normalize"
	case StageEmbed:
		return "Embed"
	case StageIndex:
		return "Index"
	case StageSave:
		return "Save"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageLoad:
		return "LOAD"
	case StageNormalize:
		return "NORM"
	case StageEmbed:
		return "EMBED"
	case StageIndex:
		return "INDEX"
	case StageSave:
		return "SAVE"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// StageFromEngine maps the engine's progress stage names.
func StageFromEngine(name string) Stage {
	switch name {
	case "normalize":
		return StageNormalize
	case "embed":
		return StageEmbed
	case "index":
		return StageIndex
	default:
		return StageLoad
	}
}

// ProgressEvent represents a progress update.
type ProgressEvent struct {
	Stage   Stage
	Current int
	Total   int
	Message string
}

// ErrorEvent represents a problem during the build.
type ErrorEvent struct {
	Err    error
	IsWarn bool
}

// EmbedderInfo describes the embedding model.
type EmbedderInfo struct {
	Model      string
	Dimensions int
}

// CompletionStats summarises a finished build.
type CompletionStats struct {
	Records  int
	Units    int
	BuildID  string
	Bundle   string
	Duration time.Duration
	Warnings int
	Embedder EmbedderInfo
	Reranker string
}

// Renderer defines the interface for progress display.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates progress display.
	UpdateProgress(event ProgressEvent)

	// AddError adds an error or warning to display.
	AddError(event ErrorEvent)

	// Complete marks rendering as complete with summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// EngineProgress adapts a Renderer to the engine's progress callback.
func EngineProgress(r Renderer) func(stage string, done, total int) {
	return func(stage string, done, total int) {
		r.UpdateProgress(ProgressEvent{Stage: StageFromEngine(stage), Current: done, Total: total})
	}
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	Source     string // records file shown in the header
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

// WithSource sets the records file shown in the header.
func WithSource(path string) ConfigOption {
	return func(c *Config) { c.Source = path }
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns the TUI renderer for interactive terminals and the
// plain renderer for CI, pipes, or when plain output is forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
