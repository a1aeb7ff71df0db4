package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer draws build progress with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *buildModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails when the output is not
// a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, errors.New("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newBuildModel(tracker, cfg.Source)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	opts := []tea.ProgramOption{tea.WithContext(runCtx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.tracker.Apply(event)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(progressMsg(event))
	}
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.tracker.AddError(event)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(errorMsg(event))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.tracker.Apply(ProgressEvent{Stage: StageComplete})

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program == nil {
		return nil
	}
	r.program.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

type progressMsg ProgressEvent
type errorMsg ErrorEvent
type completeMsg CompletionStats
type tickMsg time.Time

// buildModel is the bubbletea model for a build.
type buildModel struct {
	tracker  *ProgressTracker
	source   string
	width    int
	quitting bool
	complete bool
	stats    CompletionStats
	spinner  spinner.Model
	bar      progress.Model
	styles   Styles
}

func newBuildModel(tracker *ProgressTracker, source string) *buildModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))

	return &buildModel{
		tracker: tracker,
		source:  source,
		width:   80,
		spinner: s,
		bar: progress.New(
			progress.WithSolidFill(ColorLime),
			progress.WithWidth(50),
			progress.WithoutPercentage(),
		),
		styles: DefaultStyles(),
	}
}

// Init implements tea.Model.
func (m *buildModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *buildModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-20, 20)
	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case tickMsg:
		return m, tickCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *buildModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	width := max(m.width-4, 40)
	stats := m.tracker.Stats()

	sections := []string{
		m.renderStages(stats.Stage),
		m.styles.Dim.Render(strings.Repeat("─", width)),
		m.renderProgress(stats),
	}
	if line := m.renderSpeed(stats); line != "" {
		sections = append(sections, line)
	}
	if stats.WarnCount > 0 || stats.ErrorCount > 0 {
		sections = append(sections, m.renderProblems(stats))
	}

	title := "tablerag build"
	if m.source != "" {
		title += " • " + m.source
	}
	panel := m.styles.Panel.Width(width).Render(strings.Join(sections, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, m.styles.Header.Render(title), panel) + "\n"
}

func (m *buildModel) renderStages(current Stage) string {
	stages := []Stage{StageLoad, StageNormalize, StageEmbed, StageIndex, StageSave}

	parts := make([]string, 0, len(stages))
	for _, s := range stages {
		switch {
		case s < current:
			parts = append(parts, m.styles.Success.Render("● "+s.String()))
		case s == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+s.String()))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.String()))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *buildModel) renderProgress(stats ProgressStats) string {
	if stats.Total == 0 {
		msg := stats.Message
		if msg == "" {
			msg = "working..."
		}
		return fmt.Sprintf("%s %s", m.spinner.View(), m.styles.Label.Render(msg))
	}

	bar := m.bar.ViewAs(stats.Progress)
	pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100))
	count := m.styles.Label.Render(fmt.Sprintf("%d / %d %s", stats.Current, stats.Total, unitLabel(stats.Stage)))
	return fmt.Sprintf("%s  %s\n%s", bar, pct, count)
}

func (m *buildModel) renderSpeed(stats ProgressStats) string {
	var parts []string
	if stats.Speed > 0 {
		parts = append(parts, fmt.Sprintf("%.0f/s", stats.Speed))
	}
	if stats.ETA > 0 {
		parts = append(parts, "ETA "+formatDuration(stats.ETA))
	}
	if len(parts) == 0 {
		return ""
	}
	return m.styles.Label.Render(strings.Join(parts, "  •  "))
}

func (m *buildModel) renderProblems(stats ProgressStats) string {
	var parts []string
	if stats.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.WarnCount)))
	}
	if stats.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", stats.ErrorCount)))
	}
	return strings.Join(parts, m.styles.Dim.Render("  │  "))
}

func (m *buildModel) renderComplete() string {
	label := m.styles.Label.Render
	value := m.styles.Active.Render

	lines := []string{
		m.styles.Success.Render("✓ Index built"),
		"",
		fmt.Sprintf("%s  %s", label("Records: "), value(fmt.Sprintf("%d", m.stats.Records))),
		fmt.Sprintf("%s  %s", label("Units:   "), value(fmt.Sprintf("%d", m.stats.Units))),
		fmt.Sprintf("%s  %s", label("Duration:"), value(formatDuration(m.stats.Duration))),
	}
	if m.stats.Embedder.Model != "" {
		lines = append(lines, fmt.Sprintf("%s  %s", label("Embedder:"),
			value(fmt.Sprintf("%s (%d dims)", m.stats.Embedder.Model, m.stats.Embedder.Dimensions))))
	}
	if m.stats.Reranker != "" {
		lines = append(lines, fmt.Sprintf("%s  %s", label("Reranker:"), value(m.stats.Reranker)))
	}
	if m.stats.Bundle != "" {
		lines = append(lines, fmt.Sprintf("%s  %s", label("Bundle:  "), m.styles.Dim.Render(m.stats.Bundle)))
	}
	if m.stats.Warnings > 0 {
		lines = append(lines, "", m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", m.stats.Warnings)))
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorLime)).
		Padding(1, 2).
		Width(max(m.width-4, 40))
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

func unitLabel(s Stage) string {
	switch s {
	case StageNormalize, StageLoad:
		return "records"
	default:
		return "units"
	}
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

var _ Renderer = (*TUIRenderer)(nil)
