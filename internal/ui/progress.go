package ui

import (
	"sync"
	"time"
)

// ProgressTracker holds progress state across build stages.
// It is safe for concurrent use.
type ProgressTracker struct {
	mu         sync.RWMutex
	stage      Stage
	current    int
	total      int
	message    string
	startTime  time.Time
	stageStart time.Time
	errors     []ErrorEvent
	warnings   []ErrorEvent

	lastETA time.Duration

	lastCurrent   int
	lastSpeedCalc time.Time
	speed         float64 // items/sec, smoothed
}

// ProgressStats is a snapshot of current progress.
type ProgressStats struct {
	Stage      Stage
	Current    int
	Total      int
	Progress   float64
	ETA        time.Duration
	Message    string
	Speed      float64
	ErrorCount int
	WarnCount  int
}

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		stage:         StageLoad,
		startTime:     now,
		stageStart:    now,
		lastSpeedCalc: now,
	}
}

// Apply records an event, switching stage when it changes.
func (p *ProgressTracker) Apply(event ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.Stage != p.stage {
		now := time.Now()
		p.stage = event.Stage
		p.stageStart = now
		p.lastETA = 0
		p.lastCurrent = 0
		p.lastSpeedCalc = now
		p.speed = 0
	}
	p.total = event.Total
	p.current = event.Current
	if event.Message != "" {
		p.message = event.Message
	}

	now := time.Now()
	elapsed := now.Sub(p.lastSpeedCalc)
	if elapsed < 250*time.Millisecond {
		return
	}
	if delta := p.current - p.lastCurrent; delta > 0 {
		sample := float64(delta) / elapsed.Seconds()
		if p.speed == 0 {
			p.speed = sample
		} else {
			p.speed = 0.2*sample + 0.8*p.speed
		}
	}
	p.lastCurrent = p.current
	p.lastSpeedCalc = now
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings = append(p.warnings, event)
	} else {
		p.errors = append(p.errors, event)
	}
}

// Elapsed returns time since the tracker was created.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Since(p.startTime)
}

// Stats returns a snapshot. It takes the write lock because the ETA is
// smoothed against the previous estimate.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProgressStats{
		Stage:      p.stage,
		Current:    p.current,
		Total:      p.total,
		Progress:   p.fraction(),
		ETA:        p.calculateETA(),
		Message:    p.message,
		Speed:      p.speed,
		ErrorCount: len(p.errors),
		WarnCount:  len(p.warnings),
	}
}

// Warnings returns the recorded warnings.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.warnings...)
}

// Errors returns the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.errors...)
}

func (p *ProgressTracker) fraction() float64 {
	if p.total <= 0 {
		return 0
	}
	f := float64(p.current) / float64(p.total)
	if f > 1 {
		return 1
	}
	return f
}

// etaSmoothingFactor weights the newest raw estimate.
const etaSmoothingFactor = 0.3

// calculateETA must be called with the lock held.
func (p *ProgressTracker) calculateETA() time.Duration {
	progress := p.fraction()
	if progress <= 0 || progress >= 1 {
		return 0
	}

	elapsed := time.Since(p.stageStart)
	raw := time.Duration(float64(elapsed)/progress) - elapsed
	if raw < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = raw
		return raw
	}
	p.lastETA = time.Duration(etaSmoothingFactor*float64(raw) + (1-etaSmoothingFactor)*float64(p.lastETA))
	return p.lastETA
}
