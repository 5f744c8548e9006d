package messages

import "sync"

// Aggregator collects recoverable warnings and errors produced while
// processing history. The engine funnels per-event failures here instead of
// aborting the run; the caller consumes them once for display.
type Aggregator struct {
	mu       sync.Mutex
	warnings []string
	errors   []string
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

func (a *Aggregator) AddWarning(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.warnings = append(a.warnings, msg)
}

func (a *Aggregator) AddError(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors = append(a.errors, msg)
}

// ConsumeWarnings returns the collected warnings and clears them.
func (a *Aggregator) ConsumeWarnings() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.warnings
	a.warnings = nil
	return out
}

// ConsumeErrors returns the collected errors and clears them.
func (a *Aggregator) ConsumeErrors() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.errors
	a.errors = nil
	return out
}

func (a *Aggregator) ErrorCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.errors)
}

func (a *Aggregator) WarningCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.warnings)
}
