package core

import "sync"

// ErrorBudget counts consecutive failed agent round trips against a fixed cap.
// Hand-offs neither consume nor restore budget.
type ErrorBudget struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewErrorBudget creates a budget that is exhausted after max failures.
// A non-positive max is treated as 1.
func NewErrorBudget(max int) *ErrorBudget {
	if max <= 0 {
		max = 1
	}
	return &ErrorBudget{max: max}
}

// Fail records one failure and reports whether the cap has been reached.
func (b *ErrorBudget) Fail() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.count++
	return b.count >= b.max
}

// Count returns the number of consecutive failures recorded.
func (b *ErrorBudget) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count
}

// Max returns the cap.
func (b *ErrorBudget) Max() int { return b.max }
