package logger

import (
	"fmt"
	"sync"
	"time"
)

// StageTracker logs progress of a long-running pipeline stage as a
// percentage. It is an operator-facing diagnostic; user-facing progress
// flows through the job update channel, not through here.
type StageTracker struct {
	logger      Logger
	operation   string
	percent     int
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mu          sync.Mutex
}

// NewStageTracker creates a tracker for the named operation. A zero
// logInterval defaults to five seconds.
func NewStageTracker(operation string, log Logger, logInterval time.Duration) *StageTracker {
	if log == nil {
		log = GetGlobalLogger()
	}
	if logInterval == 0 {
		logInterval = 5 * time.Second
	}

	tracker := &StageTracker{
		logger:      log.WithComponent("progress"),
		operation:   operation,
		startTime:   time.Now(),
		lastLogTime: time.Now(),
		logInterval: logInterval,
	}

	tracker.logger.WithField("operation", operation).Info("Starting operation")
	return tracker
}

// Update records the current percentage and logs it at the configured
// interval. Percent values below the last recorded value are ignored so
// observed progress never moves backwards.
func (st *StageTracker) Update(percent int) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if percent < st.percent {
		return
	}
	st.percent = percent

	now := time.Now()
	if now.Sub(st.lastLogTime) < st.logInterval {
		return
	}
	st.lastLogTime = now

	st.logger.WithFields(Fields{
		"operation": st.operation,
		"percent":   fmt.Sprintf("%d%%", st.percent),
		"elapsed":   now.Sub(st.startTime).String(),
	}).Info("Progress update")
}

// Percent returns the last recorded percentage.
func (st *StageTracker) Percent() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.percent
}

// Complete logs final timing for the operation.
func (st *StageTracker) Complete() {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.logger.WithFields(Fields{
		"operation": st.operation,
		"duration":  time.Since(st.startTime).String(),
	}).Info("Operation completed")
}

// CompleteWithError logs final timing for a failed operation.
func (st *StageTracker) CompleteWithError(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.logger.WithError(err).WithFields(Fields{
		"operation": st.operation,
		"duration":  time.Since(st.startTime).String(),
		"percent":   fmt.Sprintf("%d%%", st.percent),
	}).Error("Operation failed")
}
