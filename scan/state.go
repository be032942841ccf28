// Package scan runs scan cycles: the quiet-window and pause gates, source
// sampling, one browsing session per cycle, extraction, classification,
// persistence and alerts. A Scheduler fires cycles on a fixed interval.
package scan

import "sync/atomic"

// RunState is the state shared between the scan task and the command loop.
type RunState struct {
	paused atomic.Bool
}

// Paused reports whether scanning is paused.
func (s *RunState) Paused() bool { return s.paused.Load() }

// Pause stops future cycles from running. A cycle in progress finishes.
func (s *RunState) Pause() { s.paused.Store(true) }

// Resume lets cycles run again.
func (s *RunState) Resume() { s.paused.Store(false) }

// InQuietWindow reports whether hour falls in [start, end). A window with
// start > end wraps midnight; start == end is no window.
func InQuietWindow(hour, start, end int) bool {
	switch {
	case start < end:
		return hour >= start && hour < end
	case start > end:
		return hour >= start || hour < end
	}
	return false
}
