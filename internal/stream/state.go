// ABOUTME: Stream lifecycle phases, priorities, pause reasons, and state snapshots.
// ABOUTME: Streaming and Paused are reversible; every other phase is terminal.

package stream

import "time"

// Phase is a stream's position in its lifecycle.
type Phase int

const (
	PhaseConnecting Phase = iota
	PhaseStreaming
	PhasePaused
	PhaseComplete
	PhaseError
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseStreaming:
		return "streaming"
	case PhasePaused:
		return "paused"
	case PhaseComplete:
		return "complete"
	case PhaseError:
		return "error"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase ends the stream and triggers cleanup.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError || p == PhaseCancelled
}

// Priority orders streams for admission at the concurrency limit.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityHigh
)

// PauseReason records why a stream is paused, so resume-on-focus touches
// only the streams that visibility paused.
type PauseReason int

const (
	PauseNone PauseReason = iota
	PauseUser
	PauseVisibility
)

// State is a point-in-time snapshot of one stream.
type State struct {
	ID                 string
	AgentID            string
	SessionID          string
	Phase              Phase
	PauseReason        PauseReason
	AccumulatedContent string
	MemoryUsageBytes   int
	StartedAt          time.Time
	LastActivityAt     time.Time
}
