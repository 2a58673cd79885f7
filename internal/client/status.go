// ABOUTME: Aggregated connection status derived from both channel snapshots.
// ABOUTME: isConnecting resolves once each channel is either open or exhausted.

package client

import "github.com/2389/loom-client/internal/channel"

// ReconnectAttempts carries the per-channel attempt counters.
type ReconnectAttempts struct {
	Command int
	Event   int
}

// ConnectionStatus is the aggregated view of both gateway connections.
type ConnectionStatus struct {
	CommandOpen       bool
	EventOpen         bool
	IsConnecting      bool
	ReconnectAttempts ReconnectAttempts
}

// BothOpen reports whether both channels are currently open.
func (s ConnectionStatus) BothOpen() bool {
	return s.CommandOpen && s.EventOpen
}

// deriveStatus merges two channel snapshots into one ConnectionStatus.
// A channel has "resolved" when it is open or its attempts are exhausted;
// IsConnecting holds until both have resolved.
func deriveStatus(cmd, ev channel.Status) ConnectionStatus {
	resolved := func(s channel.Status) bool { return s.Open || s.Exhausted }
	return ConnectionStatus{
		CommandOpen:  cmd.Open,
		EventOpen:    ev.Open,
		IsConnecting: !(resolved(cmd) && resolved(ev)),
		ReconnectAttempts: ReconnectAttempts{
			Command: cmd.Attempts,
			Event:   ev.Attempts,
		},
	}
}
