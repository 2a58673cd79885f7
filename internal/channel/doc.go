// ABOUTME: Package channel implements the two long-lived gateway socket connections.
// ABOUTME: Reconnect state machine, FIFO outbound queue, and inbound event dispatch.

// Package channel manages the client's long-lived websocket connections.
//
// A Conn is one socket with its own reconnect state machine: exponential
// backoff with a capped number of attempts, after which the connection is
// terminal until an explicit Retry. Frames submitted while disconnected are
// queued and drained strictly FIFO on (re)connect; a drain interrupted by a
// mid-flush disconnect defers the remaining frames, it never drops them.
//
// CommandChannel and EventChannel specialize a Conn for the two directions:
// the command channel serializes protocol.CommandEnvelope values outbound,
// the event channel parses inbound frames into protocol.EventEnvelope values
// and hands them to a dispatcher in arrival order. Unparseable frames are
// routed to an error callback as contract violations, never silently dropped.
package channel
