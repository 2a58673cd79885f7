// ABOUTME: Package stream manages bounded, chunked content transfers over HTTP.
// ABOUTME: Concurrency limits, priority preemption, buffering, memory caps, idle sweep.

// Package stream implements the client's content streaming engine.
//
// Each content identifier maps to one HTTP event-stream request. The Manager
// multiplexes up to a configured number of simultaneous streams; a
// high-priority start at the limit preempts one low-priority stream, a
// low-priority start is rejected.
//
// Content chunks accumulate per stream and reach the caller through a
// buffer that flushes on a size threshold or a debounce timer, with a
// minimum interval between deliveries bounding the callback rate. Buffering
// coalesces deliveries but never reorders them. Cumulative memory per stream
// is estimated at two bytes per character and hard-capped; the chunk that
// would cross the cap is truncated to the remaining budget and the cap
// becomes permanent for that stream.
//
// Streams are independent of the two socket channels: a channel disconnect
// neither cancels in-flight streams nor discards their state.
package stream
