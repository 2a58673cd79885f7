// ABOUTME: Package client hosts the connection coordinator owning both channels.
// ABOUTME: Status aggregation, merged handler registry, entity caches, session affinity.

// Package client provides the Coordinator, the single owner of the client's
// two gateway connections.
//
// The Coordinator aggregates both connections' status on a fixed poll into
// one ConnectionStatus, notifying subscribers only on actual change and
// raising lost/restored exactly on the "both open" edge transitions. It owns
// the merged handler registry: successive RegisterHandlers calls merge per
// event type, so independent subscribers can register overlapping handler
// sets without clobbering each other.
//
// Inbound list-update events refresh the coordinator's entity caches before
// any handler executes, so later-registered handlers always observe
// consistent state. Cache getters return defensive copies; readers can never
// mutate shared state.
//
// Coordinators are explicitly constructed and carry a Start/Stop lifecycle.
// Nothing in this package is a process-wide singleton; tests run several
// coordinators side by side.
package client
