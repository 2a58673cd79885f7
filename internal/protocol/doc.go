// ABOUTME: Package protocol defines the wire types crossing the gateway boundary.
// ABOUTME: Command and event envelopes over the sockets, chunk frames over the stream endpoint.

// Package protocol contains the typed envelopes exchanged with a loom
// gateway and the chunk frames carried by the content streaming endpoint.
//
// Every message crossing the transport boundary is wrapped in an envelope:
// outbound commands in a CommandEnvelope, inbound pushes in an EventEnvelope.
// Envelopes are immutable once built; payloads are opaque JSON interpreted by
// the layer that registered for the type.
//
// Parsing is strict. An inbound frame that does not decode into a well-formed
// EventEnvelope is a contract violation surfaced to the caller, never a
// condition to be tolerated or silently dropped.
package protocol
