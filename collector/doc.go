// Package collector decides when a voice agent's streamed reply has finished
// arriving, without any explicit turn-complete signal from the wire protocol.
//
// The collector consumes a live duplex channel (send one outbound message,
// receive an ordered sequence of frames) and aggregates text and audio
// fragments until one of two windows expires:
//
//   - Idle window: a sliding timeout applied before any text has arrived.
//     Any frame resets it, heartbeats and unrecognized payloads included,
//     because any activity is evidence the remote side is still working.
//   - Drain window: a fixed grace period that starts the moment the first
//     text fragment arrives. It exists only to catch trailing audio still in
//     flight, and it is deliberately immune to heartbeats: a remote endpoint
//     that pings every second must not be able to stall completion.
//
// The package separates transport concerns (the Channel interface, implemented
// by package transport) from frame decoding (Classify, the single point of
// contact with the wire format) and from the completion decision itself
// (the turn state machine driven by Collect).
package collector
