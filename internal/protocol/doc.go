// Package protocol owns the radio link message model.
//
// Ownership boundary:
// - FromRadio/ToRadio envelopes (exactly one populated variant)
// - mesh value types carried inside envelopes and application payloads
// - port numbers, node addressing constants and helpers
// - envelope validation and partial config merges
//
// Binary encoding lives in protocol/wire, stream framing in protocol/frame.
package protocol
