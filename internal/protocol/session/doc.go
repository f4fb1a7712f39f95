// Package session holds link-level timing for a radio connection.
//
// Ownership boundary:
// - handshake, ack and reply timeouts
// - tx queue poll interval and heartbeat fallback
// - reconnect backoff
package session
