// Package mesh is the client side of a radio session.
//
// An Interface performs the config handshake, pushes outbound packets through
// a queue that honours the device's reported buffer space, matches replies to
// requests and keeps a node database current from what it hears. Every inbound
// packet is published on the event dispatcher under a topic derived from its
// port.
//
// Ownership boundary:
// - handshake phases and reboot recovery
// - tx flow control and resend until confirmed
// - request correlation, ack/nak and typed reply waits
// - port decoders and inbound publication
package mesh
