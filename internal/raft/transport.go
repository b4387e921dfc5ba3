package raft

// Transport is the contract between a node and its peers (spec.md §4.4).
// Delivery is best-effort: it may reorder, drop, or duplicate messages.
// Implementations should provide at least FIFO-per-sender where
// convenient, but the protocol tolerates reordering.
type Transport interface {
	// Receiver returns the channel of inbound messages addressed to this
	// node. The channel is closed when the transport shuts down.
	Receiver() <-chan Message

	// Send delivers msg to the peer named by msg.To. A returned error means
	// the send could not be attempted (e.g. unknown peer); the driver may
	// retry on the next tick.
	Send(msg Message) error
}
