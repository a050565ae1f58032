// Package wire defines the datagram shapes exchanged at the UDP boundary
// and a default codec for them. The wire codec and framing are kept
// external to the synchronization core; this package supplies a
// concrete JSON default so Receiver and Transmitter are runnable without
// a host-supplied codec, while keeping the Codec interface swappable.
package wire

// FrameInputRecord is the wire shape of one lockstep.FrameInput.
type FrameInputRecord struct {
	Frame   int64  `json:"frame"`
	Command []byte `json:"command"`
}

// FrameInputBatch carries one sender's batch of frame inputs in a single
// datagram.
type FrameInputBatch struct {
	SenderID int                `json:"sender_id"`
	Inputs   []FrameInputRecord `json:"inputs"`
}

// FrameAckRecord is the wire shape of one lockstep.FrameAck.
type FrameAckRecord struct {
	Cumulative int64   `json:"cumulative"`
	Selective  []int64 `json:"selective,omitempty"`
}

// AckBatch carries one sender's batch of acks in a single datagram. In
// practice a sender emits at most one ack per destination per transmit
// tick, but the batch shape allows coalescing.
type AckBatch struct {
	SenderID int              `json:"sender_id"`
	Acks     []FrameAckRecord `json:"acks"`
}

// Datagram is the envelope placed on the wire. Either field may be nil:
// a transmit tick with nothing due for retransmission but an ack to
// piggyback sends Acks alone, and one with both populates both, so a
// pending ack rides along with the same tick's frame inputs instead of
// waiting for its own datagram.
type Datagram struct {
	Inputs *FrameInputBatch `json:"inputs,omitempty"`
	Acks   *AckBatch        `json:"acks,omitempty"`
}
