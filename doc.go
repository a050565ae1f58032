// Package lockstep implements the synchronization core of a deterministic
// lockstep multiplayer protocol: per-sender receive queues with
// out-of-order insertion and selective acknowledgement, a retransmission
// send queue, and a frame-advance barrier that holds the local simulation
// until every remote participant's input for the current tick has arrived.
//
// The handshake that assigns host IDs and the datagram wire encoding are
// collaborators the core consumes through small interfaces; this package
// ships a default JSON codec (see the internal wire subpackage) and
// accepts any net.PacketConn as the transport, so the core is runnable
// end to end, but neither is load-bearing to the synchronization logic
// itself.
package lockstep
