package exchange

import (
	"time"

	"github.com/backkem/matter/pkg/transport"
)

// reliableMessage is the per-exchange MRP engine: pending-ack tracking and
// retransmit timing for the single reliable message an exchange may have in
// flight at once. Counter-based duplicate detection is delegated to the
// session layer's ReceptionState (message.ReceptionState.CheckAndAccept),
// reached through SecureContext.Decrypt / UnsecuredContext.CheckCounter
// before a packet ever reaches the exchange table.
//
// This supersedes the old global AckTable/RetransmitTable: MRP state now
// lives directly on the exchange it belongs to, matching the bounded,
// per-slot model the exchange table already enforces.
type reliableMessage struct {
	// pendingAck is the counter of a received reliable message we still owe
	// a standalone ack for, and the deadline by which to send it if it
	// hasn't been piggybacked.
	hasPendingAck  bool
	pendingAckCtr  uint32
	ackDeadline    time.Time

	// retransmit tracks our own outbound reliable message awaiting the
	// peer's ack.
	hasRetransmit     bool
	retransmitMsg     []byte
	retransmitPeer    transport.PeerAddress
	retransmitAttempt int
	nextRetransmitAt  time.Time

	backoff *BackoffCalculator
}

func newReliableMessage() *reliableMessage {
	return &reliableMessage{backoff: NewBackoffCalculator(nil)}
}

// scheduleAck marks that a standalone ack is owed for messageCounter unless
// piggybacked within MRPStandaloneAckTimeout.
func (r *reliableMessage) scheduleAck(messageCounter uint32, now time.Time) {
	r.hasPendingAck = true
	r.pendingAckCtr = messageCounter
	r.ackDeadline = now.Add(MRPStandaloneAckTimeout)
}

// clearAck is called once an ack (standalone or piggybacked) has been sent.
func (r *reliableMessage) clearAck() {
	r.hasPendingAck = false
	r.pendingAckCtr = 0
}

// isAckReady reports whether a standalone ack is overdue at time now.
func (r *reliableMessage) isAckReady(now time.Time) bool {
	return r.hasPendingAck && !now.Before(r.ackDeadline)
}

// armRetransmit records a freshly sent reliable message and computes the
// first retransmit deadline from the session's base interval.
func (r *reliableMessage) armRetransmit(encoded []byte, peer transport.PeerAddress, baseInterval time.Duration, now time.Time) {
	r.hasRetransmit = true
	r.retransmitMsg = encoded
	r.retransmitPeer = peer
	r.retransmitAttempt = 0
	r.nextRetransmitAt = now.Add(r.backoff.Calculate(baseInterval, 0))
}

// ackReceived clears retransmit tracking once the peer acknowledges.
func (r *reliableMessage) ackReceived() {
	r.hasRetransmit = false
	r.retransmitMsg = nil
	r.retransmitAttempt = 0
}

// dueForRetransmit reports whether the pending reliable message should be
// retransmitted at time now, and whether attempts are exhausted (in which
// case the caller must close the exchange with ErrMaxRetransmits instead).
func (r *reliableMessage) dueForRetransmit(now time.Time) (due bool, exhausted bool) {
	if !r.hasRetransmit {
		return false, false
	}
	if now.Before(r.nextRetransmitAt) {
		return false, false
	}
	if r.retransmitAttempt >= maxRetransmitAttempts {
		return false, true
	}
	return true, false
}

// recordRetransmit bumps the attempt counter and computes the next backoff
// deadline after an actual retransmit send.
func (r *reliableMessage) recordRetransmit(baseInterval time.Duration, now time.Time) {
	r.retransmitAttempt++
	r.nextRetransmitAt = now.Add(r.backoff.Calculate(baseInterval, r.retransmitAttempt))
}
