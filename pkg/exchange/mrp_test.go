package exchange

import (
	"testing"
	"time"

	"github.com/backkem/matter/pkg/transport"
)

// =============================================================================
// reliableMessage unit tests: ack bookkeeping and retransmit scheduling in
// isolation from the transport/worker-pool plumbing exercised by e2e_test.go.
// =============================================================================

func TestReliableMessage_AckSoundness(t *testing.T) {
	r := newReliableMessage()
	now := time.Now()

	r.scheduleAck(7, now)

	if r.isAckReady(now) {
		t.Error("ack ready immediately after scheduling, want not-yet-due")
	}
	if r.isAckReady(now.Add(MRPStandaloneAckTimeout - time.Millisecond)) {
		t.Error("ack ready before MRPStandaloneAckTimeout elapsed")
	}
	if !r.isAckReady(now.Add(MRPStandaloneAckTimeout)) {
		t.Error("ack not ready at the exact MRPStandaloneAckTimeout deadline")
	}

	r.clearAck()
	if r.isAckReady(now.Add(time.Hour)) {
		t.Error("ack still ready after clearAck")
	}
	if r.hasPendingAck {
		t.Error("hasPendingAck still true after clearAck")
	}
}

func TestReliableMessage_ClearAck_WithoutSchedule(t *testing.T) {
	r := newReliableMessage()
	r.clearAck() // must not panic

	if r.isAckReady(time.Now()) {
		t.Error("isAckReady true with no ack ever scheduled")
	}
}

func TestReliableMessage_ArmRetransmit_SingleInFlight(t *testing.T) {
	r := newReliableMessage()
	now := time.Now()
	peer := transport.NewUDPPeerAddress(transport.PipeAddr{ID: 0})

	r.armRetransmit([]byte("first"), peer, 100*time.Millisecond, now)
	r.recordRetransmit(100*time.Millisecond, now.Add(10*time.Millisecond))

	if r.retransmitAttempt != 1 {
		t.Fatalf("retransmitAttempt = %d, want 1 after one recordRetransmit", r.retransmitAttempt)
	}

	// A fresh send (e.g. a new reliable message on the same exchange once
	// the prior one completed) replaces the in-flight state outright rather
	// than accumulating it -- only one reliable message is ever in flight
	// per exchange.
	r.armRetransmit([]byte("second"), peer, 100*time.Millisecond, now)

	if r.retransmitAttempt != 0 {
		t.Errorf("retransmitAttempt = %d, want 0 after re-arming", r.retransmitAttempt)
	}
	if string(r.retransmitMsg) != "second" {
		t.Errorf("retransmitMsg = %q, want %q", r.retransmitMsg, "second")
	}
}

func TestReliableMessage_DueForRetransmit_Progression(t *testing.T) {
	r := newReliableMessage()
	now := time.Now()
	peer := transport.NewUDPPeerAddress(transport.PipeAddr{ID: 0})
	baseInterval := 100 * time.Millisecond

	r.armRetransmit([]byte("msg"), peer, baseInterval, now)

	if due, exhausted := r.dueForRetransmit(now); due || exhausted {
		t.Errorf("dueForRetransmit immediately after arming = (%v, %v), want (false, false)", due, exhausted)
	}

	far := now.Add(10 * time.Second)
	for attempt := 0; attempt < maxRetransmitAttempts; attempt++ {
		due, exhausted := r.dueForRetransmit(far)
		if !due || exhausted {
			t.Fatalf("attempt %d: dueForRetransmit = (%v, %v), want (true, false)", attempt, due, exhausted)
		}
		r.recordRetransmit(baseInterval, far)
		far = far.Add(10 * time.Second)
	}

	due, exhausted := r.dueForRetransmit(far)
	if due || !exhausted {
		t.Errorf("after %d retransmits: dueForRetransmit = (%v, %v), want (false, true)", maxRetransmitAttempts, due, exhausted)
	}
}

func TestReliableMessage_AckReceived_ClearsRetransmit(t *testing.T) {
	r := newReliableMessage()
	now := time.Now()
	peer := transport.NewUDPPeerAddress(transport.PipeAddr{ID: 0})

	r.armRetransmit([]byte("msg"), peer, 100*time.Millisecond, now)
	r.ackReceived()

	if r.hasRetransmit {
		t.Error("hasRetransmit still true after ackReceived")
	}
	if r.retransmitMsg != nil {
		t.Error("retransmitMsg not cleared after ackReceived")
	}
	if due, exhausted := r.dueForRetransmit(now.Add(time.Hour)); due || exhausted {
		t.Errorf("dueForRetransmit after ackReceived = (%v, %v), want (false, false)", due, exhausted)
	}
}
