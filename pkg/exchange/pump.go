package exchange

import (
	"context"
	"time"
)

// txPumpInterval is the poll period for the MRP scan: overdue standalone
// acks and overdue retransmits. This unifies what used to be one
// time.AfterFunc per pending ack/retransmit into a single periodic scan over
// the bounded exchange table, matching the pooled/polling design of the
// transport multiplexer as a whole.
const txPumpInterval = 100 * time.Millisecond

// txPump periodically scans every live exchange for MRP work: a standalone
// ack whose MRPStandaloneAckTimeout has elapsed without piggybacking, or a
// reliable send whose retransmit deadline is due. Exhausted retransmits
// close their exchange with ErrMaxRetransmits.
func (m *Manager) txPump(ctx context.Context) {
	ticker := time.NewTicker(txPumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.txPumpTick()
		}
	}
}

func (m *Manager) txPumpTick() {
	now := time.Now()

	m.mu.RLock()
	live := make([]*ExchangeContext, 0, len(m.exchanges))
	for _, c := range m.exchanges {
		live = append(live, c)
	}
	m.mu.RUnlock()

	for _, c := range live {
		m.pumpAck(c, now)
		m.pumpRetransmit(c, now)
	}
}

func (m *Manager) pumpAck(c *ExchangeContext, now time.Time) {
	c.mu.Lock()
	ready := c.mrp.isAckReady(now)
	counter := c.mrp.pendingAckCtr
	c.mu.Unlock()

	if ready {
		m.sendStandaloneAck(c, counter)
	}
}

func (m *Manager) pumpRetransmit(c *ExchangeContext, now time.Time) {
	c.mu.Lock()
	due, exhausted := c.mrp.dueForRetransmit(now)
	var encoded []byte
	var peer = c.peerAddress
	var baseInterval time.Duration
	if due {
		encoded = c.mrp.retransmitMsg
		peer = c.mrp.retransmitPeer
		if sess := c.session; sess != nil {
			params := sess.GetParams()
			baseInterval = params.IdleInterval
			if secureSession, ok := sess.(SecureSessionContext); ok && secureSession.IsPeerActive() {
				baseInterval = params.ActiveInterval
			}
		}
	}
	c.mu.Unlock()

	switch {
	case exhausted:
		m.log.Warnf("exchange %d: max retransmits exceeded (ErrMaxRetransmits), closing", c.ID)
		c.mu.Lock()
		c.mrp.ackReceived()
		c.State = ExchangeStateClosed
		c.sub = subStateClosed
		c.mu.Unlock()
		m.removeExchange(c)
	case due:
		if err := m.config.TransportManager.Send(encoded, peer); err != nil {
			m.log.Warnf("exchange %d: retransmit send failed: %v", c.ID, err)
			return
		}
		c.mu.Lock()
		c.mrp.recordRetransmit(baseInterval, now)
		c.mu.Unlock()
	}
}

