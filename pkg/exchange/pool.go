package exchange

import (
	"context"

	"github.com/backkem/matter/pkg/transport"
)

// poolWorker services construction handoffs from handleUnsolicited. There
// are MaxExchanges workers, one per bounded buffer slot, so at most
// MaxExchanges unsolicited dispatches are ever in flight concurrently -- the
// same bound that governs the exchange table itself.
func (m *Manager) poolWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ctr := <-m.ctorCh:
			m.serviceCtr(ctr)
		}
	}
}

// serviceCtr unblocks the RX path, dispatches to the registered handler, and
// sends a response if the handler produced one. ctr.payload aliases this
// exchange's own RX block (bufHandle.RX at ctr.ctx.bufIdx), which belongs to
// this exchange alone until it closes and releases its slot -- no other
// packet can land in it in the meantime, so no defensive copy is needed
// here. Errors from the handler close the exchange but never propagate to
// the RX path or crash the worker.
func (m *Manager) serviceCtr(ctr *exchangeCtr) {
	close(ctr.pickedUp)

	response, err := ctr.handler.OnUnsolicited(ctr.ctx, ctr.opcode, ctr.payload)
	if err != nil {
		m.log.Warnf("exchange: OnUnsolicited exchange %d: %v", ctr.ctx.ID, err)
		m.removeExchange(ctr.ctx)
		return
	}

	if response != nil {
		reliable := ctr.ctx.PeerAddress().TransportType == transport.TransportTypeUDP
		if err := ctr.ctx.SendMessage(ctr.opcode, response, reliable); err != nil {
			m.log.Warnf("exchange: response send exchange %d: %v", ctr.ctx.ID, err)
		}
	}
}
