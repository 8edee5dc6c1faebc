package exchange

// exchangeSubState is the fine-grained lifecycle tag used internally by the
// manager and TX pump. It refines the coarse public ExchangeState
// (Active/Closing/Closed, kept for pkg/im and pkg/securechannel
// compatibility) into the eight-state machine.
type exchangeSubState int

const (
	subStateActive exchangeSubState = iota
	subStateConstruction
	subStateExchangeRecv
	subStateExchangeSend
	subStateAcknowledge
	subStateComplete
	subStateCompleteAcknowledge
	subStateClosed
)

func (s exchangeSubState) String() string {
	switch s {
	case subStateActive:
		return "Active"
	case subStateConstruction:
		return "Construction"
	case subStateExchangeRecv:
		return "ExchangeRecv"
	case subStateExchangeSend:
		return "ExchangeSend"
	case subStateAcknowledge:
		return "Acknowledge"
	case subStateComplete:
		return "Complete"
	case subStateCompleteAcknowledge:
		return "CompleteAcknowledge"
	case subStateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// needsSend reports whether the TX pump should consider this sub-state a
// send candidate on its current pass (spec 4.4 selection predicate, minus
// the MRP standalone-ack-overdue check which is evaluated separately).
func (s exchangeSubState) needsSend() bool {
	switch s {
	case subStateAcknowledge, subStateExchangeSend, subStateComplete:
		return true
	default:
		return false
	}
}
