package exchange

import "github.com/backkem/matter/pkg/message"

// PacketBuffers is a process-lifetime arena of fixed-size byte blocks: one
// TX block and one RX block per exchange slot, plus one reserved block for
// the RX multiplexer's own ephemeral replies (Busy, CloseSession,
// standalone acks for packets with no backing exchange).
//
// Blocks are handed out once, at construction, as N disjoint BufferHandles
// (split-borrow): slot i's TX/RX buffers are only ever touched by worker i,
// and the reserved ephemeral block only by the manager's ephemeral send
// path (itself serialized by ephemeralMu). A live send still allocates
// transiently in the crypto/TLV encode step it calls into, but the bytes it
// produces are copied into one of these fixed blocks before going out the
// socket or being retained for retransmission, so no per-exchange send
// state is pinned on the heap for the life of the exchange.
type PacketBuffers struct {
	tx        [][]byte
	rx        [][]byte
	ephemeral []byte
}

// BufferHandle is one slot's disjoint view into the PacketBuffers arena.
type BufferHandle struct {
	Index int
	TX    []byte
	RX    []byte
}

// NewPacketBuffers allocates the arena for n exchange slots plus the single
// reserved ephemeral block.
func NewPacketBuffers(n int) *PacketBuffers {
	b := &PacketBuffers{
		tx:        make([][]byte, n),
		rx:        make([][]byte, n),
		ephemeral: make([]byte, message.MaxUDPMessageSize),
	}
	for i := 0; i < n; i++ {
		b.tx[i] = make([]byte, message.MaxUDPMessageSize)
		b.rx[i] = make([]byte, message.MaxUDPMessageSize)
	}
	return b
}

// Handles returns the n disjoint per-slot handles plus the reserved
// ephemeral buffer for the manager's out-of-band send path.
func (b *PacketBuffers) Handles() ([]BufferHandle, []byte) {
	n := len(b.tx)
	handles := make([]BufferHandle, n)
	for i := 0; i < n; i++ {
		handles[i] = BufferHandle{Index: i, TX: b.tx[i], RX: b.rx[i]}
	}
	return handles, b.ephemeral
}
