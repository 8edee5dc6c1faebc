package exchange

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/matter/pkg/fabric"
	imsg "github.com/backkem/matter/pkg/im/message"
	"github.com/backkem/matter/pkg/message"
	"github.com/backkem/matter/pkg/securechannel"
	"github.com/backkem/matter/pkg/session"
	"github.com/backkem/matter/pkg/tlv"
	"github.com/backkem/matter/pkg/transport"
)

// ProtocolHandler handles messages for a specific protocol.
// Register handlers with Manager.RegisterProtocol().
type ProtocolHandler interface {
	// OnMessage handles a message on an existing exchange.
	// Returns response payload (if any) and error.
	OnMessage(ctx *ExchangeContext, opcode uint8, payload []byte) ([]byte, error)

	// OnUnsolicited handles a new unsolicited message (first message creating an exchange).
	// Returns response payload (if any) and error.
	OnUnsolicited(ctx *ExchangeContext, opcode uint8, payload []byte) ([]byte, error)
}

// ManagerConfig configures the exchange Manager.
type ManagerConfig struct {
	// SessionManager manages session contexts.
	SessionManager *session.Manager

	// TransportManager handles network I/O.
	TransportManager *transport.Manager

	// MaxExchanges bounds the number of simultaneous exchange slots, TX/RX
	// buffers, and handler pool workers.
	// Default: DefaultMaxExchanges (16).
	MaxExchanges int

	// LoggerFactory creates the manager's structured logger.
	// Default: logging.NewDefaultLoggerFactory().
	LoggerFactory logging.LoggerFactory
}

// exchangeCtr carries a freshly constructed responder ExchangeContext and its
// first inbound payload to a handler pool worker. pickedUp is closed once the
// worker has copied frame.Payload into its own buffer, unblocking the RX
// multiplexer (the construction-notification backpressure of spec 4.2/4.9).
type exchangeCtr struct {
	ctx      *ExchangeContext
	handler  ProtocolHandler
	opcode   uint8
	payload  []byte
	pickedUp chan struct{}
}

// Manager coordinates message exchanges and MRP.
// It routes messages between transport/session layers and protocol handlers,
// owns a bounded arena of per-exchange packet buffers, and drives both the
// unsolicited-message handler pool and the MRP retransmit/ack TX pump.
type Manager struct {
	config ManagerConfig
	log    logging.LeveledLogger

	maxExchanges int
	buffers      *PacketBuffers
	handles      []BufferHandle
	ephemeralBuf []byte
	freeBuf      []int

	mu        sync.RWMutex
	exchanges map[exchangeKey]*ExchangeContext
	handlers  map[message.ProtocolID]ProtocolHandler

	// nextExchangeID is the next exchange ID to allocate (for initiator).
	// Per Spec 4.10.2: First is random, subsequent increment by 1.
	nextExchangeID uint16

	// ctorCh hands a freshly constructed responder exchange to the handler
	// pool. Depth 1: the RX multiplexer blocks on send until a worker is
	// free, which is the construction-notification backpressure point.
	ctorCh chan *exchangeCtr

	// ephemeralMu serializes the out-of-band single-in-flight sends (Busy,
	// session-eviction CloseSession, standalone acks for unmatched packets)
	// so their relative wire ordering matches the order they were decided in.
	ephemeralMu sync.Mutex

	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	closed    bool
}

// NewManager creates a new exchange manager.
func NewManager(config ManagerConfig) *Manager {
	if config.MaxExchanges <= 0 {
		config.MaxExchanges = DefaultMaxExchanges
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	buffers := NewPacketBuffers(config.MaxExchanges)
	handles, ephemeralBuf := buffers.Handles()

	freeBuf := make([]int, config.MaxExchanges)
	for i := range freeBuf {
		freeBuf[i] = config.MaxExchanges - 1 - i
	}

	m := &Manager{
		config:       config,
		log:          config.LoggerFactory.NewLogger("exchange"),
		maxExchanges: config.MaxExchanges,
		buffers:      buffers,
		handles:      handles,
		ephemeralBuf: ephemeralBuf,
		freeBuf:      freeBuf,
		exchanges:    make(map[exchangeKey]*ExchangeContext),
		handlers:     make(map[message.ProtocolID]ProtocolHandler),
		ctorCh:       make(chan *exchangeCtr, 1),
	}

	// Initialize with random exchange ID
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err == nil {
		m.nextExchangeID = binary.LittleEndian.Uint16(buf[:])
	}

	return m
}

// RegisterProtocol registers a handler for a protocol ID.
func (m *Manager) RegisterProtocol(protocolID message.ProtocolID, handler ProtocolHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[protocolID] = handler
}

// allocateSlot reserves one of the bounded PacketBuffers slots for a new
// exchange. Returns ErrNoSpaceExchanges if the table is full.
func (m *Manager) allocateSlot() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.freeBuf) == 0 {
		return 0, ErrNoSpaceExchanges
	}
	idx := m.freeBuf[len(m.freeBuf)-1]
	m.freeBuf = m.freeBuf[:len(m.freeBuf)-1]
	return idx, nil
}

func (m *Manager) releaseSlot(idx int) {
	if idx < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freeBuf = append(m.freeBuf, idx)
}

// NewExchange creates a new exchange as initiator.
// Returns a new ExchangeContext ready for sending the first message, or
// ErrNoSpaceExchanges if the bounded exchange table is full.
func (m *Manager) NewExchange(
	sess SessionContext,
	localSessionID uint16,
	peerAddress transport.PeerAddress,
	protocolID message.ProtocolID,
	delegate ExchangeDelegate,
) (*ExchangeContext, error) {
	bufIdx, err := m.allocateSlot()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	exchangeID := m.nextExchangeID
	m.nextExchangeID++

	key := exchangeKey{
		localSessionID: localSessionID,
		exchangeID:     exchangeID,
		role:           ExchangeRoleInitiator,
	}

	if _, exists := m.exchanges[key]; exists {
		m.mu.Unlock()
		m.releaseSlot(bufIdx)
		return nil, ErrExchangeExists
	}

	ctx := NewExchangeContext(ExchangeContextConfig{
		ID:             exchangeID,
		Role:           ExchangeRoleInitiator,
		ProtocolID:     protocolID,
		LocalSessionID: localSessionID,
		Session:        sess,
		PeerAddress:    peerAddress,
		Delegate:       delegate,
		Manager:        m,
		BufIdx:         bufIdx,
	})

	m.exchanges[key] = ctx
	m.mu.Unlock()
	return ctx, nil
}

// OnMessageReceived processes an incoming message from transport.
// This is the main entry point for the receive path (pushed to by the
// transport layer's single RX task).
//
// Flow:
//  1. Parse message header, look up session, decrypt if secure
//     (duplicate detection happens here, inside Decrypt/CheckCounter)
//  2. Process MRP flags (A flag: handle ACK, R flag: schedule ACK)
//  3. Match to existing exchange or hand off construction of a new one
//  4. Dispatch to protocol handler
func (m *Manager) OnMessageReceived(msg *transport.ReceivedMessage) error {
	var header message.MessageHeader
	if _, err := header.Decode(msg.Data); err != nil {
		return ErrInvalidMessage
	}

	var sess SessionContext
	var frame *message.Frame
	var err error

	if header.SessionID == 0 {
		// Unsecured session (handshake phase). Per Spec 4.13.2.1, Source must
		// be present so we can route by ephemeral node ID.
		frame, err = message.DecodeUnsecured(msg.Data)
		if err != nil {
			return ErrInvalidMessage
		}
		if !header.SourcePresent {
			return ErrInvalidMessage
		}

		sourceNodeID := fabric.NodeID(header.SourceNodeID)
		unsecuredCtx, err := m.config.SessionManager.FindOrCreateUnsecuredContext(sourceNodeID)
		if err != nil {
			return err
		}
		if !unsecuredCtx.CheckCounter(header.MessageCounter) {
			return ErrDuplicateMessage
		}
		sess = unsecuredCtx
	} else {
		secureCtx := m.config.SessionManager.FindSecureContext(header.SessionID)
		if secureCtx == nil {
			return ErrSessionNotFound
		}
		sess = secureCtx

		frame, err = secureCtx.Decrypt(msg.Data)
		if err != nil {
			return err
		}
	}

	return m.processFrame(frame, msg.PeerAddr, sess)
}

// processFrame handles a decoded frame.
func (m *Manager) processFrame(frame *message.Frame, peerAddr transport.PeerAddress, sess SessionContext) error {
	proto := &frame.Protocol

	// Determine our role: if I flag set, sender is initiator, we are responder
	var ourRole ExchangeRole
	if proto.Initiator {
		ourRole = ExchangeRoleResponder
	} else {
		ourRole = ExchangeRoleInitiator
	}

	localSessionID := frame.Header.SessionID

	key := exchangeKey{
		localSessionID: localSessionID,
		exchangeID:     proto.ExchangeID,
		role:           ourRole,
	}

	m.mu.RLock()
	ctx, exists := m.exchanges[key]
	m.mu.RUnlock()

	// Open question: an ack-flagged packet for an exchange we don't (or no
	// longer) know about is logged and dropped; it never creates state.
	if proto.Acknowledgement {
		if exists {
			ctx.onRetransmitComplete()
		} else {
			m.log.Warnf("exchange: ack for unknown exchange %d, dropping", proto.ExchangeID)
		}
	}

	// A standalone ack carries no payload and no further work once applied.
	if proto.Acknowledgement && !proto.Reliability && len(frame.Payload) == 0 {
		return nil
	}

	if !exists {
		return m.handleUnsolicited(frame, peerAddr, sess, key)
	}

	// Open question: a data packet can legitimately arrive while the
	// exchange's own reliable send is still in flight (ExchangeSend/
	// Complete/Acknowledge) -- this is a normal race, not an error. We accept
	// it, dispatch it immediately, and leave mrp's outbound retransmit state
	// untouched so the TX pump keeps draining it.
	if proto.Reliability {
		ctx.SetPendingAck(frame.Header.MessageCounter)
	}

	response, err := ctx.handleMessage(proto, frame.Payload)
	if err != nil {
		return err
	}

	if response != nil {
		reliable := peerAddr.TransportType == transport.TransportTypeUDP
		return ctx.SendMessage(proto.ProtocolOpcode, response, reliable)
	}

	return nil
}

// handleUnsolicited processes a message that doesn't match an existing
// exchange. Per Spec 4.10.5.2:
//  1. If I flag set and a protocol handler is registered, construct a new
//     responder exchange and hand it to the worker pool.
//  2. If R flag set, send a standalone ack for the unmatched packet.
//  3. Otherwise, drop.
func (m *Manager) handleUnsolicited(
	frame *message.Frame,
	peerAddr transport.PeerAddress,
	sess SessionContext,
	key exchangeKey,
) error {
	proto := frame.Protocol

	if !proto.Initiator {
		if proto.Reliability {
			m.sendStandaloneAckForUnsolicited(frame, peerAddr, sess)
		}
		return ErrNoExchange
	}

	m.mu.RLock()
	handler, hasHandler := m.handlers[proto.ProtocolID]
	m.mu.RUnlock()

	if !hasHandler {
		if proto.Reliability {
			m.sendStandaloneAckForUnsolicited(frame, peerAddr, sess)
		}
		return ErrNoHandler
	}

	bufIdx, err := m.allocateSlot()
	if err != nil {
		// Bounded table full: Busy status to the peer, inbound packet dropped.
		m.sendBusy(frame, peerAddr, sess)
		return ErrNoSpaceExchanges
	}

	localSessionID := frame.Header.SessionID
	ctx := NewExchangeContext(ExchangeContextConfig{
		ID:             proto.ExchangeID,
		Role:           ExchangeRoleResponder,
		ProtocolID:     proto.ProtocolID,
		LocalSessionID: localSessionID,
		Session:        sess,
		PeerAddress:    peerAddr,
		Manager:        m,
		BufIdx:         bufIdx,
	})
	ctx.sub = subStateConstruction

	m.mu.Lock()
	m.exchanges[key] = ctx
	m.mu.Unlock()

	if proto.Reliability {
		ctx.SetPendingAck(frame.Header.MessageCounter)
	}

	// Copy the payload: frame.Payload aliases the transport's RX buffer,
	// which the caller reuses as soon as OnMessageReceived returns.
	bufHandle := m.handles[bufIdx]
	n := copy(bufHandle.RX, frame.Payload)
	payload := bufHandle.RX[:n]

	ctr := &exchangeCtr{
		ctx:      ctx,
		handler:  handler,
		opcode:   proto.ProtocolOpcode,
		payload:  payload,
		pickedUp: make(chan struct{}),
	}

	// Hand off to the worker pool. This is the one place real backpressure
	// matters: the RX task blocks here until a worker is free, exactly as
	// long as it takes the worker to copy the payload out (see pool.go).
	m.ctorCh <- ctr
	<-ctr.pickedUp
	ctx.mu.Lock()
	ctx.sub = subStateActive
	ctx.mu.Unlock()

	return nil
}

// sendMessage piggybacks a pending ack if one is owed, then sends.
func (m *Manager) sendMessage(ctx *ExchangeContext, proto *message.ProtocolHeader, payload []byte) error {
	if ackCounter, hasAck := ctx.GetPendingAck(); hasAck && !proto.Acknowledgement {
		proto.Acknowledgement = true
		proto.AckedMessageCounter = ackCounter
		ctx.ClearPendingAck()
	}

	return m.sendMessageInternal(ctx, proto, payload)
}

// sendMessageInternal performs the actual send and, for reliable messages,
// arms MRP retransmit tracking on the exchange.
func (m *Manager) sendMessageInternal(ctx *ExchangeContext, proto *message.ProtocolHeader, payload []byte) error {
	sess := ctx.Session()
	if sess == nil {
		return ErrSessionNotFound
	}

	secureSession, isSecure := sess.(SecureSessionContext)
	if !isSecure {
		return m.sendUnsecuredMessage(ctx, sess, proto, payload)
	}

	header := &message.MessageHeader{
		SessionID: secureSession.PeerSessionID(),
	}

	encoded, err := secureSession.Encrypt(header, proto, payload, false)
	if err != nil {
		return err
	}
	encoded = m.ownedTXBuf(ctx, encoded)

	if proto.Reliability {
		m.armRetransmit(ctx, sess, secureSession, header.MessageCounter, encoded)
	}

	peerAddr := ctx.PeerAddress()
	return m.config.TransportManager.Send(encoded, peerAddr)
}

// ownedTXBuf copies encoded wire bytes into the exchange's own fixed TX
// block and returns that slice in place of the freshly-allocated one
// returned by Encrypt/EncodeUnsecured. A message armed for retransmission is
// then retained out of the arena rather than pinning a separate heap
// allocation for as long as it stays in flight. Falls back to the original
// slice if it doesn't fit the fixed block (it never should, since both are
// bounded by message.MaxUDPMessageSize).
func (m *Manager) ownedTXBuf(ctx *ExchangeContext, encoded []byte) []byte {
	tx := m.handles[ctx.bufIdx].TX
	if len(encoded) > len(tx) {
		return encoded
	}
	n := copy(tx, encoded)
	return tx[:n]
}

// sendUnsecuredMessage sends a message on an unsecured session.
// Unsecured sessions are used during PASE/CASE handshake before encryption is established.
// Per Spec 4.13.2.1: Session ID = 0 and Session Type = Unicast (0).
func (m *Manager) sendUnsecuredMessage(ctx *ExchangeContext, sess SessionContext, proto *message.ProtocolHeader, payload []byte) error {
	unsecuredCtx, ok := sess.(*session.UnsecuredContext)
	if !ok {
		return ErrSessionNotFound
	}

	counter, err := m.config.SessionManager.NextGlobalCounter()
	if err != nil {
		return err
	}

	header := &message.MessageHeader{
		SessionID:      0,
		SessionType:    message.SessionTypeUnicast,
		MessageCounter: counter,
		SourceNodeID:   uint64(unsecuredCtx.EphemeralNodeID()),
		SourcePresent:  true,
	}

	frame := &message.Frame{
		Header:   *header,
		Protocol: *proto,
		Payload:  payload,
	}
	encoded := m.ownedTXBuf(ctx, frame.EncodeUnsecured())

	if proto.Reliability {
		m.armRetransmit(ctx, sess, nil, counter, encoded)
	}

	peerAddr := ctx.PeerAddress()
	return m.config.TransportManager.Send(encoded, peerAddr)
}

// armRetransmit records a just-sent reliable message on the exchange's MRP
// state so the TX pump can retransmit it on schedule.
func (m *Manager) armRetransmit(ctx *ExchangeContext, sess SessionContext, secureSession SecureSessionContext, counter uint32, encoded []byte) {
	peerAddr := ctx.PeerAddress()
	params := sess.GetParams()

	baseInterval := params.IdleInterval
	if secureSession != nil && secureSession.IsPeerActive() {
		baseInterval = params.ActiveInterval
	}

	ctx.mu.Lock()
	ctx.mrp.armRetransmit(encoded, peerAddr, baseInterval, time.Now())
	ctx.mu.Unlock()
}

// flushPendingAck sends any pending ack for an exchange, used by Close.
func (m *Manager) flushPendingAck(ctx *ExchangeContext) {
	if counter, hasAck := ctx.GetPendingAck(); hasAck {
		m.sendStandaloneAck(ctx, counter)
	}
}

// sendStandaloneAck sends a standalone ack message for an exchange we know.
func (m *Manager) sendStandaloneAck(ctx *ExchangeContext, ackedCounter uint32) {
	proto := &message.ProtocolHeader{
		ProtocolID:          message.ProtocolSecureChannel,
		ProtocolOpcode:      uint8(securechannel.OpcodeStandaloneAck),
		ExchangeID:          ctx.ID,
		Initiator:           ctx.Role == ExchangeRoleInitiator,
		Acknowledgement:     true,
		Reliability:         false,
		AckedMessageCounter: ackedCounter,
	}

	ctx.ClearPendingAck()
	_ = m.sendMessageInternal(ctx, proto, nil)
}

// sendStandaloneAckForUnsolicited sends an ack for a reliable packet that
// doesn't match any exchange and didn't create one (no handler, or not from
// an initiator). This goes out through the ephemeral path since there is no
// ExchangeContext to hang it off of.
func (m *Manager) sendStandaloneAckForUnsolicited(
	frame *message.Frame,
	peerAddr transport.PeerAddress,
	sess SessionContext,
) {
	var ourRole ExchangeRole
	if frame.Protocol.Initiator {
		ourRole = ExchangeRoleResponder
	} else {
		ourRole = ExchangeRoleInitiator
	}

	proto := &message.ProtocolHeader{
		ProtocolID:          message.ProtocolSecureChannel,
		ProtocolOpcode:      uint8(securechannel.OpcodeStandaloneAck),
		ExchangeID:          frame.Protocol.ExchangeID,
		Initiator:           ourRole == ExchangeRoleInitiator,
		Acknowledgement:     true,
		Reliability:         false,
		AckedMessageCounter: frame.Header.MessageCounter,
	}

	m.sendEphemeral(sess, peerAddr, proto, nil)
}

// sendBusy responds to an initiator packet that would have opened a new
// exchange, but the bounded exchange table has no free slot. Per spec.md
// §4.6 the busy status is addressed by the overflowing packet's own
// protocol: a Secure Channel StatusReport for Secure Channel traffic, an
// Interaction Model StatusResponse for IM traffic.
func (m *Manager) sendBusy(frame *message.Frame, peerAddr transport.PeerAddress, sess SessionContext) {
	var opcode uint8
	var payload []byte

	if frame.Protocol.ProtocolID == message.ProtocolInteractionModel {
		opcode = uint8(imsg.OpcodeStatusResponse)
		payload = encodeIMBusyStatus()
	} else {
		opcode = uint8(securechannel.OpcodeStatusReport)
		payload = securechannel.Busy(0).Encode()
	}

	proto := &message.ProtocolHeader{
		ProtocolID:     frame.Protocol.ProtocolID,
		ProtocolOpcode: opcode,
		ExchangeID:     frame.Protocol.ExchangeID,
		Initiator:      false,
	}
	m.sendEphemeral(sess, peerAddr, proto, payload)
}

// encodeIMBusyStatus builds an Interaction Model StatusResponse carrying
// StatusBusy, TLV-encoded the same way pkg/im's own handlers do.
func encodeIMBusyStatus() []byte {
	msg := imsg.StatusResponseMessage{Status: imsg.StatusBusy}
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := msg.Encode(w); err != nil {
		return nil
	}
	return buf.Bytes()
}

// sendEphemeral sends a one-off message with no backing ExchangeContext,
// over the manager's reserved ephemeral buffer. The mutex serializes these
// against each other so their relative wire ordering (e.g. a session's
// CloseSession before any reply carried by its replacement) is preserved --
// Go's synchronous call ordering does the rest.
func (m *Manager) sendEphemeral(sess SessionContext, peerAddr transport.PeerAddress, proto *message.ProtocolHeader, payload []byte) {
	m.ephemeralMu.Lock()
	defer m.ephemeralMu.Unlock()

	secureSession, isSecure := sess.(SecureSessionContext)
	if !isSecure {
		m.log.Warnf("exchange: cannot send ephemeral message on unsecured session")
		return
	}

	header := &message.MessageHeader{SessionID: secureSession.PeerSessionID()}
	encoded, err := secureSession.Encrypt(header, proto, payload, false)
	if err != nil {
		m.log.Warnf("exchange: ephemeral encrypt failed: %v", err)
		return
	}
	// ephemeralMu already serializes callers, so reusing the single reserved
	// ephemeral block here is safe -- only one ephemeral send is ever in
	// flight at a time.
	if len(encoded) <= len(m.ephemeralBuf) {
		n := copy(m.ephemeralBuf, encoded)
		encoded = m.ephemeralBuf[:n]
	}
	if err := m.config.TransportManager.Send(encoded, peerAddr); err != nil {
		m.log.Warnf("exchange: ephemeral send failed: %v", err)
	}
}

// EvictSession sends CloseSession to the least-recently-active secure
// session and removes it, making room in the session table for a new one.
// The peer address is recovered from any exchange still bound to the
// session; if none is found the eviction proceeds silently (the peer will
// simply time out waiting for a reply on the closed session). Returns false
// if there was no session to evict.
//
// This is the NoSpaceSessions policy of spec.md §4.2/§4.6: wired as
// securechannel.ManagerConfig.EvictSession so a handshake completing against
// a full session table evicts and retries instead of failing outright.
func (m *Manager) EvictSession() bool {
	victim := m.config.SessionManager.EvictionCandidate()
	if victim == nil {
		return false
	}

	localID := victim.LocalSessionID()

	m.mu.RLock()
	var peerAddr transport.PeerAddress
	found := false
	for k, ctx := range m.exchanges {
		if k.localSessionID == localID {
			peerAddr = ctx.PeerAddress()
			found = true
			break
		}
	}
	m.mu.RUnlock()

	if found {
		proto := &message.ProtocolHeader{
			ProtocolID:     message.ProtocolSecureChannel,
			ProtocolOpcode: uint8(securechannel.OpcodeStatusReport),
			Initiator:      false,
		}
		m.sendEphemeral(victim, peerAddr, proto, securechannel.CloseSession().Encode())
	} else {
		m.log.Warnf("exchange: evicting session %d with no known peer address", localID)
	}

	m.config.SessionManager.RemoveSecureContext(localID)
	return true
}

// removeExchange removes an exchange from the manager and releases its
// buffer slot.
func (m *Manager) removeExchange(ctx *ExchangeContext) {
	key := ctx.GetKey()

	m.mu.Lock()
	delete(m.exchanges, key)
	m.mu.Unlock()

	m.releaseSlot(ctx.bufIdx)

	if delegate := ctx.GetDelegate(); delegate != nil {
		delegate.OnClose(ctx)
	}
}

// GetExchange returns an exchange by key, if it exists.
func (m *Manager) GetExchange(localSessionID, exchangeID uint16, role ExchangeRole) (*ExchangeContext, bool) {
	key := exchangeKey{
		localSessionID: localSessionID,
		exchangeID:     exchangeID,
		role:           role,
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ctx, exists := m.exchanges[key]
	return ctx, exists
}

// ExchangeCount returns the number of active exchanges.
func (m *Manager) ExchangeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.exchanges)
}

// ResetTransport drops all exchange and MRP state without notifying peers.
// Used when the underlying transport is recreated (e.g. after a network
// interface change) and in-flight state can no longer be meaningfully
// delivered or retransmitted.
func (m *Manager) ResetTransport() {
	m.mu.Lock()
	exchanges := make([]*ExchangeContext, 0, len(m.exchanges))
	for _, ctx := range m.exchanges {
		exchanges = append(exchanges, ctx)
	}
	m.exchanges = make(map[exchangeKey]*ExchangeContext)
	m.mu.Unlock()

	for _, ctx := range exchanges {
		m.releaseSlot(ctx.bufIdx)
	}
}

// Run starts the handler pool workers and the MRP TX pump. It blocks until
// ctx is cancelled, then stops both and returns. Composing these with the
// transport layer's own RX task is the caller's job (see pkg/matter.Node).
func (m *Manager) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.runCancel = cancel

	workers := m.maxExchanges
	m.runWG.Add(workers + 1)
	for i := 0; i < workers; i++ {
		go func() {
			defer m.runWG.Done()
			m.poolWorker(runCtx)
		}()
	}
	go func() {
		defer m.runWG.Done()
		m.txPump(runCtx)
	}()

	<-runCtx.Done()
	m.runWG.Wait()
	return nil
}

// Close shuts down the manager: stops Run's goroutines (if started) and
// closes all exchanges.
func (m *Manager) Close() {
	if m.runCancel != nil {
		m.runCancel()
		m.runWG.Wait()
	}

	m.mu.Lock()
	exchanges := make([]*ExchangeContext, 0, len(m.exchanges))
	for _, ctx := range m.exchanges {
		exchanges = append(exchanges, ctx)
	}
	m.closed = true
	m.mu.Unlock()

	for _, ctx := range exchanges {
		ctx.Close()
	}
}
