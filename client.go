// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memcon

import (
	"fmt"
	"sync"

	"code.hybscloud.com/atomix"
	"go.uber.org/zap"

	"code.hybscloud.com/memcon/internal/channel"
	"code.hybscloud.com/memcon/internal/memory"
	"code.hybscloud.com/memcon/internal/queue"
	"code.hybscloud.com/memcon/internal/wire"
)

// clientConfig is the validated client builder output.
type clientConfig struct {
	contentSize  int
	contentAlign int
	checkSize    bool
	checkAlign   bool
	tech         memory.Technology
}

// clientTarget enumerates the transitions the client machine can
// request. Sub-state changes inside Connecting do not surface through
// the public state or the callback.
type clientTarget uint8

const (
	toAwaitQueueAck clientTarget = iota
	toConnected
	toDisconnectedRemote
	toCorrupted
	toDisconnected
)

type clientRequest struct {
	target clientTarget
	err    error
}

// clientState is one concrete state of the client machine.
type clientState interface {
	onConnectionRequest(msg channel.Message)
	onQueueAck()
	onNotification()
	onShutdown()
	onTermination()
	onError(err error)
}

type clientEvent struct {
	msg channel.Message
	err error
}

type clientCB struct {
	state ClientState
	err   error
}

// Client is the consuming side of the transport. It mirrors the
// server-side receiver machine with the roles reversed: the client
// waits for the connection request, maps the offered regions,
// allocates its own release ring and acks; after the
// initialization-ack leg it pops the data ring in place.
type Client struct {
	mu    sync.Mutex
	group Group
	cfg   clientConfig
	log   *zap.Logger
	mem   *memory.Manager
	ch    channel.SideChannel
	cb    OnClientStateTransition

	state     ClientState
	current   clientState
	pending   *clientRequest
	storedErr error

	slotLayout memory.SlotLayout
	slotRegion *memory.Region
	dataRegion *memory.Region
	consumer   *queue.Consumer
	relRegion  *memory.Region
	producer   *queue.Producer

	outstanding int

	// notify is the coalesced wake-up surface: one buffered token,
	// edges only. Always re-check Receive after waking.
	notify chan struct{}

	events   chan clientEvent
	quit     chan struct{}
	pendCBs  []clientCB
	asyncOps atomix.Int64
}

func newClient(group Group, cfg clientConfig, ch channel.SideChannel, cb OnClientStateTransition, logger *zap.Logger) (*Client, error) {
	c := &Client{
		group:  group,
		cfg:    cfg,
		log:    logger.Named("client").With(zap.Stringer("group", group)),
		mem:    memory.NewManager(cfg.tech, logger),
		ch:     ch,
		cb:     cb,
		state:  ClientConnecting,
		notify: make(chan struct{}, 1),
		events: make(chan clientEvent, 16),
		quit:   make(chan struct{}),
	}
	c.current = &ccAwaitRequest{c: c}
	c.asyncOps.Add(1)
	go c.reactor()
	c.startReader()
	c.log.Info("client up", zap.Stringer("technology", cfg.tech))
	return c, nil
}

// reactor serially applies peer-driven events, mirroring the server.
func (c *Client) reactor() {
	defer c.asyncOps.Add(-1)
	for {
		select {
		case ev := <-c.events:
			c.handleEvent(ev)
		case <-c.quit:
			return
		}
	}
}

func (c *Client) startReader() {
	c.asyncOps.Add(1)
	go func() {
		defer c.asyncOps.Add(-1)
		for {
			msg, err := c.ch.Recv()
			ev := clientEvent{msg: msg, err: err}
			select {
			case c.events <- ev:
			case <-c.quit:
				return
			}
			if err != nil {
				return
			}
		}
	}()
}

func (c *Client) handleEvent(ev clientEvent) {
	c.mu.Lock()
	if ev.err != nil {
		c.dispatch(func(s clientState) { s.onError(ev.err) })
		c.finish()
		return
	}
	switch ev.msg.Frame.Type {
	case wire.ConnectionRequest:
		c.dispatch(func(s clientState) { s.onConnectionRequest(ev.msg) })
	case wire.AckQueueInitialization:
		c.dispatch(func(s clientState) { s.onQueueAck() })
	case wire.Notification:
		c.dispatch(func(s clientState) { s.onNotification() })
	case wire.Shutdown:
		c.dispatch(func(s clientState) { s.onShutdown() })
	case wire.Termination:
		c.dispatch(func(s clientState) { s.onTermination() })
	default:
		c.dispatch(func(s clientState) {
			s.onError(fmt.Errorf("%w: unexpected %v frame", ErrProtocol, ev.msg.Frame.Type))
		})
	}
	c.finish()
}

// dispatch and the request/apply pair implement the same two-phase
// transition protocol as the server-side machine.
func (c *Client) dispatch(f func(clientState)) {
	if c.pending != nil {
		panic("memcon: pending state transition on handler entry")
	}
	f(c.current)
	c.applyPending()
}

func (c *Client) requestTransition(target clientTarget, err error) {
	if c.pending != nil {
		panic("memcon: transition already requested in this handler")
	}
	c.pending = &clientRequest{target: target, err: err}
}

func (c *Client) applyPending() {
	p := c.pending
	if p == nil {
		return
	}
	c.pending = nil
	switch p.target {
	case toAwaitQueueAck:
		c.current = &ccAwaitQueueAck{c: c}
		// Still Connecting; no observable transition.
		return
	case toConnected:
		c.state = ClientConnected
		c.current = &ccConnected{c: c}
		c.log.Info("client connected")
	case toDisconnectedRemote:
		c.state = ClientDisconnectedRemote
		c.current = ccDrain{}
		c.log.Info("server shut down, draining locally")
	case toCorrupted:
		c.state = ClientCorrupted
		c.current = ccTerminal{}
		c.storedErr = p.err
		c.ch.Close()
		c.log.Warn("client corrupted", zap.Error(p.err))
	case toDisconnected:
		c.state = ClientDisconnected
		c.current = ccTerminal{}
		c.ch.Close()
		c.releaseRegions()
		c.log.Info("client disconnected")
	}
	c.pendCBs = append(c.pendCBs, clientCB{state: c.state, err: p.err})
}

func (c *Client) releaseRegions() {
	for _, r := range []**memory.Region{&c.slotRegion, &c.dataRegion, &c.relRegion} {
		if *r != nil {
			(*r).Close()
			*r = nil
		}
	}
}

func (c *Client) finish() {
	cbs := c.pendCBs
	c.pendCBs = nil
	c.mu.Unlock()
	for _, cb := range cbs {
		c.cb(cb.state, cb.err)
	}
}

// pulse delivers one coalesced wake-up token.
func (c *Client) pulse() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Notifications returns the coalesced wake-up surface. A token means
// the server signalled new data while this client was listening; the
// receiver must re-check Receive after waking and must not assume that
// no token means no data.
func (c *Client) Notifications() <-chan struct{} { return c.notify }

// Sample is one received slot: a read-only view plus the guard
// generation observed at receive time. The view stays valid until
// Release; Valid reports whether the server has reclaimed and reused
// the slot under the reader.
type Sample struct {
	c     *Client
	slot  int
	guard uint64
	live  bool
}

// Slot returns the slot index of the sample.
func (s *Sample) Slot() SlotIndex { return SlotIndex(s.slot) }

// Bytes returns the payload view. Treat it as read-only; the region is
// mapped without write permission under the shared-memory technology.
func (s *Sample) Bytes() []byte {
	s.mustLive()
	return s.c.slotLayout.Payload(s.c.slotRegion.Bytes(), s.slot)
}

// Valid re-checks the slot's guard generation against the one observed
// at receive time. A false result means the data read so far must be
// discarded; the slot was reclaimed while it was being read.
func (s *Sample) Valid() bool {
	s.mustLive()
	return s.c.slotLayout.Guard(s.c.slotRegion.Bytes(), s.slot).LoadAcquire() == s.guard
}

func (s *Sample) mustLive() {
	if !s.live {
		panic("memcon: use of released sample")
	}
}

// Receive pops the next slot from the data ring. Returns ErrWouldBlock
// when the ring is empty. Legal while Connected, and while
// DisconnectedRemote to drain slots queued before the server went
// away.
func (c *Client) Receive() (*Sample, error) {
	c.mu.Lock()
	defer c.finish()
	if c.state != ClientConnected && c.state != ClientDisconnectedRemote {
		return nil, fmt.Errorf("%w: client is %v", ErrUnexpectedState, c.state)
	}
	v, err := c.consumer.TryPop()
	if err != nil {
		return nil, err
	}
	slot, _ := queue.UnpackData(v)
	if slot < 0 || slot >= c.slotLayout.NumSlots {
		cause := fmt.Errorf("%w: received slot index %d out of range", ErrProtocol, slot)
		c.requestTransition(toCorrupted, cause)
		c.applyPending()
		return nil, cause
	}
	guard := c.slotLayout.Guard(c.slotRegion.Bytes(), slot).LoadAcquire()
	c.outstanding++
	return &Sample{c: c, slot: slot, guard: guard, live: true}, nil
}

// Release consumes the sample and returns the slot to the server
// through the release ring, echoing the guard generation observed at
// receive time.
func (c *Client) Release(s *Sample) error {
	c.mu.Lock()
	defer c.finish()
	s.mustLive()
	if s.c != c {
		panic("memcon: sample released to a different client")
	}
	if _, err := c.producer.TryPush(queue.PackRelease(s.slot, s.guard)); err != nil {
		// The release ring holds one entry per slot; full means the
		// protocol state is beyond repair.
		return fmt.Errorf("%w: release ring full", ErrProtocol)
	}
	s.live = false
	c.outstanding--
	return nil
}

// StartListening asks the server for wake-ups on new data. Start and
// stop requests must alternate; the server corrupts a receiver that
// sends two starts in a row.
func (c *Client) StartListening() error {
	return c.sendListen(wire.StartListening)
}

// StopListening rescinds wake-ups.
func (c *Client) StopListening() error {
	return c.sendListen(wire.StopListening)
}

func (c *Client) sendListen(t wire.FrameType) error {
	c.mu.Lock()
	defer c.finish()
	if c.state != ClientConnected {
		return fmt.Errorf("%w: client is %v", ErrUnexpectedState, c.state)
	}
	if err := c.ch.Send(channel.Message{Frame: wire.Frame{Type: t}}); err != nil {
		cause := classify(err)
		c.requestTransition(toCorrupted, cause)
		c.applyPending()
		return cause
	}
	return nil
}

// Status returns the client state and, when Corrupted, the stored
// cause.
func (c *Client) Status() (ClientState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.storedErr
}

// Outstanding returns how many received samples have not been
// released yet.
func (c *Client) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outstanding
}

// Shutdown tears the client down: the server is told, reception stops
// and the state becomes Disconnected. Outstanding samples are
// abandoned; the server reclaims them when it learns of the shutdown.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	defer c.finish()
	if c.state == ClientDisconnected {
		return ErrUnexpectedState
	}
	_ = c.ch.Send(channel.Message{Frame: wire.Frame{Type: wire.Shutdown}})
	c.requestTransition(toDisconnected, nil)
	c.applyPending()
	close(c.quit)
	return nil
}

// IsInUse reports whether the client still has asynchronous work in
// flight. Once false, never true again.
func (c *Client) IsInUse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != ClientDisconnected || c.asyncOps.Load() > 0
}

// ccAwaitRequest waits for the server's connection request.
type ccAwaitRequest struct {
	c *Client
}

func (s *ccAwaitRequest) onConnectionRequest(msg channel.Message) {
	c := s.c
	slotCfg, rest, err := wire.DecodeSlotMemoryConfig(msg.Frame.Payload)
	if err != nil {
		c.requestTransition(toCorrupted, fmt.Errorf("%w: %w", ErrProtocol, err))
		return
	}
	queueCfg, rest, err := wire.DecodeQueueMemoryConfig(rest)
	if err != nil || len(rest) != 0 || len(msg.Handles) != 2 {
		c.requestTransition(toCorrupted, fmt.Errorf("%w: malformed ConnectionRequest", ErrProtocol))
		return
	}
	if slotCfg.NumSlots == 0 || slotCfg.ContentSize == 0 ||
		slotCfg.ContentAlignment == 0 || slotCfg.ContentAlignment&(slotCfg.ContentAlignment-1) != 0 {
		c.requestTransition(toCorrupted, fmt.Errorf("%w: degenerate slot geometry offered", ErrProtocol))
		return
	}
	if c.cfg.checkSize && uint64(c.cfg.contentSize) != slotCfg.ContentSize {
		c.requestTransition(toCorrupted, fmt.Errorf("%w: content size %d offered, %d expected",
			ErrConfigMismatch, slotCfg.ContentSize, c.cfg.contentSize))
		return
	}
	if c.cfg.checkAlign && uint64(c.cfg.contentAlign) != slotCfg.ContentAlignment {
		c.requestTransition(toCorrupted, fmt.Errorf("%w: content alignment %d offered, %d expected",
			ErrConfigMismatch, slotCfg.ContentAlignment, c.cfg.contentAlign))
		return
	}

	// Map the offered regions: slots read-only, the data ring
	// read-write (the head cell is ours).
	slotRegion, err := c.mem.MapReadable(msg.Handles[0])
	if err != nil {
		s.rollback(fmt.Errorf("memcon: mapping slot region: %w", err), nil, nil, nil)
		return
	}
	dataRegion, err := c.mem.MapWritable(msg.Handles[1])
	if err != nil {
		s.rollback(fmt.Errorf("memcon: mapping data ring: %w", err), slotRegion, nil, nil)
		return
	}
	consumer, err := queue.BindConsumer(dataRegion.Bytes(), queueCfg)
	if err != nil {
		c.requestTransition(toCorrupted, fmt.Errorf("%w: %w", ErrProtocol, err))
		slotRegion.Close()
		dataRegion.Close()
		return
	}

	// Allocate the release ring and offer it back.
	relLayout := queue.LayoutFor(int(slotCfg.NumSlots))
	relRegion, relHandle, err := c.mem.AllocateWritable(relLayout.TotalSize, 64)
	if err != nil {
		s.rollback(fmt.Errorf("memcon: allocating release ring: %w", err), slotRegion, dataRegion, nil)
		return
	}
	producer, err := queue.BindProducer(relRegion.Bytes(), relLayout.Config)
	if err != nil {
		s.rollback(err, slotRegion, dataRegion, relRegion)
		return
	}
	ack := channel.Message{
		Frame: wire.Frame{
			Type:    wire.AckConnection,
			Payload: relLayout.Config.AppendBinary(nil),
		},
		Handles: []memory.ExchangeHandle{relHandle},
	}
	if err := c.ch.Send(ack); err != nil {
		s.rollback(classify(err), slotRegion, dataRegion, relRegion)
		return
	}

	c.slotLayout = memory.SlotLayoutFor(int(slotCfg.NumSlots), int(slotCfg.ContentSize), int(slotCfg.ContentAlignment))
	c.slotRegion, c.dataRegion, c.consumer = slotRegion, dataRegion, consumer
	c.relRegion, c.producer = relRegion, producer
	c.requestTransition(toAwaitQueueAck, nil)
	c.log.Debug("connection acked",
		zap.Uint64("slots", slotCfg.NumSlots),
		zap.Uint64("content_size", slotCfg.ContentSize))
}

// rollback releases partial handshake state and reports Disconnected
// rather than leaking it.
func (s *ccAwaitRequest) rollback(cause error, regions ...*memory.Region) {
	for _, r := range regions {
		if r != nil {
			r.Close()
		}
	}
	s.c.requestTransition(toDisconnected, cause)
}

func (s *ccAwaitRequest) onQueueAck() {
	s.c.requestTransition(toCorrupted, fmt.Errorf("%w: queue ack before connection request", ErrProtocol))
}

func (s *ccAwaitRequest) onNotification() {
	s.c.requestTransition(toCorrupted, fmt.Errorf("%w: notification before connection request", ErrProtocol))
}

func (s *ccAwaitRequest) onShutdown() {
	s.c.requestTransition(toDisconnected, nil)
}

func (s *ccAwaitRequest) onTermination() {
	s.c.requestTransition(toDisconnected, nil)
}

func (s *ccAwaitRequest) onError(err error) {
	s.c.requestTransition(toCorrupted, classify(err))
}

// ccAwaitQueueAck waits for the server to confirm it mapped the
// release ring.
type ccAwaitQueueAck struct {
	c *Client
}

func (s *ccAwaitQueueAck) onConnectionRequest(channel.Message) {
	s.c.requestTransition(toCorrupted, fmt.Errorf("%w: repeated connection request", ErrProtocol))
}

func (s *ccAwaitQueueAck) onQueueAck() {
	s.c.requestTransition(toConnected, nil)
}

func (s *ccAwaitQueueAck) onNotification() {
	s.c.requestTransition(toCorrupted, fmt.Errorf("%w: notification before connected", ErrProtocol))
}

func (s *ccAwaitQueueAck) onShutdown() {
	s.c.requestTransition(toDisconnected, nil)
}

func (s *ccAwaitQueueAck) onTermination() {
	s.c.requestTransition(toDisconnected, nil)
}

func (s *ccAwaitQueueAck) onError(err error) {
	s.c.requestTransition(toCorrupted, classify(err))
}

// ccConnected is the steady state: data arrives on the ring,
// notifications pulse the wake-up surface.
type ccConnected struct {
	c *Client
}

func (s *ccConnected) onConnectionRequest(channel.Message) {
	s.c.requestTransition(toCorrupted, fmt.Errorf("%w: connection request while connected", ErrProtocol))
}

func (s *ccConnected) onQueueAck() {
	s.c.requestTransition(toCorrupted, fmt.Errorf("%w: repeated queue ack", ErrProtocol))
}

func (s *ccConnected) onNotification() { s.c.pulse() }

func (s *ccConnected) onShutdown() {
	s.c.requestTransition(toDisconnectedRemote, nil)
}

func (s *ccConnected) onTermination() {
	s.c.requestTransition(toDisconnected, nil)
}

func (s *ccConnected) onError(err error) {
	s.c.requestTransition(toCorrupted, classify(err))
}

// ccDrain is DisconnectedRemote: the server is gone, local reads keep
// working, channel traffic no longer matters.
type ccDrain struct{}

func (ccDrain) onConnectionRequest(channel.Message) {}
func (ccDrain) onQueueAck()                         {}
func (ccDrain) onNotification()                     {}
func (ccDrain) onShutdown()                         {}
func (ccDrain) onTermination()                      {}
func (ccDrain) onError(error)                       {}

// ccTerminal serves Corrupted and Disconnected: every event ignored.
type ccTerminal struct{}

func (ccTerminal) onConnectionRequest(channel.Message) {}
func (ccTerminal) onQueueAck()                         {}
func (ccTerminal) onNotification()                     {}
func (ccTerminal) onShutdown()                         {}
func (ccTerminal) onTermination()                      {}
func (ccTerminal) onError(error)                       {}
