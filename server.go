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
	"code.hybscloud.com/memcon/internal/logic"
	"code.hybscloud.com/memcon/internal/memory"
	"code.hybscloud.com/memcon/internal/wire"
)

// DroppedInfo reports the classes a send could not deliver to because
// their in-flight ceiling was reached, counting the class counters at
// entry plus the borrows the same send already added for earlier
// members of the class. Classes appear once each, ordered by the first
// receiver that hit the ceiling.
type DroppedInfo struct {
	Classes []ClassHandle
}

// ReceiverStatus is the observable state of one receiver: the
// connection state, the stored cause when Corrupted, and whether the
// receiver's listen window is currently open.
type ReceiverStatus struct {
	State     ReceiverState
	Err       error
	Listening bool
}

// serverConfig is the validated builder output.
type serverConfig struct {
	numSlots     int
	contentSize  int
	contentAlign int
	maxReceivers int
	classLimits  []uint32
	tech         memory.Technology
}

// receiverEvent is one reactor work item: a frame or a terminal
// channel error for a specific receiver incarnation.
type receiverEvent struct {
	r   *remoteReceiver
	msg channel.Message
	err error
}

// pendingCallback is a state transition recorded inside the critical
// section and delivered after the mutex is released.
type pendingCallback struct {
	id    ReceiverID
	state ReceiverState
	err   error
}

// Server is the producing side of the transport. One mutex serializes
// every public operation and every reactor event; the state transition
// callback runs after the mutex is released.
type Server struct {
	mu    sync.Mutex
	group Group
	cfg   serverConfig
	log   *zap.Logger
	mem   *memory.Manager

	slotRegion *memory.Region
	slotHandle memory.ExchangeHandle
	slotLayout memory.SlotLayout

	engine  *logic.Server
	dropped logic.DroppedInfo

	receivers []*remoteReceiver
	nextSeq   uint64

	cb      OnReceiverStateTransition
	pending []pendingCallback

	events chan receiverEvent
	quit   chan struct{}
	down   bool

	// asyncOps counts the reactor plus every live channel reader.
	asyncOps atomix.Int64
}

func newServer(group Group, cfg serverConfig, cb OnReceiverStateTransition, logger *zap.Logger) (*Server, error) {
	mem := memory.NewManager(cfg.tech, logger)
	layout := memory.SlotLayoutFor(cfg.numSlots, cfg.contentSize, cfg.contentAlign)
	align := cfg.contentAlign
	if align < 64 {
		align = 64
	}
	region, handle, err := mem.AllocateWritable(layout.TotalSize, align)
	if err != nil {
		return nil, fmt.Errorf("memcon: allocating slot region: %w", err)
	}

	s := &Server{
		group:      group,
		cfg:        cfg,
		log:        logger.Named("server").With(zap.Stringer("group", group)),
		mem:        mem,
		slotRegion: region,
		slotHandle: handle,
		slotLayout: layout,
		receivers:  make([]*remoteReceiver, cfg.maxReceivers),
		cb:         cb,
		events:     make(chan receiverEvent, 16),
		quit:       make(chan struct{}),
	}
	s.engine = logic.NewServer(
		logic.NewSlots(region.Bytes(), layout),
		logic.NewClasses(cfg.classLimits),
		cfg.maxReceivers,
		logger,
	)
	s.asyncOps.Add(1)
	go s.reactor()
	s.log.Info("server up",
		zap.Int("slots", cfg.numSlots),
		zap.Int("max_receivers", cfg.maxReceivers),
		zap.Stringer("technology", cfg.tech))
	return s, nil
}

func (s *Server) slotConfig() wire.SlotMemoryConfig {
	return wire.SlotMemoryConfig{
		NumSlots:         uint64(s.cfg.numSlots),
		ContentSize:      uint64(s.cfg.contentSize),
		ContentAlignment: uint64(s.cfg.contentAlign),
	}
}

// reactor serially applies peer-driven events. Reactor context is the
// only place side-channel frames touch the state machines.
func (s *Server) reactor() {
	defer s.asyncOps.Add(-1)
	for {
		select {
		case ev := <-s.events:
			s.handleEvent(ev)
		case <-s.quit:
			return
		}
	}
}

func (s *Server) handleEvent(ev receiverEvent) {
	s.mu.Lock()
	// The receiver may have been replaced or removed while the event
	// was queued; a stale incarnation is dropped silently.
	if cur := s.receivers[ev.r.id.index]; cur != ev.r {
		s.finish()
		return
	}
	if ev.err != nil {
		ev.r.handleChannelError(ev.err)
	} else {
		ev.r.handleMessage(ev.msg)
	}
	s.finish()
}

// startReader begins asynchronous reception for one receiver.
func (s *Server) startReader(r *remoteReceiver) {
	r.reading.Store(true)
	s.asyncOps.Add(1)
	go func() {
		defer func() {
			r.reading.Store(false)
			s.asyncOps.Add(-1)
		}()
		for {
			msg, err := r.ch.Recv()
			ev := receiverEvent{r: r, msg: msg, err: err}
			select {
			case s.events <- ev:
			case <-s.quit:
				return
			}
			if err != nil {
				return
			}
		}
	}()
}

// queueCallback records a transition for delivery after unlock.
func (s *Server) queueCallback(id ReceiverID, state ReceiverState, err error) {
	s.pending = append(s.pending, pendingCallback{id: id, state: state, err: err})
}

// finish releases the mutex and delivers the callbacks collected
// during the critical section, in order.
func (s *Server) finish() {
	cbs := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, cb := range cbs {
		s.cb(cb.id, cb.state, cb.err)
	}
}

// AddReceiver creates a receiver endpoint in class class, reachable
// over ch, and returns its identity. The receiver starts Connecting;
// call ConnectReceiver to run the handshake.
func (s *Server) AddReceiver(class ClassHandle, ch SideChannel) (ReceiverID, error) {
	mustBelong(s.group, class.group, "class handle")
	s.mu.Lock()
	defer s.finish()
	if s.down {
		return ReceiverID{}, ErrUnexpectedState
	}
	for i, r := range s.receivers {
		if r != nil {
			continue
		}
		s.nextSeq++
		id := ReceiverID{group: s.group, seq: s.nextSeq, index: ReceiverIndex(i)}
		s.receivers[i] = newRemoteReceiver(s, id, class, ch)
		return id, nil
	}
	return ReceiverID{}, ErrTooManyReceivers
}

// ConnectReceiver starts the handshake for the receiver: the
// connection request goes out and asynchronous reception begins.
func (s *Server) ConnectReceiver(id ReceiverID) error {
	s.mu.Lock()
	defer s.finish()
	if s.down {
		return ErrUnexpectedState
	}
	r, err := s.lookup(id)
	if err != nil {
		return err
	}
	return r.connect()
}

// TerminateReceiver forces the receiver to Disconnected from any
// state, including Corrupted, announcing the termination to the peer.
func (s *Server) TerminateReceiver(id ReceiverID) error {
	s.mu.Lock()
	defer s.finish()
	r, err := s.lookup(id)
	if err != nil {
		return err
	}
	r.terminate()
	return nil
}

// RemoveReceiver destroys the receiver endpoint. Legal only once the
// receiver is Disconnected and no asynchronous operation is in flight.
func (s *Server) RemoveReceiver(id ReceiverID) error {
	s.mu.Lock()
	defer s.finish()
	r, err := s.lookup(id)
	if err != nil {
		return err
	}
	if r.isInUse() {
		return fmt.Errorf("%w: receiver %v is %v and in use", ErrUnexpectedReceiverState, id, r.state)
	}
	s.receivers[id.index] = nil
	return nil
}

// GetReceiverState returns the receiver's state and, when Corrupted,
// the stored cause.
func (s *Server) GetReceiverState(id ReceiverID) (ReceiverStatus, error) {
	s.mu.Lock()
	defer s.finish()
	r, err := s.lookup(id)
	if err != nil {
		return ReceiverStatus{}, err
	}
	st := ReceiverStatus{State: r.state, Err: r.storedErr}
	if r.registered && !s.engine.Corrupted(int(id.index)) {
		st.Listening = s.engine.Listening(int(id.index))
	}
	return st, nil
}

// AcquireSlot pops a free slot and returns its token. Returns
// ErrWouldBlock when every slot is held or in flight. Non-blocking.
func (s *Server) AcquireSlot() (*SlotToken, error) {
	s.mu.Lock()
	defer s.finish()
	if s.down {
		return nil, ErrUnexpectedState
	}
	tok, err := s.engine.Slots().Acquire()
	if err != nil {
		return nil, err
	}
	return &SlotToken{group: s.group, tok: tok}, nil
}

// AccessSlotContent returns the read-write payload of the token's
// slot. The view is valid while the token is live.
func (s *Server) AccessSlotContent(t *SlotToken) []byte {
	mustBelong(s.group, t.group, "slot token")
	s.mu.Lock()
	defer s.finish()
	return s.engine.Slots().Access(&t.tok)
}

// UnacquireSlot consumes the token and returns its slot to the free
// pool without sending. A no-op on class and borrow counters.
func (s *Server) UnacquireSlot(t *SlotToken) {
	mustBelong(s.group, t.group, "slot token")
	s.mu.Lock()
	defer s.finish()
	s.engine.Slots().Unacquire(&t.tok)
}

// SendSlot consumes the token and hands the slot to every Connected
// receiver whose class has head-room and whose ring has space. Returns
// the classes dropped for saturation. The error is ErrReceiver when at
// least one receiver is corrupted; delivery to healthy receivers
// succeeded regardless.
func (s *Server) SendSlot(t *SlotToken) (DroppedInfo, error) {
	mustBelong(s.group, t.group, "slot token")
	s.mu.Lock()
	defer s.finish()
	if s.down {
		return DroppedInfo{}, ErrUnexpectedState
	}
	notify := s.engine.Send(&t.tok, &s.dropped)
	var info DroppedInfo
	for _, cls := range s.dropped.Classes() {
		info.Classes = append(info.Classes, ClassHandle{group: s.group, index: cls})
	}
	for _, idx := range notify {
		if r := s.receivers[idx]; r != nil {
			r.notifyNewSlotSent()
		}
	}
	return info, s.receiverErr()
}

// ReclaimSlots drains the release rings and returns fully released
// slots to the free pool. Non-blocking and idempotent. The error is
// ErrReceiver when at least one receiver is corrupted.
func (s *Server) ReclaimSlots() error {
	s.mu.Lock()
	defer s.finish()
	if s.down {
		return ErrUnexpectedState
	}
	for _, cor := range s.engine.Reclaim() {
		if r := s.receivers[cor.Receiver]; r != nil {
			r.markLogicCorruption(cor.Reason)
		}
	}
	return s.receiverErr()
}

// receiverErr returns ErrReceiver when any receiver is corrupted.
func (s *Server) receiverErr() error {
	for _, r := range s.receivers {
		if r != nil && r.state == ReceiverCorrupted {
			return ErrReceiver
		}
	}
	return nil
}

// Shutdown tears the server down: every live receiver moves to
// Disconnected with a shutdown frame and asynchronous reception stops.
// From then on AddReceiver, ConnectReceiver, AcquireSlot, SendSlot,
// ReclaimSlots and Shutdown fail with ErrUnexpectedState;
// GetReceiverState, TerminateReceiver and RemoveReceiver do not check
// for shutdown and keep operating on the receiver table. Outstanding
// slot tokens must be returned before Shutdown; holding one is a
// precondition violation and panics.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.finish()
	if s.down {
		return ErrUnexpectedState
	}
	if held := s.engine.Slots().HeldCount(); held > 0 {
		panic(fmt.Sprintf("memcon: shutdown with %d outstanding slot tokens", held))
	}
	for _, r := range s.receivers {
		if r != nil {
			r.handleServerShutdown()
		}
	}
	s.down = true
	close(s.quit)
	s.log.Info("server down")
	return nil
}

// IsInUse reports whether the server still has asynchronous work in
// flight. Destruction is safe once it returns false; it never flips
// back to true.
func (s *Server) IsInUse() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.down || s.asyncOps.Load() > 0
}

func (s *Server) lookup(id ReceiverID) (*remoteReceiver, error) {
	mustBelong(s.group, id.group, "receiver id")
	if int(id.index) >= len(s.receivers) {
		return nil, ErrNoSuchReceiver
	}
	r := s.receivers[id.index]
	if r == nil || r.id != id {
		return nil, ErrNoSuchReceiver
	}
	return r, nil
}
