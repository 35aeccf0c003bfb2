// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memcon

import (
	"errors"
	"fmt"
	"io"

	"code.hybscloud.com/atomix"
	"go.uber.org/zap"

	"code.hybscloud.com/memcon/internal/channel"
	"code.hybscloud.com/memcon/internal/memory"
	"code.hybscloud.com/memcon/internal/queue"
	"code.hybscloud.com/memcon/internal/wire"
)

// remoteReceiver is the server-side endpoint of one connection: the
// per-receiver state machine, its side channel and the resources built
// up during the handshake.
//
// Transitions follow a two-phase protocol: event handlers never switch
// the state object they are running on; they call requestTransition and
// the dispatcher applies the request after the handler has unwound.
// There must not be a pending request when a handler is entered.
type remoteReceiver struct {
	srv   *Server
	id    ReceiverID
	class ClassHandle
	ch    channel.SideChannel
	log   *zap.Logger

	state     ReceiverState
	current   remoteState
	pending   *stateRequest
	storedErr error

	// Handshake resources. outRegion carries the server→receiver data
	// ring; inRegion is the receiver's release ring, mapped from the
	// handle it acked.
	outLayout  queue.Layout
	outRegion  *memory.Region
	outHandle  memory.ExchangeHandle
	producer   *queue.Producer
	inRegion   *memory.Region
	registered bool

	// reading is set while the channel reader goroutine is in flight.
	reading atomix.Bool
}

// stateRequest is one pending transition: the target state and, for
// transitions into Corrupted, the cause.
type stateRequest struct {
	target ReceiverState
	err    error
}

// remoteState is one concrete state of the receiver machine. Terminal
// states ignore every event.
type remoteState interface {
	onAckConnection(msg channel.Message)
	onStartListening()
	onStopListening()
	onShutdown()
	onError(err error)
}

func newRemoteReceiver(srv *Server, id ReceiverID, class ClassHandle, ch channel.SideChannel) *remoteReceiver {
	r := &remoteReceiver{
		srv:   srv,
		id:    id,
		class: class,
		ch:    ch,
		state: ReceiverConnecting,
		log:   srv.log.Named("receiver").With(zap.Stringer("id", id)),
	}
	r.current = &rrConnecting{r: r}
	return r
}

// requestTransition records the transition to apply once the running
// handler unwinds. At most one request may exist per dispatch.
func (r *remoteReceiver) requestTransition(target ReceiverState, err error) {
	if r.pending != nil {
		panic("memcon: transition already requested in this handler")
	}
	r.pending = &stateRequest{target: target, err: err}
}

// dispatch runs one event handler and then applies the requested
// transition, if any. The old state object is dropped and the new one
// constructed only after the handler has unwound, so a handler never
// frees the state it is executing on.
func (r *remoteReceiver) dispatch(f func(remoteState)) {
	if r.pending != nil {
		panic("memcon: pending state transition on handler entry")
	}
	f(r.current)
	r.applyPending()
}

func (r *remoteReceiver) applyPending() {
	p := r.pending
	if p == nil {
		return
	}
	r.pending = nil
	r.state = p.target
	switch p.target {
	case ReceiverConnected:
		r.current = &rrConnected{r: r}
		r.log.Info("receiver connected")
	case ReceiverCorrupted:
		r.current = rrTerminal{}
		r.enterCorrupted(p.err)
	case ReceiverDisconnected:
		r.current = rrTerminal{}
		r.enterDisconnected()
	default:
		panic(fmt.Sprintf("memcon: transition into %v not defined", p.target))
	}
	r.srv.queueCallback(r.id, r.state, p.err)
}

func (r *remoteReceiver) enterCorrupted(cause error) {
	r.storedErr = cause
	if r.registered {
		r.srv.engine.MarkCorrupted(int(r.id.index))
	}
	r.ch.Close()
	r.log.Warn("receiver corrupted", zap.Error(cause))
}

func (r *remoteReceiver) enterDisconnected() {
	if r.registered {
		r.srv.engine.Unregister(int(r.id.index))
		r.registered = false
	}
	r.ch.Close()
	r.releaseRegions()
	r.log.Info("receiver disconnected")
}

func (r *remoteReceiver) releaseRegions() {
	if r.outRegion != nil {
		r.outRegion.Close()
		r.outRegion = nil
	}
	if r.inRegion != nil {
		r.inRegion.Close()
		r.inRegion = nil
	}
}

// classify maps a side-channel failure to the corruption cause.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrProtocol):
		return err
	case channel.IsCrash(err):
		return fmt.Errorf("%w: %w", ErrPeerCrashed, err)
	case errors.Is(err, io.EOF):
		return ErrPeerDisconnected
	default:
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
}

// handleMessage routes one side-channel frame to the current state.
func (r *remoteReceiver) handleMessage(msg channel.Message) {
	switch msg.Frame.Type {
	case wire.AckConnection:
		r.dispatch(func(s remoteState) { s.onAckConnection(msg) })
	case wire.StartListening:
		r.dispatch(func(s remoteState) { s.onStartListening() })
	case wire.StopListening:
		r.dispatch(func(s remoteState) { s.onStopListening() })
	case wire.Shutdown:
		r.dispatch(func(s remoteState) { s.onShutdown() })
	default:
		r.dispatch(func(s remoteState) {
			s.onError(fmt.Errorf("%w: unexpected %v frame", ErrProtocol, msg.Frame.Type))
		})
	}
}

// handleChannelError delivers an asynchronous side-channel failure.
func (r *remoteReceiver) handleChannelError(err error) {
	r.dispatch(func(s remoteState) { s.onError(err) })
}

// connect drives the server-side handshake leg: allocate the data
// ring, send the connection request, begin asynchronous reception.
// App-context event.
func (r *remoteReceiver) connect() error {
	c, ok := r.current.(*rrConnecting)
	if !ok || c.started {
		return fmt.Errorf("%w: receiver %v is %v", ErrUnexpectedReceiverState, r.id, r.state)
	}

	r.outLayout = queue.LayoutFor(r.srv.cfg.numSlots)
	region, handle, err := r.srv.mem.AllocateWritable(r.outLayout.TotalSize, 64)
	if err != nil {
		return err
	}
	producer, err := queue.BindProducer(region.Bytes(), r.outLayout.Config)
	if err != nil {
		region.Close()
		return err
	}

	payload := r.srv.slotConfig().AppendBinary(nil)
	payload = r.outLayout.Config.AppendBinary(payload)
	msg := channel.Message{
		Frame:   wire.Frame{Type: wire.ConnectionRequest, Payload: payload},
		Handles: []memory.ExchangeHandle{r.srv.slotHandle, handle},
	}
	if err := r.ch.Send(msg); err != nil {
		region.Close()
		cause := classify(err)
		r.requestTransition(ReceiverCorrupted, cause)
		r.applyPending()
		return cause
	}

	r.outRegion, r.outHandle, r.producer = region, handle, producer
	c.started = true
	r.srv.startReader(r)
	r.log.Debug("connection request sent")
	return nil
}

// terminate forces Disconnected from any live state, including
// Corrupted. Administrative, App-context.
func (r *remoteReceiver) terminate() {
	if r.state == ReceiverDisconnected {
		return
	}
	// Best effort; the channel may already be gone.
	_ = r.ch.Send(channel.Message{Frame: wire.Frame{Type: wire.Termination}})
	r.requestTransition(ReceiverDisconnected, nil)
	r.applyPending()
}

// handleServerShutdown moves the receiver to Disconnected as part of
// server teardown, announcing it to the peer. App-context.
func (r *remoteReceiver) handleServerShutdown() {
	if r.state == ReceiverDisconnected {
		return
	}
	_ = r.ch.Send(channel.Message{Frame: wire.Frame{Type: wire.Shutdown}})
	r.requestTransition(ReceiverDisconnected, nil)
	r.applyPending()
}

// notifyNewSlotSent emits one wake-up frame for an empty→non-empty
// ring edge inside the receiver's listen window. A channel failure
// here corrupts the receiver like any other side-channel error.
func (r *remoteReceiver) notifyNewSlotSent() {
	if r.state != ReceiverConnected {
		return
	}
	if err := r.ch.Send(channel.Message{Frame: wire.Frame{Type: wire.Notification}}); err != nil {
		r.handleChannelError(err)
	}
}

// markLogicCorruption applies a corruption detected by the reclaim
// engine to the state machine. The engine has already excluded the
// receiver; this transition records the cause and reports it.
func (r *remoteReceiver) markLogicCorruption(reason error) {
	if r.state != ReceiverConnected {
		return
	}
	r.requestTransition(ReceiverCorrupted, fmt.Errorf("%w: %w", ErrProtocol, reason))
	r.applyPending()
}

// isInUse reports whether the receiver still holds resources or has an
// asynchronous operation in flight. Once false, never true again.
func (r *remoteReceiver) isInUse() bool {
	return r.state != ReceiverDisconnected || r.reading.Load()
}

// rrConnecting is the initial state. started distinguishes the
// pre-Connect sub-state from ConnectionStarted, where the protocol
// sub-state is ExpectAckConnection.
type rrConnecting struct {
	r       *remoteReceiver
	started bool
}

func (s *rrConnecting) onAckConnection(msg channel.Message) {
	r := s.r
	if !s.started {
		r.requestTransition(ReceiverCorrupted,
			fmt.Errorf("%w: AckConnection before connection request", ErrProtocol))
		return
	}
	cfg, rest, err := wire.DecodeQueueMemoryConfig(msg.Frame.Payload)
	if err != nil || len(rest) != 0 || len(msg.Handles) != 1 {
		r.requestTransition(ReceiverCorrupted,
			fmt.Errorf("%w: malformed AckConnection", ErrProtocol))
		return
	}
	// The release ring's head cell is ours to write, so the region is
	// mapped read-write even though the payload direction is inbound.
	region, err := r.srv.mem.MapWritable(msg.Handles[0])
	if err != nil {
		r.requestTransition(ReceiverCorrupted, fmt.Errorf("%w: %w", ErrProtocol, err))
		return
	}
	consumer, err := queue.BindConsumer(region.Bytes(), cfg)
	if err != nil {
		region.Close()
		r.requestTransition(ReceiverCorrupted, fmt.Errorf("%w: %w", ErrProtocol, err))
		return
	}
	if err := r.srv.engine.Register(int(r.id.index), r.class.index, r.producer, consumer); err != nil {
		region.Close()
		r.requestTransition(ReceiverCorrupted, fmt.Errorf("%w: %w", ErrProtocol, err))
		return
	}
	r.inRegion = region
	r.registered = true
	if err := r.ch.Send(channel.Message{Frame: wire.Frame{Type: wire.AckQueueInitialization}}); err != nil {
		r.requestTransition(ReceiverCorrupted, classify(err))
		return
	}
	r.requestTransition(ReceiverConnected, nil)
}

func (s *rrConnecting) onStartListening() {
	s.r.requestTransition(ReceiverCorrupted,
		fmt.Errorf("%w: StartListening while connecting", ErrProtocol))
}

func (s *rrConnecting) onStopListening() {
	s.r.requestTransition(ReceiverCorrupted,
		fmt.Errorf("%w: StopListening while connecting", ErrProtocol))
}

func (s *rrConnecting) onShutdown() {
	if !s.started {
		return
	}
	s.r.requestTransition(ReceiverDisconnected, nil)
}

func (s *rrConnecting) onError(err error) {
	s.r.requestTransition(ReceiverCorrupted, classify(err))
}

// rrConnected is the steady state: the receiver participates in sends.
type rrConnected struct {
	r *remoteReceiver
}

func (s *rrConnected) onAckConnection(channel.Message) {
	s.r.requestTransition(ReceiverCorrupted,
		fmt.Errorf("%w: AckConnection while connected", ErrProtocol))
}

func (s *rrConnected) onStartListening() { s.toggleListen(true) }
func (s *rrConnected) onStopListening()  { s.toggleListen(false) }

func (s *rrConnected) toggleListen(on bool) {
	r := s.r
	if err := r.srv.engine.SetListening(int(r.id.index), on); err != nil {
		r.requestTransition(ReceiverCorrupted, fmt.Errorf("%w: %w", ErrProtocol, err))
		return
	}
	r.log.Debug("listen window toggled", zap.Bool("listening", on))
}

func (s *rrConnected) onShutdown() {
	s.r.requestTransition(ReceiverDisconnected, nil)
}

func (s *rrConnected) onError(err error) {
	s.r.requestTransition(ReceiverCorrupted, classify(err))
}

// rrTerminal serves both Corrupted and Disconnected: every event is
// ignored. Only the administrative transitions leave Corrupted, and
// nothing leaves Disconnected.
type rrTerminal struct{}

func (rrTerminal) onAckConnection(channel.Message) {}
func (rrTerminal) onStartListening()               {}
func (rrTerminal) onStopListening()                {}
func (rrTerminal) onShutdown()                     {}
func (rrTerminal) onError(error)                   {}
