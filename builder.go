// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memcon

import (
	"fmt"

	"go.uber.org/zap"

	"code.hybscloud.com/memcon/internal/memory"
)

// MemoryTechnology selects the allocator backing slot and queue
// memory. See the memory technologies of the builder options table.
type MemoryTechnology = memory.Technology

const (
	// TechProcessLocal backs regions with heap memory exchanged
	// in-process. Placeholder technology for tests and single-process
	// deployments.
	TechProcessLocal = memory.TechProcessLocal
	// TechSharedMemory backs regions with memfd shared memory
	// exchanged as file descriptors (Linux).
	TechSharedMemory = memory.TechSharedMemory
)

// ServerBuilder configures and creates one Server. Builders are
// single-use and every option is settable exactly once; violating
// either rule is a programmer error and panics.
//
// Example:
//
//	b := memcon.NewServerBuilder().
//	    NumberSlots(64).
//	    SlotContentSize(1024).
//	    SlotContentAlignment(64).
//	    MemoryTechnology(memcon.TechSharedMemory).
//	    MaxNumberReceivers(8).
//	    NumberClasses(2)
//	rt := b.Class(16)  // real-time consumers
//	be := b.Class(4)   // best-effort consumers
//	srv, err := b.OnReceiverStateTransition(onTransition).Build()
type ServerBuilder struct {
	group Group
	built bool

	numSlots     int
	contentSize  int
	contentAlign int
	maxReceivers int
	numClasses   int
	tech         memory.Technology

	setSlots, setSize, setAlign, setMax, setClasses, setTech bool

	classLimits []uint32
	cb          OnReceiverStateTransition
	logger      *zap.Logger
}

// NewServerBuilder creates a builder and mints the group tag every
// handle of the future server will carry.
func NewServerBuilder() *ServerBuilder {
	return &ServerBuilder{group: newGroup()}
}

func (b *ServerBuilder) mustUnset(set bool, opt string) {
	if b.built {
		panic("memcon: builder already consumed by Build")
	}
	if set {
		panic(fmt.Sprintf("memcon: %s already set", opt))
	}
}

// NumberSlots sets the slot table capacity. Must be > 0.
func (b *ServerBuilder) NumberSlots(n int) *ServerBuilder {
	b.mustUnset(b.setSlots, "NumberSlots")
	if n <= 0 {
		panic("memcon: NumberSlots must be > 0")
	}
	b.numSlots, b.setSlots = n, true
	return b
}

// SlotContentSize sets the byte size of each slot's payload area.
// Must be > 0.
func (b *ServerBuilder) SlotContentSize(n int) *ServerBuilder {
	b.mustUnset(b.setSize, "SlotContentSize")
	if n <= 0 {
		panic("memcon: SlotContentSize must be > 0")
	}
	b.contentSize, b.setSize = n, true
	return b
}

// SlotContentAlignment sets the alignment of the payload area.
// Must be a positive power of two.
func (b *ServerBuilder) SlotContentAlignment(n int) *ServerBuilder {
	b.mustUnset(b.setAlign, "SlotContentAlignment")
	if n <= 0 || n&(n-1) != 0 {
		panic("memcon: SlotContentAlignment must be a positive power of two")
	}
	b.contentAlign, b.setAlign = n, true
	return b
}

// MemoryTechnology selects the backing allocator.
func (b *ServerBuilder) MemoryTechnology(t MemoryTechnology) *ServerBuilder {
	b.mustUnset(b.setTech, "MemoryTechnology")
	b.tech, b.setTech = t, true
	return b
}

// MaxNumberReceivers bounds the number of concurrently added
// receivers. Must be > 0.
func (b *ServerBuilder) MaxNumberReceivers(n int) *ServerBuilder {
	b.mustUnset(b.setMax, "MaxNumberReceivers")
	if n <= 0 {
		panic("memcon: MaxNumberReceivers must be > 0")
	}
	b.maxReceivers, b.setMax = n, true
	return b
}

// NumberClasses sets how many receiver classes Class will define.
func (b *ServerBuilder) NumberClasses(n int) *ServerBuilder {
	b.mustUnset(b.setClasses, "NumberClasses")
	if n < 0 {
		panic("memcon: NumberClasses must be >= 0")
	}
	b.numClasses, b.setClasses = n, true
	return b
}

// Class defines the next receiver class with the given in-flight
// limit and returns its handle. Must be called exactly NumberClasses
// times, after NumberClasses.
func (b *ServerBuilder) Class(limit uint32) ClassHandle {
	if b.built {
		panic("memcon: builder already consumed by Build")
	}
	if !b.setClasses {
		panic("memcon: Class called before NumberClasses")
	}
	if len(b.classLimits) >= b.numClasses {
		panic(fmt.Sprintf("memcon: more than %d Class calls", b.numClasses))
	}
	h := ClassHandle{group: b.group, index: len(b.classLimits)}
	b.classLimits = append(b.classLimits, limit)
	return h
}

// OnReceiverStateTransition sets the required transition callback. It
// is invoked outside the server mutex.
func (b *ServerBuilder) OnReceiverStateTransition(cb OnReceiverStateTransition) *ServerBuilder {
	if b.cb != nil {
		panic("memcon: OnReceiverStateTransition already set")
	}
	if cb == nil {
		panic("memcon: OnReceiverStateTransition callback is nil")
	}
	b.cb = cb
	return b
}

// Logger sets the structured logging sink. Defaults to a nop logger.
func (b *ServerBuilder) Logger(l *zap.Logger) *ServerBuilder {
	if b.logger != nil {
		panic("memcon: Logger already set")
	}
	b.logger = l
	return b
}

// Build consumes the builder. Configuration gaps are programmer errors
// and panic; resource acquisition failures return an error.
func (b *ServerBuilder) Build() (*Server, error) {
	if b.built {
		panic("memcon: builder already consumed by Build")
	}
	switch {
	case !b.setSlots:
		panic("memcon: NumberSlots not set")
	case !b.setSize:
		panic("memcon: SlotContentSize not set")
	case !b.setAlign:
		panic("memcon: SlotContentAlignment not set")
	case !b.setMax:
		panic("memcon: MaxNumberReceivers not set")
	case !b.setClasses:
		panic("memcon: NumberClasses not set")
	case len(b.classLimits) != b.numClasses:
		panic(fmt.Sprintf("memcon: %d Class calls, NumberClasses is %d", len(b.classLimits), b.numClasses))
	case b.cb == nil:
		panic("memcon: OnReceiverStateTransition not set")
	}
	b.built = true
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if !b.setTech {
		b.tech = TechProcessLocal
	}
	cfg := serverConfig{
		numSlots:     b.numSlots,
		contentSize:  b.contentSize,
		contentAlign: b.contentAlign,
		maxReceivers: b.maxReceivers,
		classLimits:  b.classLimits,
		tech:         b.tech,
	}
	return newServer(b.group, cfg, b.cb, logger)
}

// ClientBuilder configures and creates one Client. Single-use, every
// option settable once, like ServerBuilder.
//
// SlotContentSize and SlotContentAlignment are optional sanity values:
// when set, a handshake offering different geometry fails with
// ErrConfigMismatch instead of connecting.
type ClientBuilder struct {
	group Group
	built bool

	contentSize  int
	contentAlign int
	tech         memory.Technology

	setSize, setAlign, setTech bool

	ch     SideChannel
	cb     OnClientStateTransition
	logger *zap.Logger
}

// NewClientBuilder creates a client builder with its own group tag.
func NewClientBuilder() *ClientBuilder {
	return &ClientBuilder{group: newGroup()}
}

func (b *ClientBuilder) mustUnset(set bool, opt string) {
	if b.built {
		panic("memcon: builder already consumed by Build")
	}
	if set {
		panic(fmt.Sprintf("memcon: %s already set", opt))
	}
}

// SlotContentSize sets the payload size this client expects.
func (b *ClientBuilder) SlotContentSize(n int) *ClientBuilder {
	b.mustUnset(b.setSize, "SlotContentSize")
	if n <= 0 {
		panic("memcon: SlotContentSize must be > 0")
	}
	b.contentSize, b.setSize = n, true
	return b
}

// SlotContentAlignment sets the payload alignment this client expects.
func (b *ClientBuilder) SlotContentAlignment(n int) *ClientBuilder {
	b.mustUnset(b.setAlign, "SlotContentAlignment")
	if n <= 0 || n&(n-1) != 0 {
		panic("memcon: SlotContentAlignment must be a positive power of two")
	}
	b.contentAlign, b.setAlign = n, true
	return b
}

// MemoryTechnology selects the allocator; it must match the server's.
func (b *ClientBuilder) MemoryTechnology(t MemoryTechnology) *ClientBuilder {
	b.mustUnset(b.setTech, "MemoryTechnology")
	b.tech, b.setTech = t, true
	return b
}

// SideChannel sets the required control link to the server.
func (b *ClientBuilder) SideChannel(ch SideChannel) *ClientBuilder {
	if b.ch != nil {
		panic("memcon: SideChannel already set")
	}
	if ch == nil {
		panic("memcon: SideChannel is nil")
	}
	b.ch = ch
	return b
}

// OnStateTransition sets the required transition callback, invoked
// outside the client mutex.
func (b *ClientBuilder) OnStateTransition(cb OnClientStateTransition) *ClientBuilder {
	if b.cb != nil {
		panic("memcon: OnStateTransition already set")
	}
	if cb == nil {
		panic("memcon: OnStateTransition callback is nil")
	}
	b.cb = cb
	return b
}

// Logger sets the structured logging sink. Defaults to a nop logger.
func (b *ClientBuilder) Logger(l *zap.Logger) *ClientBuilder {
	if b.logger != nil {
		panic("memcon: Logger already set")
	}
	b.logger = l
	return b
}

// Build consumes the builder, creates the client in Connecting state
// and begins asynchronous reception: the client now waits for the
// server's connection request.
func (b *ClientBuilder) Build() (*Client, error) {
	if b.built {
		panic("memcon: builder already consumed by Build")
	}
	switch {
	case b.ch == nil:
		panic("memcon: SideChannel not set")
	case b.cb == nil:
		panic("memcon: OnStateTransition not set")
	}
	b.built = true
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if !b.setTech {
		b.tech = TechProcessLocal
	}
	cfg := clientConfig{
		contentSize:  b.contentSize,
		contentAlign: b.contentAlign,
		checkSize:    b.setSize,
		checkAlign:   b.setAlign,
		tech:         b.tech,
	}
	return newClient(b.group, cfg, b.ch, b.cb, logger)
}
