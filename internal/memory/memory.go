// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package memory allocates and maps the regions the transport lives in:
// the slot region and the two queue regions of every connection.
//
// A region is produced together with an ExchangeHandle, an opaque
// serializable descriptor the peer can use to map its own view of the
// same physical memory. The transport above is technology-agnostic; it
// only ever sees (Region, ExchangeHandle) pairs.
//
// Two technologies are provided:
//
//   - TechProcessLocal: heap-backed, exchanged through an in-process
//     registry. Placeholder technology for tests and single-process use.
//   - TechSharedMemory: memfd-backed mappings exchanged as file
//     descriptors (Linux).
package memory

import (
	"fmt"

	"go.uber.org/zap"
)

// Technology selects the backing allocator for transport memory.
type Technology uint8

const (
	// TechProcessLocal backs regions with ordinary heap memory and
	// exchanges them through a process-wide registry.
	TechProcessLocal Technology = iota
	// TechSharedMemory backs regions with memfd shared memory and
	// exchanges them as file descriptors.
	TechSharedMemory
)

// String returns the technology name for logging.
func (t Technology) String() string {
	switch t {
	case TechProcessLocal:
		return "ProcessLocal"
	case TechSharedMemory:
		return "SharedMemory"
	default:
		return fmt.Sprintf("Technology(%d)", uint8(t))
	}
}

// ExchangeHandle is an opaque, serializable reference to a region.
// FD is meaningful for TechSharedMemory, Key for TechProcessLocal.
type ExchangeHandle struct {
	Tech Technology
	FD   int
	Key  uint64
	Size uint64
}

// Region is one mapped view of transport memory. The view is writable
// or read-only depending on how it was produced; writing through a
// read-only shared-memory view faults.
type Region struct {
	data     []byte
	writable bool
	release  func() error
}

// Bytes returns the mapped bytes.
func (r *Region) Bytes() []byte { return r.data }

// Size returns the region size in bytes.
func (r *Region) Size() int { return len(r.data) }

// Writable reports whether this view may be written.
func (r *Region) Writable() bool { return r.writable }

// Close unmaps this view. Other views of the same memory stay valid.
// Closing the allocating view also retires its exchange handle: mapping
// that handle in this process afterwards fails.
func (r *Region) Close() error {
	if r.release == nil {
		return nil
	}
	rel := r.release
	r.release = nil
	r.data = nil
	return rel()
}

// Manager allocates and maps regions of one configured technology.
type Manager struct {
	tech Technology
	log  *zap.Logger
}

// NewManager returns a manager for the given technology. logger may be
// nil for no logging.
func NewManager(tech Technology, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{tech: tech, log: logger.Named("memory")}
}

// Technology returns the configured technology.
func (m *Manager) Technology() Technology { return m.tech }

// AllocateWritable allocates a region of at least size bytes and an
// exchange handle the peer can map. Under TechProcessLocal the base is
// aligned to align; under TechSharedMemory the base is page-aligned and
// align is only validated, so alignments above the page size are not
// honored.
func (m *Manager) AllocateWritable(size, align int) (*Region, ExchangeHandle, error) {
	if size <= 0 {
		return nil, ExchangeHandle{}, fmt.Errorf("memory: non-positive allocation size %d", size)
	}
	if align <= 0 || align&(align-1) != 0 {
		return nil, ExchangeHandle{}, fmt.Errorf("memory: alignment %d is not a positive power of two", align)
	}
	switch m.tech {
	case TechProcessLocal:
		return allocateLocal(size, align)
	case TechSharedMemory:
		r, h, err := allocateShared(size)
		if err == nil {
			m.log.Debug("allocated shared region",
				zap.Int("size", size), zap.Int("fd", h.FD))
		}
		return r, h, err
	default:
		return nil, ExchangeHandle{}, fmt.Errorf("memory: unknown technology %v", m.tech)
	}
}

// MapWritable maps a peer-provided handle read-write. Used for queue
// regions, where each side owns one index cell of the ring.
func (m *Manager) MapWritable(h ExchangeHandle) (*Region, error) {
	return m.mapHandle(h, true)
}

// MapReadable maps a peer-provided handle read-only. Used for the slot
// region on the receiver side.
func (m *Manager) MapReadable(h ExchangeHandle) (*Region, error) {
	return m.mapHandle(h, false)
}

func (m *Manager) mapHandle(h ExchangeHandle, writable bool) (*Region, error) {
	if h.Tech != m.tech {
		return nil, fmt.Errorf("memory: handle technology %v does not match manager technology %v", h.Tech, m.tech)
	}
	switch m.tech {
	case TechProcessLocal:
		return mapLocal(h, writable)
	case TechSharedMemory:
		return mapShared(h, writable)
	default:
		return nil, fmt.Errorf("memory: unknown technology %v", m.tech)
	}
}
