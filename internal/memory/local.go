// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memory

import (
	"fmt"
	"sync"
	"unsafe"
)

// localRegistry exchanges heap-backed regions inside one process. Keys
// are process-unique; a handle resolves to the exact backing slice, so
// every view aliases the same memory just like a shared mapping would.
var localRegistry = struct {
	mu      sync.Mutex
	nextKey uint64
	regions map[uint64][]byte
}{regions: make(map[uint64][]byte)}

func allocateLocal(size, align int) (*Region, ExchangeHandle, error) {
	// Over-allocate so the base can be advanced to the requested
	// alignment; the Go allocator only guarantees natural alignment.
	raw := make([]byte, size+align)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(raw)))
	off := 0
	if rem := int(base) & (align - 1); rem != 0 {
		off = align - rem
	}
	data := raw[off : off+size : off+size]

	localRegistry.mu.Lock()
	localRegistry.nextKey++
	key := localRegistry.nextKey
	localRegistry.regions[key] = data
	localRegistry.mu.Unlock()

	r := &Region{data: data, writable: true, release: func() error {
		localRegistry.mu.Lock()
		delete(localRegistry.regions, key)
		localRegistry.mu.Unlock()
		return nil
	}}
	return r, ExchangeHandle{Tech: TechProcessLocal, Key: key, Size: uint64(size)}, nil
}

func mapLocal(h ExchangeHandle, writable bool) (*Region, error) {
	localRegistry.mu.Lock()
	data, ok := localRegistry.regions[h.Key]
	localRegistry.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("memory: no local region for key %d", h.Key)
	}
	if uint64(len(data)) != h.Size {
		return nil, fmt.Errorf("memory: local region %d is %d bytes, handle says %d", h.Key, len(data), h.Size)
	}
	// Read-only enforcement is a shared-memory property; the local
	// technology hands out the same slice either way.
	return &Region{data: data, writable: writable}, nil
}
