// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memcon

import (
	"fmt"

	"github.com/google/uuid"

	"code.hybscloud.com/memcon/internal/logic"
)

// Group tags every handle a server or client instance mints. Handles
// only work with the instance that minted them; presenting a handle to
// a different instance is a programmer error and panics. The tag is a
// debug-assist invariant, not a security boundary.
type Group struct {
	id uuid.UUID
}

func newGroup() Group { return Group{id: uuid.New()} }

// String returns a short form of the group tag for logging.
func (g Group) String() string { return g.id.String()[:8] }

// SlotIndex is the dense 0-based index of a slot in the slot table.
type SlotIndex int

// ReceiverIndex is the dense 0-based index of a receiver in the
// receiver table. Indices are reused after RemoveReceiver; ReceiverID
// is the identity that never recurs.
type ReceiverIndex int

// ClassHandle identifies one receiver class of a server.
type ClassHandle struct {
	group Group
	index int
}

// Index returns the dense class index.
func (h ClassHandle) Index() int { return h.index }

// ReceiverID identifies one receiver for the lifetime of the process.
// It combines the instance group, a monotonically increasing 64-bit
// sequence number and the receiver's table index; two IDs compare equal
// only when all three match, so an index reused after RemoveReceiver
// never collides with the old identity.
type ReceiverID struct {
	group Group
	seq   uint64
	index ReceiverIndex
}

// Index returns the receiver's table index.
func (id ReceiverID) Index() ReceiverIndex { return id.index }

// String formats the identity for logging.
func (id ReceiverID) String() string {
	return fmt.Sprintf("%s/%d#%d", id.group, id.index, id.seq)
}

// SlotToken is the move-only capability proving exclusive write access
// to one slot. AcquireSlot mints it; exactly one of SendSlot or
// UnacquireSlot consumes it. A consumed token is dead: any further use
// panics. Tokens must not be copied.
type SlotToken struct {
	group Group
	tok   logic.Token
}

// Slot returns the index of the owned slot.
func (t *SlotToken) Slot() SlotIndex {
	return SlotIndex(t.tok.Index())
}

// Live reports whether the token still owns its slot.
func (t *SlotToken) Live() bool { return t.tok.Live() }

// mustBelong aborts when a handle minted by one instance is presented
// to another.
func mustBelong(owner, presented Group, what string) {
	if owner != presented {
		panic(fmt.Sprintf("memcon: %s belongs to group %s, not %s", what, presented, owner))
	}
}
