// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logic

import "code.hybscloud.com/memcon/internal/queue"

// receiver is the logic-level view of one connected receiver: its
// class, its two queue ends and the per-slot borrow set used to
// validate releases.
type receiver struct {
	class     int
	out       *queue.Producer
	in        *queue.Consumer
	listening bool
	corrupted bool
	borrows   []bool
	nborrows  int
}

func (r *receiver) holds(slot int) bool {
	return slot >= 0 && slot < len(r.borrows) && r.borrows[slot]
}
