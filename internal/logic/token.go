// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logic

// Token is the ownership capability for one acquired slot. A token is
// consumed by exactly one of Send or Unacquire; the consuming call
// invalidates it in place. Using a consumed or zero token is a
// programmer error and panics.
type Token struct {
	idx int
	ok  bool
}

// Index returns the slot index the token owns.
func (t *Token) Index() int {
	t.mustLive()
	return t.idx
}

// Live reports whether the token still owns its slot.
func (t *Token) Live() bool { return t.ok }

func (t *Token) consume() int {
	t.mustLive()
	t.ok = false
	return t.idx
}

func (t *Token) mustLive() {
	if !t.ok {
		panic("memcon: use of consumed or zero slot token")
	}
}
