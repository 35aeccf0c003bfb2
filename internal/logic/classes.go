// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logic

// Classes holds the admission counters: one {limit, in-flight} pair per
// receiver class. The in-flight count of a class is exactly the sum of
// borrow contributions from receivers belonging to it; a send that
// would push a class past its limit is dropped for that class only.
type Classes struct {
	limit    []uint32
	inFlight []uint32
}

// NewClasses creates the counters from the configured limits.
func NewClasses(limits []uint32) *Classes {
	return &Classes{
		limit:    limits,
		inFlight: make([]uint32, len(limits)),
	}
}

// Count returns the number of classes.
func (c *Classes) Count() int { return len(c.limit) }

// Limit returns the configured limit of class cls.
func (c *Classes) Limit(cls int) uint32 { return c.limit[cls] }

// InFlight returns how many slots members of class cls currently hold.
func (c *Classes) InFlight(cls int) uint32 { return c.inFlight[cls] }

// remaining returns a snapshot of limit−inFlight per class, taken at
// the entry of a send; Send reduces it as it adds borrows.
func (c *Classes) remaining() []uint32 {
	rem := make([]uint32, len(c.limit))
	for i := range c.limit {
		rem[i] = c.limit[i] - c.inFlight[i]
	}
	return rem
}

func (c *Classes) addBorrow(cls int) {
	if c.inFlight[cls] >= c.limit[cls] {
		panic("memcon: class in-flight count pushed past its limit")
	}
	c.inFlight[cls]++
}

func (c *Classes) dropBorrow(cls int) {
	if c.inFlight[cls] == 0 {
		panic("memcon: class in-flight count pushed below zero")
	}
	c.inFlight[cls]--
}
