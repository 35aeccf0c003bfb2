// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logic

// DroppedInfo collects the classes a send could not deliver to because
// their in-flight ceiling was reached. Classes appear once each, in the
// order of the first receiver that hit the ceiling; receivers are
// visited in index order, so the content is deterministic.
type DroppedInfo struct {
	classes []int
	seen    map[int]bool
}

// Classes returns the saturated classes recorded by the last send.
func (d *DroppedInfo) Classes() []int { return d.classes }

// Reset clears the record. Send calls this on entry.
func (d *DroppedInfo) Reset() {
	d.classes = d.classes[:0]
	for k := range d.seen {
		delete(d.seen, k)
	}
}

func (d *DroppedInfo) add(cls int) {
	if d.seen == nil {
		d.seen = make(map[int]bool)
	}
	if d.seen[cls] {
		return
	}
	d.seen[cls] = true
	d.classes = append(d.classes, cls)
}
