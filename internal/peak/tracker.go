// internal/peak/tracker.go
package peak

// trackerHeader holds the heap sizes and live counts of one offset's tracker.
// Heap sizes include stale records; live counts do not.
type trackerHeader struct {
	lowerLen  int32
	upperLen  int32
	lowerLive int32
	upperLive int32
}

// tracker is a running median over one sample offset across every block in
// the window. The lower half lives in a max-heap and the upper half in a
// min-heap; the median is the top of the lower heap.
//
// When a block slot is overwritten its old record is not searched for. The
// slot's generation moves on, which makes the old record stale, and it is
// discarded when it surfaces at a heap top or when its heap fills up and is
// compacted.
type tracker struct {
	hdr   *trackerHeader
	lower recordHeap
	upper recordHeap
	slots []slotState
}

func (t *tracker) heap(side uint8) recordHeap {
	if side == sideLower {
		return t.lower
	}
	return t.upper
}

func (t *tracker) liveCount(side uint8) *int32 {
	if side == sideLower {
		return &t.hdr.lowerLive
	}
	return &t.hdr.upperLive
}

// update replaces the value held for slot with v, stamped with gen.
func (t *tracker) update(slot uint32, gen uint64, v int16) {
	st := &t.slots[slot]
	if st.gen != 0 {
		*t.liveCount(st.side)--
	}
	st.gen = gen

	t.lower.dropStale(t.slots)
	t.upper.dropStale(t.slots)

	t.insert(t.route(v), record{gen: gen, slot: slot, value: v})
	t.rebalance()
}

// route picks the heap for a new value: the lower heap when it is at or below
// the current median, otherwise the upper heap.
func (t *tracker) route(v int16) uint8 {
	if t.hdr.lowerLive > 0 {
		if v <= t.lower.top().value {
			return sideLower
		}
		return sideUpper
	}
	if t.hdr.upperLive > 0 && v > t.upper.top().value {
		return sideUpper
	}
	return sideLower
}

func (t *tracker) insert(side uint8, r record) {
	h := t.heap(side)
	if h.full() {
		h.compact(t.slots)
	}
	h.push(r)
	t.slots[r.slot].side = side
	*t.liveCount(side)++
}

// move transfers the top live record of from into the other heap.
func (t *tracker) move(from uint8) {
	h := t.heap(from)
	h.dropStale(t.slots)
	r := h.pop()
	*t.liveCount(from)--
	t.insert(1-from, r)
}

// rebalance keeps lowerLive equal to upperLive or one greater.
func (t *tracker) rebalance() {
	for t.hdr.lowerLive > t.hdr.upperLive+1 {
		t.move(sideLower)
	}
	for t.hdr.upperLive > t.hdr.lowerLive {
		t.move(sideUpper)
	}
	t.lower.dropStale(t.slots)
	t.upper.dropStale(t.slots)
}

// median returns the lower median of the live values, or 0 if there are none.
func (t *tracker) median() int16 {
	t.lower.dropStale(t.slots)
	if t.hdr.lowerLive == 0 {
		return 0
	}
	return t.lower.top().value
}

func (t *tracker) count() int {
	return int(t.hdr.lowerLive + t.hdr.upperLive)
}
