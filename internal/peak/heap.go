// internal/peak/heap.go
package peak

// record is one sample held by a median tracker. A record is live while
// gen matches the current generation of the block slot that owns it.
type record struct {
	gen   uint64
	slot  uint32
	value int16
}

// slotState is the per-block bookkeeping of a tracker: the generation of the
// block currently occupying the slot and the heap holding its live record.
type slotState struct {
	gen  uint64
	side uint8
}

const (
	sideLower uint8 = iota // max-heap, values at or below the median
	sideUpper              // min-heap, values above the median
)

// recordHeap is a fixed-capacity binary heap over caller-owned storage.
// It never grows: recs is the full capacity and *size the used prefix.
type recordHeap struct {
	recs []record
	size *int32
	max  bool
}

func (h recordHeap) len() int {
	return int(*h.size)
}

func (h recordHeap) full() bool {
	return int(*h.size) == len(h.recs)
}

// above reports whether a belongs nearer the top than b. Equal values are
// ordered newest first.
func (h recordHeap) above(a, b record) bool {
	if a.value == b.value {
		return a.gen > b.gen
	}
	if h.max {
		return a.value > b.value
	}
	return a.value < b.value
}

func (h recordHeap) top() record {
	return h.recs[0]
}

// push adds r. The caller guarantees the heap is not full.
func (h recordHeap) push(r record) {
	i := int(*h.size)
	h.recs[i] = r
	*h.size++
	h.up(i)
}

func (h recordHeap) pop() record {
	n := int(*h.size) - 1
	r := h.recs[0]
	h.recs[0] = h.recs[n]
	h.recs[n] = record{}
	*h.size = int32(n)
	if n > 0 {
		h.down(0, n)
	}
	return r
}

func (h recordHeap) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.above(h.recs[i], h.recs[parent]) {
			break
		}
		h.recs[i], h.recs[parent] = h.recs[parent], h.recs[i]
		i = parent
	}
}

func (h recordHeap) down(i, n int) {
	for {
		best := i
		l, r := 2*i+1, 2*i+2
		if l < n && h.above(h.recs[l], h.recs[best]) {
			best = l
		}
		if r < n && h.above(h.recs[r], h.recs[best]) {
			best = r
		}
		if best == i {
			return
		}
		h.recs[i], h.recs[best] = h.recs[best], h.recs[i]
		i = best
	}
}

// live reports whether r still belongs to the block occupying its slot.
func live(r record, slots []slotState) bool {
	return r.gen == slots[r.slot].gen
}

// dropStale pops stale records off the top until the top is live or the
// heap is empty.
func (h recordHeap) dropStale(slots []slotState) {
	for *h.size > 0 && !live(h.recs[0], slots) {
		h.pop()
	}
}

// compact removes every stale record and re-establishes heap order.
func (h recordHeap) compact(slots []slotState) {
	n := 0
	for i := 0; i < int(*h.size); i++ {
		if live(h.recs[i], slots) {
			h.recs[n] = h.recs[i]
			n++
		}
	}
	for i := n; i < int(*h.size); i++ {
		h.recs[i] = record{}
	}
	*h.size = int32(n)
	for i := n/2 - 1; i >= 0; i-- {
		h.down(i, n)
	}
}
