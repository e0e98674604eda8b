// internal/peak/select.go
package peak

// sliceMedian returns sorted(src)[len(src)/2] without modifying src. scratch
// must be at least len(src) long. Runs in expected linear time.
func sliceMedian(scratch, src []int16) int16 {
	a := scratch[:len(src)]
	copy(a, src)
	k := len(a) / 2
	lo, hi := 0, len(a)-1
	for lo < hi {
		// median of three pivot guards against sorted input
		m := lo + (hi-lo)/2
		if a[m] < a[lo] {
			a[m], a[lo] = a[lo], a[m]
		}
		if a[hi] < a[lo] {
			a[hi], a[lo] = a[lo], a[hi]
		}
		if a[hi] < a[m] {
			a[hi], a[m] = a[m], a[hi]
		}
		pivot := a[m]

		i, j := lo, hi
		for i <= j {
			for a[i] < pivot {
				i++
			}
			for a[j] > pivot {
				j--
			}
			if i <= j {
				a[i], a[j] = a[j], a[i]
				i++
				j--
			}
		}
		switch {
		case k <= j:
			hi = j
		case k >= i:
			lo = i
		default:
			return a[k]
		}
	}
	return a[k]
}
