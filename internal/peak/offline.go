// internal/peak/offline.go
package peak

// DetectRecording runs a whole in-memory recording through a fresh detector,
// fed in consecutive TapSize blocks starting at stream offset 0. Hit indices
// are written to out until it is full; the returned count includes hits that
// did not fit. Trailing samples short of a full block are ignored.
//
// Unlike the online API this allocates the detector state for the call.
func DetectRecording(samples []int16, cfg Config, out []int64) (int, error) {
	size, err := RequiredSize(cfg)
	if err != nil {
		return 0, err
	}
	d, err := Init(make([]byte, size), cfg)
	if err != nil {
		return 0, err
	}

	hits := 0
	tap := cfg.TapSize
	for off := 0; off+tap <= len(samples); off += tap {
		res := d.Feed(samples[off:off+tap], int64(off))
		if !res.Hit {
			continue
		}
		if hits < len(out) {
			out[hits] = res.Index
		}
		hits++
	}
	return hits, nil
}
