package h26x

import "encoding/binary"

// PrependParameterSets returns a new length-prefixed sample with the
// writer's current VPS (HEVC only)/SPS/PPS set inserted ahead of
// sample, each as its own length-prefixed entry. Neither minimp4 nor
// this adapter does this automatically for every IDR; callers that want
// in-band parameter sets (e.g. for players that re-sync mid-stream)
// call this explicitly before handing a keyframe sample to the muxer.
func (w *Writer) PrependParameterSets(sample []byte) []byte {
	var out []byte
	for i := 0; i < w.NumVPS(); i++ {
		out = appendLengthPrefixed(out, w.VPS(i))
	}
	for i := 0; i < w.NumSPS(); i++ {
		out = appendLengthPrefixed(out, w.SPS(i))
	}
	for i := 0; i < w.NumPPS(); i++ {
		out = appendLengthPrefixed(out, w.PPS(i))
	}
	return append(out, sample...)
}

func appendLengthPrefixed(out, nal []byte) []byte {
	lp := make([]byte, 4+len(nal))
	binary.BigEndian.PutUint32(lp, uint32(len(nal)))
	copy(lp[4:], nal)
	return append(out, lp...)
}
