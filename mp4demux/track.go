package mp4demux

import "fmt"

type stscEntry struct {
	firstChunk      uint32
	samplesPerChunk uint32
}

// Track is one parsed trak box: its sample description (parameter sets
// or decoder-specific info) plus the full sample table needed to
// resolve any sample index to a byte range via FrameOffset.
type Track struct {
	ID        uint32
	Kind      string // "vide", "soun", or the raw handler_type otherwise
	FourCC    string // sample entry type: "avc1", "hev1", "mp4a", ...
	Timescale uint32
	Duration  uint64
	Width     uint16
	Height    uint16
	SampleRate uint32
	Channels   uint16

	VPS [][]byte
	SPS [][]byte
	PPS [][]byte
	DSI []byte

	sampleSizes     []uint32
	sampleDurations []uint32
	syncSamples     map[uint32]bool // nil means every sample is a sync sample
	stsc            []stscEntry
	chunkOffsets    []int64
}

// NumSamples reports the track's sample count.
func (t *Track) NumSamples() int { return len(t.sampleSizes) }

// SampleSize returns the size in bytes of the nth (0-based) sample.
func (t *Track) SampleSize(n int) (uint32, error) {
	if n < 0 || n >= len(t.sampleSizes) {
		return 0, ErrSampleOutOfRange
	}
	return t.sampleSizes[n], nil
}

// SampleDuration returns the nth sample's duration in track timescale
// units.
func (t *Track) SampleDuration(n int) (uint32, error) {
	if n < 0 || n >= len(t.sampleDurations) {
		return 0, ErrSampleOutOfRange
	}
	return t.sampleDurations[n], nil
}

// IsKeyFrame reports whether the nth (0-based) sample is a sync sample.
// When a track has no stss box, ISO-BMFF mandates that every sample be
// treated as a sync sample.
func (t *Track) IsKeyFrame(n int) bool {
	if t.syncSamples == nil {
		return true
	}
	return t.syncSamples[uint32(n+1)]
}

// NumVPS/NumSPS/NumPPS report how many parameter sets of each kind the
// track's sample description carries.
func (t *Track) NumVPS() int { return len(t.VPS) }
func (t *Track) NumSPS() int { return len(t.SPS) }
func (t *Track) NumPPS() int { return len(t.PPS) }

// VPSAt/SPSAt/PPSAt fetch the nth cached parameter set, mirroring
// minimp4's MP4D_read_sps/MP4D_read_pps iteration helpers for callers
// that need to walk every cached entry rather than just the first.
func (t *Track) VPSAt(n int) []byte { return pick(t.VPS, n) }
func (t *Track) SPSAt(n int) []byte { return pick(t.SPS, n) }
func (t *Track) PPSAt(n int) []byte { return pick(t.PPS, n) }

func pick(list [][]byte, n int) []byte {
	if n < 0 || n >= len(list) {
		return nil
	}
	return list[n]
}

// objectTypeName and streamTypeName give human-readable names for the
// track's codec, the Go counterpart of minimp4's
// GetMP4ObjectTypeName/GetMP4StreamTypeName used by MP4D_printf_info.
func (t *Track) objectTypeName() string {
	switch t.FourCC {
	case "avc1", "avc3":
		return "H.264/AVC"
	case "hev1", "hvc1":
		return "H.265/HEVC"
	case "mp4a":
		return "MPEG-4 AAC"
	default:
		return t.FourCC
	}
}

// Describe returns a one-line human-readable summary of the track,
// mirroring the information minimp4's MP4D_printf_info test harness
// prints for each track it opens.
func (t *Track) Describe() string {
	switch t.Kind {
	case "vide":
		return fmt.Sprintf("track %d: video %s %dx%d, %d samples, timescale %d",
			t.ID, t.objectTypeName(), t.Width, t.Height, t.NumSamples(), t.Timescale)
	case "soun":
		return fmt.Sprintf("track %d: audio %s %dHz/%dch, %d samples, timescale %d",
			t.ID, t.objectTypeName(), t.SampleRate, t.Channels, t.NumSamples(), t.Timescale)
	default:
		return fmt.Sprintf("track %d: %s, %d samples, timescale %d", t.ID, t.Kind, t.NumSamples(), t.Timescale)
	}
}
