package mp4mux

// Kind identifies the media handled by a track.
type Kind int

const (
	KindVideoAVC Kind = iota
	KindVideoHEVC
	KindAudioAAC
	// KindPrivate carries an opaque, non-A/V elementary stream (minimp4's
	// e_private track kind) in an mp4s sample entry, with object type
	// 0xD0 and stream type 32 (user private) in its esds.
	KindPrivate
)

// SampleKind classifies a sample the way minimp4's MP4E_SAMPLE_* values
// do: most samples are SampleDefault, video sync points are
// SampleRandomAccess, and SampleContinuation marks a slice NAL that
// belongs to the access unit of the immediately preceding sample rather
// than starting a new one.
type SampleKind int

const (
	SampleDefault SampleKind = iota
	SampleRandomAccess
	SampleContinuation
)

// TrackConfig describes a track at AddTrack time. Fields not relevant
// to Kind are ignored.
type TrackConfig struct {
	Kind      Kind
	Timescale uint32 // e.g. 90000 for video, the AAC sample rate for audio

	// Video only.
	Width, Height uint16

	// Audio only.
	SampleRate uint32
	Channels   uint16
	SampleSize uint16 // bits per sample, typically 16

	Language string // ISO-639-2/T, defaults to "und"
}

type sampleEntry struct {
	offset     int64 // absolute byte offset in the output, set once known
	size       uint32
	duration   uint32
	keyframe   bool
}

// Track accumulates one elementary stream's sample table and parameter
// sets as PutSample/SetSPS/etc. are called. It corresponds to one trak
// box plus whatever sample-description state (avcC/hvcC/esds) that
// trak's stsd carries.
type Track struct {
	id  uint32
	cfg TrackConfig

	vps [][]byte
	sps [][]byte
	pps [][]byte
	dsi []byte

	samples []sampleEntry
	pending []byte // un-flushed sample bytes, sequential mode only

	chunkOffsets []int64 // not populated; stco/co64 are written from each sample's offset
}

// ID returns the track's 1-based track_ID, matching ISO-BMFF
// conventions (stsd/tkhd track_ID is never 0).
func (t *Track) ID() uint32 { return t.id }

func (t *Track) totalDuration() uint64 {
	var sum uint64
	for _, s := range t.samples {
		sum += uint64(s.duration)
	}
	return sum
}

func (t *Track) isVideo() bool {
	return t.cfg.Kind == KindVideoAVC || t.cfg.Kind == KindVideoHEVC
}

func (t *Track) isPrivate() bool {
	return t.cfg.Kind == KindPrivate
}
