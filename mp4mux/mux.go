package mp4mux

import (
	"io"
	"log/slog"
	"sync"

	"github.com/babelcloud/gomp4/bitio"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Mode selects how Mux lays samples and the moov box out on the sink.
type Mode int

const (
	// ModeRandomAccess writes one contiguous mdat whose header sits in a
	// 16-byte gap reserved right after ftyp (preceded by an 8-byte free
	// box unless the 64-bit largesize form is needed), back-patching that
	// header once the file is finalized, then appends moov. Requires a sink that supports overwriting earlier
	// bytes (a real file, not a pure append-only stream).
	ModeRandomAccess Mode = iota
	// ModeSequential buffers each track's samples in memory and flushes
	// them as that track's own, already-correctly-sized mdat; no byte
	// written earlier is ever rewritten.
	ModeSequential
	// ModeFragmented writes an initial moov carrying mvex/trex and then
	// one moof+mdat pair per PutSample call, suitable for streaming to
	// an append-only sink.
	ModeFragmented
)

const movieTimescale = 1000

// Mux builds an ISO-BMFF container across one or more calls to
// PutSample. All writes go through the io.WriterAt supplied to NewMux;
// Mux never opens or names a file itself, matching the "external I/O,
// core never touches files directly" design of the specification this
// package implements.
type Mux struct {
	w    io.WriterAt
	mode Mode

	mu       sync.Mutex
	tracks   []*Track
	writePos int64
	started  bool
	closed   bool

	ftypLen       int64 // size of the ftyp box written at offset 0
	mdatHeaderPos int64 // random-access mode: offset of the 16-byte reserved mdat header gap
	mdatDataStart int64

	comment  string
	sessionID string
	fragSeq  uint32

	logger *slog.Logger
}

// NewMux creates a Mux writing through w in the given mode. It
// immediately writes the ftyp box (and, in random-access mode, a
// placeholder mdat header) so later calls append after it; only the
// random-access Close goes back to overwrite that placeholder.
func NewMux(w io.WriterAt, mode Mode, logger *slog.Logger) (*Mux, error) {
	if w == nil {
		return nil, errors.Wrap(ErrBadArguments, "nil sink")
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mux{
		w:         w,
		mode:      mode,
		logger:    logger,
		sessionID: uuid.NewString(),
	}

	// Fixed 24-byte ftyp: size=0x18, 'ftyp', major_brand='mp42',
	// minor_version=0, compatible_brands=['mp42','isom']. Byte-for-byte
	// minimp4's box_ftyp[] constant.
	ftyp := bitio.NewBuffer(24)
	writeBox(ftyp, "ftyp", func(b *bitio.Buffer) {
		b.Append([]byte("mp42"))
		b.AppendU32(0)
		b.Append([]byte("mp42"))
		b.Append([]byte("isom"))
	})
	if err := m.writeAt(ftyp.Bytes(), 0); err != nil {
		return nil, err
	}
	m.ftypLen = int64(ftyp.Len())
	m.writePos = m.ftypLen

	if mode == ModeRandomAccess {
		// Reserve a fixed 16-byte gap right after ftyp, finalized at
		// Close once the mdat size is known: either an 8-byte free box
		// followed by an 8-byte mdat header, or a 16-byte mdat header
		// using the size==1 largesize form, depending on whether the
		// payload fits in a 32-bit box size.
		m.mdatHeaderPos = m.writePos
		if err := m.writeAt(make([]byte, 16), m.writePos); err != nil {
			return nil, err
		}
		m.mdatDataStart = m.writePos + 16
		m.writePos = m.mdatDataStart
	}

	m.logger.Debug("mp4mux: opened", "mode", mode, "session", m.sessionID)
	return m, nil
}

func (m *Mux) writeAt(p []byte, off int64) error {
	n, err := m.w.WriteAt(p, off)
	if err != nil || n != len(p) {
		return errors.Wrapf(ErrFileWriteError, "at offset %d: %v", off, err)
	}
	return nil
}

// AddTrack registers a new elementary stream and returns its track_ID.
func (m *Mux) AddTrack(cfg TrackConfig) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return 0, errors.Wrap(ErrBadArguments, "cannot add a track after Start")
	}
	t := &Track{id: uint32(len(m.tracks) + 1), cfg: cfg}
	if t.cfg.Language == "" {
		t.cfg.Language = "und"
	}
	m.tracks = append(m.tracks, t)
	return t.id, nil
}

func (m *Mux) track(id uint32) (*Track, error) {
	for _, t := range m.tracks {
		if t.id == id {
			return t, nil
		}
	}
	return nil, errors.Wrapf(ErrUnknownTrack, "id %d", id)
}

func addUnique(list [][]byte, data []byte) [][]byte {
	for _, e := range list {
		if string(e) == string(data) {
			return list
		}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return append(list, cp)
}

// SetVPS appends an HEVC VPS NAL (including its header byte) to the
// track's parameter-set list.
func (m *Mux) SetVPS(trackID uint32, vps []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.track(trackID)
	if err != nil {
		return err
	}
	t.vps = addUnique(t.vps, vps)
	return nil
}

// SetSPS appends an AVC/HEVC SPS NAL (including its header byte).
func (m *Mux) SetSPS(trackID uint32, sps []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.track(trackID)
	if err != nil {
		return err
	}
	t.sps = addUnique(t.sps, sps)
	return nil
}

// SetPPS appends an AVC/HEVC PPS NAL (including its header byte).
func (m *Mux) SetPPS(trackID uint32, pps []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.track(trackID)
	if err != nil {
		return err
	}
	t.pps = addUnique(t.pps, pps)
	return nil
}

// SetDSI sets the audio track's AudioSpecificConfig (decoder-specific
// info). It may be called at most once per track.
func (m *Mux) SetDSI(trackID uint32, dsi []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.track(trackID)
	if err != nil {
		return err
	}
	if t.dsi != nil {
		return ErrOnlyOneDSIAllowed
	}
	t.dsi = append([]byte{}, dsi...)
	return nil
}

// SetTextComment stores a free-text comment, written into
// udta/meta/ilst/©cmt when the moov is finalized.
func (m *Mux) SetTextComment(comment string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comment = comment
	return nil
}

// Start finalizes track configuration and, in fragmented mode, writes
// the init segment (moov with mvex/trex). It is a no-op in the other
// modes, but calling it before the first PutSample is still correct and
// recommended; PutSample calls it automatically if it has not run yet.
func (m *Mux) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.start()
}

func (m *Mux) start() error {
	if m.started {
		return nil
	}
	m.started = true
	if m.mode != ModeFragmented {
		return nil
	}
	buf := bitio.NewBuffer(512)
	m.writeInitMoov(buf, true)
	if err := m.writeAt(buf.Bytes(), m.writePos); err != nil {
		return err
	}
	m.writePos += int64(buf.Len())
	return nil
}

// PutSample appends one access unit to trackID. duration is in the
// track's own timescale units. kind classifies the sample: SampleDefault
// for an ordinary sample, SampleRandomAccess for a sync sample (always
// used for audio), or SampleContinuation when data is an additional
// slice NAL belonging to the access unit of the sample immediately
// preceding it rather than a new sample in its own right. A
// SampleContinuation with no prior sample in the track is an error,
// matching minimp4's MP4E_put_sample.
func (m *Mux) PutSample(trackID uint32, data []byte, duration uint32, kind SampleKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("mp4mux: mux already closed")
	}
	if err := m.start(); err != nil {
		return err
	}
	t, err := m.track(trackID)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.Wrap(ErrBadArguments, "empty sample")
	}

	if kind == SampleContinuation && len(t.samples) == 0 {
		return errors.Wrap(ErrBadArguments, "continuation sample has no preceding sample")
	}

	switch m.mode {
	case ModeRandomAccess:
		off := m.writePos
		if err := m.writeAt(data, off); err != nil {
			return err
		}
		m.writePos += int64(len(data))
		if kind == SampleContinuation {
			t.samples[len(t.samples)-1].size += uint32(len(data))
			return nil
		}
		t.samples = append(t.samples, sampleEntry{offset: off, size: uint32(len(data)), duration: duration, keyframe: kind == SampleRandomAccess})
		return nil
	case ModeSequential:
		t.pending = append(t.pending, data...)
		if kind == SampleContinuation {
			t.samples[len(t.samples)-1].size += uint32(len(data))
			return nil
		}
		t.samples = append(t.samples, sampleEntry{offset: -1, size: uint32(len(data)), duration: duration, keyframe: kind == SampleRandomAccess})
		return nil
	case ModeFragmented:
		return m.writeFragment(t, data, duration, kind)
	default:
		return errors.Wrap(ErrBadArguments, "unknown mode")
	}
}

// FlushTrack writes out a sequential-mode track's pending buffer as its
// own mdat box and records each sample's final chunk offset. It is a
// no-op outside ModeSequential, and is called automatically for every
// track from Close.
func (m *Mux) FlushTrack(trackID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.track(trackID)
	if err != nil {
		return err
	}
	return m.flushTrack(t)
}

func (m *Mux) flushTrack(t *Track) error {
	if m.mode != ModeSequential || len(t.pending) == 0 {
		return nil
	}
	buf := bitio.NewBuffer(len(t.pending) + 8)
	base := m.writePos
	writeBox(buf, "mdat", func(b *bitio.Buffer) {
		b.Append(t.pending)
	})
	if err := m.writeAt(buf.Bytes(), base); err != nil {
		return err
	}
	dataStart := base + 8
	off := dataStart
	for i := range t.samples {
		if t.samples[i].offset == -1 {
			t.samples[i].offset = off
			off += int64(t.samples[i].size)
		}
	}
	m.writePos += int64(buf.Len())
	t.pending = nil
	return nil
}

// Close finalizes the container: in random-access mode, fills in the
// reserved mdat header now that the total payload size is known (free +
// 32-bit mdat, or the 64-bit largesize form above 0xFFFFFFFE bytes),
// then writes moov. In sequential mode, flushes any still-pending track buffers
// first. In fragmented mode, there is nothing left to do; every sample
// was already written as its own fragment.
func (m *Mux) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	if err := m.start(); err != nil {
		return err
	}
	m.closed = true

	switch m.mode {
	case ModeRandomAccess:
		// size spans the whole 16-byte reserved gap plus the sample
		// data written after it, mirroring minimp4_flush_index's
		// "size = write_pos - sizeof(box_ftyp)".
		size := m.writePos - m.ftypLen
		hdr := bitio.NewBuffer(16)
		if size > 0xFFFFFFFE {
			hdr.AppendU32(1) // size==1 signals the 64-bit largesize form follows
			hdr.Append([]byte("mdat"))
			hdr.AppendU64(uint64(size))
		} else {
			hdr.AppendU32(8) // free box: header only, no payload
			hdr.Append([]byte("free"))
			hdr.AppendU32(uint32(size - 8))
			hdr.Append([]byte("mdat"))
		}
		if err := m.writeAt(hdr.Bytes(), m.mdatHeaderPos); err != nil {
			return err
		}
		moov := bitio.NewBuffer(1024)
		m.writeMoov(moov)
		if err := m.writeAt(moov.Bytes(), m.writePos); err != nil {
			return err
		}
		m.writePos += int64(moov.Len())
		return nil
	case ModeSequential:
		for _, t := range m.tracks {
			if err := m.flushTrack(t); err != nil {
				return err
			}
		}
		moov := bitio.NewBuffer(1024)
		m.writeMoov(moov)
		if err := m.writeAt(moov.Bytes(), m.writePos); err != nil {
			return err
		}
		m.writePos += int64(moov.Len())
		return nil
	case ModeFragmented:
		return nil
	default:
		return errors.Wrap(ErrBadArguments, "unknown mode")
	}
}

const (
	// tfhd flags (ISO/IEC 14496-12 §8.8.7.1).
	tfhdDefaultBaseIsMoof     = 0x020000
	tfhdDefaultSampleDuration = 0x000008
	tfhdDefaultSampleFlags    = 0x000020

	// trun flags (ISO/IEC 14496-12 §8.8.8.2).
	trunDataOffsetPresent      = 0x000001
	trunFirstSampleFlagsPresent = 0x000004
	trunSampleDurationPresent = 0x000100
	trunSampleSizePresent     = 0x000200

	videoDefaultSampleFlags uint32 = 0x01010000
	firstSampleFlagsSync    uint32 = 0x02000000
)

// writeFragment writes one moof+mdat pair for a single sample, mirroring
// minimp4's mp4e_write_fragment_header/mp4e_write_mdat_box. Every track
// kind writes its own default-sample-duration (audio, via tfhd) or
// default-sample-flags (video, via tfhd), and a video sync sample's trun
// additionally carries first-sample-flags rather than a per-sample
// flags field, matching mp4e_write_fragment_header's three branches
// (audio / video random-access / everything else).
func (m *Mux) writeFragment(t *Track, data []byte, duration uint32, kind SampleKind) error {
	m.fragSeq++

	moof := bitio.NewBuffer(256)
	var dataOffsetPos int

	writeBox(moof, "moof", func(b *bitio.Buffer) {
		writeFullBox(b, "mfhd", 0, 0, func(b *bitio.Buffer) {
			b.AppendU32(m.fragSeq)
		})
		writeBox(b, "traf", func(b *bitio.Buffer) {
			tfhdFlags := uint32(tfhdDefaultBaseIsMoof)
			if t.isVideo() {
				tfhdFlags |= tfhdDefaultSampleFlags
			} else {
				tfhdFlags |= tfhdDefaultSampleDuration
			}
			writeFullBox(b, "tfhd", 0, tfhdFlags, func(b *bitio.Buffer) {
				b.AppendU32(t.id)
				if t.isVideo() {
					b.AppendU32(videoDefaultSampleFlags)
				} else {
					b.AppendU32(duration)
				}
			})
			writeFullBox(b, "tfdt", 1, 0, func(b *bitio.Buffer) {
				b.AppendU64(t.totalDuration())
			})

			trunFlags := uint32(trunDataOffsetPresent)
			switch {
			case !t.isVideo():
				trunFlags |= trunSampleSizePresent
			case kind == SampleRandomAccess:
				trunFlags |= trunFirstSampleFlagsPresent | trunSampleDurationPresent | trunSampleSizePresent
			default:
				trunFlags |= trunSampleDurationPresent | trunSampleSizePresent
			}
			writeFullBox(b, "trun", 0, trunFlags, func(b *bitio.Buffer) {
				b.AppendU32(1) // sample_count
				dataOffsetPos = b.Len()
				b.AppendU32(0) // data_offset, patched below
				if t.isVideo() && kind == SampleRandomAccess {
					b.AppendU32(firstSampleFlagsSync)
				}
				if t.isVideo() {
					b.AppendU32(duration)
				}
				b.AppendU32(uint32(len(data)))
			})
		})
	})
	moof.PatchU32(dataOffsetPos, uint32(moof.Len()+8))

	out := bitio.NewBuffer(moof.Len() + 8 + len(data))
	out.Append(moof.Bytes())
	off := m.writePos + int64(out.Len()) + 8
	writeBox(out, "mdat", func(b *bitio.Buffer) {
		b.Append(data)
	})

	if err := m.writeAt(out.Bytes(), m.writePos); err != nil {
		return err
	}
	t.samples = append(t.samples, sampleEntry{offset: off, size: uint32(len(data)), duration: duration, keyframe: kind == SampleRandomAccess})
	m.writePos += int64(out.Len())
	return nil
}
