package h26x

import (
	"encoding/binary"

	"github.com/babelcloud/gomp4/annexb"
	"github.com/babelcloud/gomp4/bitio"
	"github.com/pkg/errors"
)

// SampleKind classifies what WriteNAL produced, mirroring minimp4's
// MP4E_SAMPLE_* values (MP4E_SAMPLE_DEFAULT/RANDOM_ACCESS/CONTINUATION).
type SampleKind int

const (
	SampleDefault SampleKind = iota
	SampleRandomAccess
	SampleContinuation
)

// ErrMissingParameterSets is returned when a VCL NAL arrives before the
// parameter sets (and, for AVC, the IDR) it depends on have been seen,
// mirroring minimp4's MP4E_STATUS_BAD_ARGUMENTS gate in
// mp4_h26x_write_nal/mp4_h265_write_nal.
var ErrMissingParameterSets = errors.New("h26x: VCL NAL before required parameter sets")

// HEVC NAL types minimp4 treats as random access points for
// mp4_h265_write_nal's is_intra check: BLA_W_LP (16) through CRA_NUT
// (21). The reserved IRAP types 22 and 23 are not included.
const (
	hevcRandomAccessMin = 16
	hevcRandomAccessMax = 21
)

// Writer converts an Annex-B NAL stream into the length-prefixed sample
// form MP4 stores in mdat, and accumulates the distinct SPS/PPS (and, for
// HEVC, VPS) seen so far for use when building avcC/hvcC descriptors.
// This is the Go counterpart of minimp4's mp4_h26x_write_init/
// mp4_h26x_write_nal/mp4_h26x_write_close, split into an idiomatic
// struct with explicit methods instead of a stateful write callback.
//
// It also reproduces minimp4's need_vps/need_sps/need_pps/need_idr gate:
// VCL NALs are refused or silently dropped until the parameter sets (and,
// for AVC, an IDR) they depend on have been cached, and AVC slice NALs
// are classified DEFAULT/RANDOM_ACCESS/CONTINUATION from
// first_mb_in_slice and the NAL type.
type Writer struct {
	codec        annexb.Codec
	transcodeIDs bool

	vps *ParameterSetCache // HEVC only
	sps *ParameterSetCache
	pps *ParameterSetCache

	spsIDMap map[uint32]uint32 // declared SPS id -> dense id, last-writer-wins
	ppsIDMap map[uint32]uint32 // declared PPS id -> dense id, last-writer-wins

	spsSeen map[string]struct{} // original (pre-patch) SPS bytes already cached
	ppsSeen map[string]struct{} // original (pre-patch) PPS bytes already cached

	needVPS bool // HEVC only
	needSPS bool
	needPPS bool
	needIDR bool
}

// NewWriter creates an adapter for the given codec. When transcodeIDs is
// true, SPS/PPS ids (and the references to them in PPS and slice
// headers) are rewritten to the cache's dense index, so that streams
// concatenated from multiple encoders with colliding ids can still be
// muxed into one track; see spec design note on SPS-id transcoding.
func NewWriter(codec annexb.Codec, transcodeIDs bool) *Writer {
	w := &Writer{
		codec:        codec,
		sps:          NewSPSCache(),
		pps:          NewPPSCache(),
		spsIDMap:     make(map[uint32]uint32),
		ppsIDMap:     make(map[uint32]uint32),
		spsSeen:      make(map[string]struct{}),
		ppsSeen:      make(map[string]struct{}),
		needSPS:      true,
		needPPS:      true,
		needIDR:      true,
	}
	if codec == annexb.CodecHEVC {
		w.vps = NewSPSCache()
		w.needVPS = true
	}
	return w
}

// SPS returns the nth cached SPS (post-transcode) payload, including its
// NAL header byte, or nil if out of range.
func (w *Writer) SPS(n int) []byte { return w.get(w.sps, n) }

// PPS returns the nth cached PPS payload, including its NAL header byte.
func (w *Writer) PPS(n int) []byte { return w.get(w.pps, n) }

// VPS returns the nth cached VPS payload (HEVC only).
func (w *Writer) VPS(n int) []byte {
	if w.vps == nil {
		return nil
	}
	return w.get(w.vps, n)
}

func (w *Writer) get(c *ParameterSetCache, n int) []byte {
	es := c.Entries()
	if n < 0 || n >= len(es) {
		return nil
	}
	return es[n]
}

func (w *Writer) NumSPS() int { return w.sps.Len() }
func (w *Writer) NumPPS() int { return w.pps.Len() }
func (w *Writer) NumVPS() int {
	if w.vps == nil {
		return 0
	}
	return w.vps.Len()
}

// WriteNAL consumes one Annex-B NAL unit. Parameter sets (VPS/SPS/PPS)
// are cached and do not produce a sample (nil data, SampleDefault, nil
// error). A VCL NAL arriving before the parameter sets (and, for AVC, an
// IDR) it depends on are available either fails with
// ErrMissingParameterSets or is silently dropped (nil data, no error),
// exactly as minimp4_h26x_write_nal/mp4_h265_write_nal do. AVC access
// unit delimiters are always skipped (nil data, no error). Once ready,
// every other NAL is returned as a single 4-byte-length-prefixed MP4
// sample fragment together with its SampleKind, with slice headers
// patched to reference the (possibly renumbered) PPS id when
// transcoding is enabled.
func (w *Writer) WriteNAL(nal annexb.NAL) ([]byte, SampleKind, error) {
	data := nal.Payload
	if len(data) == 0 {
		return nil, SampleDefault, nil
	}
	headerLen := 1
	if w.codec == annexb.CodecHEVC {
		headerLen = 2
	}
	if len(data) < headerLen {
		return nil, SampleDefault, errors.New("h26x: NAL unit shorter than its header")
	}

	t := nal.Type(w.codec)
	if w.codec == annexb.CodecHEVC {
		return w.writeHEVCNAL(data, t, headerLen)
	}
	return w.writeAVCNAL(data, t, headerLen)
}

func (w *Writer) writeHEVCNAL(data []byte, t, headerLen int) ([]byte, SampleKind, error) {
	isIntra := t >= hevcRandomAccessMin && t <= hevcRandomAccessMax
	if isIntra && !w.needSPS && !w.needPPS && !w.needVPS {
		w.needIDR = false
	}

	switch t {
	case annexb.HEVCTypeVPS:
		_, _, err := w.vps.Add(data)
		w.needVPS = false
		return nil, SampleDefault, err
	case annexb.HEVCTypeSPS:
		if err := w.handleParamSet(t, data, headerLen); err != nil {
			return nil, SampleDefault, err
		}
		w.needSPS = false
		return nil, SampleDefault, nil
	case annexb.HEVCTypePPS:
		if err := w.handleParamSet(t, data, headerLen); err != nil {
			return nil, SampleDefault, err
		}
		w.needPPS = false
		return nil, SampleDefault, nil
	default:
		if w.needVPS || w.needSPS || w.needPPS || w.needIDR {
			return nil, SampleDefault, ErrMissingParameterSets
		}
		kind := SampleDefault
		if isIntra {
			kind = SampleRandomAccess
		}
		return lengthPrefix(data, headerLen), kind, nil
	}
}

func (w *Writer) writeAVCNAL(data []byte, t, headerLen int) ([]byte, SampleKind, error) {
	if t == annexb.AVCTypeAUD {
		return nil, SampleDefault, nil // access unit delimiter: nothing to be done
	}

	switch t {
	case annexb.AVCTypeSPS:
		if err := w.handleParamSet(t, data, headerLen); err != nil {
			return nil, SampleDefault, err
		}
		w.needSPS = false
		return nil, SampleDefault, nil
	case annexb.AVCTypePPS:
		if w.needSPS {
			return nil, SampleDefault, ErrMissingParameterSets
		}
		if err := w.handleParamSet(t, data, headerLen); err != nil {
			return nil, SampleDefault, err
		}
		w.needPPS = false
		return nil, SampleDefault, nil
	default:
		if w.needSPS {
			return nil, SampleDefault, ErrMissingParameterSets
		}
		if t == annexb.AVCTypeIDR {
			w.needIDR = false
		}
		if w.needPPS || w.needIDR {
			return nil, SampleDefault, nil // not yet ready; dropped, not an error
		}
		return w.emitAVCSample(data, t, headerLen)
	}
}

// emitAVCSample builds the length-prefixed sample for an AVC NAL that has
// passed the need_* gate, classifying slice NALs by first_mb_in_slice
// and NAL type: nonzero first_mb_in_slice means the slice continues the
// previous access unit (SampleContinuation); otherwise an IDR slice
// (type 5) is SampleRandomAccess and everything else is SampleDefault.
func (w *Writer) emitAVCSample(data []byte, t, headerLen int) ([]byte, SampleKind, error) {
	body := data[headerLen:]
	if w.transcodeIDs && isSliceNAL(t) {
		rbsp := bitio.StripEmulation(body)
		oldPPSID, err := ReadSlicePPSID(rbsp)
		if err == nil {
			if newID, ok := w.ppsIDMap[oldPPSID]; ok && newID != oldPPSID {
				patched, perr := PatchSliceSPSOrPPSRef(rbsp, newID)
				if perr == nil {
					body = bitio.InsertEmulation(patched)
				}
			}
		}
	}

	kind := SampleDefault
	if isSliceNAL(t) {
		rbsp := bitio.StripEmulation(body)
		if firstMB, err := FirstMBInSlice(rbsp); err == nil && firstMB != 0 {
			kind = SampleContinuation
		} else if t == annexb.AVCTypeIDR {
			kind = SampleRandomAccess
		}
	}

	out := make([]byte, 4+headerLen+len(body))
	binary.BigEndian.PutUint32(out, uint32(headerLen+len(body)))
	copy(out[4:], data[:headerLen])
	copy(out[4+headerLen:], body)
	return out, kind, nil
}

func lengthPrefix(data []byte, headerLen int) []byte {
	out := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(out, uint32(len(data)))
	copy(out[4:], data)
	return out
}

func isSliceNAL(t int) bool {
	switch t {
	case annexb.AVCTypeSlice, annexb.AVCTypeSliceDPA, annexb.AVCTypeSliceDPB, annexb.AVCTypeSliceDPC, annexb.AVCTypeIDR:
		return true
	}
	return false
}

// handleParamSet caches an SPS or PPS NAL, transcoding its id (and, for
// PPS, the SPS id it refers to) when the writer was created with
// transcodeIDs and the id has not been seen before.
func (w *Writer) handleParamSet(nalType int, data []byte, headerLen int) error {
	header := data[:headerLen]
	body := data[headerLen:]
	rbsp := bitio.StripEmulation(body)

	isSPS := nalType == annexb.AVCTypeSPS || nalType == annexb.HEVCTypeSPS
	if !w.transcodeIDs || w.codec != annexb.CodecAVC {
		cache := w.pps
		if isSPS {
			cache = w.sps
		}
		_, _, err := cache.Add(data)
		return err
	}

	key := string(data)

	if isSPS {
		if _, ok := w.spsSeen[key]; ok {
			return nil // identical SPS already cached; spsIDMap already points at it
		}
		oldID, err := ReadSPSID(rbsp)
		if err != nil {
			return errors.Wrap(err, "h26x: parsing SPS id")
		}
		newID := uint32(w.sps.Len())
		patchedRBSP, err := PatchSPSID(rbsp, newID)
		if err != nil {
			return errors.Wrap(err, "h26x: patching SPS id")
		}
		full := append(append([]byte{}, header...), bitio.InsertEmulation(patchedRBSP)...)
		if _, _, err := w.sps.Add(full); err != nil {
			return err
		}
		w.spsSeen[key] = struct{}{}
		w.spsIDMap[oldID] = newID // last-writer-wins: a later PPS referencing oldID means this SPS
		return nil
	}

	if _, ok := w.ppsSeen[key]; ok {
		return nil
	}
	oldPPSID, oldSPSID, err := ReadPPSIDs(rbsp)
	if err != nil {
		return errors.Wrap(err, "h26x: parsing PPS ids")
	}
	newSPSID, ok := w.spsIDMap[oldSPSID]
	if !ok {
		newSPSID = oldSPSID
	}
	newPPSID := uint32(w.pps.Len())
	patchedRBSP, err := PatchPPSIDs(rbsp, newPPSID, newSPSID)
	if err != nil {
		return errors.Wrap(err, "h26x: patching PPS ids")
	}
	full := append(append([]byte{}, header...), bitio.InsertEmulation(patchedRBSP)...)
	if _, _, err := w.pps.Add(full); err != nil {
		return err
	}
	w.ppsSeen[key] = struct{}{}
	w.ppsIDMap[oldPPSID] = newPPSID
	return nil
}
