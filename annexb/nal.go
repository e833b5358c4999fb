// Package annexb scans Annex-B byte streams (sequences of NAL units
// separated by 00 00 01 / 00 00 00 01 start codes) and classifies NAL
// unit types for both H.264 (AVC) and H.265 (HEVC).
package annexb

import "bytes"

// Codec identifies which NAL unit type space a stream uses.
type Codec int

const (
	CodecAVC Codec = iota
	CodecHEVC
)

// AVC (H.264) NAL unit types, per ITU-T H.264 Table 7-1.
const (
	AVCTypeSlice       = 1
	AVCTypeSliceDPA    = 2
	AVCTypeSliceDPB    = 3
	AVCTypeSliceDPC    = 4
	AVCTypeIDR         = 5
	AVCTypeSEI         = 6
	AVCTypeSPS         = 7
	AVCTypePPS         = 8
	AVCTypeAUD         = 9
	AVCTypeEndSeq      = 10
	AVCTypeEndStream   = 11
	AVCTypeFiller      = 12
	AVCTypeSPSExt      = 13
)

// HEVC (H.265) NAL unit types, per ITU-T H.265 Table 7-1.
const (
	HEVCTypeVPS  = 32
	HEVCTypeSPS  = 33
	HEVCTypePPS  = 34
	HEVCTypeAUD  = 35
	HEVCTypeSEIPrefix = 39
	HEVCTypeSEISuffix = 40
)

// NAL is a single NAL unit as found in an Annex-B stream: Payload
// includes the leading NAL header byte(s), with emulation-prevention
// bytes still in place (callers needing RBSP must strip them via
// bitio.StripEmulation).
type NAL struct {
	Payload []byte
}

// Type returns the NAL unit type for the given codec.
func (n NAL) Type(codec Codec) int {
	if len(n.Payload) == 0 {
		return -1
	}
	if codec == CodecHEVC {
		return int((n.Payload[0] >> 1) & 0x3F)
	}
	return int(n.Payload[0] & 0x1F)
}

// IsKeyFrame reports whether the NAL unit carries (or belongs to) an
// intra-coded access unit: an AVC IDR slice, or an HEVC slice NAL unit
// whose type falls in the IRAP range (16-23).
func (n NAL) IsKeyFrame(codec Codec) bool {
	t := n.Type(codec)
	if codec == CodecHEVC {
		return t >= 16 && t <= 23
	}
	return t == AVCTypeIDR
}

// IsParameterSet reports whether the NAL unit is a VPS/SPS/PPS.
func (n NAL) IsParameterSet(codec Codec) bool {
	t := n.Type(codec)
	if codec == CodecHEVC {
		return t == HEVCTypeVPS || t == HEVCTypeSPS || t == HEVCTypePPS
	}
	return t == AVCTypeSPS || t == AVCTypePPS
}

// FindStartCode returns the offset and length (3 or 4) of the first
// Annex-B start code in data at or after 'from', or (-1, 0) if none is
// found.
func FindStartCode(data []byte, from int) (int, int) {
	if from < 0 {
		from = 0
	}
	idx := bytes.Index(data[from:], []byte{0x00, 0x00, 0x01})
	if idx < 0 {
		return -1, 0
	}
	pos := from + idx
	if pos > from && data[pos-1] == 0x00 {
		return pos - 1, 4
	}
	return pos, 3
}

// Split splits an Annex-B byte stream into its constituent NAL units,
// stripping start codes and any trailing zero padding between units.
func Split(data []byte) []NAL {
	var nals []NAL
	pos, scLen := FindStartCode(data, 0)
	if pos < 0 {
		return nil
	}
	for {
		start := pos + scLen
		nextPos, nextLen := FindStartCode(data, start)
		var payload []byte
		if nextPos < 0 {
			payload = data[start:]
		} else {
			payload = data[start:nextPos]
		}
		payload = trimTrailingZeros(payload)
		if len(payload) > 0 {
			nals = append(nals, NAL{Payload: payload})
		}
		if nextPos < 0 {
			break
		}
		pos, scLen = nextPos, nextLen
	}
	return nals
}

func trimTrailingZeros(p []byte) []byte {
	end := len(p)
	for end > 0 && p[end-1] == 0x00 {
		end--
	}
	return p[:end]
}
