// Package mp4demux parses ISO Base Media File Format (ISO/IEC 14496-12)
// containers produced by mp4mux (or any compliant muxer) back into
// per-track sample tables and parameter sets, and resolves individual
// samples to byte ranges in the original file. It is the Go counterpart
// of minimp4's MP4D_* API: a depth-first box walk dispatching into a
// small set of per-box-type extractors, the same structure as
// minimp4.c's MP4D_open / g_fullbox[] / g_envelope_box[] tables.
package mp4demux

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ErrMalformedBox is returned when a box's declared size doesn't fit
// within its parent, or a required field is missing.
var ErrMalformedBox = errors.New("mp4demux: malformed box")

// maxDepth bounds box nesting to guard against malformed or adversarial
// input looping the parser forever.
const maxDepth = 64

type boxHeader struct {
	boxType   string
	headerLen int64
	dataLen   int64 // size of the box's content, excluding the header
}

// readBoxHeader reads one box header at off. size==1 triggers the
// 64-bit largesize form; size==0 means "extends to end of file", which
// the caller resolves against the enclosing range.
func readBoxHeader(r io.ReaderAt, off, remaining int64) (boxHeader, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], off); err != nil {
		return boxHeader{}, errors.Wrap(err, "mp4demux: reading box header")
	}
	size := int64(binary.BigEndian.Uint32(hdr[0:4]))
	boxType := string(hdr[4:8])
	headerLen := int64(8)

	switch size {
	case 1:
		var large [8]byte
		if _, err := r.ReadAt(large[:], off+8); err != nil {
			return boxHeader{}, errors.Wrap(err, "mp4demux: reading largesize")
		}
		size = int64(binary.BigEndian.Uint64(large[:]))
		headerLen = 16
	case 0:
		size = remaining
	}
	if size < headerLen || size > remaining {
		return boxHeader{}, errors.Wrapf(ErrMalformedBox, "box %q size %d exceeds remaining %d", boxType, size, remaining)
	}
	return boxHeader{boxType: boxType, headerLen: headerLen, dataLen: size - headerLen}, nil
}

// readFullBoxHeader reads the 1-byte version + 3-byte flags that begins
// every FullBox's content and returns the remaining content bytes.
func readFullBoxHeader(content []byte) (version byte, flags uint32, rest []byte, err error) {
	if len(content) < 4 {
		return 0, 0, nil, errors.Wrap(ErrMalformedBox, "full box header truncated")
	}
	version = content[0]
	flags = uint32(content[1])<<16 | uint32(content[2])<<8 | uint32(content[3])
	return version, flags, content[4:], nil
}

// envelopeBoxes are containers whose content is itself a sequence of
// child boxes. moof is deliberately absent, matching minimp4's
// g_envelope_box[] table: this demuxer reads the progressive/random-
// access moov sample tables, not fragmented-file moof/traf runs.
var envelopeBoxes = map[string]bool{
	"moov": true,
	"trak": true,
	"mdia": true,
	"minf": true,
	"dinf": true,
	"stbl": true,
	"udta": true,
	"ilst": true,
	"edts": true,
	"\xa9cmt": true,
}

func isEnvelope(boxType string) bool { return envelopeBoxes[boxType] }
