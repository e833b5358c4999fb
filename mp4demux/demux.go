package mp4demux

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Demux holds the parsed moov of one ISO-BMFF file: every track's
// sample description and sample table, ready for FrameOffset lookups
// against the same io.ReaderAt that was opened.
type Demux struct {
	r       io.ReaderAt
	Tracks  []*Track
	Comment string
}

type parseCtx struct {
	demux   *Demux
	track   *Track
	depth   int
}

// Open reads and parses an ISO-BMFF file's box tree down through moov,
// returning a Demux ready for FrameOffset queries. mdat/free/skip boxes
// are skipped without being read into memory; only moov (and its
// descendants, including a udta/meta comment inside moov) is
// materialized. A udta or meta box outside moov is skipped.
func Open(r io.ReaderAt) (*Demux, error) {
	size, err := fileSize(r)
	if err != nil {
		return nil, err
	}
	d := &Demux{r: r}
	ctx := &parseCtx{demux: d}

	var off int64
	foundMoov := false
	for off < size {
		hdr, err := readBoxHeader(r, off, size-off)
		if err != nil {
			return nil, err
		}
		if hdr.boxType == "moov" {
			foundMoov = true
			content, err := readAll(r, off+hdr.headerLen, hdr.dataLen)
			if err != nil {
				return nil, err
			}
			if err := ctx.walkChildren(content, off+hdr.headerLen); err != nil {
				return nil, err
			}
		}
		off += hdr.headerLen + hdr.dataLen
	}
	if !foundMoov {
		return nil, ErrNoMoov
	}
	return d, nil
}

func fileSize(r io.ReaderAt) (int64, error) {
	if s, ok := r.(interface{ Len() int }); ok {
		return int64(s.Len()), nil
	}
	// Fall back to a doubling probe against ReadAt, since io.ReaderAt
	// has no portable way to ask for total length.
	var lo, hi int64 = 0, 4096
	var buf [1]byte
	for {
		_, err := r.ReadAt(buf[:], hi-1)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.Wrap(err, "mp4demux: probing file size")
		}
		lo = hi
		hi *= 2
	}
	for lo < hi {
		mid := (lo + hi + 1) / 2
		_, err := r.ReadAt(buf[:], mid-1)
		if err == io.EOF {
			hi = mid - 1
		} else if err == nil {
			lo = mid
		} else {
			return 0, errors.Wrap(err, "mp4demux: probing file size")
		}
	}
	return lo, nil
}

func readAll(r io.ReaderAt, off, n int64) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(&sectionReader{r: r, off: off}, buf); err != nil {
		return nil, errors.Wrap(err, "mp4demux: reading box content")
	}
	return buf, nil
}

// sectionReader adapts an io.ReaderAt window to io.Reader without
// pulling in io.NewSectionReader's int64-length-vs-EOF subtleties we
// don't need here.
type sectionReader struct {
	r   io.ReaderAt
	off int64
}

func (s *sectionReader) Read(p []byte) (int, error) {
	n, err := s.r.ReadAt(p, s.off)
	s.off += int64(n)
	return n, err
}

// walkChildren parses a sequence of sibling boxes already materialized
// into content (used for every envelope box: moov and everything under
// it), dispatching each to handleLeaf or recursing for nested envelopes.
func (ctx *parseCtx) walkChildren(content []byte, baseOffset int64) error {
	if ctx.depth > maxDepth {
		return errors.Wrap(ErrMalformedBox, "box nesting too deep")
	}
	pos := int64(0)
	for pos < int64(len(content)) {
		if len(content)-int(pos) < 8 {
			break
		}
		size := int64(binary.BigEndian.Uint32(content[pos : pos+4]))
		boxType := string(content[pos+4 : pos+8])
		headerLen := int64(8)
		if size == 1 {
			if len(content)-int(pos) < 16 {
				return errors.Wrap(ErrMalformedBox, "largesize truncated")
			}
			size = int64(binary.BigEndian.Uint64(content[pos+8 : pos+16]))
			headerLen = 16
		} else if size == 0 {
			size = int64(len(content)) - pos
		}
		if size < headerLen || pos+size > int64(len(content)) {
			return errors.Wrapf(ErrMalformedBox, "child box %q size %d invalid", boxType, size)
		}
		childContent := content[pos+headerLen : pos+size]

		if err := ctx.handleBox(boxType, childContent, baseOffset+pos+headerLen); err != nil {
			return err
		}
		pos += size
	}
	return nil
}

func (ctx *parseCtx) handleBox(boxType string, content []byte, contentOffset int64) error {
	if boxType == "meta" {
		return ctx.handleMeta(content, contentOffset)
	}
	if boxType == "trak" {
		track := &Track{}
		child := &parseCtx{demux: ctx.demux, track: track, depth: ctx.depth + 1}
		if err := child.walkChildren(content, contentOffset); err != nil {
			return err
		}
		ctx.demux.Tracks = append(ctx.demux.Tracks, track)
		return nil
	}
	if isEnvelope(boxType) {
		child := &parseCtx{demux: ctx.demux, track: ctx.track, depth: ctx.depth + 1}
		return child.walkChildren(content, contentOffset)
	}
	return ctx.handleLeaf(boxType, content)
}

// handleMeta copes with the "bad meta" compatibility quirk some
// encoders produce: meta is defined as a FullBox, but files exist in
// the wild that write it as a plain box with no version/flags prefix.
// We detect this by checking whether the first 8 bytes already look
// like a valid child box header (a 4-byte size that fits within the
// remaining content, followed by a printable 4-character type).
func (ctx *parseCtx) handleMeta(content []byte, contentOffset int64) error {
	body := content
	if !looksLikeBoxHeader(content) && len(content) >= 4 {
		// content does not already start with a plausible child box
		// header, so treat it as a FullBox with a version/flags prefix.
		body = content[4:]
		contentOffset += 4
	}
	child := &parseCtx{demux: ctx.demux, track: ctx.track, depth: ctx.depth + 1}
	return child.walkChildren(body, contentOffset)
}

func looksLikeBoxHeader(p []byte) bool {
	if len(p) < 8 {
		return false
	}
	size := binary.BigEndian.Uint32(p[0:4])
	if size < 8 || int(size) > len(p) {
		return false
	}
	for _, c := range p[4:8] {
		if c < 0x20 || c > 0x7E {
			return false
		}
	}
	return true
}

func (ctx *parseCtx) handleLeaf(boxType string, content []byte) error {
	switch boxType {
	case "tkhd":
		return ctx.parseTKHD(content)
	case "mdhd":
		return ctx.parseMDHD(content)
	case "hdlr":
		return ctx.parseHDLR(content)
	case "stsd":
		return ctx.parseSTSD(content)
	case "stts":
		return ctx.parseSTTS(content)
	case "stsz":
		return ctx.parseSTSZ(content)
	case "stsc":
		return ctx.parseSTSC(content)
	case "stco":
		return ctx.parseSTCO(content, false)
	case "co64":
		return ctx.parseSTCO(content, true)
	case "stss":
		return ctx.parseSTSS(content)
	case "\xa9cmt", "data":
		return ctx.parseComment(boxType, content)
	default:
		return nil // box not relevant to sample-table resolution
	}
}

func (ctx *parseCtx) parseTKHD(content []byte) error {
	version, _, rest, err := readFullBoxHeader(content)
	if err != nil || ctx.track == nil {
		return err
	}
	wide := version == 1
	idOff := 8
	if wide {
		idOff = 16
	}
	if idOff+4 > len(rest) {
		return errors.Wrap(ErrMalformedBox, "tkhd truncated")
	}
	ctx.track.ID = binary.BigEndian.Uint32(rest[idOff : idOff+4])

	// width/height are the last two 4-byte 16.16 fixed-point fields.
	if len(rest) >= 8 {
		w := binary.BigEndian.Uint32(rest[len(rest)-8 : len(rest)-4])
		h := binary.BigEndian.Uint32(rest[len(rest)-4:])
		ctx.track.Width = uint16(w >> 16)
		ctx.track.Height = uint16(h >> 16)
	}
	return nil
}

func (ctx *parseCtx) parseMDHD(content []byte) error {
	_, _, rest, err := readFullBoxHeader(content)
	if err != nil || ctx.track == nil {
		return err
	}
	if len(rest) < 12 {
		return errors.Wrap(ErrMalformedBox, "mdhd truncated")
	}
	ctx.track.Timescale = binary.BigEndian.Uint32(rest[8:12])
	if len(rest) >= 16 {
		ctx.track.Duration = uint64(binary.BigEndian.Uint32(rest[12:16]))
	}
	return nil
}

func (ctx *parseCtx) parseHDLR(content []byte) error {
	_, _, rest, err := readFullBoxHeader(content)
	if err != nil || ctx.track == nil {
		return err
	}
	if len(rest) < 8 {
		return errors.Wrap(ErrMalformedBox, "hdlr truncated")
	}
	ctx.track.Kind = string(rest[4:8])
	return nil
}

func (ctx *parseCtx) parseSTSD(content []byte) error {
	_, _, rest, err := readFullBoxHeader(content)
	if err != nil || ctx.track == nil {
		return err
	}
	if len(rest) < 8 {
		return errors.Wrap(ErrMalformedBox, "stsd truncated")
	}
	entrySize := int64(binary.BigEndian.Uint32(rest[4:8]))
	fourcc := string(rest[8:12])
	ctx.track.FourCC = fourcc
	if entrySize < 8 {
		return errors.Wrap(ErrMalformedBox, "stsd entry size too small")
	}
	contentLen := entrySize - 8 // entrySize covers its own size(4)+type(4) header
	entry := rest[12:]
	if int64(len(entry)) < contentLen {
		contentLen = int64(len(entry))
	}
	entry = entry[:contentLen]

	switch fourcc {
	case "avc1", "avc3":
		return ctx.parseVisualSampleEntry(entry, "avcC")
	case "hev1", "hvc1":
		return ctx.parseVisualSampleEntry(entry, "hvcC")
	case "mp4a":
		return ctx.parseAudioSampleEntry(entry)
	}
	return nil
}

func (ctx *parseCtx) parseVisualSampleEntry(entry []byte, configBox string) error {
	if len(entry) < 78 {
		return nil
	}
	ctx.track.Width = binary.BigEndian.Uint16(entry[24:26])
	ctx.track.Height = binary.BigEndian.Uint16(entry[26:28])

	box, err := findChildBox(entry[78:], configBox)
	if err != nil || box == nil {
		return err
	}
	if configBox == "avcC" {
		vps, sps, pps, perr := hackAVCCAsHVCC(box)
		_ = vps
		if perr != nil {
			return perr
		}
		ctx.track.SPS, ctx.track.PPS = sps, pps
		return nil
	}
	vps, sps, pps, err := parseHVCC(box)
	if err != nil {
		return err
	}
	ctx.track.VPS, ctx.track.SPS, ctx.track.PPS = vps, sps, pps
	return nil
}

// hackAVCCAsHVCC exists only to give parseVisualSampleEntry one call
// shape for both codecs; it simply forwards to parseAVCC.
func hackAVCCAsHVCC(box []byte) (vps, sps, pps [][]byte, err error) {
	sps, pps, err = parseAVCC(box)
	return nil, sps, pps, err
}

func (ctx *parseCtx) parseAudioSampleEntry(entry []byte) error {
	if len(entry) < 28 {
		return nil
	}
	ctx.track.Channels = binary.BigEndian.Uint16(entry[16:18])
	ctx.track.SampleRate = binary.BigEndian.Uint32(entry[24:28]) >> 16

	box, err := findChildBox(entry[28:], "esds")
	if err != nil || box == nil {
		return err
	}
	_, _, rest, err := readFullBoxHeader(box)
	if err != nil {
		return err
	}
	dsi, err := extractDSI(rest)
	if err != nil {
		return err
	}
	ctx.track.DSI = dsi
	return nil
}

// findChildBox scans a flat sequence of boxes (the tail of a sample
// entry, after its fixed-size fields) for the first box of the given
// type and returns its content.
func findChildBox(data []byte, want string) ([]byte, error) {
	pos := 0
	for pos+8 <= len(data) {
		size := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		boxType := string(data[pos+4 : pos+8])
		if size < 8 || pos+size > len(data) {
			return nil, nil
		}
		if boxType == want {
			return data[pos+8 : pos+size], nil
		}
		pos += size
	}
	return nil, nil
}

func (ctx *parseCtx) parseSTTS(content []byte) error {
	_, _, rest, err := readFullBoxHeader(content)
	if err != nil || ctx.track == nil {
		return err
	}
	if len(rest) < 4 {
		return errors.Wrap(ErrMalformedBox, "stts truncated")
	}
	count := binary.BigEndian.Uint32(rest[0:4])
	pos := 4
	var durations []uint32
	for i := uint32(0); i < count; i++ {
		if pos+8 > len(rest) {
			return errors.Wrap(ErrMalformedBox, "stts entry truncated")
		}
		sampleCount := binary.BigEndian.Uint32(rest[pos : pos+4])
		delta := binary.BigEndian.Uint32(rest[pos+4 : pos+8])
		for j := uint32(0); j < sampleCount; j++ {
			durations = append(durations, delta)
		}
		pos += 8
	}
	ctx.track.sampleDurations = durations
	return nil
}

func (ctx *parseCtx) parseSTSZ(content []byte) error {
	_, _, rest, err := readFullBoxHeader(content)
	if err != nil || ctx.track == nil {
		return err
	}
	if len(rest) < 8 {
		return errors.Wrap(ErrMalformedBox, "stsz truncated")
	}
	sampleSize := binary.BigEndian.Uint32(rest[0:4])
	count := binary.BigEndian.Uint32(rest[4:8])
	sizes := make([]uint32, count)
	if sampleSize != 0 {
		for i := range sizes {
			sizes[i] = sampleSize
		}
		ctx.track.sampleSizes = sizes
		return nil
	}
	pos := 8
	for i := uint32(0); i < count; i++ {
		if pos+4 > len(rest) {
			return errors.Wrap(ErrMalformedBox, "stsz entry truncated")
		}
		sizes[i] = binary.BigEndian.Uint32(rest[pos : pos+4])
		pos += 4
	}
	ctx.track.sampleSizes = sizes
	return nil
}

func (ctx *parseCtx) parseSTSC(content []byte) error {
	_, _, rest, err := readFullBoxHeader(content)
	if err != nil || ctx.track == nil {
		return err
	}
	if len(rest) < 4 {
		return errors.Wrap(ErrMalformedBox, "stsc truncated")
	}
	count := binary.BigEndian.Uint32(rest[0:4])
	pos := 4
	entries := make([]stscEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if pos+12 > len(rest) {
			return errors.Wrap(ErrMalformedBox, "stsc entry truncated")
		}
		entries = append(entries, stscEntry{
			firstChunk:      binary.BigEndian.Uint32(rest[pos : pos+4]),
			samplesPerChunk: binary.BigEndian.Uint32(rest[pos+4 : pos+8]),
		})
		pos += 12
	}
	ctx.track.stsc = entries
	return nil
}

func (ctx *parseCtx) parseSTCO(content []byte, wide bool) error {
	_, _, rest, err := readFullBoxHeader(content)
	if err != nil || ctx.track == nil {
		return err
	}
	if len(rest) < 4 {
		return errors.Wrap(ErrMalformedBox, "stco/co64 truncated")
	}
	count := binary.BigEndian.Uint32(rest[0:4])
	pos := 4
	offsets := make([]int64, count)
	for i := uint32(0); i < count; i++ {
		if wide {
			if pos+8 > len(rest) {
				return errors.Wrap(ErrMalformedBox, "co64 entry truncated")
			}
			offsets[i] = int64(binary.BigEndian.Uint64(rest[pos : pos+8]))
			pos += 8
		} else {
			if pos+4 > len(rest) {
				return errors.Wrap(ErrMalformedBox, "stco entry truncated")
			}
			offsets[i] = int64(binary.BigEndian.Uint32(rest[pos : pos+4]))
			pos += 4
		}
	}
	ctx.track.chunkOffsets = offsets
	return nil
}

func (ctx *parseCtx) parseSTSS(content []byte) error {
	_, _, rest, err := readFullBoxHeader(content)
	if err != nil || ctx.track == nil {
		return err
	}
	if len(rest) < 4 {
		return errors.Wrap(ErrMalformedBox, "stss truncated")
	}
	count := binary.BigEndian.Uint32(rest[0:4])
	pos := 4
	set := make(map[uint32]bool, count)
	for i := uint32(0); i < count; i++ {
		if pos+4 > len(rest) {
			return errors.Wrap(ErrMalformedBox, "stss entry truncated")
		}
		set[binary.BigEndian.Uint32(rest[pos:pos+4])] = true
		pos += 4
	}
	ctx.track.syncSamples = set
	return nil
}

func (ctx *parseCtx) parseComment(boxType string, content []byte) error {
	if boxType != "data" || len(content) < 8 {
		return nil
	}
	ctx.demux.Comment = string(content[8:])
	return nil
}

// FrameOffset resolves the nth (0-based) sample of trackID to an
// absolute byte range in the file, walking the stsc run-length table to
// find which chunk the sample falls in and summing the sizes of the
// samples before it within that chunk, mirroring minimp4's
// sample_to_chunk/MP4D_frame_offset.
func (d *Demux) FrameOffset(trackID uint32, sampleIdx int) (offset int64, size uint32, err error) {
	t, err := d.track(trackID)
	if err != nil {
		return 0, 0, err
	}
	if sampleIdx < 0 || sampleIdx >= len(t.sampleSizes) {
		return 0, 0, ErrSampleOutOfRange
	}
	if len(t.stsc) == 0 || len(t.chunkOffsets) == 0 {
		return 0, 0, errors.Wrap(ErrMalformedBox, "track has no sample-to-chunk table")
	}

	chunkIdx, sampleInChunk := resolveChunk(t.stsc, sampleIdx)
	if chunkIdx >= len(t.chunkOffsets) {
		return 0, 0, errors.Wrap(ErrMalformedBox, "chunk index exceeds chunk offset table")
	}
	off := t.chunkOffsets[chunkIdx]
	for i := sampleIdx - sampleInChunk; i < sampleIdx; i++ {
		off += int64(t.sampleSizes[i])
	}
	return off, t.sampleSizes[sampleIdx], nil
}

// resolveChunk walks the stsc run-length entries to find which 0-based
// chunk sampleIdx (0-based, across the whole track) falls in, and the
// sample's 0-based position within that chunk.
func resolveChunk(stsc []stscEntry, sampleIdx int) (chunkIdx, sampleInChunk int) {
	samplesSoFar := 0
	for i, e := range stsc {
		firstChunk := int(e.firstChunk) - 1
		var chunkCount int
		if i+1 < len(stsc) {
			chunkCount = int(stsc[i+1].firstChunk) - int(e.firstChunk)
		} else {
			chunkCount = 1 << 30 // last run extends to the end of chunkOffsets
		}
		samplesInRun := chunkCount * int(e.samplesPerChunk)
		if sampleIdx < samplesSoFar+samplesInRun || i == len(stsc)-1 {
			offsetInRun := sampleIdx - samplesSoFar
			chunk := firstChunk + offsetInRun/int(e.samplesPerChunk)
			return chunk, offsetInRun % int(e.samplesPerChunk)
		}
		samplesSoFar += samplesInRun
	}
	return 0, sampleIdx
}

func (d *Demux) track(id uint32) (*Track, error) {
	for _, t := range d.Tracks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, ErrUnknownTrack
}
