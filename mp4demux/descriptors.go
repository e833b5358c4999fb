package mp4demux

import "github.com/pkg/errors"

// readDescLength reads an MPEG-4 expandable-length field (7 bits per
// byte, continuation bit 0x80) starting at p[0], returning the decoded
// length and the number of bytes consumed.
func readDescLength(p []byte) (int, int, error) {
	n := 0
	for i := 0; i < len(p) && i < 4; i++ {
		n = (n << 7) | int(p[i]&0x7F)
		if p[i]&0x80 == 0 {
			return n, i + 1, nil
		}
	}
	return 0, 0, errors.Wrap(ErrMalformedBox, "descriptor length field truncated or too long")
}

// descriptor is one parsed tag/length/content triple from an esds
// ES_Descriptor tree.
type descriptor struct {
	tag     byte
	content []byte
}

// parseDescriptors walks a flat sequence of sibling descriptors
// (used both at the ES_Descriptor top level and inside a
// DecoderConfigDescriptor's content).
func parseDescriptors(data []byte) ([]descriptor, error) {
	var out []descriptor
	for len(data) > 0 {
		tag := data[0]
		length, consumed, err := readDescLength(data[1:])
		if err != nil {
			return nil, err
		}
		start := 1 + consumed
		if start+length > len(data) {
			return nil, errors.Wrap(ErrMalformedBox, "descriptor content exceeds parent")
		}
		out = append(out, descriptor{tag: tag, content: data[start : start+length]})
		data = data[start+length:]
	}
	return out, nil
}

const (
	descTagESDescriptor    = 0x03
	descTagDecoderConfig   = 0x04
	descTagDecoderSpecific = 0x05
)

// extractDSI walks an esds FullBox's content (after the version/flags
// prefix) and returns the DecoderSpecificInfo payload (the raw AAC
// AudioSpecificConfig), mirroring the ES_Descriptor -> DecoderConfig
// Descriptor -> DecoderSpecificInfo nesting minimp4 writes in
// mp4e_write_audio_track's esds box.
func extractDSI(content []byte) ([]byte, error) {
	top, err := parseDescriptors(content)
	if err != nil {
		return nil, err
	}
	for _, d := range top {
		if d.tag != descTagESDescriptor {
			continue
		}
		if len(d.content) < 3 {
			continue
		}
		inner, err := parseDescriptors(d.content[3:]) // skip ES_ID(2) + flags(1)
		if err != nil {
			return nil, err
		}
		for _, dd := range inner {
			if dd.tag != descTagDecoderConfig {
				continue
			}
			if len(dd.content) < 13 {
				continue
			}
			leaves, err := parseDescriptors(dd.content[13:])
			if err != nil {
				return nil, err
			}
			for _, l := range leaves {
				if l.tag == descTagDecoderSpecific {
					return l.content, nil
				}
			}
		}
	}
	return nil, nil
}

// parseAVCC extracts the SPS/PPS list (each including its NAL header
// byte) from an AVCDecoderConfigurationRecord, mirroring the teacher's
// ParseAvccForSpsPps byte-walking shape, generalized to return every
// entry rather than just the first SPS/PPS pair.
func parseAVCC(avcc []byte) (spsList, ppsList [][]byte, err error) {
	if len(avcc) < 6 || avcc[0] != 1 {
		return nil, nil, errors.Wrap(ErrMalformedBox, "avcC: bad version or too short")
	}
	pos := 5
	numSPS := int(avcc[pos] & 0x1F)
	pos++
	for i := 0; i < numSPS; i++ {
		if pos+2 > len(avcc) {
			return nil, nil, errors.Wrap(ErrMalformedBox, "avcC: truncated SPS length")
		}
		l := int(avcc[pos])<<8 | int(avcc[pos+1])
		pos += 2
		if pos+l > len(avcc) {
			return nil, nil, errors.Wrap(ErrMalformedBox, "avcC: truncated SPS data")
		}
		spsList = append(spsList, avcc[pos:pos+l])
		pos += l
	}
	if pos >= len(avcc) {
		return spsList, nil, nil
	}
	numPPS := int(avcc[pos])
	pos++
	for i := 0; i < numPPS; i++ {
		if pos+2 > len(avcc) {
			return nil, nil, errors.Wrap(ErrMalformedBox, "avcC: truncated PPS length")
		}
		l := int(avcc[pos])<<8 | int(avcc[pos+1])
		pos += 2
		if pos+l > len(avcc) {
			return nil, nil, errors.Wrap(ErrMalformedBox, "avcC: truncated PPS data")
		}
		ppsList = append(ppsList, avcc[pos:pos+l])
		pos += l
	}
	return spsList, ppsList, nil
}

// parseHVCC extracts VPS/SPS/PPS NAL arrays from an
// HEVCDecoderConfigurationRecord.
func parseHVCC(hvcc []byte) (vpsList, spsList, ppsList [][]byte, err error) {
	if len(hvcc) < 23 || hvcc[0] != 1 {
		return nil, nil, nil, errors.Wrap(ErrMalformedBox, "hvcC: bad version or too short")
	}
	numArrays := int(hvcc[22])
	pos := 23
	for a := 0; a < numArrays; a++ {
		if pos+3 > len(hvcc) {
			return nil, nil, nil, errors.Wrap(ErrMalformedBox, "hvcC: truncated array header")
		}
		nalType := hvcc[pos] & 0x3F
		numNALs := int(hvcc[pos+1])<<8 | int(hvcc[pos+2])
		pos += 3
		var entries [][]byte
		for i := 0; i < numNALs; i++ {
			if pos+2 > len(hvcc) {
				return nil, nil, nil, errors.Wrap(ErrMalformedBox, "hvcC: truncated NAL length")
			}
			l := int(hvcc[pos])<<8 | int(hvcc[pos+1])
			pos += 2
			if pos+l > len(hvcc) {
				return nil, nil, nil, errors.Wrap(ErrMalformedBox, "hvcC: truncated NAL data")
			}
			entries = append(entries, hvcc[pos:pos+l])
			pos += l
		}
		switch nalType {
		case 32:
			vpsList = entries
		case 33:
			spsList = entries
		case 34:
			ppsList = entries
		}
	}
	return vpsList, spsList, ppsList, nil
}
