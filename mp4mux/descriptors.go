package mp4mux

import "github.com/babelcloud/gomp4/bitio"

// descLen encodes n using the ISO/IEC 14496-1 expandable-length
// convention used by object descriptors: 7 bits per byte, most
// significant group first, with the continuation bit (0x80) set on
// every byte except the last.
func descLen(n int) []byte {
	if n == 0 {
		return []byte{0}
	}
	var lsbFirst []byte
	for n > 0 {
		lsbFirst = append(lsbFirst, byte(n&0x7F))
		n >>= 7
	}
	out := make([]byte, len(lsbFirst))
	for i := range lsbFirst {
		out[i] = lsbFirst[len(lsbFirst)-1-i]
		if i != len(lsbFirst)-1 {
			out[i] |= 0x80
		}
	}
	return out
}

// writeDescriptor appends an MPEG-4 descriptor (tag + expandable length
// + content) to buf. The content is built into a scratch buffer first
// so its length can be computed before the length field is written.
func writeDescriptor(buf *bitio.Buffer, tag byte, content func(*bitio.Buffer)) {
	scratch := bitio.NewBuffer(32)
	content(scratch)
	buf.AppendByte(tag)
	buf.Append(descLen(scratch.Len()))
	buf.Append(scratch.Bytes())
}

const (
	descTagESDescriptor    = 0x03
	descTagDecoderConfig   = 0x04
	descTagDecoderSpecific = 0x05
	descTagSLConfig        = 0x06
	mp4ObjectTypeAudioAAC  = 0x40
	mp4StreamTypeAudio     = 0x05
	// mp4ObjectTypePrivate/mp4StreamTypeUserPrivate are minimp4's literal
	// "private video" constants (208, stream type 32) used for the
	// e_private/mp4s track path; they are distinct from the MPEG-4
	// registered MP4_OBJECT_TYPE_USER_PRIVATE (0xC0) range.
	mp4ObjectTypePrivate     = 0xD0
	mp4StreamTypeUserPrivate = 0x20
)

// buildESDS builds the content of an esds (Elementary Stream
// Descriptor) FullBox: ES_Descriptor containing a
// DecoderConfigDescriptor (carrying objectType/streamType and dsi as
// DecoderSpecificInfo) and a minimal SLConfigDescriptor, mirroring
// minimp4's add_audio_track esds layout. bufferSizeDB is
// channelcount*768 for AAC tracks (minimp4: channelcount*6144/8) and 0
// for the private/mp4s path, which has no channel count of its own.
func buildESDS(buf *bitio.Buffer, trackID uint16, dsi []byte, objectType, streamType byte, bufferSizeDB, maxBitrate, avgBitrate uint32) {
	writeDescriptor(buf, descTagESDescriptor, func(b *bitio.Buffer) {
		b.AppendU16(trackID)
		b.AppendByte(0) // flags: no stream dependence, no URL, no OCR stream

		writeDescriptor(b, descTagDecoderConfig, func(b *bitio.Buffer) {
			b.AppendByte(objectType)
			b.AppendByte(streamType<<2 | 1) // streamType<<2 | upStream<<1 | reserved(1)
			b.AppendU24(bufferSizeDB)
			b.AppendU32(maxBitrate)
			b.AppendU32(avgBitrate)

			writeDescriptor(b, descTagDecoderSpecific, func(b *bitio.Buffer) {
				b.Append(dsi)
			})
		})

		writeDescriptor(b, descTagSLConfig, func(b *bitio.Buffer) {
			b.AppendByte(0x02) // predefined: MP4 file, no SL header
		})
	})
}

// buildAVCC builds the content of an avcC (AVCDecoderConfigurationRecord,
// ISO/IEC 14496-15 §5.2.4.1) box from the track's cached SPS/PPS NAL
// units (each including its 1-byte NAL header, header stripped here
// where the profile/level fields are read from the first SPS).
func buildAVCC(buf *bitio.Buffer, spsList, ppsList [][]byte) {
	buf.AppendByte(1) // configurationVersion
	if len(spsList) > 0 && len(spsList[0]) >= 4 {
		sps := spsList[0]
		buf.AppendByte(sps[1]) // AVCProfileIndication
		buf.AppendByte(sps[2]) // profile_compatibility
		buf.AppendByte(sps[3]) // AVCLevelIndication
	} else {
		buf.Append([]byte{0x42, 0x00, 0x1E})
	}
	buf.AppendByte(0xFC | 3) // reserved(6)=111111, lengthSizeMinusOne=3 (4-byte lengths)

	buf.AppendByte(0xE0 | byte(len(spsList)&0x1F)) // reserved(3)=111, numOfSPS
	for _, sps := range spsList {
		buf.AppendU16(uint16(len(sps)))
		buf.Append(sps)
	}
	buf.AppendByte(byte(len(ppsList)))
	for _, pps := range ppsList {
		buf.AppendU16(uint16(len(pps)))
		buf.Append(pps)
	}
}

// buildHVCC builds a minimal HEVCDecoderConfigurationRecord (ISO/IEC
// 14496-15 §8.3.3.1.2): general profile space/tier/idc, constraint flags
// and level_idc are written as 0 and the profile compatibility flags as
// the fixed value 0x60000000 (none of them is parsed from the HEVC SPS
// profile_tier_level structure), and VPS/SPS/PPS are each emitted as one
// NAL array holding every cached entry of that type.
func buildHVCC(buf *bitio.Buffer, vpsList, spsList, ppsList [][]byte) {
	buf.AppendByte(1) // configurationVersion
	buf.AppendByte(0)          // general_profile_space/tier/idc
	buf.AppendU32(0x60000000) // general_profile_compatibility_flags
	buf.Append(make([]byte, 6)) // general_constraint_indicator_flags (48 bits)
	buf.AppendByte(0)           // general_level_idc
	buf.AppendU16(0xF000)       // reserved(4)=1111, min_spatial_segmentation_idc(12)=0
	buf.AppendByte(0xFC)        // reserved(6)=111111, parallelismType(2)=0
	buf.AppendByte(0xFC)        // reserved(6)=111111, chromaFormat(2)=1 not set here; left 0
	buf.AppendByte(0xF8)        // reserved(5)=11111, bitDepthLumaMinus8(3)=0
	buf.AppendByte(0xF8)        // reserved(5)=11111, bitDepthChromaMinus8(3)=0
	buf.AppendU16(0)            // avgFrameRate
	buf.AppendByte(0x0F)        // constantFrameRate(2)=0,numTemporalLayers(3)=1,temporalIdNested(1)=1,lengthSizeMinusOne(2)=3

	arrays := []struct {
		nalType byte
		entries [][]byte
	}{
		{32, vpsList}, // NAL_VPS
		{33, spsList}, // NAL_SPS
		{34, ppsList}, // NAL_PPS
	}
	count := 0
	for _, a := range arrays {
		if len(a.entries) > 0 {
			count++
		}
	}
	buf.AppendByte(byte(count))
	for _, a := range arrays {
		if len(a.entries) == 0 {
			continue
		}
		buf.AppendByte(0x80 | a.nalType) // array_completeness=1, reserved=0, NAL_unit_type
		buf.AppendU16(uint16(len(a.entries)))
		for _, nal := range a.entries {
			buf.AppendU16(uint16(len(nal)))
			buf.Append(nal)
		}
	}
}
