package mp4mux

import "github.com/babelcloud/gomp4/bitio"

var identityMatrix = [9]uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

func writeMatrix(b *bitio.Buffer) {
	for _, v := range identityMatrix {
		b.AppendU32(v)
	}
}

func packLanguage(code string) uint16 {
	if len(code) != 3 {
		code = "und"
	}
	c := [3]byte{code[0], code[1], code[2]}
	return uint16(c[0]-0x60)<<10 | uint16(c[1]-0x60)<<5 | uint16(c[2]-0x60)
}

func handlerType(t *Track) string {
	if t.isVideo() {
		return "vide"
	}
	if t.isPrivate() {
		// http://www.mp4ra.org/handler.html, as used by minimp4's
		// MP4E_HANDLER_TYPE_GESM for private streams.
		return "gesm"
	}
	return "soun"
}

func handlerName(t *Track) string {
	if t.isVideo() {
		return "VideoHandler"
	}
	if t.isPrivate() {
		return "PrivateHandler"
	}
	return "SoundHandler"
}

// movieDuration returns the overall presentation duration in
// movieTimescale units, taken from the first track's duration scaled
// from its own timescale (0 when there is no track or its timescale is 0).
func (m *Mux) movieDuration() uint64 {
	if len(m.tracks) == 0 || m.tracks[0].cfg.Timescale == 0 {
		return 0
	}
	t := m.tracks[0]
	return t.totalDuration() * movieTimescale / uint64(t.cfg.Timescale)
}

// writeMoov builds the full moov box (random-access and sequential
// modes): mvhd, one trak per track with a complete sample table, and
// udta/meta/ilst/©cmt if a text comment was set.
func (m *Mux) writeMoov(buf *bitio.Buffer) {
	writeBox(buf, "moov", func(b *bitio.Buffer) {
		m.writeMVHD(b)
		for _, t := range m.tracks {
			m.writeTrak(b, t)
		}
		if m.comment != "" {
			m.writeUdta(b)
		}
	})
}

// writeInitMoov builds the fragmented-mode init segment's moov: mvhd,
// one trak per track carrying only its sample description (stsd) and an
// empty sample table, plus mvex/trex. withMvex is always true for this
// package's own callers; the parameter exists so tests can inspect a
// plain moov shape if ever needed.
func (m *Mux) writeInitMoov(buf *bitio.Buffer, withMvex bool) {
	writeBox(buf, "moov", func(b *bitio.Buffer) {
		m.writeMVHD(b)
		for _, t := range m.tracks {
			m.writeTrak(b, t)
		}
		if withMvex {
			writeBox(b, "mvex", func(b *bitio.Buffer) {
				writeFullBox(b, "mehd", 0, 0, func(b *bitio.Buffer) {
					b.AppendU32(uint32(m.movieDuration()))
				})
				for _, t := range m.tracks {
					writeFullBox(b, "trex", 0, 0, func(b *bitio.Buffer) {
						b.AppendU32(t.id)
						b.AppendU32(1) // default_sample_description_index
						b.AppendU32(0) // default_sample_duration
						b.AppendU32(0) // default_sample_size
						b.AppendU32(0) // default_sample_flags
					})
				}
			})
		}
	})
}

func (m *Mux) writeMVHD(b *bitio.Buffer) {
	writeFullBox(b, "mvhd", 0, 0, func(b *bitio.Buffer) {
		b.AppendU32(0) // creation_time
		b.AppendU32(0) // modification_time
		b.AppendU32(movieTimescale)
		b.AppendU32(uint32(m.movieDuration()))
		b.AppendU32(0x00010000) // rate
		b.AppendU16(0x0100)     // volume
		b.AppendU16(0)          // reserved
		b.AppendU32(0)          // reserved[0]
		b.AppendU32(0)          // reserved[1]
		writeMatrix(b)
		for i := 0; i < 6; i++ {
			b.AppendU32(0) // pre_defined
		}
		b.AppendU32(uint32(len(m.tracks) + 1)) // next_track_ID
	})
}

func (m *Mux) writeTrak(b *bitio.Buffer, t *Track) {
	writeBox(b, "trak", func(b *bitio.Buffer) {
		writeFullBox(b, "tkhd", 0, 0x000007, func(b *bitio.Buffer) {
			b.AppendU32(0) // creation_time
			b.AppendU32(0) // modification_time
			b.AppendU32(t.id)
			b.AppendU32(0) // reserved
			trackDur := t.totalDuration() * movieTimescale
			if t.cfg.Timescale != 0 {
				trackDur /= uint64(t.cfg.Timescale)
			}
			b.AppendU32(uint32(trackDur))
			b.AppendU32(0) // reserved[0]
			b.AppendU32(0) // reserved[1]
			b.AppendU16(0) // layer
			b.AppendU16(0) // alternate_group
			if t.isVideo() {
				b.AppendU16(0)
			} else {
				b.AppendU16(0x0100) // volume
			}
			b.AppendU16(0) // reserved
			writeMatrix(b)
			b.AppendU32(uint32(t.cfg.Width) << 16)
			b.AppendU32(uint32(t.cfg.Height) << 16)
		})

		writeBox(b, "mdia", func(b *bitio.Buffer) {
			writeFullBox(b, "mdhd", 0, 0, func(b *bitio.Buffer) {
				b.AppendU32(0) // creation_time
				b.AppendU32(0) // modification_time
				b.AppendU32(t.cfg.Timescale)
				b.AppendU32(uint32(t.totalDuration()))
				b.AppendU16(packLanguage(t.cfg.Language))
				b.AppendU16(0) // pre_defined
			})
			writeFullBox(b, "hdlr", 0, 0, func(b *bitio.Buffer) {
				b.AppendU32(0) // pre_defined
				b.Append([]byte(handlerType(t)))
				b.AppendU32(0) // reserved[0]
				b.AppendU32(0) // reserved[1]
				b.AppendU32(0) // reserved[2]
				b.Append([]byte(handlerName(t)))
				b.AppendByte(0)
			})
			writeBox(b, "minf", func(b *bitio.Buffer) {
				if t.isVideo() {
					writeFullBox(b, "vmhd", 0, 1, func(b *bitio.Buffer) {
						b.AppendU16(0) // graphicsmode
						b.AppendU16(0)
						b.AppendU16(0)
						b.AppendU16(0) // opcolor[3]
					})
				} else {
					writeFullBox(b, "smhd", 0, 0, func(b *bitio.Buffer) {
						b.AppendU16(0) // balance
						b.AppendU16(0) // reserved
					})
				}
				writeBox(b, "dinf", func(b *bitio.Buffer) {
					writeFullBox(b, "dref", 0, 0, func(b *bitio.Buffer) {
						b.AppendU32(1) // entry_count
						writeFullBox(b, "url ", 0, 1, func(b *bitio.Buffer) {})
					})
				})
				m.writeStbl(b, t)
			})
		})
	})
}

func (m *Mux) writeStbl(b *bitio.Buffer, t *Track) {
	writeBox(b, "stbl", func(b *bitio.Buffer) {
		m.writeStsd(b, t)

		writeFullBox(b, "stts", 0, 0, func(b *bitio.Buffer) {
			entries := rleStts(t.samples)
			b.AppendU32(uint32(len(entries)))
			for _, e := range entries {
				b.AppendU32(e.count)
				b.AppendU32(e.delta)
			}
		})

		if t.isVideo() && !allKeyframes(t.samples) {
			writeFullBox(b, "stss", 0, 0, func(b *bitio.Buffer) {
				var idx []uint32
				for i, s := range t.samples {
					if s.keyframe {
						idx = append(idx, uint32(i+1))
					}
				}
				b.AppendU32(uint32(len(idx)))
				for _, v := range idx {
					b.AppendU32(v)
				}
			})
		}

		writeFullBox(b, "stsc", 0, 0, func(b *bitio.Buffer) {
			if len(t.samples) == 0 {
				b.AppendU32(0)
				return
			}
			b.AppendU32(1)
			b.AppendU32(1) // first_chunk
			b.AppendU32(1) // samples_per_chunk (one sample per chunk)
			b.AppendU32(1) // sample_description_index
		})

		writeFullBox(b, "stsz", 0, 0, func(b *bitio.Buffer) {
			b.AppendU32(0) // sample_size == 0: sizes vary, read from table
			b.AppendU32(uint32(len(t.samples)))
			for _, s := range t.samples {
				b.AppendU32(s.size)
			}
		})

		maxOffset := int64(0)
		for _, s := range t.samples {
			if s.offset > maxOffset {
				maxOffset = s.offset
			}
		}
		if maxOffset > 0xFFFFFFFF {
			writeFullBox(b, "co64", 0, 0, func(b *bitio.Buffer) {
				b.AppendU32(uint32(len(t.samples)))
				for _, s := range t.samples {
					b.AppendU64(uint64(s.offset))
				}
			})
		} else {
			writeFullBox(b, "stco", 0, 0, func(b *bitio.Buffer) {
				b.AppendU32(uint32(len(t.samples)))
				for _, s := range t.samples {
					b.AppendU32(uint32(s.offset))
				}
			})
		}
	})
}

func allKeyframes(samples []sampleEntry) bool {
	for _, s := range samples {
		if !s.keyframe {
			return false
		}
	}
	return true
}

type sttsEntry struct{ count, delta uint32 }

func rleStts(samples []sampleEntry) []sttsEntry {
	var out []sttsEntry
	for _, s := range samples {
		if len(out) > 0 && out[len(out)-1].delta == s.duration {
			out[len(out)-1].count++
			continue
		}
		out = append(out, sttsEntry{count: 1, delta: s.duration})
	}
	return out
}

func (m *Mux) writeStsd(b *bitio.Buffer, t *Track) {
	writeFullBox(b, "stsd", 0, 0, func(b *bitio.Buffer) {
		b.AppendU32(1) // entry_count
		switch t.cfg.Kind {
		case KindVideoAVC:
			writeVisualSampleEntry(b, "avc1", t, func(b *bitio.Buffer) {
				writeBox(b, "avcC", func(b *bitio.Buffer) {
					buildAVCC(b, t.sps, t.pps)
				})
			})
		case KindVideoHEVC:
			// Parameter sets travel out-of-band in hvcC, so the sample
			// entry is hvc1, not hev1 (which would signal in-band
			// VPS/SPS/PPS).
			writeVisualSampleEntry(b, "hvc1", t, func(b *bitio.Buffer) {
				writeBox(b, "hvcC", func(b *bitio.Buffer) {
					buildHVCC(b, t.vps, t.sps, t.pps)
				})
			})
		case KindAudioAAC:
			writeAudioSampleEntry(b, t)
		case KindPrivate:
			writeMP4SSampleEntry(b, t)
		}
	})
}

func writeVisualSampleEntry(b *bitio.Buffer, boxType string, t *Track, writeConfig func(*bitio.Buffer)) {
	writeBox(b, boxType, func(b *bitio.Buffer) {
		b.Append(make([]byte, 6)) // reserved
		b.AppendU16(1)            // data_reference_index
		b.AppendU16(0)             // pre_defined
		b.AppendU16(0)             // reserved
		b.Append(make([]byte, 12)) // pre_defined[3]
		b.AppendU16(t.cfg.Width)
		b.AppendU16(t.cfg.Height)
		b.AppendU32(0x00480000) // horizresolution 72dpi
		b.AppendU32(0x00480000) // vertresolution 72dpi
		b.AppendU32(0)          // reserved
		b.AppendU16(1)          // frame_count
		b.Append(make([]byte, 32)) // compressorname
		b.AppendU16(0x0018)     // depth
		b.AppendU16(0xFFFF)     // pre_defined
		writeConfig(b)
	})
}

func writeAudioSampleEntry(b *bitio.Buffer, t *Track) {
	writeBox(b, "mp4a", func(b *bitio.Buffer) {
		b.Append(make([]byte, 6)) // reserved
		b.AppendU16(1)            // data_reference_index
		b.AppendU32(0)            // reserved (version/revision)
		b.AppendU32(0)            // reserved (vendor)
		channels := t.cfg.Channels
		if channels == 0 {
			channels = 2
		}
		b.AppendU16(channels)
		sampleSize := t.cfg.SampleSize
		if sampleSize == 0 {
			sampleSize = 16
		}
		b.AppendU16(sampleSize)
		b.AppendU16(0) // pre_defined
		b.AppendU16(0) // reserved
		b.AppendU32(t.cfg.SampleRate << 16)
		writeFullBox(b, "esds", 0, 0, func(b *bitio.Buffer) {
			bufferSizeDB := uint32(channels) * 768
			buildESDS(b, uint16(t.id), t.dsi, mp4ObjectTypeAudioAAC, mp4StreamTypeAudio, bufferSizeDB, 0, 0)
		})
	})
}

// writeMP4SSampleEntry writes an mp4s sample entry for a private/opaque
// elementary stream: shaped like an AudioSampleEntry (minimp4 reuses the
// audio union fields for e_private tracks) with an esds whose
// DecoderConfigDescriptor carries object type 0xD0 ("private video" in
// minimp4's usage) and stream type 32 (user private).
func writeMP4SSampleEntry(b *bitio.Buffer, t *Track) {
	writeBox(b, "mp4s", func(b *bitio.Buffer) {
		b.Append(make([]byte, 6)) // reserved
		b.AppendU16(1)            // data_reference_index
		b.AppendU32(0)            // reserved (version/revision)
		b.AppendU32(0)            // reserved (vendor)
		b.AppendU16(t.cfg.Channels)
		sampleSize := t.cfg.SampleSize
		if sampleSize == 0 {
			sampleSize = 16
		}
		b.AppendU16(sampleSize)
		b.AppendU16(0) // pre_defined
		b.AppendU16(0) // reserved
		b.AppendU32(t.cfg.Timescale << 16)
		writeFullBox(b, "esds", 0, 0, func(b *bitio.Buffer) {
			buildESDS(b, uint16(t.id), t.dsi, mp4ObjectTypePrivate, mp4StreamTypeUserPrivate, 0, 0, 0)
		})
	})
}

func (m *Mux) writeUdta(b *bitio.Buffer) {
	writeBox(b, "udta", func(b *bitio.Buffer) {
		writeBox(b, "meta", func(b *bitio.Buffer) {
			writeFullBox(b, "hdlr", 0, 0, func(b *bitio.Buffer) {
				b.AppendU32(0)
				b.Append([]byte("mdir"))
				b.Append([]byte("appl"))
				b.AppendU32(0)
				b.AppendU32(0)
				b.AppendByte(0)
			})
			writeBox(b, "ilst", func(b *bitio.Buffer) {
				writeBox(b, "\xa9cmt", func(b *bitio.Buffer) {
					writeBox(b, "data", func(b *bitio.Buffer) {
						b.AppendU32(1) // type indicator: UTF-8 text
						b.AppendU32(0) // locale
						b.Append([]byte(m.comment))
					})
				})
			})
		})
	})
}
