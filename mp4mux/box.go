package mp4mux

import "github.com/babelcloud/gomp4/bitio"

// writeBox appends a length-prefixed box (4-byte size + 4-byte type +
// content) to buf, back-patching the size once content has been
// written. content may itself call writeBox to nest child boxes.
func writeBox(buf *bitio.Buffer, boxType string, content func(*bitio.Buffer)) {
	start := buf.Len()
	buf.AppendU32(0) // placeholder, patched below
	buf.Append([]byte(boxType))
	content(buf)
	buf.PatchU32(start, uint32(buf.Len()-start))
}

// writeFullBox appends a FullBox (ISO/IEC 14496-12 §4.2): a regular box
// whose content begins with a 1-byte version and 3-byte flags field.
func writeFullBox(buf *bitio.Buffer, boxType string, version byte, flags uint32, content func(*bitio.Buffer)) {
	writeBox(buf, boxType, func(b *bitio.Buffer) {
		b.AppendByte(version)
		b.AppendU24(flags)
		content(b)
	})
}
