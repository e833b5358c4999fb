package bitio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferGrowthAndAppend(t *testing.T) {
	b := NewBuffer(0)
	b.AppendByte(0xAA)
	b.AppendU16(0x1234)
	b.AppendU24(0x567890)
	b.AppendU32(0xDEADBEEF)
	require.Equal(t, []byte{
		0xAA,
		0x12, 0x34,
		0x56, 0x78, 0x90,
		0xDE, 0xAD, 0xBE, 0xEF,
	}, b.Bytes())
}

func TestBufferPatchU32(t *testing.T) {
	b := NewBuffer(0)
	b.AppendU32(0)
	b.Append([]byte("mdat"))
	b.PatchU32(0, 1234)
	assert.Equal(t, []byte{0, 0, 0x04, 0xD2, 'm', 'd', 'a', 't'}, b.Bytes())
}

func TestExpGolombRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ue   []uint32
		se   []int32
	}{
		{name: "small", ue: []uint32{0, 1, 2, 3, 4, 5, 6, 7}, se: []int32{0, 1, -1, 2, -2, 3, -3}},
		{name: "large", ue: []uint32{255, 1023, 1 << 20}, se: []int32{500, -500, 1 << 19}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewBitWriter()
			for _, v := range tt.ue {
				w.PutUE(v)
			}
			for _, v := range tt.se {
				w.PutSE(v)
			}
			w.ByteAlign()

			r := NewBitReader(w.Bytes())
			for _, want := range tt.ue {
				got, err := r.ReadUE()
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
			for _, want := range tt.se {
				got, err := r.ReadSE()
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestBitReaderUnderrun(t *testing.T) {
	r := NewBitReader([]byte{0xFF})
	_, err := r.ReadBits(8)
	require.NoError(t, err)
	_, err = r.ReadBit()
	assert.ErrorIs(t, err, ErrBitReaderUnderrun)
}

func TestStripAndInsertEmulationRoundTrip(t *testing.T) {
	raw := []byte{0x67, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x02, 0x01}
	escaped := InsertEmulation(raw)
	assert.NotEqual(t, raw, escaped, "escaping should insert 0x03 bytes for this input")
	stripped := StripEmulation(escaped)
	assert.Equal(t, raw, stripped)
}

func TestStripEmulationNoEscapesNeeded(t *testing.T) {
	raw := []byte{0x67, 0x42, 0xC0, 0x28}
	assert.Equal(t, raw, StripEmulation(raw))
}
