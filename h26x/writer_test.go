package h26x

import (
	"encoding/binary"
	"testing"

	"github.com/babelcloud/gomp4/annexb"
	"github.com/babelcloud/gomp4/bitio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildSPS constructs a minimal, syntactically valid H.264 SPS RBSP
// with the given seq_parameter_set_id, followed by an arbitrary tail so
// the id is not the last bit in the structure.
func buildSPS(id uint32) []byte {
	w := bitio.NewBitWriter()
	w.PutBits(0x42, 8)  // profile_idc
	w.PutBits(0x00, 8)  // constraint flags + reserved
	w.PutBits(0x1e, 8)  // level_idc
	w.PutUE(id)         // seq_parameter_set_id
	w.PutUE(0)          // log2_max_frame_num_minus4
	w.PutUE(0)          // pic_order_cnt_type
	w.ByteAlign()
	body := bitio.InsertEmulation(w.Bytes())
	return append([]byte{0x67}, body...) // NAL header: type 7 (SPS)
}

func buildPPS(ppsID, spsID uint32) []byte {
	w := bitio.NewBitWriter()
	w.PutUE(ppsID)
	w.PutUE(spsID)
	w.PutBits(0, 1) // entropy_coding_mode_flag
	w.ByteAlign()
	body := bitio.InsertEmulation(w.Bytes())
	return append([]byte{0x68}, body...) // NAL header: type 8 (PPS)
}

func buildIDRSlice(ppsID uint32) []byte {
	w := bitio.NewBitWriter()
	w.PutUE(0) // first_mb_in_slice
	w.PutUE(7) // slice_type (I)
	w.PutUE(ppsID)
	w.PutBits(0xAB, 8) // arbitrary remaining payload
	w.ByteAlign()
	body := bitio.InsertEmulation(w.Bytes())
	return append([]byte{0x65}, body...) // NAL header: type 5 (IDR)
}

// buildSliceNAL builds a non-IDR slice NAL (type 1) with the given
// first_mb_in_slice, used to exercise CONTINUATION classification.
func buildSliceNAL(firstMB, ppsID uint32) []byte {
	w := bitio.NewBitWriter()
	w.PutUE(firstMB)
	w.PutUE(0) // slice_type (P)
	w.PutUE(ppsID)
	w.PutBits(0xCD, 8)
	w.ByteAlign()
	body := bitio.InsertEmulation(w.Bytes())
	return append([]byte{0x61}, body...) // NAL header: type 1
}

func TestWriterCachesParameterSetsWithoutTranscoding(t *testing.T) {
	w := NewWriter(annexb.CodecAVC, false)

	sps := buildSPS(0)
	pps := buildPPS(0, 0)
	idr := buildIDRSlice(0)

	sample1, kind1, err := w.WriteNAL(annexb.NAL{Payload: sps})
	require.NoError(t, err)
	assert.Nil(t, sample1, "parameter sets must not produce a sample")
	assert.Equal(t, SampleDefault, kind1)

	sample2, _, err := w.WriteNAL(annexb.NAL{Payload: pps})
	require.NoError(t, err)
	assert.Nil(t, sample2)

	assert.Equal(t, 1, w.NumSPS())
	assert.Equal(t, 1, w.NumPPS())

	sample3, kind3, err := w.WriteNAL(annexb.NAL{Payload: idr})
	require.NoError(t, err)
	require.NotNil(t, sample3)
	assert.Equal(t, SampleRandomAccess, kind3)

	length := binary.BigEndian.Uint32(sample3[:4])
	assert.Equal(t, uint32(len(sample3)-4), length)
	assert.Equal(t, byte(0x65), sample3[4])
}

func TestWriterTranscodesCollidingSPSIDs(t *testing.T) {
	w := NewWriter(annexb.CodecAVC, true)

	// Two distinct SPS/PPS pairs that both claim id 0, as if concatenated
	// from two different encoder sessions.
	sps1 := buildSPS(0)
	pps1 := buildPPS(0, 0)
	sps2RBSPTail := buildSPS(0) // same id, but we flip a trailing padding bit so it's distinct content
	sps2 := append([]byte{}, sps2RBSPTail...)
	sps2[len(sps2)-1] ^= 0x01
	pps2 := buildPPS(0, 0)
	pps2[len(pps2)-1] ^= 0x01

	_, _, err := w.WriteNAL(annexb.NAL{Payload: sps1})
	require.NoError(t, err)
	_, _, err = w.WriteNAL(annexb.NAL{Payload: pps1})
	require.NoError(t, err)
	_, _, err = w.WriteNAL(annexb.NAL{Payload: sps2})
	require.NoError(t, err)
	_, _, err = w.WriteNAL(annexb.NAL{Payload: pps2})
	require.NoError(t, err)

	assert.Equal(t, 2, w.NumSPS())
	assert.Equal(t, 2, w.NumPPS())

	// The second PPS should have been renumbered to dense id 1 even
	// though its source bitstream also claimed id 0.
	rbsp := bitio.StripEmulation(w.PPS(1)[1:])
	newPPSID, newSPSID, err := ReadPPSIDs(rbsp)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), newPPSID)
	assert.Equal(t, uint32(1), newSPSID)
}

func TestPrependParameterSets(t *testing.T) {
	w := NewWriter(annexb.CodecAVC, false)
	sps := buildSPS(0)
	pps := buildPPS(0, 0)
	_, _, err := w.WriteNAL(annexb.NAL{Payload: sps})
	require.NoError(t, err)
	_, _, err = w.WriteNAL(annexb.NAL{Payload: pps})
	require.NoError(t, err)

	sample, _, err := w.WriteNAL(annexb.NAL{Payload: buildIDRSlice(0)})
	require.NoError(t, err)

	withParams := w.PrependParameterSets(sample)
	assert.Greater(t, len(withParams), len(sample))

	spsLen := binary.BigEndian.Uint32(withParams[:4])
	assert.Equal(t, uint32(len(sps)), spsLen)
}

func TestWriterRejectsVCLNALBeforeSPS(t *testing.T) {
	w := NewWriter(annexb.CodecAVC, false)
	_, _, err := w.WriteNAL(annexb.NAL{Payload: buildIDRSlice(0)})
	assert.ErrorIs(t, err, ErrMissingParameterSets)
}

func TestWriterDropsIDRBeforePPSWithoutError(t *testing.T) {
	w := NewWriter(annexb.CodecAVC, false)
	_, _, err := w.WriteNAL(annexb.NAL{Payload: buildSPS(0)})
	require.NoError(t, err)

	sample, kind, err := w.WriteNAL(annexb.NAL{Payload: buildIDRSlice(0)})
	require.NoError(t, err)
	assert.Nil(t, sample)
	assert.Equal(t, SampleDefault, kind)
}

func TestWriterClassifiesContinuationSlice(t *testing.T) {
	w := NewWriter(annexb.CodecAVC, false)
	_, _, err := w.WriteNAL(annexb.NAL{Payload: buildSPS(0)})
	require.NoError(t, err)
	_, _, err = w.WriteNAL(annexb.NAL{Payload: buildPPS(0, 0)})
	require.NoError(t, err)

	idr, kind, err := w.WriteNAL(annexb.NAL{Payload: buildIDRSlice(0)})
	require.NoError(t, err)
	require.NotNil(t, idr)
	assert.Equal(t, SampleRandomAccess, kind)

	cont, kind, err := w.WriteNAL(annexb.NAL{Payload: buildSliceNAL(5, 0)})
	require.NoError(t, err)
	require.NotNil(t, cont)
	assert.Equal(t, SampleContinuation, kind)
}

func TestWriterSkipsAccessUnitDelimiter(t *testing.T) {
	w := NewWriter(annexb.CodecAVC, false)
	sample, kind, err := w.WriteNAL(annexb.NAL{Payload: []byte{0x09, 0xF0}}) // AUD, type 9
	require.NoError(t, err)
	assert.Nil(t, sample)
	assert.Equal(t, SampleDefault, kind)
}

func TestHEVCWriterRejectsVCLBeforeParameterSets(t *testing.T) {
	w := NewWriter(annexb.CodecHEVC, false)
	idr := []byte{0x26, 0x01, 0xAA, 0xBB} // NAL type 19 (IDR_W_RADL) << 1 in byte 0
	_, _, err := w.WriteNAL(annexb.NAL{Payload: idr})
	assert.ErrorIs(t, err, ErrMissingParameterSets)
}
