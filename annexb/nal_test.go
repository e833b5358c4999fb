package annexb

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitThreeAndFourByteStartCodes(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xc0, 0x28, // SPS, 4-byte start code
		0x00, 0x00, 0x01, 0x68, 0xce, 0x38, 0x80, // PPS, 3-byte start code
		0x00, 0x00, 0x01, 0x65, 0x88, 0x84, // IDR slice
	}
	nals := Split(data)
	require.Len(t, nals, 3)
	assert.Equal(t, AVCTypeSPS, nals[0].Type(CodecAVC))
	assert.Equal(t, AVCTypePPS, nals[1].Type(CodecAVC))
	assert.Equal(t, AVCTypeIDR, nals[2].Type(CodecAVC))
	assert.True(t, nals[2].IsKeyFrame(CodecAVC))
	assert.True(t, nals[0].IsParameterSet(CodecAVC))
}

func TestHEVCNalTypeAndKeyFrame(t *testing.T) {
	tests := []struct {
		name       string
		firstByte  byte
		wantType   int
		wantKey    bool
		wantParam  bool
	}{
		{name: "vps", firstByte: HEVCTypeVPS << 1, wantType: HEVCTypeVPS, wantParam: true},
		{name: "sps", firstByte: HEVCTypeSPS << 1, wantType: HEVCTypeSPS, wantParam: true},
		{name: "idr_w_radl", firstByte: 19 << 1, wantType: 19, wantKey: true},
		{name: "trail_r", firstByte: 1 << 1, wantType: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NAL{Payload: []byte{tt.firstByte, 0x01}}
			assert.Equal(t, tt.wantType, n.Type(CodecHEVC))
			assert.Equal(t, tt.wantKey, n.IsKeyFrame(CodecHEVC))
			assert.Equal(t, tt.wantParam, n.IsParameterSet(CodecHEVC))
		})
	}
}

func TestReaderNextMatchesSplit(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0x01, 0x67, 0x42, 0xc0, 0x28,
		0x00, 0x00, 0x01, 0x68, 0xce, 0x38, 0x80,
		0x00, 0x00, 0x01, 0x65, 0x88, 0x84,
	}
	want := Split(data)

	r := NewReader(data)
	var got []NAL
	for {
		n, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, n)
	}
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Payload, got[i].Payload)
	}
}

func TestSplitEmptyStream(t *testing.T) {
	assert.Nil(t, Split(nil))
	assert.Nil(t, Split([]byte{0x00, 0x00, 0x00}))
}
