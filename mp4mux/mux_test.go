package mp4mux

import (
	"encoding/binary"
	"testing"

	"github.com/babelcloud/gomp4/mp4io"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sps() []byte {
	return []byte{0x67, 0x42, 0xC0, 0x1E, 0xAB, 0x40, 0xF0, 0x28}
}
func pps() []byte {
	return []byte{0x68, 0xCE, 0x3C, 0x80}
}

func TestRandomAccessMuxProducesValidTopLevelBoxes(t *testing.T) {
	sink := mp4io.NewMemFile(0)
	m, err := NewMux(sink, ModeRandomAccess, nil)
	require.NoError(t, err)

	trackID, err := m.AddTrack(TrackConfig{Kind: KindVideoAVC, Timescale: 90000, Width: 1280, Height: 720})
	require.NoError(t, err)
	require.NoError(t, m.SetSPS(trackID, sps()))
	require.NoError(t, m.SetPPS(trackID, pps()))

	for i := 0; i < 5; i++ {
		kind := SampleDefault
		if i == 0 {
			kind = SampleRandomAccess
		}
		require.NoError(t, m.PutSample(trackID, []byte{0x65, 0x88, 0x84, byte(i)}, 3000, kind))
	}
	require.NoError(t, m.Close())

	data := sink.Bytes()
	require.True(t, len(data) > 40)

	assert.Equal(t, "ftyp", string(data[4:8]))
	ftypSize := binary.BigEndian.Uint32(data[0:4])
	assert.Equal(t, uint32(24), ftypSize, "canonical ftyp is the fixed 24-byte mp42/isom form")
	assert.Equal(t, "mp42", string(data[8:12]), "major brand must be mp42")

	// The mdat payload here is well under the 32-bit size boundary, so it
	// must be finalized as free(8)+mdat(8), not the size=1 largesize form.
	mdatHdr := data[ftypSize:]
	assert.Equal(t, uint32(8), binary.BigEndian.Uint32(mdatHdr[0:4]))
	assert.Equal(t, "free", string(mdatHdr[4:8]))
	mdatSize := binary.BigEndian.Uint32(mdatHdr[8:12])
	assert.Equal(t, "mdat", string(mdatHdr[12:16]))

	// moov must start exactly where mdat (per its patched size) ends.
	moovOffset := int64(ftypSize) + 8 + int64(mdatSize)
	require.Less(t, int(moovOffset)+8, len(data))
	assert.Equal(t, "moov", string(data[moovOffset+4:moovOffset+8]))
}

func TestSequentialModeNeverRewritesEarlierBytes(t *testing.T) {
	sink := mp4io.NewMemFile(0)
	m, err := NewMux(sink, ModeSequential, nil)
	require.NoError(t, err)

	vid, err := m.AddTrack(TrackConfig{Kind: KindVideoAVC, Timescale: 90000, Width: 640, Height: 480})
	require.NoError(t, err)
	require.NoError(t, m.SetSPS(vid, sps()))
	require.NoError(t, m.SetPPS(vid, pps()))

	aud, err := m.AddTrack(TrackConfig{Kind: KindAudioAAC, Timescale: 48000, SampleRate: 48000, Channels: 2})
	require.NoError(t, err)
	require.NoError(t, m.SetDSI(aud, []byte{0x11, 0x90}))

	for i := 0; i < 3; i++ {
		kind := SampleDefault
		if i == 0 {
			kind = SampleRandomAccess
		}
		require.NoError(t, m.PutSample(vid, []byte{0x65, byte(i)}, 3000, kind))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, m.PutSample(aud, []byte{0xAB, byte(i)}, 1024, SampleRandomAccess))
	}
	require.NoError(t, m.Close())

	data := sink.Bytes()
	assert.Equal(t, "ftyp", string(data[4:8]))
}

func TestSetDSITwiceFails(t *testing.T) {
	sink := mp4io.NewMemFile(0)
	m, err := NewMux(sink, ModeRandomAccess, nil)
	require.NoError(t, err)
	aud, err := m.AddTrack(TrackConfig{Kind: KindAudioAAC, Timescale: 48000, SampleRate: 48000, Channels: 2})
	require.NoError(t, err)

	require.NoError(t, m.SetDSI(aud, []byte{0x11, 0x90}))
	err = m.SetDSI(aud, []byte{0x12, 0x10})
	assert.ErrorIs(t, err, ErrOnlyOneDSIAllowed)
}

func TestPutSampleOnUnknownTrackFails(t *testing.T) {
	sink := mp4io.NewMemFile(0)
	m, err := NewMux(sink, ModeRandomAccess, nil)
	require.NoError(t, err)
	err = m.PutSample(99, []byte{0x01}, 1, SampleRandomAccess)
	assert.ErrorIs(t, err, ErrUnknownTrack)
}

func TestFragmentedModeWritesOneFragmentPerSample(t *testing.T) {
	sink := mp4io.NewMemFile(0)
	m, err := NewMux(sink, ModeFragmented, nil)
	require.NoError(t, err)

	vid, err := m.AddTrack(TrackConfig{Kind: KindVideoAVC, Timescale: 90000, Width: 320, Height: 240})
	require.NoError(t, err)
	require.NoError(t, m.SetSPS(vid, sps()))
	require.NoError(t, m.SetPPS(vid, pps()))
	require.NoError(t, m.Start())

	require.NoError(t, m.PutSample(vid, []byte{0x65, 0x01, 0x02}, 3000, SampleRandomAccess))
	require.NoError(t, m.PutSample(vid, []byte{0x61, 0x03}, 3000, SampleDefault))
	require.NoError(t, m.Close())

	data := sink.Bytes()
	assert.Equal(t, "ftyp", string(data[4:8]))

	ftypSize := binary.BigEndian.Uint32(data[0:4])
	moovSize := binary.BigEndian.Uint32(data[ftypSize:])
	assert.Equal(t, "moov", string(data[ftypSize+4:ftypSize+8]))

	firstMoofOffset := ftypSize + moovSize
	assert.Equal(t, "moof", string(data[firstMoofOffset+4:firstMoofOffset+8]))
}

func TestBoundsAndDescriptorHelpers(t *testing.T) {
	assert.Equal(t, []byte{0}, descLen(0))
	assert.Equal(t, []byte{0x25}, descLen(0x25))
	assert.Equal(t, []byte{0x81, 0x48}, descLen(200))
}
