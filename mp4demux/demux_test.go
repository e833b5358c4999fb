package mp4demux

import (
	"testing"

	"github.com/babelcloud/gomp4/mp4io"
	"github.com/babelcloud/gomp4/mp4mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRandomAccessFixture(t *testing.T, mode mp4mux.Mode) ([]byte, uint32, uint32) {
	t.Helper()
	f := mp4io.NewMemFile(4096)
	mux, err := mp4mux.NewMux(f, mode, nil)
	require.NoError(t, err)

	videoID, err := mux.AddTrack(mp4mux.TrackConfig{
		Kind:      mp4mux.KindVideoAVC,
		Timescale: 90000,
		Width:     1280,
		Height:    720,
	})
	require.NoError(t, err)
	require.NoError(t, mux.SetSPS(videoID, []byte{0x67, 0xAA, 0xBB, 0xCC}))
	require.NoError(t, mux.SetPPS(videoID, []byte{0x68, 0xDD}))

	audioID, err := mux.AddTrack(mp4mux.TrackConfig{
		Kind:       mp4mux.KindAudioAAC,
		Timescale:  48000,
		SampleRate: 48000,
		Channels:   2,
		SampleSize: 16,
	})
	require.NoError(t, err)
	require.NoError(t, mux.SetDSI(audioID, []byte{0x11, 0x90}))

	require.NoError(t, mux.PutSample(videoID, []byte("IDR-frame-0000"), 3000, mp4mux.SampleRandomAccess))
	require.NoError(t, mux.PutSample(videoID, []byte("p-frame-11111"), 3000, mp4mux.SampleDefault))
	require.NoError(t, mux.PutSample(videoID, []byte("p-frame-22"), 3000, mp4mux.SampleDefault))

	require.NoError(t, mux.PutSample(audioID, []byte("aac-frame-a"), 1024, mp4mux.SampleRandomAccess))
	require.NoError(t, mux.PutSample(audioID, []byte("aac-frame-b"), 1024, mp4mux.SampleRandomAccess))

	require.NoError(t, mux.Close())
	return f.Bytes(), videoID, audioID
}

func TestOpenRoundTripsRandomAccessMux(t *testing.T) {
	data, videoID, audioID := buildRandomAccessFixture(t, mp4mux.ModeRandomAccess)

	d, err := Open(mp4io.NewMemFileFromBytes(data))
	require.NoError(t, err)
	require.Len(t, d.Tracks, 2)

	var video, audio *Track
	for _, tr := range d.Tracks {
		switch tr.ID {
		case videoID:
			video = tr
		case audioID:
			audio = tr
		}
	}
	require.NotNil(t, video)
	require.NotNil(t, audio)

	assert.Equal(t, "vide", video.Kind)
	assert.Equal(t, "avc1", video.FourCC)
	assert.Equal(t, uint16(1280), video.Width)
	assert.Equal(t, uint16(720), video.Height)
	assert.Equal(t, uint32(90000), video.Timescale)
	require.Equal(t, 1, video.NumSPS())
	require.Equal(t, 1, video.NumPPS())
	assert.Equal(t, []byte{0x67, 0xAA, 0xBB, 0xCC}, video.SPSAt(0))
	assert.Equal(t, []byte{0x68, 0xDD}, video.PPSAt(0))
	require.Equal(t, 3, video.NumSamples())
	assert.True(t, video.IsKeyFrame(0))
	assert.False(t, video.IsKeyFrame(1))
	assert.False(t, video.IsKeyFrame(2))

	assert.Equal(t, "soun", audio.Kind)
	assert.Equal(t, "mp4a", audio.FourCC)
	assert.Equal(t, uint32(48000), audio.SampleRate)
	assert.Equal(t, uint16(2), audio.Channels)
	assert.Equal(t, []byte{0x11, 0x90}, audio.DSI)
	require.Equal(t, 2, audio.NumSamples())
	assert.True(t, audio.IsKeyFrame(0))
	assert.True(t, audio.IsKeyFrame(1))

	for i, want := range []string{"IDR-frame-0000", "p-frame-11111", "p-frame-22"} {
		size, err := video.SampleSize(i)
		require.NoError(t, err)
		assert.Equal(t, uint32(len(want)), size)
		off, sz, err := d.FrameOffset(video.ID, i)
		require.NoError(t, err)
		assert.Equal(t, size, sz)
		got := make([]byte, sz)
		n, err := mp4io.NewMemFileFromBytes(data).ReadAt(got, off)
		require.NoError(t, err)
		assert.Equal(t, int(sz), n)
		assert.Equal(t, want, string(got))
	}
}

func TestOpenRoundTripsSequentialMux(t *testing.T) {
	data, videoID, _ := buildRandomAccessFixture(t, mp4mux.ModeSequential)

	d, err := Open(mp4io.NewMemFileFromBytes(data))
	require.NoError(t, err)

	var video *Track
	for _, tr := range d.Tracks {
		if tr.ID == videoID {
			video = tr
		}
	}
	require.NotNil(t, video)
	require.Equal(t, 3, video.NumSamples())

	off, sz, err := d.FrameOffset(video.ID, 0)
	require.NoError(t, err)
	got := make([]byte, sz)
	mf := mp4io.NewMemFileFromBytes(data)
	n, err := mf.ReadAt(got, off)
	require.NoError(t, err)
	assert.Equal(t, int(sz), n)
	assert.Equal(t, "IDR-frame-0000", string(got))
}

func TestOpenMissingMoovFails(t *testing.T) {
	_, err := Open(mp4io.NewMemFileFromBytes([]byte("not an mp4 file at all")))
	assert.Error(t, err)
}

func TestFrameOffsetOutOfRangeFails(t *testing.T) {
	data, videoID, _ := buildRandomAccessFixture(t, mp4mux.ModeRandomAccess)
	d, err := Open(mp4io.NewMemFileFromBytes(data))
	require.NoError(t, err)

	_, _, err = d.FrameOffset(videoID, 999)
	assert.ErrorIs(t, err, ErrSampleOutOfRange)

	_, _, err = d.FrameOffset(9999, 0)
	assert.ErrorIs(t, err, ErrUnknownTrack)
}
