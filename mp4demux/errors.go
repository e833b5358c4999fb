package mp4demux

import "github.com/pkg/errors"

var (
	// ErrSampleOutOfRange is returned by Track/Demux accessors given an
	// index outside [0, NumSamples).
	ErrSampleOutOfRange = errors.New("mp4demux: sample index out of range")
	// ErrNoMoov is returned by Open when the file has no moov box.
	ErrNoMoov = errors.New("mp4demux: no moov box found")
	// ErrUnknownTrack mirrors mp4mux's sentinel for symmetry.
	ErrUnknownTrack = errors.New("mp4demux: unknown track id")
)
