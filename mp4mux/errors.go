// Package mp4mux builds ISO Base Media File Format (ISO/IEC 14496-12)
// containers for H.264/HEVC video and AAC (or other MPEG-4) audio, in
// three write modes: random-access (patches the mdat size once the file
// is finalized), sequential (flushes each track as its own mdat,
// avoiding any rewrite of earlier bytes), and fragmented (moof+mdat per
// sample run, for live/streaming use). It is the Go counterpart of
// minimp4's MP4E_* API.
package mp4mux

import "github.com/pkg/errors"

// Sentinel errors mirroring minimp4's MP4E_ERR_* taxonomy.
var (
	ErrBadArguments       = errors.New("mp4mux: bad arguments")
	ErrNoMemory           = errors.New("mp4mux: allocation failed")
	ErrFileWriteError     = errors.New("mp4mux: write error")
	ErrOnlyOneDSIAllowed  = errors.New("mp4mux: only one decoder-specific-info allowed per track")
	ErrUnknownTrack       = errors.New("mp4mux: unknown track id")
	ErrNotInThisMode      = errors.New("mp4mux: operation not valid in this write mode")
)
