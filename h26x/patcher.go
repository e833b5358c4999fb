package h26x

import (
	"github.com/babelcloud/gomp4/bitio"
	"github.com/pkg/errors"
)

// patchLeadingUEFields rewrites the first len(newValues) ue(v) fields
// found after a fixed prefixBits-wide header in an RBSP, replacing each
// with the corresponding value in newValues, and copies every remaining
// bit through unchanged. This mirrors minimp4's change_sps_id/patch_pps,
// which splice a possibly different-length Exp-Golomb code into the
// bitstream and shift everything after it rather than re-encoding the
// whole structure.
func patchLeadingUEFields(rbsp []byte, prefixBits int, newValues []uint32) ([]byte, error) {
	r := bitio.NewBitReader(rbsp)
	w := bitio.NewBitWriter()

	for i := 0; i < prefixBits; i++ {
		bit, err := r.ReadBit()
		if err != nil {
			return nil, errors.Wrap(err, "h26x: prefix too short")
		}
		w.PutBit(bit)
	}
	for _, v := range newValues {
		if _, err := r.ReadUE(); err != nil {
			return nil, errors.Wrap(err, "h26x: reading field to replace")
		}
		w.PutUE(v)
	}
	for r.BitsLeft() > 0 {
		bit, err := r.ReadBit()
		if err != nil {
			break
		}
		w.PutBit(bit)
	}
	w.ByteAlign()
	return w.Bytes(), nil
}

// ReadSPSID extracts seq_parameter_set_id from a raw (NAL-header-
// stripped, emulation-prevention-stripped) H.264 SPS RBSP. profile_idc,
// constraint flag bits and level_idc occupy the first 24 bits.
func ReadSPSID(rbsp []byte) (uint32, error) {
	r := bitio.NewBitReader(rbsp)
	if _, err := r.ReadBits(24); err != nil {
		return 0, err
	}
	return r.ReadUE()
}

// PatchSPSID rewrites seq_parameter_set_id in an H.264 SPS RBSP.
func PatchSPSID(rbsp []byte, newID uint32) ([]byte, error) {
	return patchLeadingUEFields(rbsp, 24, []uint32{newID})
}

// ReadPPSIDs extracts (pic_parameter_set_id, seq_parameter_set_id) from
// an H.264 PPS RBSP; both are the first two fields.
func ReadPPSIDs(rbsp []byte) (ppsID, spsID uint32, err error) {
	r := bitio.NewBitReader(rbsp)
	if ppsID, err = r.ReadUE(); err != nil {
		return 0, 0, err
	}
	if spsID, err = r.ReadUE(); err != nil {
		return 0, 0, err
	}
	return ppsID, spsID, nil
}

// PatchPPSIDs rewrites both pic_parameter_set_id and the seq_parameter_
// set_id it references in an H.264 PPS RBSP.
func PatchPPSIDs(rbsp []byte, newPPSID, newSPSID uint32) ([]byte, error) {
	return patchLeadingUEFields(rbsp, 0, []uint32{newPPSID, newSPSID})
}

// FirstMBInSlice extracts first_mb_in_slice, the field that opens every
// H.264 slice header, without modifying anything. A nonzero value means
// the slice continues the access unit started by an earlier slice NAL
// rather than beginning a new one.
func FirstMBInSlice(rbsp []byte) (uint32, error) {
	r := bitio.NewBitReader(rbsp)
	return r.ReadUE()
}

// ReadSlicePPSID extracts the pic_parameter_set_id a slice header
// references, without modifying anything.
func ReadSlicePPSID(rbsp []byte) (uint32, error) {
	r := bitio.NewBitReader(rbsp)
	if _, err := r.ReadUE(); err != nil { // first_mb_in_slice
		return 0, err
	}
	if _, err := r.ReadUE(); err != nil { // slice_type
		return 0, err
	}
	return r.ReadUE()
}

// PatchSliceSPSOrPPSRef rewrites the pic_parameter_set_id field that
// opens every slice header (first_mb_in_slice ue(v), slice_type ue(v),
// pic_parameter_set_id ue(v)) so slices keep pointing at the correct PPS
// after PatchPPSIDs has renumbered it.
func PatchSliceSPSOrPPSRef(rbsp []byte, newPPSID uint32) ([]byte, error) {
	r := bitio.NewBitReader(rbsp)
	firstMB, err := r.ReadUE()
	if err != nil {
		return nil, err
	}
	sliceType, err := r.ReadUE()
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadUE(); err != nil { // discard old pic_parameter_set_id
		return nil, err
	}
	w := bitio.NewBitWriter()
	w.PutUE(firstMB)
	w.PutUE(sliceType)
	w.PutUE(newPPSID)
	for r.BitsLeft() > 0 {
		bit, err := r.ReadBit()
		if err != nil {
			break
		}
		w.PutBit(bit)
	}
	w.ByteAlign()
	return w.Bytes(), nil
}
