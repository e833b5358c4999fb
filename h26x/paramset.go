// Package h26x adapts Annex-B H.264/H.265 NAL streams into the
// length-prefixed ("AVCC"/"HVCC") sample format MP4 requires, including
// SPS/PPS parameter-set caching and optional id transcoding when the
// same stream carries colliding id values from more than one source.
package h26x

import (
	"bytes"

	"github.com/pkg/errors"
)

// ErrTooManyParameterSets is returned when a stream presents more
// distinct SPS/PPS than the bounded cache can track. minimp4 bounds
// these caches (32 SPS ids, 256 PPS ids) because the id fields are 5
// and 8 bits wide respectively.
var ErrTooManyParameterSets = errors.New("h26x: too many distinct parameter sets for this id space")

// MaxSPSEntries and MaxPPSEntries mirror the id-space bounds used by
// minimp4's SPS/PPS id remap tables.
const (
	MaxSPSEntries = 32
	MaxPPSEntries = 256
)

// ParameterSetCache deduplicates parameter-set NAL payloads by byte
// content and assigns each distinct payload a dense, stable index. It
// is used to build the avcC/hvcC SPS/PPS entry lists; when id
// transcoding is enabled it holds the id-patched payloads, and the
// Writer decides whether an incoming SPS/PPS is new from its original
// (pre-patch) bytes, not from this cache.
type ParameterSetCache struct {
	entries [][]byte
	max     int
}

// NewSPSCache returns a cache bounded to MaxSPSEntries distinct values.
func NewSPSCache() *ParameterSetCache { return &ParameterSetCache{max: MaxSPSEntries} }

// NewPPSCache returns a cache bounded to MaxPPSEntries distinct values.
func NewPPSCache() *ParameterSetCache { return &ParameterSetCache{max: MaxPPSEntries} }

// Lookup returns the dense index of data if already cached.
func (c *ParameterSetCache) Lookup(data []byte) (int, bool) {
	for i, e := range c.entries {
		if bytes.Equal(e, data) {
			return i, true
		}
	}
	return -1, false
}

// Add inserts data if it is not already present, returning its dense
// index and whether it was newly inserted. Returns ErrTooManyParameterSets
// if the cache is full and data is genuinely new.
func (c *ParameterSetCache) Add(data []byte) (int, bool, error) {
	if id, ok := c.Lookup(data); ok {
		return id, false, nil
	}
	if len(c.entries) >= c.max {
		return -1, false, ErrTooManyParameterSets
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.entries = append(c.entries, cp)
	return len(c.entries) - 1, true, nil
}

// Entries returns all cached payloads in dense-index order. The
// returned slices alias internal storage and must not be mutated.
func (c *ParameterSetCache) Entries() [][]byte { return c.entries }

// Len reports how many distinct entries are cached.
func (c *ParameterSetCache) Len() int { return len(c.entries) }
