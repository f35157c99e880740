package utils

import (
	"hash/fnv"
	"strconv"
)

// ShortHash returns a compact, non-cryptographic hex digest of s, suitable
// for cache keys and ETags.
func ShortHash(s string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return strconv.FormatUint(uint64(h.Sum32()), 16)
}
