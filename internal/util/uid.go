package util

import (
	"fmt"
	"hash/fnv"
)

// uidRoot is the UUID-derived root (2.25) used for generated identifiers.
const uidRoot = "2.25."

// GenerateDeterministicUID returns a valid DICOM UID derived from seed.
// The same seed always yields the same UID.
func GenerateDeterministicUID(seed string) string {
	h := fnv.New128a()
	_, _ = h.Write([]byte(seed))
	sum := h.Sum(nil)

	// Two 64-bit halves printed as decimal keep the UID under 64 characters.
	var hi, lo uint64
	for i := 0; i < 8; i++ {
		hi = hi<<8 | uint64(sum[i])
		lo = lo<<8 | uint64(sum[i+8])
	}
	return fmt.Sprintf("%s%d%d", uidRoot, hi>>1, lo>>1)
}
