package attest

import (
	"crypto/subtle"
	"sort"
)

// CheckPCRs compares the document's PCR values against caller expectations.
// expected is a partial map: only the indices it contains are checked, and
// each must be present in actual with a byte-identical value. An empty or nil
// expected succeeds trivially; that is the documented opt-out of measurement
// pinning, not an oversight. Comparison is constant-time per digest so the
// check leaks nothing about how far a mismatching value matched.
func CheckPCRs(actual, expected map[int][]byte) error {
	indices := make([]int, 0, len(expected))
	for idx := range expected {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	for _, idx := range indices {
		got, ok := actual[idx]
		if !ok {
			return &PolicyError{Kind: PolicyMissing, Index: idx}
		}
		if subtle.ConstantTimeCompare(got, expected[idx]) != 1 {
			return &PolicyError{Kind: PolicyMismatch, Index: idx}
		}
	}
	return nil
}
