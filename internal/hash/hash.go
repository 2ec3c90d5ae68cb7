// Package hash implements the fixed term-identity encoding used across the
// store: 64-bit xxhash (seed 0) over the UTF-8 bytes of a term's surface form.
// The zero hash is reserved for the empty graph term and round-trips to "".
package hash

import (
	"fmt"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// EmptyGraph is the reserved hash of the absent graph term.
const EmptyGraph uint64 = 0

// Sum returns the hash identity of a term.
func Sum(term string) uint64 {
	if term == "" {
		return EmptyGraph
	}
	return xxhash.Sum64String(term)
}

// Valid reports whether a term can be hashed at all. Lines decoded from
// escaped JSON-style surrogate pairs can yield byte sequences that are not
// UTF-8; those triples are skipped rather than stored under a bogus identity.
func Valid(term string) bool {
	return utf8.ValidString(term)
}

// Hex returns the 16-digit uppercase hex form used in the interim files
// exchanged between the parser and the bulk loader.
func Hex(term string) string {
	return fmt.Sprintf("%016X", Sum(term))
}

// SQL returns the lowercase ubigint literal form used when splicing a term
// hash into a query, e.g. '0x9c2e0f4c8d6a1b3e'::ubigint.
func SQL(term string) string {
	return fmt.Sprintf("'0x%016x'::ubigint", Sum(term))
}

// SQLFromSum is SQL for an already-computed hash value.
func SQLFromSum(h uint64) string {
	return fmt.Sprintf("'0x%016x'::ubigint", h)
}
