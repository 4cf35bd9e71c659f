// Package fingerprint computes the content hash used to recognize an
// imported entry across re-imports, even after the user has moved it to a
// different date or marked it complete.
package fingerprint

import (
	"crypto/sha256"
	"fmt"
)

// Sum returns the SHA-256 hash of (date, subject, task) as a hex string.
// Each field is written with a length prefix so that field boundaries are
// unambiguous: ("ab", "c") and ("a", "bc") never collide the way they would
// with plain concatenation.
func Sum(date, subject, task string) string {
	h := sha256.New()
	for _, field := range []string{date, subject, task} {
		fmt.Fprintf(h, "%d:%s", len(field), field)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
