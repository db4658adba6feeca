// Package memory holds the pure building blocks of the conversational
// memory subsystem: transcript fingerprinting and embedding similarity.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Turn is one (role, text) pair of a transcript.
type Turn struct {
	Role string
	Text string
}

// Fingerprint returns a deterministic, order-sensitive digest of a
// transcript. Identical transcripts always produce the same digest; any
// change to a turn's role, text, or position produces a different one.
// Role and text are length-prefixed so adjacent fields cannot bleed into
// each other ("ab"+"c" never collides with "a"+"bc").
func Fingerprint(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%d:%s|%d:%s\n", len(t.Role), t.Role, len(t.Text), t.Text)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
