// Package chain implements the tamper-evident hash chain over audit
// events. Each entry's hash covers the canonical serialization of its
// event plus the previous entry's hash, so any retroactive edit to
// historical events is detectable by re-verification.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/oversight-labs/auditpipe/internal/audit"
)

// Entry is one link in a tenant's hash chain. Entries are created once,
// append-only, and never mutated.
type Entry struct {
	EventID       string       `json:"event_id"`
	Hash          string       `json:"hash"`
	PreviousHash  string       `json:"previous_hash,omitempty"` // empty at sequence index 0
	SequenceIndex int          `json:"sequence_index"`
	Event         *audit.Event `json:"event"` // underlying event, needed for re-verification
}

// ComputeHash returns the hex-encoded SHA-256 digest of the canonical
// event serialization concatenated with the previous hash. An empty
// previous hash marks the chain root.
func ComputeHash(e *audit.Event, previousHash string) (string, error) {
	canonical, err := audit.Canonicalize(e)
	if err != nil {
		return "", fmt.Errorf("chain: %w", err)
	}

	h := sha256.New()
	h.Write(canonical)
	h.Write([]byte(previousHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}
