package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenesisHash is the well-known previous-hash of the first entry in every
// scope. It anchors each chain to a constant rather than a computed value.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is a single record in a hash-chained scope.
//
// Payload is deliberately excluded from JSON marshalling: ballot payloads are
// ciphertext that must never leave the store through a listing surface.
// Callers that legitimately need payload bytes (tally, audit trail) read the
// field explicitly.
type Entry struct {
	Scope     string    `json:"scope"`
	Position  int64     `json:"position"`
	Payload   []byte    `json:"-"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// hashEntry computes the SHA-256 over payload, previous hash, scope, and
// timestamp. Position is not an input: ordering is already bound by the
// previous-hash link.
func hashEntry(e *Entry) string {
	h := sha256.New()
	h.Write(e.Payload)
	fmt.Fprintf(h, "|%s|%s|%s", e.PrevHash, e.Scope, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	return hex.EncodeToString(h.Sum(nil))
}

// entryTimestamp returns the current UTC time truncated to microseconds.
// timestamptz stores microsecond precision, so hashing anything finer would
// break Verify once the value round-trips through the database.
func entryTimestamp() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// verifyChain applies the chain validity checks to a stream of entries in
// position order. source must call yield once per entry and stop on the first
// error yield returns.
func verifyChain(scope string, source func(yield func(*Entry) error) error) error {
	var prev *Entry
	return source(func(curr *Entry) error {
		if prev == nil {
			if curr.Position != 0 {
				return &IntegrityError{Scope: scope, Position: curr.Position, Reason: "chain does not start at position 0"}
			}
			if curr.PrevHash != GenesisHash {
				return &IntegrityError{Scope: scope, Position: 0, Reason: "first entry does not link to the genesis hash"}
			}
		} else {
			if curr.Position != prev.Position+1 {
				return &IntegrityError{Scope: scope, Position: curr.Position, Reason: "position gap in chain"}
			}
			if curr.PrevHash != prev.Hash {
				return &IntegrityError{Scope: scope, Position: curr.Position, Reason: "hash chain broken"}
			}
		}
		if curr.Hash != hashEntry(curr) {
			return &IntegrityError{Scope: scope, Position: curr.Position, Reason: "entry hash mismatch"}
		}
		prev = curr
		return nil
	})
}
