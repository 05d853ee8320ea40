// Package ledger implements the append-only, hash-chained record store that
// backs both the ballot ledger and the audit ledger.
//
// Entries are partitioned into independent chains by scope (one scope per
// election on the ballot side, one per emitting component on the audit side).
// Within a scope entries are totally ordered by position; the first entry of
// every chain points at GenesisHash (64 hex zeros). Any modification,
// insertion, or reordering after the fact is detectable via Verify.
//
// Two implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for testing and development.
//   - PostgresLedger: durable, for production use.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ElectionScope returns the ballot-ledger scope name for an election.
// Every election's ballots form one independent chain.
func ElectionScope(electionID int64) string {
	return "election-" + strconv.FormatInt(electionID, 10)
}

// ElectionID extracts the election id from a ballot-ledger scope name.
// The second return is false for scopes not built by ElectionScope.
func ElectionID(scope string) (int64, bool) {
	rest, ok := strings.CutPrefix(scope, "election-")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ErrNotFound is returned when no entry matches the given position or hash.
var ErrNotFound = errors.New("ledger entry not found")

// ErrChainConflict is returned when a concurrent append won the race for the
// chain tail. It is transient: the losing append can safely be retried.
var ErrChainConflict = errors.New("ledger chain conflict")

// IntegrityError reports the first position at which a chain fails
// verification. It is fatal for the affected scope: no automatic repair is
// attempted, and callers are expected to halt dependent operations until an
// operator has investigated.
type IntegrityError struct {
	Scope    string
	Position int64
	Reason   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ledger integrity violation in scope %q at position %d: %s", e.Scope, e.Position, e.Reason)
}

// Ledger is the interface for an append-only hash-chained record store.
// Both MemoryLedger and PostgresLedger implement this interface.
type Ledger interface {
	// Append adds a new entry to the tail of the scope's chain and returns
	// it with position, hash, and timestamp filled in.
	Append(ctx context.Context, scope string, payload []byte) (*Entry, error)

	// Get returns the entry at the given zero-based position within a scope.
	Get(ctx context.Context, scope string, position int64) (*Entry, error)

	// Head returns the chain tip of a scope, or ErrNotFound for an empty scope.
	Head(ctx context.Context, scope string) (*Entry, error)

	// Len returns the number of entries in a scope.
	Len(ctx context.Context, scope string) (int64, error)

	// Scopes lists every scope that has at least one entry.
	Scopes(ctx context.Context) ([]string, error)

	// Walk visits a scope's entries in position order. Iteration stops at the
	// first error returned by fn, which is propagated to the caller.
	Walk(ctx context.Context, scope string, fn func(*Entry) error) error

	// FindByHash returns the entry with the given hash, searching all scopes.
	FindByHash(ctx context.Context, hash string) (*Entry, error)

	// Verify walks a scope's chain and checks hash consistency. It returns
	// nil for an intact (or empty) chain and an *IntegrityError pinpointing
	// the first bad position otherwise.
	Verify(ctx context.Context, scope string) error
}
