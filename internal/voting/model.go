// Package voting implements the anonymity bridge: the one-way conversion of
// identity-linked voting authorizations into anonymous ballot credentials,
// and the casting of sealed ballots onto the ballot ledger.
package voting

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the single-use state of an authorization or credential.
// Consumed is terminal; there is no transition back to issued.
type Status string

const (
	StatusIssued   Status = "issued"
	StatusConsumed Status = "consumed"
)

// Authorization is the identity-linked right to vote in one election. It is
// created by voter enrollment (one per voter per election) and consumed
// exactly once, in exchange for a credential.
type Authorization struct {
	ID         uuid.UUID  `json:"id"          db:"id"`
	ElectionID int64      `json:"election_id" db:"election_id"`
	VoterID    int64      `json:"voter_id"    db:"voter_id"`
	Status     Status     `json:"status"      db:"status"`
	IssuedAt   time.Time  `json:"issued_at"   db:"issued_at"`
	ConsumedAt *time.Time `json:"consumed_at" db:"consumed_at"`
}

// Credential is the anonymous ballot credential. It references an election
// and nothing else: neither this struct nor the backing schema has a voter
// column, so no stored artifact can join a credential back to a person.
// The value itself never appears in JSON output or logs.
type Credential struct {
	Value      string     `json:"-"           db:"value"`
	ElectionID int64      `json:"election_id" db:"election_id"`
	Status     Status     `json:"status"      db:"status"`
	IssuedAt   time.Time  `json:"issued_at"   db:"issued_at"`
	ConsumedAt *time.Time `json:"consumed_at" db:"consumed_at"`
}

var (
	// ErrAuthorizationNotFound is returned for an unknown authorization id.
	ErrAuthorizationNotFound = errors.New("authorization not found")

	// ErrAlreadyConsumed is returned when an authorization has already been
	// exchanged. The first exchange minted the only credential there will be.
	ErrAlreadyConsumed = errors.New("authorization already consumed")

	// ErrDuplicateAuthorization is returned when enrollment attempts a second
	// authorization for the same (voter, election) pair.
	ErrDuplicateAuthorization = errors.New("authorization already exists for voter and election")

	// ErrCredentialUnknown is returned for a credential value that was never
	// issued.
	ErrCredentialUnknown = errors.New("credential unknown")

	// ErrCredentialUsed is returned when a credential has already cast its
	// ballot.
	ErrCredentialUsed = errors.New("credential already used")

	// ErrElectionNotActive is returned by exchange when the election is not
	// in its voting window.
	ErrElectionNotActive = errors.New("election not in its voting window")

	// ErrElectionClosed is returned by cast when the election is not open.
	ErrElectionClosed = errors.New("election closed")

	// ErrScopeHalted is returned by cast when the election's ballot chain
	// failed verification and is quarantined pending investigation.
	ErrScopeHalted = errors.New("ballot chain halted pending investigation")
)
