package voting

import (
	"context"

	"github.com/google/uuid"

	"github.com/uvote-platform/uvote/internal/audit"
	"github.com/uvote-platform/uvote/internal/ledger"
)

// Store is the persistence contract for authorizations and credentials,
// including the two atomic operations at the heart of the anonymity bridge.
// MemoryStore and PostgresStore implement it.
type Store interface {
	// CreateAuthorization records a new issued authorization. Enrollment is
	// the only writer; ErrDuplicateAuthorization enforces one per
	// (voter, election).
	CreateAuthorization(ctx context.Context, a *Authorization) error

	// AuthorizationByID returns the authorization with the given id, or
	// ErrAuthorizationNotFound.
	AuthorizationByID(ctx context.Context, id uuid.UUID) (*Authorization, error)

	// CredentialByValue returns the credential with the given value, or
	// ErrCredentialUnknown.
	CredentialByValue(ctx context.Context, value string) (*Credential, error)

	// ExchangeAuthorization atomically consumes the authorization and records
	// the credential and the audit event. Either all three state changes
	// persist or none do. Returns ErrAuthorizationNotFound or
	// ErrAlreadyConsumed without side effects.
	ExchangeAuthorization(ctx context.Context, id uuid.UUID, cred *Credential, rec audit.Record) error

	// CastBallot atomically consumes the credential, appends the sealed
	// ballot to the election's chain, and appends the audit record built
	// from the new entry. A failed append leaves the credential issued so
	// the voter can retry. Returns ErrCredentialUnknown or ErrCredentialUsed
	// without side effects.
	CastBallot(ctx context.Context, credentialValue string, ciphertext []byte,
		buildAudit func(*ledger.Entry) (audit.Record, error)) (*ledger.Entry, error)

	// CountAuthorizations returns how many authorizations for the election
	// are still issued and how many have been consumed.
	CountAuthorizations(ctx context.Context, electionID int64) (issued, consumed int64, err error)

	// CountCredentials returns how many credentials for the election are
	// still issued and how many have been consumed.
	CountCredentials(ctx context.Context, electionID int64) (issued, consumed int64, err error)

	// BallotChainLen returns the length of the election's ballot chain.
	BallotChainLen(ctx context.Context, electionID int64) (int64, error)
}
