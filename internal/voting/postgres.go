package voting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uvote-platform/uvote/internal/audit"
	"github.com/uvote-platform/uvote/internal/ledger"
)

// PostgresStore is the durable Store implementation. Its atomic operations
// run in a single transaction each: row locks serialise racing consumers of
// one authorization or credential, and the ledger appends commit or roll
// back together with the status flips that justify them.
//
// Deployments give each bridge component its own PostgresStore on its own
// least-privilege connection pool; the type itself is role-agnostic.
type PostgresStore struct {
	db      *pgxpool.Pool
	ballots *ledger.PostgresLedger
	audits  *ledger.PostgresLedger
}

// NewPostgresStore creates a PostgresStore. The ledger handles supply the
// transactional appends and the ballot chain length; authorization and
// credential rows go through db.
func NewPostgresStore(db *pgxpool.Pool, ballots, audits *ledger.PostgresLedger) *PostgresStore {
	return &PostgresStore{db: db, ballots: ballots, audits: audits}
}

// CreateAuthorization implements Store.
func (s *PostgresStore) CreateAuthorization(ctx context.Context, a *Authorization) error {
	q := `
		INSERT INTO voting_authorizations (id, election_id, voter_id, status, issued_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.Exec(ctx, q, a.ID, a.ElectionID, a.VoterID, a.Status, a.IssuedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateAuthorization
		}
		return fmt.Errorf("create authorization: %w", err)
	}
	return nil
}

// AuthorizationByID implements Store.
func (s *PostgresStore) AuthorizationByID(ctx context.Context, id uuid.UUID) (*Authorization, error) {
	a := &Authorization{}
	q := `
		SELECT id, election_id, voter_id, status, issued_at, consumed_at
		FROM voting_authorizations WHERE id = $1`
	err := s.db.QueryRow(ctx, q, id).Scan(
		&a.ID, &a.ElectionID, &a.VoterID, &a.Status, &a.IssuedAt, &a.ConsumedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAuthorizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get authorization: %w", err)
	}
	return a, nil
}

// CredentialByValue implements Store.
func (s *PostgresStore) CredentialByValue(ctx context.Context, value string) (*Credential, error) {
	c := &Credential{}
	q := `
		SELECT value, election_id, status, issued_at, consumed_at
		FROM ballot_credentials WHERE value = $1`
	err := s.db.QueryRow(ctx, q, value).Scan(
		&c.Value, &c.ElectionID, &c.Status, &c.IssuedAt, &c.ConsumedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCredentialUnknown
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

// ExchangeAuthorization implements Store.
func (s *PostgresStore) ExchangeAuthorization(ctx context.Context, id uuid.UUID, cred *Credential, rec audit.Record) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var status Status
	q := `SELECT status FROM voting_authorizations WHERE id = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, q, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAuthorizationNotFound
		}
		return fmt.Errorf("lock authorization: %w", err)
	}
	if status != StatusIssued {
		return ErrAlreadyConsumed
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE voting_authorizations SET status = $2, consumed_at = $3 WHERE id = $1`,
		id, StatusConsumed, now,
	); err != nil {
		return fmt.Errorf("consume authorization: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ballot_credentials (value, election_id, status, issued_at)
		 VALUES ($1, $2, $3, $4)`,
		cred.Value, cred.ElectionID, cred.Status, cred.IssuedAt,
	); err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}

	if _, err := s.audits.AppendTx(ctx, tx, rec.Scope, rec.Payload); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit exchange: %w", err)
	}
	return nil
}

// CastBallot implements Store.
//
// Lock order within the transaction is fixed: credential row, then the
// election's ballot scope, then the audit scope. Every cast takes them in
// this order, so the advisory locks cannot deadlock.
func (s *PostgresStore) CastBallot(ctx context.Context, credentialValue string, ciphertext []byte,
	buildAudit func(*ledger.Entry) (audit.Record, error)) (*ledger.Entry, error) {

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var electionID int64
	var status Status
	q := `SELECT election_id, status FROM ballot_credentials WHERE value = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, q, credentialValue).Scan(&electionID, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCredentialUnknown
		}
		return nil, fmt.Errorf("lock credential: %w", err)
	}
	if status != StatusIssued {
		return nil, ErrCredentialUsed
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE ballot_credentials SET status = $2, consumed_at = $3 WHERE value = $1`,
		credentialValue, StatusConsumed, now,
	); err != nil {
		return nil, fmt.Errorf("consume credential: %w", err)
	}

	entry, err := s.ballots.AppendTx(ctx, tx, ledger.ElectionScope(electionID), ciphertext)
	if err != nil {
		return nil, fmt.Errorf("append ballot: %w", err)
	}

	rec, err := buildAudit(entry)
	if err != nil {
		return nil, err
	}
	if _, err := s.audits.AppendTx(ctx, tx, rec.Scope, rec.Payload); err != nil {
		return nil, fmt.Errorf("append audit event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cast: %w", err)
	}
	return entry, nil
}

// CountAuthorizations implements Store.
func (s *PostgresStore) CountAuthorizations(ctx context.Context, electionID int64) (issued, consumed int64, err error) {
	q := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'issued'),
			COUNT(*) FILTER (WHERE status = 'consumed')
		FROM voting_authorizations WHERE election_id = $1`
	if err := s.db.QueryRow(ctx, q, electionID).Scan(&issued, &consumed); err != nil {
		return 0, 0, fmt.Errorf("count authorizations: %w", err)
	}
	return issued, consumed, nil
}

// CountCredentials implements Store.
func (s *PostgresStore) CountCredentials(ctx context.Context, electionID int64) (issued, consumed int64, err error) {
	q := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'issued'),
			COUNT(*) FILTER (WHERE status = 'consumed')
		FROM ballot_credentials WHERE election_id = $1`
	if err := s.db.QueryRow(ctx, q, electionID).Scan(&issued, &consumed); err != nil {
		return 0, 0, fmt.Errorf("count credentials: %w", err)
	}
	return issued, consumed, nil
}

// BallotChainLen implements Store.
func (s *PostgresStore) BallotChainLen(ctx context.Context, electionID int64) (int64, error) {
	return s.ballots.Len(ctx, ledger.ElectionScope(electionID))
}
