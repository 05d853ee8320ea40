package voting

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uvote-platform/uvote/internal/audit"
	"github.com/uvote-platform/uvote/internal/ledger"
)

// MemoryStore is an in-memory Store implementation for tests and
// single-process development. One mutex spans each atomic operation, which
// gives the same all-or-nothing visibility the Postgres twin gets from its
// transactions.
type MemoryStore struct {
	mu             sync.Mutex
	authorizations map[uuid.UUID]*Authorization
	voterElections map[string]bool
	credentials    map[string]*Credential
	ballots        ledger.Ledger
	audits         ledger.Ledger
}

// NewMemoryStore creates a MemoryStore appending to the given ballot and
// audit ledgers.
func NewMemoryStore(ballots, audits ledger.Ledger) *MemoryStore {
	return &MemoryStore{
		authorizations: make(map[uuid.UUID]*Authorization),
		voterElections: make(map[string]bool),
		credentials:    make(map[string]*Credential),
		ballots:        ballots,
		audits:         audits,
	}
}

func voterElectionKey(voterID, electionID int64) string {
	return strconv.FormatInt(voterID, 10) + "|" + strconv.FormatInt(electionID, 10)
}

// CreateAuthorization implements Store.
func (s *MemoryStore) CreateAuthorization(_ context.Context, a *Authorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := voterElectionKey(a.VoterID, a.ElectionID)
	if s.voterElections[key] {
		return ErrDuplicateAuthorization
	}
	if _, exists := s.authorizations[a.ID]; exists {
		return ErrDuplicateAuthorization
	}

	cp := *a
	s.authorizations[a.ID] = &cp
	s.voterElections[key] = true
	return nil
}

// AuthorizationByID implements Store. A copy is returned so callers never
// observe a flip mid-operation.
func (s *MemoryStore) AuthorizationByID(_ context.Context, id uuid.UUID) (*Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.authorizations[id]
	if !ok {
		return nil, ErrAuthorizationNotFound
	}
	cp := *a
	return &cp, nil
}

// CredentialByValue implements Store.
func (s *MemoryStore) CredentialByValue(_ context.Context, value string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[value]
	if !ok {
		return nil, ErrCredentialUnknown
	}
	cp := *c
	return &cp, nil
}

// ExchangeAuthorization implements Store.
func (s *MemoryStore) ExchangeAuthorization(ctx context.Context, id uuid.UUID, cred *Credential, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.authorizations[id]
	if !ok {
		return ErrAuthorizationNotFound
	}
	if a.Status != StatusIssued {
		return ErrAlreadyConsumed
	}

	now := time.Now().UTC()
	a.Status = StatusConsumed
	a.ConsumedAt = &now

	cp := *cred
	s.credentials[cred.Value] = &cp

	if _, err := s.audits.Append(ctx, rec.Scope, rec.Payload); err != nil {
		a.Status = StatusIssued
		a.ConsumedAt = nil
		delete(s.credentials, cred.Value)
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// CastBallot implements Store. The credential flip is the last step in the
// critical section, so a failed ledger append leaves it issued.
func (s *MemoryStore) CastBallot(ctx context.Context, credentialValue string, ciphertext []byte,
	buildAudit func(*ledger.Entry) (audit.Record, error)) (*ledger.Entry, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[credentialValue]
	if !ok {
		return nil, ErrCredentialUnknown
	}
	if c.Status != StatusIssued {
		return nil, ErrCredentialUsed
	}

	entry, err := s.ballots.Append(ctx, ledger.ElectionScope(c.ElectionID), ciphertext)
	if err != nil {
		return nil, fmt.Errorf("append ballot: %w", err)
	}

	rec, err := buildAudit(entry)
	if err != nil {
		return nil, err
	}
	if _, err := s.audits.Append(ctx, rec.Scope, rec.Payload); err != nil {
		return nil, fmt.Errorf("append audit event: %w", err)
	}

	now := time.Now().UTC()
	c.Status = StatusConsumed
	c.ConsumedAt = &now
	return entry, nil
}

// CountAuthorizations implements Store.
func (s *MemoryStore) CountAuthorizations(_ context.Context, electionID int64) (issued, consumed int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.authorizations {
		if a.ElectionID != electionID {
			continue
		}
		if a.Status == StatusIssued {
			issued++
		} else {
			consumed++
		}
	}
	return issued, consumed, nil
}

// CountCredentials implements Store.
func (s *MemoryStore) CountCredentials(_ context.Context, electionID int64) (issued, consumed int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.credentials {
		if c.ElectionID != electionID {
			continue
		}
		if c.Status == StatusIssued {
			issued++
		} else {
			consumed++
		}
	}
	return issued, consumed, nil
}

// BallotChainLen implements Store.
func (s *MemoryStore) BallotChainLen(ctx context.Context, electionID int64) (int64, error) {
	return s.ballots.Len(ctx, ledger.ElectionScope(electionID))
}
