package voting

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/uvote-platform/uvote/internal/audit"
	"github.com/uvote-platform/uvote/internal/election"
	"github.com/uvote-platform/uvote/internal/ledger"
	"github.com/uvote-platform/uvote/internal/seal"
	"github.com/uvote-platform/uvote/pkg/receipt"
)

// Receipt is what a voter gets back for a cast ballot: an opaque handle
// derived from the ledger entry hash, plus where the ballot landed. The
// handle proves inclusion without revealing the ballot's content.
type Receipt struct {
	Handle     string `json:"receipt"`
	ElectionID int64  `json:"election_id"`
	Position   int64  `json:"position"`
}

// ReconcileReport compares the credential ledger against the ballot chain
// for one election. The counts must line up; a mismatch is reported, never
// repaired.
type ReconcileReport struct {
	ElectionID             int64 `json:"election_id"`
	AuthorizationsConsumed int64 `json:"authorizations_consumed"`
	CredentialsIssued      int64 `json:"credentials_issued"`
	CredentialsConsumed    int64 `json:"credentials_consumed"`
	LedgerEntries          int64 `json:"ledger_entries"`
	Consistent             bool  `json:"consistent"`
}

// haltChecker reports whether a ballot scope is quarantined after a failed
// integrity sweep. *integrity.Monitor satisfies this interface.
type haltChecker interface {
	Halted(scope string) bool
}

// CastingService accepts sealed ballots from credential holders and appends
// them to the election's ballot chain.
type CastingService struct {
	store  Store
	oracle election.Oracle
	audit  *audit.Emitter
	halts  haltChecker
	logger *zap.Logger
}

// NewCastingService creates a CastingService.
func NewCastingService(store Store, oracle election.Oracle, emitter *audit.Emitter, logger *zap.Logger) *CastingService {
	return &CastingService{store: store, oracle: oracle, audit: emitter, logger: logger}
}

// SetHaltChecker wires the integrity monitor in. Without one, casting never
// refuses a scope on integrity grounds.
func (s *CastingService) SetHaltChecker(h haltChecker) {
	s.halts = h
}

// Cast seals the selection under the election's ballot key, consumes the
// credential, and appends the sealed ballot to the election's chain. The
// returned receipt is the only artifact the voter keeps.
func (s *CastingService) Cast(ctx context.Context, credentialValue, selection string) (*Receipt, error) {
	c, err := s.store.CredentialByValue(ctx, credentialValue)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusIssued {
		return nil, ErrCredentialUsed
	}

	scope := ledger.ElectionScope(c.ElectionID)
	if s.halts != nil && s.halts.Halted(scope) {
		return nil, ErrScopeHalted
	}

	open, err := s.oracle.IsOpen(ctx, c.ElectionID)
	if err != nil {
		if errors.Is(err, election.ErrNotFound) {
			return nil, ErrElectionClosed
		}
		return nil, fmt.Errorf("check election status: %w", err)
	}
	if !open {
		return nil, ErrElectionClosed
	}

	key, err := s.oracle.BallotKey(ctx, c.ElectionID)
	if err != nil {
		return nil, fmt.Errorf("load ballot key: %w", err)
	}
	box, err := seal.Seal(key, []byte(selection))
	if err != nil {
		return nil, fmt.Errorf("seal ballot: %w", err)
	}

	entry, err := s.store.CastBallot(ctx, credentialValue, box, func(e *ledger.Entry) (audit.Record, error) {
		// Election and position only. Position next to a credential or voter
		// would be a linkage, and neither is representable here.
		return s.audit.Build(audit.EventBallotCast, map[string]string{
			"election_id":    strconv.FormatInt(c.ElectionID, 10),
			"entry_position": strconv.FormatInt(e.Position, 10),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("ballot cast",
		zap.Int64("election_id", c.ElectionID),
		zap.Int64("position", entry.Position),
	)
	return &Receipt{
		Handle:     receipt.FromHash(entry.Hash),
		ElectionID: c.ElectionID,
		Position:   entry.Position,
	}, nil
}

// Reconcile cross-checks an election's counters: every consumed credential
// must correspond to exactly one ballot entry, and every consumed
// authorization to exactly one credential.
func (s *CastingService) Reconcile(ctx context.Context, electionID int64) (*ReconcileReport, error) {
	_, authConsumed, err := s.store.CountAuthorizations(ctx, electionID)
	if err != nil {
		return nil, err
	}
	credIssued, credConsumed, err := s.store.CountCredentials(ctx, electionID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.BallotChainLen(ctx, electionID)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{
		ElectionID:             electionID,
		AuthorizationsConsumed: authConsumed,
		CredentialsIssued:      credIssued + credConsumed,
		CredentialsConsumed:    credConsumed,
		LedgerEntries:          entries,
	}
	report.Consistent = report.CredentialsConsumed == report.LedgerEntries &&
		report.CredentialsIssued == report.AuthorizationsConsumed

	if _, err := s.audit.Emit(ctx, audit.EventReconciliationRun, map[string]string{
		"election_id":          strconv.FormatInt(electionID, 10),
		"credentials_consumed": strconv.FormatInt(report.CredentialsConsumed, 10),
		"ledger_entries":       strconv.FormatInt(report.LedgerEntries, 10),
		"consistent":           strconv.FormatBool(report.Consistent),
	}); err != nil {
		return nil, err
	}

	if !report.Consistent {
		s.logger.Error("reconciliation mismatch",
			zap.Int64("election_id", electionID),
			zap.Int64("credentials_consumed", report.CredentialsConsumed),
			zap.Int64("ledger_entries", report.LedgerEntries),
		)
	}
	return report, nil
}
