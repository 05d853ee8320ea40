package voting

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uvote-platform/uvote/internal/audit"
	"github.com/uvote-platform/uvote/internal/election"
)

// ExchangeService converts an issued authorization into an anonymous ballot
// credential. The conversion is the platform's anonymity bridge: after it,
// the voter acts only through the credential, and nothing stored on the
// platform connects the two.
type ExchangeService struct {
	store  Store
	oracle election.Oracle
	audit  *audit.Emitter
	logger *zap.Logger
}

// NewExchangeService creates an ExchangeService.
func NewExchangeService(store Store, oracle election.Oracle, emitter *audit.Emitter, logger *zap.Logger) *ExchangeService {
	return &ExchangeService{store: store, oracle: oracle, audit: emitter, logger: logger}
}

// Exchange consumes the authorization and returns the freshly minted
// credential. Retries against an already-consumed authorization return
// ErrAlreadyConsumed; the credential from the first exchange is never
// re-derivable.
//
// The returned credential value is handed to the voter and forgotten: it is
// never logged here or anywhere downstream next to the authorization.
func (s *ExchangeService) Exchange(ctx context.Context, authorizationID uuid.UUID) (*Credential, error) {
	a, err := s.store.AuthorizationByID(ctx, authorizationID)
	if err != nil {
		return nil, err
	}

	open, err := s.oracle.IsOpen(ctx, a.ElectionID)
	if err != nil {
		if errors.Is(err, election.ErrNotFound) {
			return nil, ErrElectionNotActive
		}
		return nil, fmt.Errorf("check election status: %w", err)
	}
	if !open {
		return nil, ErrElectionNotActive
	}

	value, err := newCredentialValue()
	if err != nil {
		return nil, err
	}
	cred := &Credential{
		Value:      value,
		ElectionID: a.ElectionID,
		Status:     StatusIssued,
		IssuedAt:   time.Now().UTC(),
	}

	// The audit event names the authorization, never the credential.
	rec, err := s.audit.Build(audit.EventAuthorizationConsumed, map[string]string{
		"authorization_id": a.ID.String(),
		"election_id":      strconv.FormatInt(a.ElectionID, 10),
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.ExchangeAuthorization(ctx, a.ID, cred, rec); err != nil {
		return nil, err
	}

	s.logger.Info("authorization exchanged",
		zap.String("authorization_id", a.ID.String()),
		zap.Int64("election_id", a.ElectionID),
	)
	return cred, nil
}

// newCredentialValue draws 32 bytes from crypto/rand and encodes them as a
// 43-character URL-safe token. 256 bits of entropy keeps credentials
// unguessable and collisions out of the picture.
func newCredentialValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate credential: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
