package organiser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for any login or token failure. The
// reason is deliberately not distinguished.
var ErrInvalidCredentials = errors.New("invalid credentials")

// organiserRepo is the storage interface consumed by Service.
type organiserRepo interface {
	Create(ctx context.Context, o *Organiser) error
	GetByID(ctx context.Context, id uuid.UUID) (*Organiser, error)
	GetByEmail(ctx context.Context, email string) (*Organiser, error)
}

// Service implements organiser account management and session tokens.
type Service struct {
	repo   organiserRepo
	tokens *TokenIssuer
	logger *zap.Logger
}

// NewService creates a new Service.
func NewService(repo organiserRepo, tokens *TokenIssuer, logger *zap.Logger) *Service {
	return &Service{repo: repo, tokens: tokens, logger: logger}
}

// Register creates a new organiser account with email/password authentication.
func (s *Service) Register(ctx context.Context, emailAddr, password, name string) (*Organiser, error) {
	if emailAddr == "" || password == "" {
		return nil, fmt.Errorf("email and password are required")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	if name == "" {
		name = emailAddr
		if at := strings.Index(emailAddr, "@"); at > 0 {
			name = emailAddr[:at]
		}
	}

	o := &Organiser{
		Email:        emailAddr,
		PasswordHash: string(hash),
		Name:         name,
	}
	if err := s.repo.Create(ctx, o); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create organiser: %w", err)
	}

	s.logger.Info("organiser registered", zap.String("organiser_id", o.ID.String()))
	return o, nil
}

// Login verifies email/password credentials and returns a signed session
// token together with the organiser.
func (s *Service) Login(ctx context.Context, emailAddr, password string) (string, *Organiser, error) {
	o, err := s.repo.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("lookup organiser: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(o.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(o)
	if err != nil {
		return "", nil, err
	}
	return token, o, nil
}

// Authenticate validates a session token and loads the organiser it names.
// A token for a deleted account fails even while its signature is valid.
func (s *Service) Authenticate(ctx context.Context, tokenStr string) (*Organiser, error) {
	claims, err := s.tokens.Verify(tokenStr)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	id, err := uuid.Parse(claims.OrganiserID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup organiser: %w", err)
	}
	return o, nil
}
