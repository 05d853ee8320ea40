package organiser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when an organiser lookup finds no matching record.
var ErrNotFound = errors.New("organiser not found")

// ErrDuplicateEmail is returned when registration reuses an email address.
var ErrDuplicateEmail = errors.New("email already registered")

// Repository provides organiser persistence against PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new organiser record. Sets ID and CreatedAt.
func (r *Repository) Create(ctx context.Context, o *Organiser) error {
	o.ID = uuid.New()
	o.CreatedAt = time.Now().UTC()

	q := `
		INSERT INTO organisers (id, email, password_hash, name, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Exec(ctx, q, o.ID, o.Email, o.PasswordHash, o.Name, o.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("create organiser: %w", err)
	}
	return nil
}

// GetByID retrieves an organiser by their internal UUID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Organiser, error) {
	return r.scanOne(ctx,
		`SELECT id, email, password_hash, name, created_at FROM organisers WHERE id = $1`, id)
}

// GetByEmail retrieves an organiser by their email address.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*Organiser, error) {
	return r.scanOne(ctx,
		`SELECT id, email, password_hash, name, created_at FROM organisers WHERE email = $1`, email)
}

// scanOne executes a single-row query and scans the result into an Organiser.
func (r *Repository) scanOne(ctx context.Context, q string, args ...any) (*Organiser, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	var o Organiser
	if err := rows.Scan(&o.ID, &o.Email, &o.PasswordHash, &o.Name, &o.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan organiser: %w", err)
	}
	return &o, rows.Err()
}
