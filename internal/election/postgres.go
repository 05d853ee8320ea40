package election

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uvote-platform/uvote/internal/seal"
)

// Repository provides election lifecycle operations against PostgreSQL and
// implements the Oracle interface for the voting core.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new draft election and mints its ballot key.
func (r *Repository) Create(ctx context.Context, title string) (*Election, error) {
	key, err := seal.NewKey()
	if err != nil {
		return nil, err
	}

	e := &Election{
		Title:     title,
		Status:    StatusDraft,
		BallotKey: key,
		CreatedAt: time.Now().UTC(),
	}
	q := `
		INSERT INTO elections (title, status, ballot_key, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	if err := r.db.QueryRow(ctx, q, e.Title, e.Status, e.BallotKey, e.CreatedAt).Scan(&e.ID); err != nil {
		return nil, fmt.Errorf("create election: %w", err)
	}
	return e, nil
}

// Get retrieves an election by id.
func (r *Repository) Get(ctx context.Context, id int64) (*Election, error) {
	e := &Election{}
	q := `
		SELECT id, title, status, ballot_key, created_at, opened_at, closed_at
		FROM elections WHERE id = $1`
	err := r.db.QueryRow(ctx, q, id).Scan(
		&e.ID, &e.Title, &e.Status, &e.BallotKey,
		&e.CreatedAt, &e.OpenedAt, &e.ClosedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get election %d: %w", id, err)
	}
	return e, nil
}

// List returns all elections ordered by id.
func (r *Repository) List(ctx context.Context) ([]*Election, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, title, status, ballot_key, created_at, opened_at, closed_at
		FROM elections ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list elections: %w", err)
	}
	defer rows.Close()

	var out []*Election
	for rows.Next() {
		e := &Election{}
		if err := rows.Scan(
			&e.ID, &e.Title, &e.Status, &e.BallotKey,
			&e.CreatedAt, &e.OpenedAt, &e.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("scan election: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Open moves a draft election into the voting window.
func (r *Repository) Open(ctx context.Context, id int64) error {
	return r.transition(ctx, id, StatusDraft, StatusOpen, "opened_at")
}

// Close ends an open election's voting window. Closed is terminal.
func (r *Repository) Close(ctx context.Context, id int64) error {
	return r.transition(ctx, id, StatusOpen, StatusClosed, "closed_at")
}

// transition performs a guarded status move. The WHERE clause carries the
// expected current status, so racing transitions cannot skip a state.
func (r *Repository) transition(ctx context.Context, id int64, from, to Status, stampCol string) error {
	q := fmt.Sprintf(`UPDATE elections SET status = $1, %s = $2 WHERE id = $3 AND status = $4`, stampCol)
	tag, err := r.db.Exec(ctx, q, to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("transition election %d to %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrBadTransition
	}
	return nil
}

// IsOpen implements Oracle.
func (r *Repository) IsOpen(ctx context.Context, electionID int64) (bool, error) {
	var status Status
	err := r.db.QueryRow(ctx, `SELECT status FROM elections WHERE id = $1`, electionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("read election status: %w", err)
	}
	return status == StatusOpen, nil
}

// BallotKey implements Oracle.
func (r *Repository) BallotKey(ctx context.Context, electionID int64) ([]byte, error) {
	var key []byte
	err := r.db.QueryRow(ctx, `SELECT ballot_key FROM elections WHERE id = $1`, electionID).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read ballot key: %w", err)
	}
	return key, nil
}
