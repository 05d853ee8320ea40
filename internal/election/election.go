// Package election holds the election lifecycle records and the read-only
// oracle the voting core consults before accepting work.
package election

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/uvote-platform/uvote/internal/seal"
)

// Status is the lifecycle state of an election.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Election is a single election run on the platform. BallotKey seals ballots
// for this election and never appears in JSON output.
type Election struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Status    Status     `json:"status"`
	BallotKey []byte     `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	OpenedAt  *time.Time `json:"opened_at,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// ErrNotFound is returned when an election lookup finds no matching record.
var ErrNotFound = errors.New("election not found")

// ErrBadTransition is returned for lifecycle moves other than
// draft -> open -> closed. Closed is terminal.
var ErrBadTransition = errors.New("invalid election status transition")

// Oracle answers the two questions the voting core asks about an election:
// is it accepting ballots, and which key seals its ballots. The core only
// ever reads through this interface.
type Oracle interface {
	IsOpen(ctx context.Context, electionID int64) (bool, error)
	BallotKey(ctx context.Context, electionID int64) ([]byte, error)
}

// Memory is an in-memory election store for tests and single-process
// development. It implements Oracle and the same lifecycle operations as
// the Postgres repository.
type Memory struct {
	mu        sync.RWMutex
	nextID    int64
	elections map[int64]*Election
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{elections: make(map[int64]*Election)}
}

// Create mints a new draft election with a fresh ballot key.
func (m *Memory) Create(_ context.Context, title string) (*Election, error) {
	key, err := seal.NewKey()
	if err != nil {
		return nil, fmt.Errorf("mint ballot key: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e := &Election{
		ID:        m.nextID,
		Title:     title,
		Status:    StatusDraft,
		BallotKey: key,
		CreatedAt: time.Now().UTC(),
	}
	m.elections[e.ID] = e
	return e, nil
}

// Get returns a copy of the election with the given id.
func (m *Memory) Get(_ context.Context, id int64) (*Election, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.elections[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// List returns all elections ordered by id.
func (m *Memory) List(_ context.Context) ([]*Election, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Election, 0, len(m.elections))
	for id := int64(1); id <= m.nextID; id++ {
		if e, ok := m.elections[id]; ok {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Open moves a draft election into the voting window.
func (m *Memory) Open(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.elections[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != StatusDraft {
		return ErrBadTransition
	}
	now := time.Now().UTC()
	e.Status = StatusOpen
	e.OpenedAt = &now
	return nil
}

// Close ends an open election's voting window. Closed is terminal.
func (m *Memory) Close(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.elections[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != StatusOpen {
		return ErrBadTransition
	}
	now := time.Now().UTC()
	e.Status = StatusClosed
	e.ClosedAt = &now
	return nil
}

// IsOpen implements Oracle.
func (m *Memory) IsOpen(ctx context.Context, electionID int64) (bool, error) {
	e, err := m.Get(ctx, electionID)
	if err != nil {
		return false, err
	}
	return e.Status == StatusOpen, nil
}

// BallotKey implements Oracle.
func (m *Memory) BallotKey(ctx context.Context, electionID int64) ([]byte, error) {
	e, err := m.Get(ctx, electionID)
	if err != nil {
		return nil, err
	}
	return e.BallotKey, nil
}
