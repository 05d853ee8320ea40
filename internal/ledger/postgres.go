package ledger

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// appendRetries bounds how often a transient append failure (a lost chain
// race, or a connection error pgx reports as safe to retry) is retried
// internally before it is surfaced to the caller.
const appendRetries = 3

// PostgresLedger persists hash-chained entries to a PostgreSQL table.
// It implements the Ledger interface.
//
// The table name is interpolated into the query strings at construction and
// must therefore be a trusted identifier, never user input. One PostgresLedger
// instance backs the ballot_ledger table, another the audit_ledger table.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	table  string
	logger *zap.Logger
}

// NewPostgres creates a PostgresLedger over the given table, backed by the
// given connection pool.
func NewPostgres(pool *pgxpool.Pool, table string, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, table: table, logger: logger}
}

// lockKey derives the advisory lock key for a scope. Keys are namespaced by
// table so the two ledger instances never contend with each other, and they
// are computed client-side so every service instance agrees on them.
func (l *PostgresLedger) lockKey(scope string) int64 {
	h := fnv.New64a()
	io.WriteString(h, l.table) //nolint:errcheck
	io.WriteString(h, "|")     //nolint:errcheck
	io.WriteString(h, scope)   //nolint:errcheck
	return int64(h.Sum64())
}

// Append implements Ledger. Transient failures are retried a bounded number
// of times: lost races against a concurrent append, and connection errors
// where pgconn guarantees no data reached the server.
func (l *PostgresLedger) Append(ctx context.Context, scope string, payload []byte) (*Entry, error) {
	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		entry, err := l.appendOnce(ctx, scope, payload)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ErrChainConflict) && !pgconn.SafeToRetry(err) {
			return nil, err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 15 * time.Millisecond):
		}
	}
	return nil, lastErr
}

func (l *PostgresLedger) appendOnce(ctx context.Context, scope string, payload []byte) (*Entry, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	entry, err := l.AppendTx(ctx, tx, scope, payload)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	l.logger.Debug("ledger entry appended",
		zap.String("table", l.table),
		zap.String("scope", entry.Scope),
		zap.Int64("position", entry.Position),
	)
	return entry, nil
}

// AppendTx appends an entry within a caller-owned transaction, so that a
// ledger append can commit atomically with the state changes that justify it.
// The caller is responsible for committing or rolling back tx.
//
// Serialisation is per scope: a transaction-scoped advisory lock keyed by
// (table, scope) orders appends within a chain while leaving other scopes
// free. Should anything ever append outside that lock, the UNIQUE(scope,
// prev_hash) index refuses the fork and the insert fails with
// ErrChainConflict.
func (l *PostgresLedger) AppendTx(ctx context.Context, tx pgx.Tx, scope string, payload []byte) (*Entry, error) {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", l.lockKey(scope)); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var prevPos int64
	var prevHash string
	err := tx.QueryRow(ctx,
		fmt.Sprintf("SELECT position, hash FROM %s WHERE scope = $1 ORDER BY position DESC LIMIT 1", l.table),
		scope,
	).Scan(&prevPos, &prevHash)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		prevPos, prevHash = -1, GenesisHash
	case err != nil:
		return nil, fmt.Errorf("read chain tail: %w", err)
	}

	entry := &Entry{
		Scope:     scope,
		Position:  prevPos + 1,
		Payload:   payload,
		PrevHash:  prevHash,
		CreatedAt: entryTimestamp(),
	}
	entry.Hash = hashEntry(entry)

	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (scope, position, payload, prev_hash, hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`, l.table),
		entry.Scope, entry.Position, entry.Payload,
		entry.PrevHash, entry.Hash, entry.CreatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrChainConflict
		}
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	return entry, nil
}

// Get implements Ledger.
func (l *PostgresLedger) Get(ctx context.Context, scope string, position int64) (*Entry, error) {
	entry := &Entry{}
	err := l.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT scope, position, payload, prev_hash, hash, created_at
		 FROM %s WHERE scope = $1 AND position = $2`, l.table),
		scope, position,
	).Scan(
		&entry.Scope, &entry.Position, &entry.Payload,
		&entry.PrevHash, &entry.Hash, &entry.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %s/%d: %w", scope, position, err)
	}
	return entry, nil
}

// Head implements Ledger.
func (l *PostgresLedger) Head(ctx context.Context, scope string) (*Entry, error) {
	entry := &Entry{}
	err := l.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT scope, position, payload, prev_hash, hash, created_at
		 FROM %s WHERE scope = $1 ORDER BY position DESC LIMIT 1`, l.table),
		scope,
	).Scan(
		&entry.Scope, &entry.Position, &entry.Payload,
		&entry.PrevHash, &entry.Hash, &entry.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chain head %s: %w", scope, err)
	}
	return entry, nil
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context, scope string) (int64, error) {
	var n int64
	if err := l.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE scope = $1", l.table), scope,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// Scopes implements Ledger.
func (l *PostgresLedger) Scopes(ctx context.Context) ([]string, error) {
	rows, err := l.pool.Query(ctx,
		fmt.Sprintf("SELECT DISTINCT scope FROM %s ORDER BY scope", l.table))
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		scopes = append(scopes, s)
	}
	return scopes, rows.Err()
}

// Walk implements Ledger. Rows are streamed in position order; the result
// set is not materialised, so walking a large chain stays flat in memory.
func (l *PostgresLedger) Walk(ctx context.Context, scope string, fn func(*Entry) error) error {
	rows, err := l.pool.Query(ctx,
		fmt.Sprintf(`SELECT scope, position, payload, prev_hash, hash, created_at
		 FROM %s WHERE scope = $1 ORDER BY position ASC`, l.table),
		scope,
	)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		entry := &Entry{}
		if err := rows.Scan(
			&entry.Scope, &entry.Position, &entry.Payload,
			&entry.PrevHash, &entry.Hash, &entry.CreatedAt,
		); err != nil {
			return fmt.Errorf("scan ledger row: %w", err)
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return rows.Err()
}

// FindByHash implements Ledger. Entry hashes are unique across scopes, so a
// bare hash (the receipt handle) is enough to locate an entry.
func (l *PostgresLedger) FindByHash(ctx context.Context, hash string) (*Entry, error) {
	entry := &Entry{}
	err := l.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT scope, position, payload, prev_hash, hash, created_at
		 FROM %s WHERE hash = $1`, l.table),
		hash,
	).Scan(
		&entry.Scope, &entry.Position, &entry.Payload,
		&entry.PrevHash, &entry.Hash, &entry.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find ledger entry by hash: %w", err)
	}
	return entry, nil
}

// Verify implements Ledger. It streams the scope's rows ordered by position
// and validates the hash chain. O(n) in chain length; may be slow for very
// large chains.
func (l *PostgresLedger) Verify(ctx context.Context, scope string) error {
	return verifyChain(scope, func(yield func(*Entry) error) error {
		rows, err := l.pool.Query(ctx,
			fmt.Sprintf(`SELECT scope, position, payload, prev_hash, hash, created_at
			 FROM %s WHERE scope = $1 ORDER BY position ASC`, l.table),
			scope,
		)
		if err != nil {
			return fmt.Errorf("query ledger: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			entry := &Entry{}
			if err := rows.Scan(
				&entry.Scope, &entry.Position, &entry.Payload,
				&entry.PrevHash, &entry.Hash, &entry.CreatedAt,
			); err != nil {
				return fmt.Errorf("scan ledger row: %w", err)
			}
			if err := yield(entry); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}
