package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresSchema creates the ledger table. The primary key on sequence makes a
// forked chain impossible even across processes.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	sequence      BIGINT PRIMARY KEY,
	type          TEXT   NOT NULL,
	created_at_ms BIGINT NOT NULL,
	payload       TEXT   NOT NULL,
	prev_hash     TEXT   NOT NULL,
	hash          TEXT   NOT NULL UNIQUE
)`

const (
	pgTailQuery   = `SELECT sequence, type, created_at_ms, payload, prev_hash, hash FROM ledger_entries ORDER BY sequence DESC LIMIT 1`
	pgInsertQuery = `INSERT INTO ledger_entries (sequence, type, created_at_ms, payload, prev_hash, hash) VALUES ($1, $2, $3, $4, $5, $6)`
	pgRangeQuery  = `SELECT sequence, type, created_at_ms, payload, prev_hash, hash FROM ledger_entries WHERE sequence >= $1 AND sequence < $2 ORDER BY sequence ASC`
	pgCountQuery  = `SELECT COUNT(*) FROM ledger_entries`
)

// pgUniqueViolation is the SQLSTATE raised when the sequence already exists.
const pgUniqueViolation = "23505"

// entryRow is the table representation of an Entry.
type entryRow struct {
	Sequence    int64  `db:"sequence"`
	Type        string `db:"type"`
	CreatedAtMs int64  `db:"created_at_ms"`
	Payload     string `db:"payload"`
	PrevHash    string `db:"prev_hash"`
	Hash        string `db:"hash"`
}

func (r entryRow) entry() Entry {
	return Entry{
		Sequence:  uint64(r.Sequence),
		Type:      EntryType(r.Type),
		Timestamp: time.UnixMilli(r.CreatedAtMs).UTC(),
		Payload:   json.RawMessage(r.Payload),
		PrevHash:  r.PrevHash,
		Hash:      r.Hash,
	}
}

// PostgresBackend stores the ledger in a PostgreSQL table.
type PostgresBackend struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgresBackend wraps an open database handle. A zero timeout defaults to 10s.
func NewPostgresBackend(db *sqlx.DB, timeout time.Duration) *PostgresBackend {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PostgresBackend{db: db, timeout: timeout}
}

// OpenPostgres connects with the lib/pq driver and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string, timeout time.Duration) (*PostgresBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	p := NewPostgresBackend(db, timeout)
	if err := p.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := p.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// EnsureSchema creates the ledger table if it does not exist.
func (p *PostgresBackend) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if _, err := p.db.ExecContext(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Tail(ctx context.Context) (Entry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var row entryRow
	err := p.db.GetContext(ctx, &row, pgTailQuery)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read ledger tail: %w", err)
	}
	return row.entry(), true, nil
}

func (p *PostgresBackend) Append(ctx context.Context, entry Entry, expectedPrev string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append transaction: %w", err)
	}
	defer tx.Rollback()

	current := GenesisHash
	var tail entryRow
	err = tx.GetContext(ctx, &tail, pgTailQuery)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to read ledger tail: %w", err)
	default:
		current = tail.Hash
	}
	if current != expectedPrev {
		return ErrTailMoved
	}

	_, err = tx.ExecContext(ctx, pgInsertQuery,
		int64(entry.Sequence), string(entry.Type), entry.Timestamp.UnixMilli(),
		string(entry.Payload), entry.PrevHash, entry.Hash)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return ErrTailMoved
		}
		return fmt.Errorf("failed to insert entry %d: %w", entry.Sequence, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entry %d: %w", entry.Sequence, err)
	}
	return nil
}

func (p *PostgresBackend) Range(ctx context.Context, start, end uint64) ([]Entry, error) {
	if start >= end {
		return []Entry{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var rows []entryRow
	if err := p.db.SelectContext(ctx, &rows, pgRangeQuery, int64(start), int64(end)); err != nil {
		return nil, fmt.Errorf("failed to read ledger range: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entry())
	}
	return out, nil
}

func (p *PostgresBackend) Len(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var n int64
	if err := p.db.GetContext(ctx, &n, pgCountQuery); err != nil {
		return 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	return uint64(n), nil
}

func (p *PostgresBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.db.PingContext(ctx)
}

func (p *PostgresBackend) Close() error {
	return p.db.Close()
}
