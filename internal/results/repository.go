// Package results stores finished matches in Postgres or SQLite.
package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/park285/usi-supervisor/pkg/usidto"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var ErrNotFound = errors.New("match result not found")

type Repository struct {
	db     *sql.DB
	driver string
}

// Open connects, pings and creates the schema if needed.
func Open(ctx context.Context, driver, dsn string) (*Repository, error) {
	driver = strings.TrimSpace(driver)
	if driver == "" {
		driver = DriverSQLite
	}
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported results driver %q", driver)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("results DSN is required")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// one writer; avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(8)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	r := &Repository{db: db, driver: driver}
	if err := r.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate results: %w", err)
	}
	return r, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repository) migrate(ctx context.Context) error {
	ts := "TIMESTAMP"
	if r.driver == DriverPostgres {
		ts = "TIMESTAMPTZ"
	}
	q := `CREATE TABLE IF NOT EXISTS engine_matches (
        match_id TEXT PRIMARY KEY,
        black_id TEXT NOT NULL,
        black_name TEXT NOT NULL,
        white_id TEXT NOT NULL,
        white_name TEXT NOT NULL,
        initial_sfen TEXT NOT NULL,
        winner TEXT NOT NULL,
        reason TEXT NOT NULL,
        moves TEXT NOT NULL,
        move_count INTEGER NOT NULL,
        time_per_move_ms BIGINT NOT NULL,
        max_moves INTEGER NOT NULL,
        started_at ` + ts + ` NOT NULL,
        finished_at ` + ts + ` NOT NULL
      )`
	_, err := r.db.ExecContext(ctx, q)
	return err
}

// SaveResult upserts a finished match.
func (r *Repository) SaveResult(ctx context.Context, m usidto.MatchResult) error {
	if r == nil || r.db == nil {
		return nil
	}
	moves := m.Moves
	if moves == nil {
		moves = []string{}
	}
	movesRaw, err := json.Marshal(moves)
	if err != nil {
		return err
	}

	q := `INSERT INTO engine_matches (
        match_id, black_id, black_name, white_id, white_name,
        initial_sfen, winner, reason, moves, move_count,
        time_per_move_ms, max_moves, started_at, finished_at
      ) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
      ON CONFLICT (match_id) DO UPDATE SET
        winner=EXCLUDED.winner,
        reason=EXCLUDED.reason,
        moves=EXCLUDED.moves,
        move_count=EXCLUDED.move_count,
        finished_at=EXCLUDED.finished_at`

	_, err = r.db.ExecContext(ctx, r.rebind(q),
		m.MatchID, m.BlackID, m.BlackName, m.WhiteID, m.WhiteName,
		m.InitialSFEN, m.Winner, m.Reason, string(movesRaw), len(moves),
		m.TimePerMove, m.MaxMoves, m.StartedAt.UTC(), m.FinishedAt.UTC(),
	)
	return err
}

const selectColumns = `match_id, black_id, black_name, white_id, white_name,
        initial_sfen, winner, reason, moves, time_per_move_ms, max_moves,
        started_at, finished_at`

// Get returns one match by id.
func (r *Repository) Get(ctx context.Context, matchID string) (usidto.MatchResult, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+selectColumns+` FROM engine_matches WHERE match_id = ?`), matchID)
	m, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return usidto.MatchResult{}, fmt.Errorf("%s: %w", matchID, ErrNotFound)
	}
	return m, err
}

// Recent returns up to limit matches, newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]usidto.MatchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, r.rebind(`SELECT `+selectColumns+` FROM engine_matches ORDER BY finished_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []usidto.MatchResult
	for rows.Next() {
		m, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(s scanner) (usidto.MatchResult, error) {
	var (
		m        usidto.MatchResult
		movesRaw string
	)
	if err := s.Scan(
		&m.MatchID, &m.BlackID, &m.BlackName, &m.WhiteID, &m.WhiteName,
		&m.InitialSFEN, &m.Winner, &m.Reason, &movesRaw, &m.TimePerMove, &m.MaxMoves,
		&m.StartedAt, &m.FinishedAt,
	); err != nil {
		return usidto.MatchResult{}, err
	}
	if err := json.Unmarshal([]byte(movesRaw), &m.Moves); err != nil {
		return usidto.MatchResult{}, fmt.Errorf("decode moves of %s: %w", m.MatchID, err)
	}
	return m, nil
}

// rebind rewrites ? placeholders as $n for Postgres.
func (r *Repository) rebind(q string) string {
	if r.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}
