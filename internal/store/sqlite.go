package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/gtrunner/internal/model"

	_ "modernc.org/sqlite"
)

const createCampaignsTable = `
CREATE TABLE IF NOT EXISTS campaigns (
    id               TEXT PRIMARY KEY,
    status           TEXT NOT NULL,
    exe_path         TEXT NOT NULL,
    exe_stamp        INTEGER NOT NULL,
    test_filter      TEXT,
    jobs             INTEGER NOT NULL,
    full_set_jobs    INTEGER NOT NULL,
    repeat           INTEGER NOT NULL,
    max_fail         INTEGER NOT NULL,
    run_mode         TEXT NOT NULL,
    run_disabled     BOOLEAN NOT NULL,
    shuffle          BOOLEAN NOT NULL,
    break_on_failure BOOLEAN NOT NULL,
    break_on_except  BOOLEAN NOT NULL,
    keep_traces      TEXT NOT NULL,
    keep_cores       BOOLEAN NOT NULL,
    copy_executable  BOOLEAN NOT NULL,
    expected         INTEGER NOT NULL,
    error            TEXT,
    created_at       DATETIME NOT NULL,
    started_at       DATETIME,
    finished_at      DATETIME
)`

const createResultsTable = `
CREATE TABLE IF NOT EXISTS results (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    campaign_id  TEXT NOT NULL,
    test_name    TEXT NOT NULL,
    exe_path     TEXT NOT NULL,
    exe_stamp    INTEGER NOT NULL,
    verdict      TEXT NOT NULL,
    trace_file   TEXT,
    trace_offset INTEGER NOT NULL,
    trace_length INTEGER NOT NULL,
    core_file    TEXT,
    fail_file    TEXT,
    fail_line    INTEGER,
    duration_ms  INTEGER NOT NULL,
    ended_at     DATETIME NOT NULL,
    valgrind     BOOLEAN NOT NULL,
    background   BOOLEAN NOT NULL,
    origin       TEXT NOT NULL,
    seed         TEXT
)`

const createRepeatRequestsTable = `
CREATE TABLE IF NOT EXISTS repeat_requests (
    test_name    TEXT PRIMARY KEY,
    requested_at DATETIME NOT NULL
)`

var resultIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_results_campaign ON results(campaign_id)",
	"CREATE INDEX IF NOT EXISTS idx_results_test_name ON results(test_name)",
	"CREATE INDEX IF NOT EXISTS idx_results_trace_file ON results(trace_file)",
}

// ErrNotFound is returned when a campaign or result is not found.
var ErrNotFound = errors.New("record not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	migrations := []string{createCampaignsTable, createResultsTable, createRepeatRequestsTable}
	migrations = append(migrations, resultIndexes...)
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migration: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const campaignColumns = `id, status, exe_path, exe_stamp, test_filter, jobs, full_set_jobs,
	repeat, max_fail, run_mode, run_disabled, shuffle, break_on_failure,
	break_on_except, keep_traces, keep_cores, copy_executable, expected,
	error, created_at, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	c := &model.Campaign{}
	err := row.Scan(
		&c.ID, &c.Status, &c.ExePath, &c.ExeStamp, &c.Filter, &c.Jobs, &c.FullSetJobs,
		&c.Repeat, &c.MaxFail, &c.Options.RunMode, &c.Options.RunDisabled, &c.Options.Shuffle,
		&c.Options.BreakOnFailure, &c.Options.BreakOnExcept, &c.Options.KeepTraces,
		&c.Options.KeepCores, &c.Options.CopyExecutable, &c.Expected,
		&c.Error, &c.CreatedAt, &c.StartedAt, &c.FinishedAt,
	)
	return c, err
}

// CreateCampaign inserts a new campaign record.
func (s *SQLiteStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaigns (`+campaignColumns+`
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Status, c.ExePath, c.ExeStamp, c.Filter, c.Jobs, c.FullSetJobs,
		c.Repeat, c.MaxFail, c.Options.RunMode, c.Options.RunDisabled, c.Options.Shuffle,
		c.Options.BreakOnFailure, c.Options.BreakOnExcept, c.Options.KeepTraces,
		c.Options.KeepCores, c.Options.CopyExecutable, c.Expected,
		c.Error, c.CreatedAt, c.StartedAt, c.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

// GetCampaign retrieves a campaign by ID.
func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := scanCampaign(s.db.QueryRowContext(ctx,
		"SELECT "+campaignColumns+" FROM campaigns WHERE id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// ListCampaigns returns a paginated list of campaigns ordered by created_at DESC,
// along with the total count of all campaigns.
func (s *SQLiteStore) ListCampaigns(ctx context.Context, limit, offset int) ([]*model.Campaign, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM campaigns").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	if limit <= 0 {
		limit = -1
	}
	rows, err := tx.QueryContext(ctx,
		"SELECT "+campaignColumns+" FROM campaigns ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate campaigns: %w", err)
	}

	return campaigns, total, nil
}

// UpdateCampaignStatus moves a campaign to a new status, validating the
// transition. Entering running sets started_at; terminal statuses set
// finished_at. Re-asserting the current status is a no-op.
func (s *SQLiteStore) UpdateCampaignStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM campaigns WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get campaign status: %w", err)
	}
	if current == status {
		return tx.Commit()
	}
	if !model.ValidTransition(current, status) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, status)
	}

	now := time.Now().UTC()
	switch {
	case status == model.StatusRunning:
		_, err = tx.ExecContext(ctx,
			"UPDATE campaigns SET status = ?, started_at = COALESCE(started_at, ?) WHERE id = ?",
			status, now, id,
		)
	case model.TerminalStatus(status):
		_, err = tx.ExecContext(ctx,
			"UPDATE campaigns SET status = ?, finished_at = ? WHERE id = ?",
			status, now, id,
		)
	default:
		_, err = tx.ExecContext(ctx,
			"UPDATE campaigns SET status = ? WHERE id = ?", status, id,
		)
	}
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}

	return tx.Commit()
}

// UpdateCampaign rewrites the mutable fields of a campaign record,
// validating any status change against the allowed transitions.
func (s *SQLiteStore) UpdateCampaign(ctx context.Context, c *model.Campaign) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM campaigns WHERE id = ?", c.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get campaign status: %w", err)
	}
	if current != c.Status && !model.ValidTransition(current, c.Status) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, c.Status)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, expected = ?, error = ?,
			started_at = ?, finished_at = ? WHERE id = ?`,
		c.Status, c.Expected, c.Error, c.StartedAt, c.FinishedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}
