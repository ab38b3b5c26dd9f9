package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seantiz/gtrunner/internal/model"
	"github.com/seantiz/gtrunner/internal/tracestore"
)

const resultColumns = `id, campaign_id, test_name, exe_path, exe_stamp, verdict,
	trace_file, trace_offset, trace_length, core_file, fail_file, fail_line,
	duration_ms, ended_at, valgrind, background, origin, seed`

// sortColumns whitelists the ListResults sort keys.
var sortColumns = map[string]string{
	"":         "id",
	"id":       "id",
	"test":     "test_name",
	"verdict":  "verdict",
	"duration": "duration_ms",
	"ended":    "ended_at",
}

func scanResult(row rowScanner) (*model.TestResult, error) {
	r := &model.TestResult{}
	err := row.Scan(
		&r.ID, &r.CampaignID, &r.TestName, &r.ExePath, &r.ExeStamp, &r.Verdict,
		&r.TraceFile, &r.Offset, &r.Length, &r.CoreFile, &r.FailFile, &r.FailLine,
		&r.DurationMS, &r.EndedAt, &r.Valgrind, &r.Background, &r.Origin, &r.Seed,
	)
	return r, err
}

func resultArgs(r *model.TestResult) []any {
	return []any{
		r.CampaignID, r.TestName, r.ExePath, r.ExeStamp, r.Verdict,
		r.TraceFile, r.Offset, r.Length, r.CoreFile, r.FailFile, r.FailLine,
		r.DurationMS, r.EndedAt, r.Valgrind, r.Background, r.Origin, r.Seed,
	}
}

const insertResultStmt = `INSERT INTO results (
		campaign_id, test_name, exe_path, exe_stamp, verdict,
		trace_file, trace_offset, trace_length, core_file, fail_file, fail_line,
		duration_ms, ended_at, valgrind, background, origin, seed
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// AddResult inserts one result record and fills in its assigned ID.
func (s *SQLiteStore) AddResult(ctx context.Context, r *model.TestResult) error {
	res, err := s.db.ExecContext(ctx, insertResultStmt, resultArgs(r)...)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("result insert id: %w", err)
	}
	r.ID = id
	return nil
}

// AddResults inserts a batch of result records in one transaction,
// filling in assigned IDs. Used by trace imports.
func (s *SQLiteStore) AddResults(ctx context.Context, rs []*model.TestResult) error {
	if len(rs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertResultStmt)
	if err != nil {
		return fmt.Errorf("prepare result insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rs {
		res, err := stmt.ExecContext(ctx, resultArgs(r)...)
		if err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("result insert id: %w", err)
		}
		r.ID = id
	}

	return tx.Commit()
}

// GetResult retrieves a result by ID.
func (s *SQLiteStore) GetResult(ctx context.Context, id int64) (*model.TestResult, error) {
	r, err := scanResult(s.db.QueryRowContext(ctx,
		"SELECT "+resultColumns+" FROM results WHERE id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return r, nil
}

func (f ResultFilter) where() (string, []any) {
	var conds []string
	var args []any
	if f.CampaignID != "" {
		conds = append(conds, "campaign_id = ?")
		args = append(args, f.CampaignID)
	}
	if f.TestName != "" {
		conds = append(conds, "test_name GLOB ?")
		args = append(args, f.TestName)
	}
	verdicts := f.Verdicts
	if len(verdicts) == 0 && f.FailedOnly {
		verdicts = []string{model.VerdictFail, model.VerdictCrash, model.VerdictChecker, model.VerdictError}
	}
	if len(verdicts) > 0 {
		conds = append(conds, "verdict IN (?"+strings.Repeat(", ?", len(verdicts)-1)+")")
		for _, v := range verdicts {
			args = append(args, v)
		}
	}
	if f.Valgrind != nil {
		conds = append(conds, "valgrind = ?")
		args = append(args, *f.Valgrind)
	}
	if f.Origin != nil {
		conds = append(conds, "origin = ?")
		args = append(args, *f.Origin)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "ended_at >= ?")
		args = append(args, f.Since)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListResults returns the results matching the filter along with the
// total number of matches before pagination.
func (s *SQLiteStore) ListResults(ctx context.Context, f ResultFilter) ([]*model.TestResult, int, error) {
	col, ok := sortColumns[f.SortBy]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidSort, f.SortBy)
	}
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}
	where, args := f.where()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM results"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count results: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	query := fmt.Sprintf("SELECT %s FROM results%s ORDER BY %s %s, id %s LIMIT ? OFFSET ?",
		resultColumns, where, col, dir, dir)
	rows, err := tx.QueryContext(ctx, query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []*model.TestResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate results: %w", err)
	}

	return results, total, nil
}

// DeleteResults removes the given result records and returns them so
// the caller can release the trace data they referenced.
func (s *SQLiteStore) DeleteResults(ctx context.Context, ids []int64) ([]*model.TestResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	placeholders := "?" + strings.Repeat(", ?", len(ids)-1)
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT "+resultColumns+" FROM results WHERE id IN ("+placeholders+") ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("select results: %w", err)
	}
	var deleted []*model.TestResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan result: %w", err)
		}
		deleted = append(deleted, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM results WHERE id IN ("+placeholders+")", args...); err != nil {
		return nil, fmt.Errorf("delete results: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return deleted, nil
}

// TraceRefs aggregates how live results reference trace files, for the
// retention sweep. Imported results never contribute: their files are
// not ours to delete. Failing verdicts pin the whole file; pass and
// skip snippets are removable. Also returns the referenced core dumps
// and the executable versions whose copies the files belong to.
func (s *SQLiteStore) TraceRefs(ctx context.Context) ([]tracestore.FileRefs, []string, []tracestore.ExeRef, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT trace_file, verdict, trace_offset, trace_length FROM results
		WHERE origin = '' AND trace_file != ''
		ORDER BY trace_file, trace_offset`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("select trace refs: %w", err)
	}
	defer rows.Close()

	var refs []tracestore.FileRefs
	for rows.Next() {
		var file, verdict string
		var off, length int64
		if err := rows.Scan(&file, &verdict, &off, &length); err != nil {
			return nil, nil, nil, fmt.Errorf("scan trace ref: %w", err)
		}
		if len(refs) == 0 || refs[len(refs)-1].File != file {
			refs = append(refs, tracestore.FileRefs{File: file})
		}
		ref := &refs[len(refs)-1]
		if verdict == model.VerdictPass || verdict == model.VerdictSkip {
			ref.AddRemovable(off, length)
		} else {
			ref.KeepWhole = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate trace refs: %w", err)
	}

	var cores []string
	coreRows, err := tx.QueryContext(ctx,
		"SELECT DISTINCT core_file FROM results WHERE origin = '' AND core_file != ''")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("select core refs: %w", err)
	}
	defer coreRows.Close()
	for coreRows.Next() {
		var core string
		if err := coreRows.Scan(&core); err != nil {
			return nil, nil, nil, fmt.Errorf("scan core ref: %w", err)
		}
		cores = append(cores, core)
	}
	if err := coreRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate core refs: %w", err)
	}

	var exeRefs []tracestore.ExeRef
	exeRows, err := tx.QueryContext(ctx,
		"SELECT DISTINCT exe_path, exe_stamp FROM results WHERE origin = '' AND trace_file != ''")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("select exe refs: %w", err)
	}
	defer exeRows.Close()
	for exeRows.Next() {
		var ref tracestore.ExeRef
		if err := exeRows.Scan(&ref.Path, &ref.Stamp); err != nil {
			return nil, nil, nil, fmt.Errorf("scan exe ref: %w", err)
		}
		exeRefs = append(exeRefs, ref)
	}
	if err := exeRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate exe refs: %w", err)
	}

	return refs, cores, exeRefs, nil
}

// ApplyPrune updates result records after a retention sweep. Results in
// deleted files lose their trace and core references; results in
// compacted files either lose their snippet or have its offset rebased
// past the removed ranges.
func (s *SQLiteStore) ApplyPrune(ctx context.Context, pruned []tracestore.PruneResult) error {
	if len(pruned) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, p := range pruned {
		if p.Deleted {
			if _, err := tx.ExecContext(ctx,
				`UPDATE results SET trace_file = '', trace_offset = 0, trace_length = 0,
					core_file = '' WHERE trace_file = ?`, p.File); err != nil {
				return fmt.Errorf("clear trace refs: %w", err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE results SET trace_file = '', trace_offset = 0, trace_length = 0
			WHERE trace_file = ? AND verdict IN (?, ?)`,
			p.File, model.VerdictPass, model.VerdictSkip); err != nil {
			return fmt.Errorf("clear removed snippets: %w", err)
		}
		if err := rebaseOffsets(ctx, tx, p.File, p.Compacted); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// rebaseOffsets shifts surviving snippet offsets in one compacted file
// down by the total size of the removed ranges that preceded them.
func rebaseOffsets(ctx context.Context, tx *sql.Tx, file string, removed []tracestore.Range) error {
	rows, err := tx.QueryContext(ctx,
		"SELECT id, trace_offset FROM results WHERE trace_file = ? ORDER BY trace_offset", file)
	if err != nil {
		return fmt.Errorf("select offsets: %w", err)
	}
	type rebase struct {
		id  int64
		off int64
	}
	var updates []rebase
	for rows.Next() {
		var id, off int64
		if err := rows.Scan(&id, &off); err != nil {
			rows.Close()
			return fmt.Errorf("scan offset: %w", err)
		}
		var shift int64
		for _, r := range removed {
			if r.End <= off {
				shift += r.End - r.Start
			}
		}
		if shift > 0 {
			updates = append(updates, rebase{id: id, off: off - shift})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate offsets: %w", err)
	}
	rows.Close()

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx,
			"UPDATE results SET trace_offset = ? WHERE id = ?", u.off, u.id); err != nil {
			return fmt.Errorf("rebase offset: %w", err)
		}
	}
	return nil
}

// TestCaseStats aggregates stored results per test name, optionally
// narrowed to one campaign or a name pattern, ordered by test name.
func (s *SQLiteStore) TestCaseStats(ctx context.Context, campaignID, namePattern string) ([]*model.TestCaseStats, error) {
	query := `SELECT r.test_name,
		SUM(CASE WHEN r.verdict = 'pass' THEN 1 ELSE 0 END),
		SUM(CASE WHEN r.verdict IN ('fail', 'crash', 'checker', 'error') THEN 1 ELSE 0 END),
		SUM(CASE WHEN r.verdict = 'skip' THEN 1 ELSE 0 END),
		SUM(r.duration_ms),
		MAX(r.exe_stamp),
		COUNT(rr.test_name)
	FROM results r
	LEFT JOIN repeat_requests rr ON rr.test_name = r.test_name
	WHERE r.test_name != ''`
	var args []any
	if campaignID != "" {
		query += " AND r.campaign_id = ?"
		args = append(args, campaignID)
	}
	if namePattern != "" {
		query += " AND r.test_name GLOB ?"
		args = append(args, namePattern)
	}
	query += " GROUP BY r.test_name ORDER BY r.test_name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query test stats: %w", err)
	}
	defer rows.Close()

	var stats []*model.TestCaseStats
	for rows.Next() {
		st := &model.TestCaseStats{}
		var repeats int
		if err := rows.Scan(&st.TestName, &st.Pass, &st.Fail, &st.Skip,
			&st.DurationMS, &st.LastExeStamp, &repeats); err != nil {
			return nil, fmt.Errorf("scan test stats: %w", err)
		}
		st.RepeatRequested = repeats > 0
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test stats: %w", err)
	}

	return stats, nil
}

// CampaignStats aggregates the stored results of one campaign. The
// Running count is zero here; the engine overlays live worker state for
// the active campaign.
func (s *SQLiteStore) CampaignStats(ctx context.Context, id string) (*model.CampaignStats, error) {
	c, err := s.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}

	stats := &model.CampaignStats{Expected: c.Expected}
	if c.StartedAt != nil {
		stats.StartedAt = *c.StartedAt
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN verdict = 'pass' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN verdict IN ('fail', 'crash') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN verdict = 'skip' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN verdict IN ('checker', 'error') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN background = 0 AND verdict IN ('pass', 'skip', 'fail', 'crash') THEN 1 ELSE 0 END), 0)
		FROM results WHERE campaign_id = ?`, id,
	).Scan(
		&stats.Pass, &stats.Fail, &stats.Skip, &stats.CheckerErr, &stats.Completed,
	)
	if err != nil {
		return nil, fmt.Errorf("query campaign stats: %w", err)
	}

	return stats, nil
}

// PassedTests returns the names of tests whose recorded results against
// the given executable timestamp include at least one pass and no
// failing verdict. Campaign resume skips these.
func (s *SQLiteStore) PassedTests(ctx context.Context, exeStamp int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT test_name FROM results
		WHERE exe_stamp = ? AND test_name != ''
		GROUP BY test_name
		HAVING SUM(CASE WHEN verdict = 'pass' THEN 1 ELSE 0 END) > 0
		AND SUM(CASE WHEN verdict IN ('fail', 'crash', 'checker', 'error') THEN 1 ELSE 0 END) = 0
		ORDER BY test_name`,
		exeStamp)
	if err != nil {
		return nil, fmt.Errorf("query passed tests: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan passed test: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate passed tests: %w", err)
	}
	return names, nil
}

// SetRepeatRequest marks a test name for repetition in the next campaign.
func (s *SQLiteStore) SetRepeatRequest(ctx context.Context, testName string, requestedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repeat_requests (test_name, requested_at) VALUES (?, ?)
		ON CONFLICT(test_name) DO UPDATE SET requested_at = excluded.requested_at`,
		testName, requestedAt,
	)
	if err != nil {
		return fmt.Errorf("set repeat request: %w", err)
	}
	return nil
}

// ClearRepeatRequest removes a repetition mark. Clearing an absent mark
// is not an error.
func (s *SQLiteStore) ClearRepeatRequest(ctx context.Context, testName string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM repeat_requests WHERE test_name = ?", testName); err != nil {
		return fmt.Errorf("clear repeat request: %w", err)
	}
	return nil
}

// ListRepeatRequests returns all repetition marks keyed by test name.
func (s *SQLiteStore) ListRepeatRequests(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT test_name, requested_at FROM repeat_requests")
	if err != nil {
		return nil, fmt.Errorf("list repeat requests: %w", err)
	}
	defer rows.Close()

	requests := make(map[string]time.Time)
	for rows.Next() {
		var name string
		var at time.Time
		if err := rows.Scan(&name, &at); err != nil {
			return nil, fmt.Errorf("scan repeat request: %w", err)
		}
		requests[name] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repeat requests: %w", err)
	}

	return requests, nil
}
