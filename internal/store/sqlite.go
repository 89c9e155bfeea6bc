package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/kingrea/magnitude-protocol/internal/scoring"
	"github.com/kingrea/magnitude-protocol/internal/session"
	"github.com/kingrea/magnitude-protocol/internal/stimuli"
	"github.com/kingrea/magnitude-protocol/internal/store/migrations"
	"github.com/kingrea/magnitude-protocol/internal/summary"
	"github.com/kingrea/magnitude-protocol/internal/trials"
)

// SQLiteStore keeps one row per run and one row per outcome.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// RunRecord is the headline row for a stored run.
type RunRecord struct {
	RunID         string
	ParticipantID string
	Consent       bool
	StartedAt     time.Time
	CompletedAt   time.Time
	Summary       summary.Summary
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenSQLite opens (creating if needed) the results database and applies
// the embedded migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store: sqlite path is required")
	}
	clean := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(clean), 0o755); err != nil {
		return nil, fmt.Errorf("store: ensure sqlite dir: %w", err)
	}
	dsn := clean + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}
	return &SQLiteStore{db: db, path: clean}, nil
}

// Name labels the sink in warnings.
func (s *SQLiteStore) Name() string { return "sqlite " + s.path }

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save inserts the run and its outcomes in one transaction. A run that is
// already stored returns ErrRunExists.
func (s *SQLiteStore) Save(ctx context.Context, r session.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("store: sqlite is not configured")
	}
	if strings.TrimSpace(r.RunID) == "" {
		return fmt.Errorf("store: run id is required")
	}
	encoded, err := json.Marshal(r.Summary)
	if err != nil {
		return fmt.Errorf("store: encode summary: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sum := r.Summary
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (
		   run_id, participant_id, consent, started_at, completed_at,
		   comparison_count, comparison_correct, accuracy, mean_rt_ms,
		   estimation_count, mean_pae, mean_directional_error, summary_json
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID,
		r.Participant.ID,
		boolInt(r.Participant.Consent),
		toMillis(r.StartedAt),
		toMillis(r.CompletedAt),
		sum.Comparison.Count,
		sum.Comparison.Correct,
		nullFloat(sum.Comparison.Accuracy),
		nullFloat(sum.Comparison.MeanRTMillis),
		sum.Estimation.Count,
		nullFloat(sum.Estimation.MeanPercentAbsoluteError),
		nullFloat(sum.Estimation.MeanDirectionalError),
		string(encoded),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRunExists
		}
		return fmt.Errorf("store: insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO outcomes (
		   run_id, seq, trial_id, task, stage_index, block, distance, base, source,
		   relation, notation, stimulus, left_stimulus, right_stimulus,
		   left_value, right_value, wnb_consistent, decimal_digits,
		   correct_side, correct_key, response_key, response_side, correct,
		   true_value, position, directional_error, percent_absolute_error, rt_ms
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare outcomes: %w", err)
	}
	defer stmt.Close()
	for i, o := range r.Outcomes {
		var correct, wnb, digits any
		if o.Correct != nil {
			correct = boolInt(*o.Correct)
		}
		if o.WNBConsistent != nil {
			wnb = boolInt(*o.WNBConsistent)
		}
		if o.DecimalDigits != nil {
			digits = *o.DecimalDigits
		}
		if _, err := stmt.ExecContext(ctx,
			r.RunID, i, o.TrialID, string(o.Task), o.StageIndex,
			string(o.Block), string(o.Distance), o.Base, nullString(string(o.Source)),
			nullString(o.Relation), nullString(string(o.Notation)), nullString(o.Stimulus),
			nullString(o.Left), nullString(o.Right),
			nullFloat(o.LeftValue), nullFloat(o.RightValue), wnb, digits,
			nullString(string(o.CorrectSide)), nullString(o.CorrectKey),
			nullString(o.Key), nullString(string(o.Side)), correct,
			nullFloat(o.TrueValue), nullFloat(o.Position), nullFloat(o.DirectionalError),
			nullFloat(o.PercentAbsoluteError), nullFloat(o.RTMillis),
		); err != nil {
			return fmt.Errorf("store: insert outcome %d: %w", o.TrialID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Runs lists stored runs, most recent first.
func (s *SQLiteStore) Runs(ctx context.Context) ([]RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, participant_id, consent, started_at, completed_at, summary_json
		   FROM runs ORDER BY completed_at DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		var (
			rec           RunRecord
			consent       int
			started, done int64
			summaryJSON   string
		)
		if err := rows.Scan(&rec.RunID, &rec.ParticipantID, &consent, &started, &done, &summaryJSON); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		rec.Consent = consent != 0
		rec.StartedAt = fromMillis(started)
		rec.CompletedAt = fromMillis(done)
		if err := json.Unmarshal([]byte(summaryJSON), &rec.Summary); err != nil {
			return nil, fmt.Errorf("store: decode summary for %s: %w", rec.RunID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Outcomes returns the stored log for one run in its original order.
func (s *SQLiteStore) Outcomes(ctx context.Context, runID string) ([]scoring.TrialOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT trial_id, task, stage_index, block, distance, base, source,
		        relation, notation, stimulus, left_stimulus, right_stimulus,
		        left_value, right_value, wnb_consistent, decimal_digits,
		        correct_side, correct_key, response_key, response_side, correct,
		        true_value, position, directional_error, percent_absolute_error, rt_ms
		   FROM outcomes WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: list outcomes: %w", err)
	}
	defer rows.Close()
	var out []scoring.TrialOutcome
	for rows.Next() {
		var (
			o                                     scoring.TrialOutcome
			task, block, distance                 string
			source, relation, notation, stimulus  sql.NullString
			left, right, correctSide, correctKey  sql.NullString
			key, side                             sql.NullString
			correct, wnb, digits                  sql.NullInt64
			leftValue, rightValue                 sql.NullFloat64
			truth, position, directional, pae, rt sql.NullFloat64
		)
		if err := rows.Scan(&o.TrialID, &task, &o.StageIndex, &block, &distance, &o.Base, &source,
			&relation, &notation, &stimulus, &left, &right,
			&leftValue, &rightValue, &wnb, &digits,
			&correctSide, &correctKey, &key, &side, &correct,
			&truth, &position, &directional, &pae, &rt); err != nil {
			return nil, fmt.Errorf("store: scan outcome: %w", err)
		}
		o.Task = scoring.Task(task)
		o.Block = stimuli.Block(block)
		o.Distance = stimuli.Distance(distance)
		o.Source = trials.Source(source.String)
		o.Relation = relation.String
		o.Notation = stimuli.Notation(notation.String)
		o.Stimulus = stimulus.String
		o.Left = left.String
		o.Right = right.String
		o.CorrectSide = trials.Side(correctSide.String)
		o.CorrectKey = correctKey.String
		o.Key = key.String
		o.Side = trials.Side(side.String)
		o.LeftValue = floatPtr(leftValue)
		o.RightValue = floatPtr(rightValue)
		if wnb.Valid {
			v := wnb.Int64 != 0
			o.WNBConsistent = &v
		}
		if digits.Valid {
			v := int(digits.Int64)
			o.DecimalDigits = &v
		}
		if correct.Valid {
			v := correct.Int64 != 0
			o.Correct = &v
		}
		o.TrueValue = floatPtr(truth)
		o.Position = floatPtr(position)
		o.DirectionalError = floatPtr(directional)
		o.PercentAbsoluteError = floatPtr(pae)
		o.RTMillis = floatPtr(rt)
		out = append(out, o)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") && strings.Contains(message, "runs.run_id")
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
