package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/couchcryptid/ensemble-features/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// ErrRunNotFound is returned by Load when the database holds no such run.
var ErrRunNotFound = errors.New("feature run not found")

// generatedAtLayout keeps every stored timestamp the same width.
const generatedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists feature matrices to SQLite, one run per matrix.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens a SQLite database at path and applies the schema.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Name identifies the sink in logs and metrics.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Persist stores m under m.RunID in a single transaction. Persisting the same
// run id again replaces the earlier copy.
func (s *SQLiteStore) Persist(ctx context.Context, m domain.FeatureMatrix) error {
	if m.RunID == "" {
		return errors.New("feature matrix has no run id")
	}
	cols, err := json.Marshal(m.Columns)
	if err != nil {
		return fmt.Errorf("encode columns: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, q := range []string{
		`DELETE FROM features WHERE run_id = ?`,
		`DELETE FROM runs WHERE run_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, m.RunID); err != nil {
			return fmt.Errorf("replace run: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, generated_at, fill_policy, columns) VALUES (?, ?, ?, ?)`,
		m.RunID, m.GeneratedAt.UTC().Format(generatedAtLayout), m.Policy.String(), string(cols),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO features (run_id, issue_time, name, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare feature insert: %w", err)
	}
	defer stmt.Close()

	for i, t := range m.Index {
		issued := t.UTC().Format(time.RFC3339)
		for j, name := range m.Columns {
			var value sql.NullFloat64
			if v := m.Values[i][j]; !math.IsNaN(v) {
				value = sql.NullFloat64{Float64: v, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, m.RunID, issued, name, value); err != nil {
				return fmt.Errorf("insert feature %s at %s: %w", name, issued, err)
			}
		}
	}
	return tx.Commit()
}

// Load reads back the matrix stored under runID. Missing cells read as NaN.
func (s *SQLiteStore) Load(ctx context.Context, runID string) (domain.FeatureMatrix, error) {
	var generatedAt, policy, cols string
	err := s.db.QueryRowContext(ctx,
		`SELECT generated_at, fill_policy, columns FROM runs WHERE run_id = ?`, runID,
	).Scan(&generatedAt, &policy, &cols)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FeatureMatrix{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return domain.FeatureMatrix{}, fmt.Errorf("query run: %w", err)
	}

	m := domain.FeatureMatrix{RunID: runID}
	if m.GeneratedAt, err = time.Parse(generatedAtLayout, generatedAt); err != nil {
		return domain.FeatureMatrix{}, fmt.Errorf("parse generated_at: %w", err)
	}
	if m.Policy, err = domain.ParseFillPolicy(policy); err != nil {
		return domain.FeatureMatrix{}, err
	}
	if err := json.Unmarshal([]byte(cols), &m.Columns); err != nil {
		return domain.FeatureMatrix{}, fmt.Errorf("decode columns: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT issue_time, name, value FROM features WHERE run_id = ? ORDER BY issue_time`, runID)
	if err != nil {
		return domain.FeatureMatrix{}, fmt.Errorf("query features: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			issued, name string
			value        sql.NullFloat64
		)
		if err := rows.Scan(&issued, &name, &value); err != nil {
			return domain.FeatureMatrix{}, fmt.Errorf("scan feature: %w", err)
		}
		t, err := time.Parse(time.RFC3339, issued)
		if err != nil {
			return domain.FeatureMatrix{}, fmt.Errorf("parse issue_time: %w", err)
		}

		if n := len(m.Index); n == 0 || !m.Index[n-1].Equal(t) {
			row := make([]float64, len(m.Columns))
			for j := range row {
				row[j] = math.NaN()
			}
			m.Index = append(m.Index, t)
			m.Values = append(m.Values, row)
		}
		j := slices.Index(m.Columns, name)
		if j < 0 {
			return domain.FeatureMatrix{}, fmt.Errorf("feature %q is not a column of run %s", name, runID)
		}
		if value.Valid {
			m.Values[len(m.Values)-1][j] = value.Float64
		}
	}
	if err := rows.Err(); err != nil {
		return domain.FeatureMatrix{}, fmt.Errorf("iterate features: %w", err)
	}
	return m, nil
}

// LatestRunID returns the most recently generated run id. generated_at is
// fixed width, so text order is time order.
func (s *SQLiteStore) LatestRunID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id FROM runs ORDER BY generated_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRunNotFound
	}
	return id, err
}
