// Package store persists grading runs, essay scores and ingestion metadata
// in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/examgrader/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the connection for the passage index, which keeps its own table.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL DEFAULT '',
		total_score REAL NOT NULL DEFAULT 0,
		max_score REAL NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS grading_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		ordinal INTEGER NOT NULL,
		question TEXT NOT NULL,
		student_answer TEXT NOT NULL DEFAULT '',
		correct_answer TEXT NOT NULL DEFAULT '?',
		score REAL NOT NULL DEFAULT 0,
		max_score REAL NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		explanation TEXT NOT NULL DEFAULT '',
		feedback TEXT NOT NULL DEFAULT '',
		context TEXT NOT NULL DEFAULT '',
		UNIQUE (run_id, position),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS essay_scores (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		score INTEGER NOT NULL DEFAULT 0,
		max_score INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		explanation TEXT NOT NULL DEFAULT '',
		rule_hits TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS grader_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveRun stores a run with all its results. Runs are written once; saving
// the same run ID twice is an error.
func (s *Store) SaveRun(run model.ExamResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (id, source, total_score, max_score, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.TotalScore, run.MaxScore, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	for i, r := range run.Results {
		_, err := tx.Exec(
			`INSERT INTO grading_results
			 (run_id, position, ordinal, question, student_answer, correct_answer, score, max_score, outcome, explanation, feedback, context)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, r.Ordinal, r.Question, r.StudentAnswer, r.CorrectAnswer,
			r.Score, r.MaxScore, r.Outcome, r.Explanation, r.Feedback, r.Context,
		)
		if err != nil {
			return fmt.Errorf("insert result %d of run %s: %w", r.Ordinal, run.ID, err)
		}
	}

	return tx.Commit()
}

// GetRun returns a run with its results in grading order.
// It returns sql.ErrNoRows if the run does not exist.
func (s *Store) GetRun(id string) (model.ExamResult, error) {
	var run model.ExamResult
	err := s.db.QueryRow(
		`SELECT id, source, total_score, max_score, started_at, finished_at FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.Source, &run.TotalScore, &run.MaxScore, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return run, err
	}

	results, err := s.getResults(id)
	if err != nil {
		return run, fmt.Errorf("get results of run %s: %w", id, err)
	}
	run.Results = results
	return run, nil
}

func (s *Store) getResults(runID string) ([]model.GradingResult, error) {
	rows, err := s.db.Query(
		`SELECT ordinal, question, student_answer, correct_answer, score, max_score, outcome, explanation, feedback, context
		 FROM grading_results WHERE run_id = ? ORDER BY position`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []model.GradingResult{}
	for rows.Next() {
		var r model.GradingResult
		if err := rows.Scan(&r.Ordinal, &r.Question, &r.StudentAnswer, &r.CorrectAnswer,
			&r.Score, &r.MaxScore, &r.Outcome, &r.Explanation, &r.Feedback, &r.Context); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListRuns returns summaries of all runs, newest first.
func (s *Store) ListRuns() ([]model.RunSummary, error) {
	rows, err := s.db.Query(
		`SELECT r.id, r.source, r.total_score, r.max_score, r.started_at,
		        (SELECT COUNT(*) FROM grading_results g WHERE g.run_id = r.id)
		 FROM runs r ORDER BY r.started_at DESC, r.id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []model.RunSummary
	for rows.Next() {
		var r model.RunSummary
		if err := rows.Scan(&r.ID, &r.Source, &r.TotalScore, &r.MaxScore, &r.StartedAt, &r.NumQuestions); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunCount returns the number of stored runs.
func (s *Store) RunCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&count)
	return count, err
}

// SaveEssayScore records one rubric scoring of a free-text answer.
func (s *Store) SaveEssayScore(question, answer string, r model.RubricResult) (int64, error) {
	hits, err := json.Marshal(r.Hits)
	if err != nil {
		return 0, fmt.Errorf("encode rule hits: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO essay_scores (question, answer, score, max_score, outcome, explanation, rule_hits, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		question, answer, r.Score, r.MaxScore, r.Outcome, r.Explanation, string(hits), time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetEssayScore returns a stored rubric scoring by ID.
func (s *Store) GetEssayScore(id int64) (model.RubricResult, error) {
	var r model.RubricResult
	var hits string
	err := s.db.QueryRow(
		`SELECT score, max_score, outcome, explanation, rule_hits FROM essay_scores WHERE id = ?`, id,
	).Scan(&r.Score, &r.MaxScore, &r.Outcome, &r.Explanation, &hits)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(hits), &r.Hits); err != nil {
		return r, fmt.Errorf("decode rule hits: %w", err)
	}
	return r, nil
}
