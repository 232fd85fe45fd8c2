// Package store persists tests, evaluation results, and learner records in
// sqlite. Tests and records travel as JSON documents; the store is a thin
// persistence collaborator, not a second schema.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tutorlab/testcraft/internal/schema"

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

func (s *Store) migrate() error {
	stmt := `
	CREATE TABLE IF NOT EXISTS tests (
		test_id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		difficulty TEXT NOT NULL,
		questions TEXT NOT NULL,
		total_points INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		test_id TEXT NOT NULL,
		learner_id TEXT NOT NULL,
		result TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (test_id) REFERENCES tests(test_id)
	);

	CREATE TABLE IF NOT EXISTS learner_records (
		learner_id TEXT PRIMARY KEY,
		record TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(stmt)
	return err
}

// SaveTest stores a generated test. Tests are write-once: saving an existing
// test_id is an error, never an overwrite.
func (s *Store) SaveTest(t *schema.Test) error {
	questions, err := json.Marshal(t.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO tests (test_id, topic, difficulty, questions, total_points, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Topic, t.Difficulty, string(questions), t.TotalPoints, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert test %s: %w", t.ID, err)
	}
	return nil
}

// GetTest returns a stored test by id, or nil when it does not exist.
func (s *Store) GetTest(testID string) (*schema.Test, error) {
	var t schema.Test
	var questions string
	err := s.db.QueryRow(
		`SELECT test_id, topic, difficulty, questions, total_points, created_at
		 FROM tests WHERE test_id = ?`, testID,
	).Scan(&t.ID, &t.Topic, &t.Difficulty, &questions, &t.TotalPoints, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(questions), &t.Questions); err != nil {
		return nil, fmt.Errorf("unmarshal questions for %s: %w", testID, err)
	}
	return &t, nil
}

// TestCount returns the number of stored tests.
func (s *Store) TestCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM tests`).Scan(&count)
	return count, err
}

// SaveEvaluation appends an evaluation result to the audit log.
func (s *Store) SaveEvaluation(learnerID string, result *schema.EvaluationResult) error {
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO evaluations (test_id, learner_id, result, created_at) VALUES (?, ?, ?, ?)`,
		result.TestID, learnerID, string(doc), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert evaluation for %s: %w", result.TestID, err)
	}
	return nil
}

// ListEvaluations returns a learner's evaluation results, oldest first.
func (s *Store) ListEvaluations(learnerID string) ([]schema.EvaluationResult, error) {
	rows, err := s.db.Query(
		`SELECT result FROM evaluations WHERE learner_id = ? ORDER BY id`, learnerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []schema.EvaluationResult
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var r schema.EvaluationResult
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			return nil, fmt.Errorf("unmarshal evaluation: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetLearnerRecord returns a learner's record, or nil when the learner has
// no history yet.
func (s *Store) GetLearnerRecord(learnerID string) (*schema.LearnerRecord, error) {
	var doc string
	err := s.db.QueryRow(
		`SELECT record FROM learner_records WHERE learner_id = ?`, learnerID,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec schema.LearnerRecord
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal learner record %s: %w", learnerID, err)
	}
	return &rec, nil
}

// PutLearnerRecord inserts or replaces a learner's record.
func (s *Store) PutLearnerRecord(rec *schema.LearnerRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal learner record: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO learner_records (learner_id, record, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(learner_id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		rec.LearnerID, string(doc), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert learner record %s: %w", rec.LearnerID, err)
	}
	return nil
}
