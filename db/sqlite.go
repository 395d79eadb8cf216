// Package db keeps an audit log of analysis outcomes in SQLite. Only a digest
// and the length of each sequence are stored, never its residues.
package db

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Kinds of analysis recorded.
const (
	KindPredict    = "predict"
	KindSimilarity = "similarity"
	KindAlign      = "align"
	KindBatch      = "similarity_batch"
	KindProperties = "properties"
)

type Entry struct {
	ID              int64     `json:"id"`
	RequestID       string    `json:"request_id"`
	Kind            string    `json:"kind"`
	SeqDigest       string    `json:"seq_digest"`
	SeqLength       int       `json:"seq_length"`
	Model           string    `json:"model,omitempty"`
	Status          string    `json:"status"`
	Detail          string    `json:"detail,omitempty"`
	PredictionCount int       `json:"prediction_count"`
	TopLabel        string    `json:"top_label,omitempty"`
	TopConfidence   float64   `json:"top_confidence"`
	CreatedAt       time.Time `json:"created_at"`
}

type Store struct {
	db *sql.DB
}

// Open creates the database file and schema when missing.
func Open(path string, wal bool) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	dsn := path
	if wal {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	database, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		database.SetMaxOpenConns(1)
	}

	query := `
    CREATE TABLE IF NOT EXISTS analysis_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        request_id TEXT NOT NULL,
        kind TEXT NOT NULL,
        seq_digest TEXT NOT NULL,
        seq_length INTEGER NOT NULL,
        model TEXT DEFAULT '',
        status TEXT NOT NULL,
        detail TEXT DEFAULT '',
        prediction_count INTEGER DEFAULT 0,
        top_label TEXT DEFAULT '',
        top_confidence REAL DEFAULT 0,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_analysis_log_created ON analysis_log(created_at);
    CREATE INDEX IF NOT EXISTS idx_analysis_log_status ON analysis_log(status);
    `
	if _, err := database.Exec(query); err != nil {
		database.Close()
		return nil, err
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Digest identifies a sequence without storing it.
func Digest(seq string) string {
	sum := sha1.Sum([]byte(seq))
	return hex.EncodeToString(sum[:])
}

// Record appends e. A zero CreatedAt is set to now.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return errors.New("database not initialized")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO analysis_log (
            request_id, kind, seq_digest, seq_length, model, status, detail,
            prediction_count, top_label, top_confidence, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Kind, e.SeqDigest, e.SeqLength, e.Model, e.Status, e.Detail,
		e.PredictionCount, e.TopLabel, e.TopConfidence, e.CreatedAt)
	return err
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, request_id, kind, seq_digest, seq_length, model, status, detail,
               prediction_count, top_label, top_confidence, created_at
        FROM analysis_log
        ORDER BY id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Kind, &e.SeqDigest, &e.SeqLength, &e.Model,
			&e.Status, &e.Detail, &e.PredictionCount, &e.TopLabel, &e.TopConfidence, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByStatus returns the number of entries per status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("database not initialized")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM analysis_log GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
