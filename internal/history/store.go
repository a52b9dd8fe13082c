// Package history keeps a SQLite-backed log of synthesis requests for
// the /history endpoint and offline diagnostics.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kotobalabs/kokotts/internal/config"
)

// Record is one finished (or failed) synthesis request.
type Record struct {
	ID                string    `json:"id"`
	Source            string    `json:"source"` // http, http-play, bus
	Voice             string    `json:"voice"`
	Language          string    `json:"language"`
	TextChars         int       `json:"text_chars"`
	Segments          int       `json:"segments"`
	GenerationSeconds float64   `json:"generation_time"`
	AudioSeconds      float64   `json:"audio_duration"`
	RTF               float64   `json:"rtf"`
	Error             string    `json:"error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Store wraps the SQLite request log.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. A disabled store is
// a valid no-op instance.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if !cfg.Enabled {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS synth_requests (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    voice TEXT,
    language TEXT,
    text_chars INTEGER,
    segments INTEGER,
    generation_seconds REAL,
    audio_seconds REAL,
    rtf REAL,
    error TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_synth_requests_created ON synth_requests(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append records one request. No-op when the store is disabled.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if s.db == nil {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO synth_requests (id, source, voice, language, text_chars, segments, generation_seconds, audio_seconds, rtf, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Source, rec.Voice, rec.Language, rec.TextChars, rec.Segments,
		rec.GenerationSeconds, rec.AudioSeconds, rec.RTF, rec.Error, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append history record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, source, voice, language, text_chars, segments, generation_seconds, audio_seconds, rtf, error, created_at
FROM synth_requests ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Source, &rec.Voice, &rec.Language, &rec.TextChars,
			&rec.Segments, &rec.GenerationSeconds, &rec.AudioSeconds, &rec.RTF, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune drops the oldest records past the configured maximum.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil || s.cfg.MaxRecords <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
DELETE FROM synth_requests WHERE id NOT IN (
    SELECT id FROM synth_requests ORDER BY created_at DESC, id DESC LIMIT ?
)`, s.cfg.MaxRecords)
	if err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	return nil
}
