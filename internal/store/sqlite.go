package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"typewitness/internal/analysis"
	"typewitness/internal/plaintext"
	"typewitness/internal/session"
)

// ErrNotFound is returned when a lookup matches no rows.
var ErrNotFound = errors.New("not found")

// DefaultListLimit caps ListAnalyses when no positive limit is given.
const DefaultListLimit = 20

// Store represents the SQLite analysis store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// MigrationStatus reports the schema version of the open database.
func (s *Store) MigrationStatus() (*MigrationStatus, error) {
	return GetMigrationStatus(s.db)
}

// NewRecord builds the record for storing analysis a of payload p.
func NewRecord(p *session.Payload, a *analysis.SessionAnalysis, sourcePath string) (*AnalysisRecord, error) {
	hash, err := session.Hash(p)
	if err != nil {
		return nil, err
	}
	return &AnalysisRecord{
		Session: SessionRecord{
			SessionID:     p.SessionID,
			SessionHash:   hash,
			SourcePath:    sourcePath,
			EventCount:    len(p.Events),
			DocumentChars: plaintext.Length(p.EditorHTML),
		},
		Verdict:   a.Verdict,
		RiskScore: a.RiskScore,
		Signals:   a.Signals,
		Reasoning: a.VerdictReasoning,
	}, nil
}

// SaveAnalysis upserts the record's session and appends the analysis. The
// record's ID and timestamps are filled in.
func (s *Store) SaveAnalysis(ctx context.Context, rec *AnalysisRecord) error {
	if rec.Session.SessionID == "" {
		return errors.New("save analysis: missing session id")
	}

	signalsJSON, err := json.Marshal(rec.Signals)
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}
	reasoning := rec.Reasoning
	if reasoning == nil {
		reasoning = []string{}
	}
	reasoningJSON, err := json.Marshal(reasoning)
	if err != nil {
		return fmt.Errorf("marshal reasoning: %w", err)
	}

	now := s.now()
	id := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, session_hash, source_path, event_count, document_chars, imported_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			session_hash = excluded.session_hash,
			source_path = excluded.source_path,
			event_count = excluded.event_count,
			document_chars = excluded.document_chars,
			imported_at = excluded.imported_at`,
		rec.Session.SessionID, rec.Session.SessionHash, rec.Session.SourcePath,
		rec.Session.EventCount, rec.Session.DocumentChars, now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO analyses (id, session_id, verdict, risk_score, signals_json, reasoning_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, rec.Session.SessionID, string(rec.Verdict), rec.RiskScore,
		string(signalsJSON), string(reasoningJSON), now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	rec.ID = id
	rec.CreatedAt = time.Unix(0, now.UnixNano())
	rec.Session.ImportedAt = rec.CreatedAt
	return nil
}

const selectAnalysis = `
	SELECT a.id, a.verdict, a.risk_score, a.signals_json, a.reasoning_json, a.created_at,
	       s.session_id, s.session_hash, s.source_path, s.event_count, s.document_chars, s.imported_at
	FROM analyses a
	JOIN sessions s ON s.session_id = a.session_id`

// LatestAnalysis returns the most recent analysis of a session, or
// ErrNotFound.
func (s *Store) LatestAnalysis(ctx context.Context, sessionID string) (*AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx, selectAnalysis+`
		WHERE a.session_id = ?
		ORDER BY a.created_at DESC, a.rowid DESC
		LIMIT 1`, sessionID)

	rec, err := scanAnalysis(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("get latest analysis: %w", err)
	}
	return rec, nil
}

// ListAnalyses returns up to limit analyses, newest first.
func (s *Store) ListAnalyses(ctx context.Context, limit int) ([]AnalysisRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, selectAnalysis+`
		ORDER BY a.created_at DESC, a.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer rows.Close()

	records := []AnalysisRecord{}
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analyses: %w", err)
	}

	return records, nil
}

// GetSession returns a stored session, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	var rec SessionRecord
	var importedAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, session_hash, source_path, event_count, document_chars, imported_at
		FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&rec.SessionID, &rec.SessionHash, &rec.SourcePath, &rec.EventCount, &rec.DocumentChars, &importedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	rec.ImportedAt = time.Unix(0, importedAt)
	return &rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row scanner) (*AnalysisRecord, error) {
	var rec AnalysisRecord
	var verdict, signalsJSON, reasoningJSON string
	var createdAt, importedAt int64

	if err := row.Scan(
		&rec.ID, &verdict, &rec.RiskScore, &signalsJSON, &reasoningJSON, &createdAt,
		&rec.Session.SessionID, &rec.Session.SessionHash, &rec.Session.SourcePath,
		&rec.Session.EventCount, &rec.Session.DocumentChars, &importedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(signalsJSON), &rec.Signals); err != nil {
		return nil, fmt.Errorf("unmarshal signals: %w", err)
	}
	if err := json.Unmarshal([]byte(reasoningJSON), &rec.Reasoning); err != nil {
		return nil, fmt.Errorf("unmarshal reasoning: %w", err)
	}

	rec.Verdict = analysis.Verdict(verdict)
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.Session.ImportedAt = time.Unix(0, importedAt)
	return &rec, nil
}
