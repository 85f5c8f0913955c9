package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type Status string

const (
	StatusPending    Status = "pending"
	StatusRecording  Status = "recording"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further mutation is allowed in this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Customer struct {
	AgeGroup  string `json:"age_group,omitempty"`
	Gender    string `json:"gender,omitempty"`
	VisitType string `json:"visit_type,omitempty"`
}

type Session struct {
	ID                string     `json:"id"`
	SalonID           string     `json:"salon_id"`
	StylistID         string     `json:"stylist_id,omitempty"`
	StylistConfidence string     `json:"stylist_confidence,omitempty"`
	StylistSimilarity float64    `json:"stylist_similarity,omitempty"`
	StylistConfirmed  bool       `json:"stylist_confirmed"`
	Status            Status     `json:"status"`
	Customer          Customer   `json:"customer"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "salon-coach.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	tables := []struct {
		name string
		ddl  string
	}{
		{"sessions", `
			CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				salon_id TEXT NOT NULL,
				stylist_id TEXT,
				stylist_confidence TEXT NOT NULL DEFAULT '',
				stylist_similarity REAL NOT NULL DEFAULT 0,
				stylist_confirmed INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL,
				age_group TEXT NOT NULL DEFAULT '',
				gender TEXT NOT NULL DEFAULT '',
				visit_type TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				started_at TEXT,
				ended_at TEXT
			);`},
		{"staff_voices", `
			CREATE TABLE IF NOT EXISTS staff_voices (
				staff_id TEXT PRIMARY KEY,
				salon_id TEXT NOT NULL,
				embedding TEXT NOT NULL,
				sample_count INTEGER NOT NULL DEFAULT 1,
				quality_score INTEGER NOT NULL,
				updated_at TEXT NOT NULL
			);`},
		{"reports", `
			CREATE TABLE IF NOT EXISTS reports (
				session_id TEXT PRIMARY KEY,
				overall_score INTEGER NOT NULL,
				is_converted INTEGER NOT NULL,
				body TEXT NOT NULL,
				generated_at TEXT NOT NULL,
				FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
			);`},
	}
	for _, tbl := range tables {
		if _, err := s.db.Exec(tbl.ddl); err != nil {
			return fmt.Errorf("create %s table: %w", tbl.name, err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at)",
		"CREATE INDEX IF NOT EXISTS idx_staff_voices_salon ON staff_voices(salon_id)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess Session) error {
	if strings.TrimSpace(sess.ID) == "" {
		return errors.New("session id is required")
	}
	if sess.Status == "" {
		sess.Status = StatusPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, salon_id, status, age_group, gender, visit_type, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		sess.ID,
		sess.SalonID,
		string(sess.Status),
		sess.Customer.AgeGroup,
		sess.Customer.Gender,
		sess.Customer.VisitType,
		formatTime(sess.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	return nil
}

// UpdateStatus records a lifecycle transition. Entering recording stamps
// started_at; entering a terminal status stamps ended_at.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error {
	query := `UPDATE sessions SET status = ? WHERE id = ?`
	args := []any{string(status), id}
	switch {
	case status == StatusRecording:
		query = `UPDATE sessions SET status = ?, started_at = ? WHERE id = ?`
		args = []any{string(status), formatTime(at), id}
	case status.Terminal():
		query = `UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`
		args = []any{string(status), formatTime(at), id}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session %s status: %w", id, err)
	}
	return expectRow(res, "update session status")
}

// AssignStylist sets the session's stylist unless a confirmed stylist is
// already recorded. It reports whether the row was updated.
func (s *SQLiteStore) AssignStylist(ctx context.Context, id, staffID, confidence string, similarity float64, confirmed bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET stylist_id = ?, stylist_confidence = ?, stylist_similarity = ?, stylist_confirmed = ?
		 WHERE id = ? AND stylist_confirmed = 0`,
		staffID,
		confidence,
		similarity,
		boolInt(confirmed),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("assign stylist for session %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("assign stylist rows affected: %w", err)
	}
	return rows > 0, nil
}

const sessionColumns = `id, salon_id, stylist_id, stylist_confidence, stylist_similarity, stylist_confirmed,
	status, age_group, gender, visit_type, created_at, started_at, ended_at`

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("query session %s: %w", id, err)
	}
	return sess, nil
}

// GetSessionsByDate lists sessions created on a UTC date (YYYY-MM-DD),
// optionally restricted to one salon.
func (s *SQLiteStore) GetSessionsByDate(ctx context.Context, date, salonID string) ([]Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE substr(created_at, 1, 10) = ?`
	args := []any{date}
	if salonID != "" {
		query += ` AND salon_id = ?`
		args = append(args, salonID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions by date %s: %w", date, err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]Session, 0, 16)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions rows: %w", err)
	}
	return sessions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		sess      Session
		stylistID sql.NullString
		status    string
		confirmed int
		createdAt string
		startedAt sql.NullString
		endedAt   sql.NullString
	)
	if err := row.Scan(
		&sess.ID,
		&sess.SalonID,
		&stylistID,
		&sess.StylistConfidence,
		&sess.StylistSimilarity,
		&confirmed,
		&status,
		&sess.Customer.AgeGroup,
		&sess.Customer.Gender,
		&sess.Customer.VisitType,
		&createdAt,
		&startedAt,
		&endedAt,
	); err != nil {
		return Session{}, err
	}

	sess.StylistID = stylistID.String
	sess.StylistConfirmed = confirmed != 0
	sess.Status = Status(status)

	var err error
	if sess.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Session{}, fmt.Errorf("parse created_at: %w", err)
	}
	if sess.StartedAt, err = parseNullTime(startedAt); err != nil {
		return Session{}, fmt.Errorf("parse started_at: %w", err)
	}
	if sess.EndedAt, err = parseNullTime(endedAt); err != nil {
		return Session{}, fmt.Errorf("parse ended_at: %w", err)
	}
	return sess, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func expectRow(res sql.Result, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
