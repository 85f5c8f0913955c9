package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sjawhar/salon-coach/internal/report"
)

// SaveReport stores a session's report. Reports are write-once: it returns
// false without error when one already exists.
func (s *SQLiteStore) SaveReport(ctx context.Context, r report.Report) (bool, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return false, fmt.Errorf("encode report: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO reports(session_id, overall_score, is_converted, body, generated_at)
		 VALUES(?, ?, ?, ?, ?)`,
		r.SessionID,
		r.OverallScore,
		boolInt(r.IsConverted),
		string(body),
		formatTime(r.GeneratedAt),
	)
	if err != nil {
		return false, fmt.Errorf("save report for session %s: %w", r.SessionID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save report rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *SQLiteStore) GetReport(ctx context.Context, sessionID string) (report.Report, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM reports WHERE session_id = ?`, sessionID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return report.Report{}, fmt.Errorf("report for session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return report.Report{}, fmt.Errorf("query report for session %s: %w", sessionID, err)
	}

	var r report.Report
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return report.Report{}, fmt.Errorf("decode report for session %s: %w", sessionID, err)
	}
	return r, nil
}
