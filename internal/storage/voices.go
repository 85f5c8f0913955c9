package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sjawhar/salon-coach/internal/voice"
)

func (s *SQLiteStore) PutVoice(ctx context.Context, sample voice.Sample) error {
	embedding, err := json.Marshal(sample.Embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO staff_voices(staff_id, salon_id, embedding, sample_count, quality_score, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(staff_id) DO UPDATE SET
			salon_id = excluded.salon_id,
			embedding = excluded.embedding,
			sample_count = excluded.sample_count,
			quality_score = excluded.quality_score,
			updated_at = excluded.updated_at`,
		sample.StaffID,
		sample.SalonID,
		string(embedding),
		sample.SampleCount,
		sample.QualityScore,
		formatTime(sample.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save voice for staff %s: %w", sample.StaffID, err)
	}
	return nil
}

func (s *SQLiteStore) GetVoice(ctx context.Context, staffID string) (voice.Sample, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT staff_id, salon_id, embedding, sample_count, quality_score, updated_at
		 FROM staff_voices WHERE staff_id = ?`,
		staffID,
	)
	sample, err := scanVoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return voice.Sample{}, false, nil
	}
	if err != nil {
		return voice.Sample{}, false, fmt.Errorf("query voice for staff %s: %w", staffID, err)
	}
	return sample, true, nil
}

// StaffVoices returns every registered voice for a salon.
func (s *SQLiteStore) StaffVoices(ctx context.Context, salonID string) ([]voice.Sample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT staff_id, salon_id, embedding, sample_count, quality_score, updated_at
		 FROM staff_voices WHERE salon_id = ? ORDER BY staff_id ASC`,
		salonID,
	)
	if err != nil {
		return nil, fmt.Errorf("query voices for salon %s: %w", salonID, err)
	}
	defer func() { _ = rows.Close() }()

	var samples []voice.Sample
	for rows.Next() {
		sample, err := scanVoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan voice: %w", err)
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voice rows: %w", err)
	}
	return samples, nil
}

func scanVoice(row scanner) (voice.Sample, error) {
	var (
		sample    voice.Sample
		embedding string
		updatedAt string
	)
	if err := row.Scan(&sample.StaffID, &sample.SalonID, &embedding, &sample.SampleCount, &sample.QualityScore, &updatedAt); err != nil {
		return voice.Sample{}, err
	}
	if err := json.Unmarshal([]byte(embedding), &sample.Embedding); err != nil {
		return voice.Sample{}, fmt.Errorf("decode embedding: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return voice.Sample{}, fmt.Errorf("parse updated_at: %w", err)
	}
	sample.UpdatedAt = t
	return sample, nil
}
