package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dropwire/models"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// RecordTransfer inserts one completed-transfer record.
func (s *Store) RecordTransfer(record models.TransferRecord) error {
	if record.RecordID == "" {
		return errors.New("record_id is required")
	}
	if record.Files <= 0 {
		return errors.New("files must be > 0")
	}
	if record.Bytes < 0 {
		return errors.New("bytes must be >= 0")
	}
	if record.CompletedAt == 0 {
		record.CompletedAt = time.Now().UnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO transfers (
			record_id,
			files,
			bytes,
			duration_ms,
			completed_at
		) VALUES (?, ?, ?, ?, ?)`,
		record.RecordID,
		record.Files,
		record.Bytes,
		record.DurationMillis,
		record.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transfer record %q: %w", record.RecordID, err)
	}

	return nil
}

// Totals aggregates all recorded transfers.
func (s *Store) Totals() (models.TransferTotals, error) {
	var totals models.TransferTotals
	err := s.db.QueryRow(
		`SELECT
			COUNT(*),
			COALESCE(SUM(files), 0),
			COALESCE(SUM(bytes), 0)
		FROM transfers`,
	).Scan(&totals.Transfers, &totals.Files, &totals.Bytes)
	if err != nil {
		return models.TransferTotals{}, fmt.Errorf("aggregate transfers: %w", err)
	}

	return totals, nil
}

// GetTransfer fetches one record by id.
func (s *Store) GetTransfer(recordID string) (*models.TransferRecord, error) {
	if recordID == "" {
		return nil, errors.New("record_id is required")
	}

	var record models.TransferRecord
	err := s.db.QueryRow(
		`SELECT
			record_id,
			files,
			bytes,
			duration_ms,
			completed_at
		FROM transfers
		WHERE record_id = ?`,
		recordID,
	).Scan(
		&record.RecordID,
		&record.Files,
		&record.Bytes,
		&record.DurationMillis,
		&record.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transfer record %q: %w", recordID, err)
	}

	return &record, nil
}

// RecentTransfers returns the newest records first.
func (s *Store) RecentTransfers(limit int) ([]models.TransferRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		`SELECT
			record_id,
			files,
			bytes,
			duration_ms,
			completed_at
		FROM transfers
		ORDER BY completed_at DESC, record_id
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	records := make([]models.TransferRecord, 0)
	for rows.Next() {
		var record models.TransferRecord
		if err := rows.Scan(
			&record.RecordID,
			&record.Files,
			&record.Bytes,
			&record.DurationMillis,
			&record.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transfer row: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer rows: %w", err)
	}

	return records, nil
}
