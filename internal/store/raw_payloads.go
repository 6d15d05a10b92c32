package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// RawPayload represents a stored upstream response body.
type RawPayload struct {
	ID                int64
	IngestRunID       sql.NullInt64
	FetchedAt         time.Time
	Source            string
	Endpoint          string
	RequestKey        string
	PayloadCompressed []byte
	PayloadHash       string
	SchemaVersion     int
}

// StoreRawPayload stores a compressed response payload under its request key.
// Returns the payload ID, or 0 if the same payload was already stored for the key.
func (s *Store) StoreRawPayload(runID *int64, source, endpoint, key string, payload []byte) (int64, error) {
	if s == nil {
		return 0, nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}
	compressed := buf.Bytes()

	hash := sha256.Sum256(payload)
	hashHex := hex.EncodeToString(hash[:])

	var ingestRunID sql.NullInt64
	if runID != nil {
		ingestRunID = sql.NullInt64{Int64: *runID, Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO raw_payloads
		(ingest_run_id, fetched_at, source, endpoint, request_key,
		 payload_compressed, payload_hash, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(source, endpoint, request_key, payload_hash) DO NOTHING
	`, ingestRunID, time.Now().UTC(), source, endpoint, key, compressed, hashHex)
	if err != nil {
		return 0, fmt.Errorf("insert raw payload: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// CachedPayload returns the newest payload stored for the request key.
// Cached entries never expire.
func (s *Store) CachedPayload(source, endpoint, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, nil
	}

	var compressed []byte
	err := s.db.QueryRow(`
		SELECT payload_compressed FROM raw_payloads
		WHERE source = ? AND endpoint = ? AND request_key = ?
		ORDER BY id DESC
		LIMIT 1
	`, source, endpoint, key).Scan(&compressed)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	payload, err := decompress(compressed)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// GetRawPayload retrieves and decompresses a stored payload by ID.
func (s *Store) GetRawPayload(id int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT payload_compressed FROM raw_payloads WHERE id = ?`, id).
		Scan(&compressed)
	if err != nil {
		return nil, err
	}
	return decompress(compressed)
}

func decompress(compressed []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

// RawPayloadStats contains storage statistics for raw payloads.
type RawPayloadStats struct {
	TotalCount     int
	TotalSizeBytes int64
	CountBySource  map[string]int
	SizeBySource   map[string]int64
}

// GetRawPayloadStats returns storage statistics for raw payloads.
func (s *Store) GetRawPayloadStats() (*RawPayloadStats, error) {
	stats := &RawPayloadStats{
		CountBySource: make(map[string]int),
		SizeBySource:  make(map[string]int64),
	}

	row := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(LENGTH(payload_compressed)), 0)
		FROM raw_payloads
	`)
	if err := row.Scan(&stats.TotalCount, &stats.TotalSizeBytes); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT source, COUNT(*), SUM(LENGTH(payload_compressed))
		FROM raw_payloads
		GROUP BY source
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var source string
		var count int
		var size int64
		if err := rows.Scan(&source, &count, &size); err != nil {
			return nil, err
		}
		stats.CountBySource[source] = count
		stats.SizeBySource[source] = size
	}

	return stats, rows.Err()
}

// CleanupOldRawPayloads deletes raw payloads older than the specified number of days.
// Returns the number of deleted records.
func (s *Store) CleanupOldRawPayloads(retentionDays int) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM raw_payloads
		WHERE SUBSTR(fetched_at, 1, 19) < DATETIME('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
