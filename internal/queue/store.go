package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"slate/internal/artifact"
	"slate/internal/config"
)

// Store manages upload-record persistence backed by SQLite.
type Store struct {
	db       *sql.DB
	path     string
	spoolDir string
}

// Open initializes or connects to the queue database and verifies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.SpoolDir, "queue.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, spoolDir: cfg.Paths.SpoolDir}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the queue database location.
func (s *Store) Path() string {
	return s.path
}

// Enqueue persists an artifact for delivery. The payload is spooled to a
// file under the spool directory before the record commits, so a crash can
// leave an orphan spool file but never a record without its payload.
// Enqueueing the same artifact twice is a no-op beyond refreshing the
// updated timestamp: attempts, status, and the enqueue time are preserved.
func (s *Store) Enqueue(ctx context.Context, art *artifact.Artifact) (*Record, error) {
	if art == nil {
		return nil, errors.New("artifact is nil")
	}
	if strings.TrimSpace(art.ClientArtifactID) == "" {
		return nil, errors.New("artifact has no client artifact id")
	}

	payloadPath, err := s.spoolPayload(art.ClientArtifactID, art.Payload)
	if err != nil {
		return nil, err
	}

	scoreJSON, err := json.Marshal(art.ScoreEvents)
	if err != nil {
		return nil, fmt.Errorf("marshal score events: %w", err)
	}
	tagJSON, err := json.Marshal(art.TagEvents)
	if err != nil {
		return nil, fmt.Errorf("marshal tag events: %w", err)
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO upload_records (
            client_artifact_id, payload_path, byte_size, mime_type, duration_seconds,
            score_events_json, tag_events_json, rubric_snapshot_id, total_score,
            participant_ref, class_ref, captured_at, local_only,
            status, attempts, last_error, bytes_sent, enqueued_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, 0, ?, ?)
        ON CONFLICT(client_artifact_id) DO UPDATE SET updated_at = excluded.updated_at`,
		art.ClientArtifactID,
		payloadPath,
		art.ByteSize,
		art.MimeType,
		art.DurationSeconds,
		string(scoreJSON),
		string(tagJSON),
		nullableString(art.RubricSnapshotID),
		art.TotalScore,
		art.ParticipantRef,
		art.ClassRef,
		art.CapturedAt.UTC().Format(time.RFC3339Nano),
		boolToInt(art.LocalOnly),
		StatusQueued,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue record: %w", err)
	}

	return s.GetByArtifactID(ctx, art.ClientArtifactID)
}

// spoolPayload writes the payload next to the database, through a temp file
// and rename so a partially written spool file never carries the final name.
func (s *Store) spoolPayload(artifactID string, payload []byte) (string, error) {
	path := filepath.Join(s.spoolDir, artifactID+".bin")
	tmp := path + ".partial"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return "", fmt.Errorf("spool payload: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("commit spool payload: %w", err)
	}
	return path, nil
}

// GetByArtifactID fetches an upload record by its client artifact ID.
func (s *Store) GetByArtifactID(ctx context.Context, artifactID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM upload_records WHERE client_artifact_id = ?`, artifactID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return record, nil
}

// List returns upload records filtered by status set (or all records when no
// status is provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Record, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + recordColumns + ` FROM upload_records`
	orderClause := ` ORDER BY enqueued_at, client_artifact_id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// DequeueAll snapshots the queued records in enqueue order. The delivery
// worker drains this snapshot; records enqueued after the snapshot wait for
// the next pass.
func (s *Store) DequeueAll(ctx context.Context) ([]*Record, error) {
	return s.List(ctx, StatusQueued)
}

// MarkInFlight transitions a record to in_flight before its upload starts.
func (s *Store) MarkInFlight(ctx context.Context, artifactID string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE upload_records SET status = ?, updated_at = ? WHERE client_artifact_id = ?`,
		StatusInFlight,
		time.Now().UTC().Format(time.RFC3339Nano),
		artifactID,
	)
	if err != nil {
		return fmt.Errorf("mark in flight: %w", err)
	}
	return nil
}

// MarkDelivered removes a record after the ledger confirms it, along with
// its spool file. Calling it for an already-removed record is a no-op, so a
// crash between ledger confirmation and removal resolves itself on retry.
func (s *Store) MarkDelivered(ctx context.Context, artifactID string) error {
	record, err := s.GetByArtifactID(ctx, artifactID)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM upload_records WHERE client_artifact_id = ?`, artifactID); err != nil {
		return fmt.Errorf("delete delivered record: %w", err)
	}
	if record.PayloadPath != "" {
		if err := os.Remove(record.PayloadPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove spool file: %w", err)
		}
	}
	return nil
}

// MarkFailed returns a record to queued with the failure recorded and the
// attempt counter bumped. Bytes already confirmed by the ledger stay on the
// record so the next attempt can resume.
func (s *Store) MarkFailed(ctx context.Context, artifactID, cause string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE upload_records
         SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
         WHERE client_artifact_id = ?`,
		StatusQueued,
		nullableString(cause),
		time.Now().UTC().Format(time.RFC3339Nano),
		artifactID,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// UpdateProgress persists how many payload bytes the ledger has confirmed.
func (s *Store) UpdateProgress(ctx context.Context, artifactID string, bytesSent int64) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE upload_records SET bytes_sent = ?, updated_at = ? WHERE client_artifact_id = ?`,
		bytesSent,
		time.Now().UTC().Format(time.RFC3339Nano),
		artifactID,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// ResetAttempts clears the attempt counter and failure cause so a record
// becomes immediately eligible again. Used by explicit user retries.
func (s *Store) ResetAttempts(ctx context.Context, artifactID string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE upload_records
         SET status = ?, attempts = 0, last_error = NULL, updated_at = ?
         WHERE client_artifact_id = ?`,
		StatusQueued,
		time.Now().UTC().Format(time.RFC3339Nano),
		artifactID,
	)
	if err != nil {
		return false, fmt.Errorf("reset attempts: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ResetStuckInFlight returns in-flight records to queued. The daemon runs
// this on startup: any record still marked in_flight was orphaned by a
// crash mid-upload.
func (s *Store) ResetStuckInFlight(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE upload_records SET status = ?, updated_at = ? WHERE status = ?`,
		StatusQueued,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusInFlight,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck records: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of records grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM upload_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	health := HealthSummary{}

	rows, err := s.db.QueryContext(ctx, `SELECT status, attempts, byte_size FROM upload_records`)
	if err != nil {
		return health, fmt.Errorf("queue health: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status   Status
			attempts int
			byteSize int64
		)
		if err := rows.Scan(&status, &attempts, &byteSize); err != nil {
			return health, err
		}
		health.Total++
		health.SpoolSize += byteSize
		switch status {
		case StatusQueued:
			health.Queued++
		case StatusInFlight:
			health.InFlight++
		}
		if attempts > 0 {
			health.Retrying++
		}
	}
	return health, rows.Err()
}

// CheckHealth returns diagnostic information about the queue database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.DatabaseExists = false
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("queue database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	var tableName string
	row := s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'upload_records'")
	if err := row.Scan(&tableName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			health.TableExists = false
		} else {
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		}
	} else {
		health.TableExists = true
	}

	if health.TableExists {
		row = s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM upload_records")
		if err := row.Scan(&health.TotalRecords); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count records: %w", err)
		}
	}

	row = s.db.QueryRowContext(connCtx, "PRAGMA integrity_check")
	var integrityResult string
	if err := row.Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}

// Remove deletes a record and its spool file.
func (s *Store) Remove(ctx context.Context, artifactID string) (bool, error) {
	record, err := s.GetByArtifactID(ctx, artifactID)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM upload_records WHERE client_artifact_id = ?`, artifactID)
	if err != nil {
		return false, fmt.Errorf("delete record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if record.PayloadPath != "" {
		if err := os.Remove(record.PayloadPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return affected > 0, fmt.Errorf("remove spool file: %w", err)
		}
	}
	return affected > 0, nil
}

// Clear removes all records and their spool files.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	records, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM upload_records`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	for _, record := range records {
		if record.PayloadPath == "" {
			continue
		}
		if err := os.Remove(record.PayloadPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("remove spool file: %w", err)
		}
	}
	return res.RowsAffected()
}

const recordColumns = "client_artifact_id, payload_path, byte_size, mime_type, duration_seconds, score_events_json, tag_events_json, rubric_snapshot_id, total_score, participant_ref, class_ref, captured_at, local_only, status, attempts, last_error, bytes_sent, enqueued_at, updated_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		artifactID      string
		payloadPath     string
		byteSize        int64
		mimeType        string
		durationSeconds float64
		scoreJSON       sql.NullString
		tagJSON         sql.NullString
		rubricID        sql.NullString
		totalScore      int
		participantRef  string
		classRef        string
		capturedRaw     sql.NullString
		localOnly       sql.NullInt64
		statusStr       string
		attempts        int
		lastError       sql.NullString
		bytesSent       int64
		enqueuedRaw     sql.NullString
		updatedRaw      sql.NullString
	)

	if err := scanner.Scan(
		&artifactID,
		&payloadPath,
		&byteSize,
		&mimeType,
		&durationSeconds,
		&scoreJSON,
		&tagJSON,
		&rubricID,
		&totalScore,
		&participantRef,
		&classRef,
		&capturedRaw,
		&localOnly,
		&statusStr,
		&attempts,
		&lastError,
		&bytesSent,
		&enqueuedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	record := &Record{
		ClientArtifactID: artifactID,
		PayloadPath:      payloadPath,
		ByteSize:         byteSize,
		MimeType:         mimeType,
		DurationSeconds:  durationSeconds,
		ScoreEventsJSON:  scoreJSON.String,
		TagEventsJSON:    tagJSON.String,
		RubricSnapshotID: rubricID.String,
		TotalScore:       totalScore,
		ParticipantRef:   participantRef,
		ClassRef:         classRef,
		Status:           Status(statusStr),
		Attempts:         attempts,
		LastError:        lastError.String,
		BytesSent:        bytesSent,
	}
	if localOnly.Valid {
		record.LocalOnly = localOnly.Int64 != 0
	}

	if captured, err := parseTimeString(capturedRaw.String); err == nil {
		record.CapturedAt = captured
	}
	if enqueued, err := parseTimeString(enqueuedRaw.String); err == nil {
		record.EnqueuedAt = enqueued
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		record.UpdatedAt = updated
	}
	return record, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
