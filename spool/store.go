// Package spool is an offline artifact sink. Clips, feature frames and workout
// summaries land in a local SQLite database instead of the web API so a
// session can run without network access.
package spool

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rowlytics/capture-pipeline/artifact"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// Scheme prefixes upload URLs handed out by Presign.
const Scheme = "spool://"

// Bucket is reported as the destination bucket for spooled clips.
const Bucket = "spool"

var (
	// ErrSchemaMismatch means the database was written by another schema version.
	ErrSchemaMismatch = errors.New("spool: schema version mismatch")
	// ErrUnknownObject is returned when uploading to a key Presign never issued.
	ErrUnknownObject = errors.New("spool: unknown object key")
)

// Store persists artifacts in SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

var _ artifact.Sink = (*Store)(nil)

// Open creates or connects to the spool database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure spool directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Presign reserves an object key for a clip. The returned URL only means
// something to this store's Upload.
func (s *Store) Presign(ctx context.Context, userID, contentType string) (artifact.UploadTarget, error) {
	if userID == "" {
		return artifact.UploadTarget{}, errors.New("spool: user id is required")
	}
	if contentType == "" {
		contentType = artifact.DefaultContentType
	}
	now := s.now().UTC()
	key := artifact.ObjectKey(userID, contentType, now, uuid.NewString())

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recordings (object_key, user_id, content_type, created_at) VALUES (?, ?, ?, ?)`,
		key, userID, contentType, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return artifact.UploadTarget{}, fmt.Errorf("reserve recording: %w", err)
	}
	return artifact.UploadTarget{UploadURL: Scheme + key, ObjectKey: key, Bucket: Bucket}, nil
}

func (s *Store) Upload(ctx context.Context, target artifact.UploadTarget, contentType string, data []byte) error {
	key, ok := strings.CutPrefix(target.UploadURL, Scheme)
	if !ok {
		return fmt.Errorf("spool: not a spool url %q", target.UploadURL)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET data = ?, content_type = ?, uploaded_at = ? WHERE object_key = ?`,
		data, contentType, s.now().UTC().Format(time.RFC3339Nano), key,
	)
	if err != nil {
		return fmt.Errorf("store clip: %w", err)
	}
	return expectOne(res, key)
}

func (s *Store) SaveRecording(ctx context.Context, rec artifact.Recording) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET duration_sec = ?, content_type = ?, created_at = ?, saved_at = ?
         WHERE object_key = ? AND user_id = ?`,
		rec.DurationSec, rec.ContentType, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		s.now().UTC().Format(time.RFC3339Nano), rec.ObjectKey, rec.UserID,
	)
	if err != nil {
		return fmt.Errorf("save recording: %w", err)
	}
	return expectOne(res, rec.ObjectKey)
}

func (s *Store) SaveFeatureFrame(ctx context.Context, rec artifact.FeatureRecord) error {
	frameJSON, err := json.Marshal(rec.Frame)
	if err != nil {
		return fmt.Errorf("marshal feature frame: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO feature_frames (user_id, frame_json, created_at) VALUES (?, ?, ?)`,
		rec.UserID, string(frameJSON), rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert feature frame: %w", err)
	}
	return nil
}

func (s *Store) SaveWorkout(ctx context.Context, w artifact.Workout) error {
	var score sql.NullFloat64
	if w.WorkoutScore != nil {
		score = sql.NullFloat64{Float64: *w.WorkoutScore, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workouts (duration_sec, started_at, completed_at, summary, workout_score)
         VALUES (?, ?, ?, ?, ?)`,
		w.DurationSec,
		w.StartedAt.UTC().Format(time.RFC3339Nano),
		w.CompletedAt.UTC().Format(time.RFC3339Nano),
		w.Summary,
		score,
	)
	if err != nil {
		return fmt.Errorf("insert workout: %w", err)
	}
	return nil
}

func expectOne(res sql.Result, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", key, ErrUnknownObject)
	}
	return nil
}
