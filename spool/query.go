package spool

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rowlytics/capture-pipeline/artifact"
)

// StoredRecording is a spooled clip together with its metadata. Saved is false
// until SaveRecording confirmed the upload.
type StoredRecording struct {
	artifact.Recording
	Size  int
	Saved bool
}

// Recordings lists spooled clips, oldest first.
func (s *Store) Recordings(ctx context.Context) ([]StoredRecording, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT object_key, user_id, content_type, COALESCE(length(data), 0),
                COALESCE(duration_sec, 0), created_at, saved_at
         FROM recordings ORDER BY created_at, object_key`)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	var out []StoredRecording
	for rows.Next() {
		var (
			rec     StoredRecording
			created string
			saved   sql.NullString
		)
		if err := rows.Scan(&rec.ObjectKey, &rec.UserID, &rec.ContentType, &rec.Size,
			&rec.DurationSec, &created, &saved); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		rec.CreatedAt = parseTime(created)
		rec.Saved = saved.Valid
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ClipData returns the bytes stored for an object key.
func (s *Store) ClipData(ctx context.Context, objectKey string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM recordings WHERE object_key = ?`, objectKey).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s: %w", objectKey, ErrUnknownObject)
	}
	if err != nil {
		return nil, fmt.Errorf("read clip: %w", err)
	}
	return data, nil
}

// FeatureFrames returns every frame recorded for userID in insertion order.
func (s *Store) FeatureFrames(ctx context.Context, userID string) ([]artifact.FeatureRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT frame_json, created_at FROM feature_frames WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list feature frames: %w", err)
	}
	defer rows.Close()

	var out []artifact.FeatureRecord
	for rows.Next() {
		var frameJSON, created string
		if err := rows.Scan(&frameJSON, &created); err != nil {
			return nil, fmt.Errorf("scan feature frame: %w", err)
		}
		rec := artifact.FeatureRecord{UserID: userID, CreatedAt: parseTime(created)}
		if err := json.Unmarshal([]byte(frameJSON), &rec.Frame); err != nil {
			return nil, fmt.Errorf("decode feature frame: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Workouts lists saved workout summaries, oldest first.
func (s *Store) Workouts(ctx context.Context) ([]artifact.Workout, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT duration_sec, started_at, completed_at, summary, workout_score FROM workouts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list workouts: %w", err)
	}
	defer rows.Close()

	var out []artifact.Workout
	for rows.Next() {
		var (
			w                  artifact.Workout
			started, completed string
			score              sql.NullFloat64
		)
		if err := rows.Scan(&w.DurationSec, &started, &completed, &w.Summary, &score); err != nil {
			return nil, fmt.Errorf("scan workout: %w", err)
		}
		w.StartedAt = parseTime(started)
		w.CompletedAt = parseTime(completed)
		if score.Valid {
			v := score.Float64
			w.WorkoutScore = &v
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
