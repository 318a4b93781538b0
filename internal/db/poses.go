package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/frametransform/internal/frames"
	"github.com/banshee-data/frametransform/internal/timeutil"
)

// Entry kinds.
const (
	KindObservation = "observation"
	KindRemoval     = "removal"
)

// PoseEntry is one row of the pose history.
type PoseEntry struct {
	ID        int64            `json:"id"`
	Kind      string           `json:"kind"`
	Reason    string           `json:"reason,omitempty"`
	Recorded  time.Time        `json:"recorded"`
	Transform frames.Transform `json:"-"`
}

const poseColumns = `id, kind, reason, recorded_ns, from_frame, to_frame, matrix,
	timestamp_ns, valid_from_ns, valid_until_ns, source`

// Record logs an applied observation.
func (db *DB) Record(ctx context.Context, t frames.Transform) error {
	return db.insert(ctx, t, KindObservation, "", db.clock.Now())
}

// RecordRemoval logs that the edge of t left the store at time at.
func (db *DB) RecordRemoval(ctx context.Context, t frames.Transform, at time.Time, reason string) error {
	return db.insert(ctx, t, KindRemoval, reason, at)
}

func (db *DB) insert(ctx context.Context, t frames.Transform, kind, reason string, at time.Time) error {
	matrix, err := json.Marshal(t.T)
	if err != nil {
		return fmt.Errorf("encode matrix: %w", err)
	}
	e := t.Edge()
	_, err = db.ExecContext(ctx, `INSERT INTO poses (
			frame_a, frame_b, from_frame, to_frame, kind, matrix,
			timestamp_ns, valid_from_ns, valid_until_ns, source, reason, recorded_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.A), string(e.B), string(t.From), string(t.To), kind, string(matrix),
		timeutil.UnixNanos(t.Timestamp), timeutil.UnixNanos(t.ValidFrom), timeutil.UnixNanos(t.ValidUntil), t.Source, reason, timeutil.UnixNanos(at),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s %s: %w", kind, e, err)
	}
	return nil
}

// Latest returns the newest observation of every pair whose most recent
// entry is not a removal and whose validity has not ended at now. Used to
// restore the store at startup.
func (db *DB) Latest(ctx context.Context, now time.Time) ([]frames.Transform, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+poseColumns+` FROM poses
		WHERE id IN (SELECT MAX(id) FROM poses GROUP BY frame_a, frame_b)
		  AND kind = ?
		  AND (valid_until_ns = 0 OR valid_until_ns > ?)
		ORDER BY frame_a, frame_b`, KindObservation, timeutil.UnixNanos(now))
	if err != nil {
		return nil, err
	}
	entries, err := scanPoses(rows)
	if err != nil {
		return nil, err
	}
	out := make([]frames.Transform, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Transform)
	}
	return out, nil
}

// History returns up to limit entries for the pair a, b in either
// orientation, newest first. A non-positive limit returns everything.
func (db *DB) History(ctx context.Context, a, b frames.FrameID, limit int) ([]PoseEntry, error) {
	e := frames.NewEdge(a, b)
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := db.QueryContext(ctx, `SELECT `+poseColumns+` FROM poses
		WHERE frame_a = ? AND frame_b = ?
		ORDER BY id DESC LIMIT ?`, string(e.A), string(e.B), limit)
	if err != nil {
		return nil, err
	}
	return scanPoses(rows)
}

// PruneBefore deletes entries recorded before t, keeping the newest entry
// of every pair so Latest still sees it. Returns the number deleted.
func (db *DB) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM poses
		WHERE recorded_ns < ?
		  AND id NOT IN (SELECT MAX(id) FROM poses GROUP BY frame_a, frame_b)`, timeutil.UnixNanos(t))
	if err != nil {
		return 0, fmt.Errorf("failed to prune pose history: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of history rows.
func (db *DB) Count(ctx context.Context) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM poses`).Scan(&n)
	return n, err
}

func scanPoses(rows *sql.Rows) ([]PoseEntry, error) {
	defer rows.Close()
	var out []PoseEntry
	for rows.Next() {
		var (
			e                                  PoseEntry
			recorded, ts, validFrom, validTill int64
			from, to, matrix                   string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Reason, &recorded, &from, &to, &matrix,
			&ts, &validFrom, &validTill, &e.Transform.Source); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(matrix), &e.Transform.T); err != nil {
			return nil, fmt.Errorf("pose %d: decode matrix: %w", e.ID, err)
		}
		e.Recorded = timeutil.FromUnixNanos(recorded)
		e.Transform.From = frames.FrameID(from)
		e.Transform.To = frames.FrameID(to)
		e.Transform.Timestamp = timeutil.FromUnixNanos(ts)
		e.Transform.ValidFrom = timeutil.FromUnixNanos(validFrom)
		e.Transform.ValidUntil = timeutil.FromUnixNanos(validTill)
		out = append(out, e)
	}
	return out, rows.Err()
}
