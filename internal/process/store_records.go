package process

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Create inserts a new process record and returns the stored row.
func (s *Store) Create(ctx context.Context, rec *Record) (*Record, error) {
	if rec == nil {
		return nil, errors.New("record is nil")
	}
	if rec.ID == "" {
		return nil, errors.New("record id is empty")
	}
	if rec.Status == "" {
		rec.Status = FirstStage.Processing()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	timestamp := now.Format(time.RFC3339Nano)

	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO process_records (
            id, owner_id, status, photo_ref, audio_ref, script, quality, orientation,
            avatar_id, voice_id, video_id, video_url, retry_count, max_retries,
            last_error, progress_message_id, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.OwnerID,
		rec.Status,
		nullableString(rec.PhotoRef),
		nullableString(rec.AudioRef),
		nullableString(rec.Script),
		nullableString(rec.Quality),
		nullableString(rec.Orientation),
		nullableString(rec.AvatarID),
		nullableString(rec.VoiceID),
		nullableString(rec.VideoID),
		nullableString(rec.VideoURL),
		rec.RetryCount,
		rec.MaxRetries,
		nullableString(rec.LastError),
		nullableInt64(rec.ProgressMessageID),
		timestamp,
		timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert process record: %w", err)
	}

	return s.GetByID(ctx, rec.ID)
}

// GetByID fetches a process record by identifier. A missing record returns
// nil without error.
func (s *Store) GetByID(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM process_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get process record: %w", err)
	}
	return rec, nil
}

// Update persists changes to an existing process record.
func (s *Store) Update(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("record is nil")
	}
	rec.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE process_records
         SET owner_id = ?, status = ?, photo_ref = ?, audio_ref = ?, script = ?,
             quality = ?, orientation = ?, avatar_id = ?, voice_id = ?, video_id = ?,
             video_url = ?, retry_count = ?, max_retries = ?, last_error = ?,
             progress_message_id = ?, updated_at = ?
         WHERE id = ?`,
		rec.OwnerID,
		rec.Status,
		nullableString(rec.PhotoRef),
		nullableString(rec.AudioRef),
		nullableString(rec.Script),
		nullableString(rec.Quality),
		nullableString(rec.Orientation),
		nullableString(rec.AvatarID),
		nullableString(rec.VoiceID),
		nullableString(rec.VideoID),
		nullableString(rec.VideoURL),
		rec.RetryCount,
		rec.MaxRetries,
		nullableString(rec.LastError),
		nullableInt64(rec.ProgressMessageID),
		rec.UpdatedAt.Format(time.RFC3339Nano),
		rec.ID,
	); err != nil {
		return fmt.Errorf("update process record: %w", err)
	}
	return nil
}

// SetProgressMessage caches the notification message handle used for
// edit-in-place progress updates. Kept separate from Update so the tracker
// never clobbers workflow columns written concurrently.
func (s *Store) SetProgressMessage(ctx context.Context, id string, messageID int64) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE process_records SET progress_message_id = ?, updated_at = ? WHERE id = ?`,
		nullableInt64(messageID),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("set progress message: %w", err)
	}
	return nil
}

// Transition moves a record from one status to another only when the stored
// status still matches. Returns false when another writer got there first.
func (s *Store) Transition(ctx context.Context, id string, from, to Status) (bool, error) {
	if !CanTransition(from, to) {
		return false, fmt.Errorf("invalid transition %s -> %s", from, to)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE process_records SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		from,
	)
	if err != nil {
		return false, fmt.Errorf("transition process record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// List returns records filtered by status set (or all records when no
// status is provided), ordered by creation time.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Record, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + recordColumns + ` FROM process_records`
	orderClause := ` ORDER BY created_at`

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
		return nil, fmt.Errorf("list process records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Active returns records whose workflow has not finished.
func (s *Store) Active(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+recordColumns+` FROM process_records WHERE status NOT IN (?, ?) ORDER BY created_at`,
		StatusCompleted,
		StatusFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("list active records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountByStatus returns the number of records per status.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM process_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

// DeleteTerminalBefore removes completed and failed records last updated
// before the cutoff. Active records are never evicted.
func (s *Store) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM process_records WHERE status IN (?, ?) AND updated_at < ?`,
		StatusCompleted,
		StatusFailed,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("delete terminal records: %w", err)
	}
	return res.RowsAffected()
}
