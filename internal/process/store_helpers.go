package process

import (
	"database/sql"
	"errors"
	"time"
)

const recordColumns = "id, owner_id, status, photo_ref, audio_ref, script, quality, orientation, avatar_id, voice_id, video_id, video_url, retry_count, max_retries, last_error, progress_message_id, created_at, updated_at"

const webhookColumns = "id, webhook_id, provider, event_type, payload, processed, error, received_at, updated_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		id                string
		ownerID           int64
		statusStr         string
		photoRef          sql.NullString
		audioRef          sql.NullString
		script            sql.NullString
		quality           sql.NullString
		orientation       sql.NullString
		avatarID          sql.NullString
		voiceID           sql.NullString
		videoID           sql.NullString
		videoURL          sql.NullString
		retryCount        int
		maxRetries        int
		lastError         sql.NullString
		progressMessageID sql.NullInt64
		createdRaw        sql.NullString
		updatedRaw        sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&ownerID,
		&statusStr,
		&photoRef,
		&audioRef,
		&script,
		&quality,
		&orientation,
		&avatarID,
		&voiceID,
		&videoID,
		&videoURL,
		&retryCount,
		&maxRetries,
		&lastError,
		&progressMessageID,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	rec := &Record{
		ID:          id,
		OwnerID:     ownerID,
		Status:      Status(statusStr),
		PhotoRef:    photoRef.String,
		AudioRef:    audioRef.String,
		Script:      script.String,
		Quality:     quality.String,
		Orientation: orientation.String,
		AvatarID:    avatarID.String,
		VoiceID:     voiceID.String,
		VideoID:     videoID.String,
		VideoURL:    videoURL.String,
		RetryCount:  retryCount,
		MaxRetries:  maxRetries,
		LastError:   lastError.String,
	}
	if progressMessageID.Valid {
		rec.ProgressMessageID = progressMessageID.Int64
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		rec.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		rec.UpdatedAt = updated
	}
	return rec, nil
}

func scanWebhook(scanner interface{ Scan(dest ...any) error }) (*WebhookLog, error) {
	var (
		id          int64
		webhookID   string
		provider    string
		eventType   sql.NullString
		payload     string
		processed   sql.NullInt64
		errMessage  sql.NullString
		receivedRaw sql.NullString
		updatedRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&webhookID,
		&provider,
		&eventType,
		&payload,
		&processed,
		&errMessage,
		&receivedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	entry := &WebhookLog{
		ID:        id,
		WebhookID: webhookID,
		Provider:  provider,
		EventType: eventType.String,
		Payload:   payload,
		Error:     errMessage.String,
	}
	if processed.Valid {
		entry.Processed = processed.Int64 != 0
	}
	if received, err := parseTimeString(receivedRaw.String); err == nil {
		entry.ReceivedAt = received
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		entry.UpdatedAt = updated
	}
	return entry, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt64(value int64) any {
	if value == 0 {
		return nil
	}
	return value
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
