package process_test

import (
	"context"
	"testing"
	"time"

	"doppel/internal/process"
	"doppel/internal/testsupport"
)

func TestCreateAndFetchRecord(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	rec := testsupport.NewRecord(t, store, 42)

	if rec.Status != process.StatusAvatarProcessing {
		t.Fatalf("initial status = %s, expected avatar_processing", rec.Status)
	}

	fetched, err := store.GetByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched == nil {
		t.Fatal("expected record to exist")
	}
	if fetched.OwnerID != 42 {
		t.Fatalf("owner = %d, expected 42", fetched.OwnerID)
	}
	if fetched.Quality != "720p" || fetched.Orientation != "portrait" {
		t.Fatalf("inputs not persisted: %+v", fetched)
	}
	if fetched.CreatedAt.IsZero() || fetched.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}
}

func TestGetMissingRecordReturnsNil(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))

	rec, err := store.GetByID(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil for missing record, got %+v", rec)
	}
}

func TestUpdatePersistsArtifacts(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	rec := testsupport.NewRecord(t, store, 7)

	rec.SetArtifact(process.StageAvatar, "avatar-123")
	rec.Status = process.StatusAvatarDone
	rec.RetryCount = 2
	rec.ProgressMessageID = 991
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}

	fetched, err := store.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched.AvatarID != "avatar-123" {
		t.Fatalf("avatar id = %q, expected avatar-123", fetched.AvatarID)
	}
	if fetched.Status != process.StatusAvatarDone {
		t.Fatalf("status = %s, expected avatar_done", fetched.Status)
	}
	if fetched.RetryCount != 2 {
		t.Fatalf("retry count = %d, expected 2", fetched.RetryCount)
	}
	if fetched.ProgressMessageID != 991 {
		t.Fatalf("progress message id = %d, expected 991", fetched.ProgressMessageID)
	}
}

func TestTransitionIsCompareAndSet(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	rec := testsupport.NewRecord(t, store, 7)

	moved, err := store.Transition(ctx, rec.ID, process.StatusAvatarProcessing, process.StatusAvatarDone)
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if !moved {
		t.Fatal("expected first transition to land")
	}

	// Second writer loses: the stored status no longer matches.
	moved, err = store.Transition(ctx, rec.ID, process.StatusAvatarProcessing, process.StatusAvatarDone)
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if moved {
		t.Fatal("expected stale transition to be rejected")
	}
}

func TestTransitionRejectsInvalidMove(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	rec := testsupport.NewRecord(t, store, 7)

	if _, err := store.Transition(context.Background(), rec.ID, process.StatusAvatarProcessing, process.StatusVideoDone); err == nil {
		t.Fatal("expected out-of-order transition to error")
	}
}

func TestListAndActive(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first := testsupport.NewRecord(t, store, 1)
	second := testsupport.NewRecord(t, store, 2)

	second.Status = process.StatusFailed
	if err := store.Update(ctx, second); err != nil {
		t.Fatalf("Update: %v", err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List returned %d records, expected 2", len(all))
	}

	failed, err := store.List(ctx, process.StatusFailed)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != second.ID {
		t.Fatalf("unexpected failed set: %+v", failed)
	}

	active, err := store.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 1 || active[0].ID != first.ID {
		t.Fatalf("unexpected active set: %+v", active)
	}

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[process.StatusAvatarProcessing] != 1 || counts[process.StatusFailed] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestDeleteTerminalBefore(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	done := testsupport.NewRecord(t, store, 1)
	done.Status = process.StatusFailed
	if err := store.Update(ctx, done); err != nil {
		t.Fatalf("Update: %v", err)
	}
	active := testsupport.NewRecord(t, store, 2)

	removed, err := store.DeleteTerminalBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteTerminalBefore: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed %d records, expected 1", removed)
	}

	remaining, err := store.GetByID(ctx, active.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if remaining == nil {
		t.Fatal("active record must survive retention eviction")
	}
}

func TestRecordWebhookDedup(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	entry, created, err := store.RecordWebhook(ctx, "hash-1", "akool", "photo_avatar.success", `{"ok":true}`)
	if err != nil {
		t.Fatalf("RecordWebhook: %v", err)
	}
	if !created {
		t.Fatal("expected first delivery to create a row")
	}
	if entry.Processed {
		t.Fatal("new delivery must start unprocessed")
	}

	dup, created, err := store.RecordWebhook(ctx, "hash-1", "akool", "photo_avatar.success", `{"ok":true}`)
	if err != nil {
		t.Fatalf("RecordWebhook duplicate: %v", err)
	}
	if created {
		t.Fatal("expected duplicate delivery to reuse the existing row")
	}
	if dup.ID != entry.ID {
		t.Fatalf("duplicate returned row %d, expected %d", dup.ID, entry.ID)
	}
}

func TestMarkWebhookProcessedClaimsOnce(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, _, err := store.RecordWebhook(ctx, "hash-2", "akool", "voice_clone.success", `{}`); err != nil {
		t.Fatalf("RecordWebhook: %v", err)
	}

	claimed, err := store.MarkWebhookProcessed(ctx, "hash-2")
	if err != nil {
		t.Fatalf("MarkWebhookProcessed: %v", err)
	}
	if !claimed {
		t.Fatal("expected first claim to win")
	}

	claimed, err = store.MarkWebhookProcessed(ctx, "hash-2")
	if err != nil {
		t.Fatalf("MarkWebhookProcessed second: %v", err)
	}
	if claimed {
		t.Fatal("expected second claim to lose")
	}
}

func TestUnprocessedWebhookSweepSource(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, _, err := store.RecordWebhook(ctx, "hash-a", "akool", "video.success", `{}`); err != nil {
		t.Fatalf("RecordWebhook: %v", err)
	}
	if _, _, err := store.RecordWebhook(ctx, "hash-b", "akool", "video.success", `{}`); err != nil {
		t.Fatalf("RecordWebhook: %v", err)
	}
	if err := store.SetWebhookError(ctx, "hash-a", "decrypt payload: bad padding"); err != nil {
		t.Fatalf("SetWebhookError: %v", err)
	}
	if _, err := store.MarkWebhookProcessed(ctx, "hash-b"); err != nil {
		t.Fatalf("MarkWebhookProcessed: %v", err)
	}

	pending, err := store.UnprocessedWebhooks(ctx, 10)
	if err != nil {
		t.Fatalf("UnprocessedWebhooks: %v", err)
	}
	if len(pending) != 1 || pending[0].WebhookID != "hash-a" {
		t.Fatalf("unexpected pending set: %+v", pending)
	}
	if pending[0].Error == "" {
		t.Fatal("expected recorded error to survive")
	}

	removed, err := store.DeleteProcessedWebhooksBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteProcessedWebhooksBefore: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed %d webhook rows, expected 1", removed)
	}
}
