package testsupport

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"doppel/internal/config"
	"doppel/internal/process"
)

// MustOpenStore opens a process.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *process.Store {
	t.Helper()

	store, err := process.Open(cfg)
	if err != nil {
		t.Fatalf("process.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewRecord creates a process record for tests using the provided store.
func NewRecord(t testing.TB, store *process.Store, ownerID int64) *process.Record {
	t.Helper()

	rec, err := store.Create(context.Background(), &process.Record{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		PhotoRef:    "photo-file-id",
		AudioRef:    "audio-file-id",
		Script:      "Hello from the synthetic twin.",
		Quality:     "720p",
		Orientation: "portrait",
		MaxRetries:  3,
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return rec
}
