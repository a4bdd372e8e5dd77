package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkaufman/fadewatch/internal/schedule"
	"github.com/pkaufman/fadewatch/internal/store"
)

func TestCancelCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data.db")

	st, err := store.Open(dbPath, time.UTC)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	job := schedule.NewJob("mlb", "NYY", "BOS", "7:05 pm ET", time.Now().Add(time.Hour))
	if _, err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	st.Close()

	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := "storage:\n  db_path: " + dbPath + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	root := NewRootCmd()
	root.SetArgs([]string{"cancel", job.ID, "--config", cfgPath})
	if err := root.Execute(); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	st, err = store.Open(dbPath, time.UTC)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != schedule.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	st.Close()

	// Cancelling again must fail: the job is already terminal.
	again := NewRootCmd()
	again.SetArgs([]string{"cancel", job.ID, "--config", cfgPath})
	if err := again.Execute(); err == nil {
		t.Error("expected an error cancelling a cancelled job")
	}
}

func TestCancelCommandUnknownJob(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := "storage:\n  db_path: " + filepath.Join(dir, "data.db") + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	root := NewRootCmd()
	root.SetArgs([]string{"cancel", "missing-id", "--config", cfgPath})
	if err := root.Execute(); err == nil {
		t.Error("expected an error for an unknown job ID")
	}
}
