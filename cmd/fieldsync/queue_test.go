package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fieldworks/fieldsync/internal/store"
	"github.com/fieldworks/fieldsync/internal/types"
)

// executeQueueCmd executes a queue subcommand with captured output.
// --db isolates filesystem state per test.
func executeQueueCmd(t *testing.T, dbPath string, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	// Reset package-level flag variables to their defaults. Cobra parses into
	// these variables, so stale values from previous tests would leak.
	queueDBOverride = ""
	queueJSONOutput = false

	fullArgs := append([]string{"queue"}, args...)
	fullArgs = append(fullArgs, "--db", dbPath)

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(errBuf)
	rootCmd.SetArgs(fullArgs)

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)

	return outBuf.String(), errBuf.String(), err
}

// seedItem inserts a queue item directly, bypassing the manager.
func seedItem(t *testing.T, dbPath string, status types.SyncStatus) {
	t.Helper()
	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	item := &types.SyncQueueItem{
		ID:         "01H" + string(status) + "SEED",
		Type:       "application-submit",
		URL:        "https://portal.example.com/api/applications",
		Method:     "POST",
		Headers:    map[string]string{},
		Status:     status,
		MaxRetries: 3,
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.AddToSyncQueue(context.Background(), item); err != nil {
		t.Fatalf("seed item: %v", err)
	}
}

func TestQueueStatus_EmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sync.db")

	stdout, _, err := executeQueueCmd(t, dbPath, "status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{"STATUS", "COUNT", "pending", "failed"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
}

func TestQueueStatus_CountsSeededItems(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sync.db")
	seedItem(t, dbPath, types.SyncPending)

	stdout, _, err := executeQueueCmd(t, dbPath, "status", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("invalid JSON output: %v\nraw: %s", err, stdout)
	}
	if pending, _ := result["pending"].(float64); int(pending) != 1 {
		t.Errorf("JSON pending = %v, want 1", result["pending"])
	}
}

func TestQueueClear_ReportsCount(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sync.db")

	stdout, _, err := executeQueueCmd(t, dbPath, "clear")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "Cleared 0 completed items.") {
		t.Errorf("stdout = %q, want cleared-count line", stdout)
	}
}

func TestQueueRetry_NoFailedItems(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sync.db")

	stdout, _, err := executeQueueCmd(t, dbPath, "retry", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("invalid JSON output: %v\nraw: %s", err, stdout)
	}
	if failed, _ := result["failed"].(float64); int(failed) != 0 {
		t.Errorf("JSON failed = %v, want 0", result["failed"])
	}
}
