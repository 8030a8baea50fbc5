package stores

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), MemoryPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testRun(id string, started time.Time) *Run {
	return &Run{
		ID:        id,
		RunList:   []string{"default"},
		Status:    "running",
		StartedAt: started,
		Summary:   Summary{Total: 3, Pending: 3},
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "resource_results", "events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// A second migration is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestFileStorePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.CreateRun(ctx, testRun("run-file", epoch)); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	store, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer store.Close()

	if _, err := store.GetRun(ctx, "run-file"); err != nil {
		t.Fatalf("run not persisted: %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := testRun("run-001", epoch)
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	retrieved, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if retrieved.Status != "running" {
		t.Errorf("expected Status running, got %s", retrieved.Status)
	}
	if len(retrieved.RunList) != 1 || retrieved.RunList[0] != "default" {
		t.Errorf("expected run list [default], got %v", retrieved.RunList)
	}
	if !retrieved.StartedAt.Equal(epoch) {
		t.Errorf("expected StartedAt %v, got %v", epoch, retrieved.StartedAt)
	}
	if retrieved.CompletedAt != nil {
		t.Errorf("expected CompletedAt nil, got %v", retrieved.CompletedAt)
	}

	completed := epoch.Add(42 * time.Second)
	errMsg := "file[/etc/docker/daemon.json]: exit status 1"
	run.Status = "failed"
	run.CompletedAt = &completed
	run.Summary = Summary{Total: 3, Changed: 1, Failed: 1, Pending: 1}
	run.FailedResource = "file[/etc/docker/daemon.json]"
	run.Error = &errMsg
	if err := store.CompleteRun(ctx, run); err != nil {
		t.Fatalf("failed to complete run: %v", err)
	}

	updated, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get updated run: %v", err)
	}
	if updated.Status != "failed" {
		t.Errorf("expected Status failed, got %s", updated.Status)
	}
	if updated.Error == nil || *updated.Error != errMsg {
		t.Errorf("expected Error %q, got %v", errMsg, updated.Error)
	}
	if updated.Summary != run.Summary {
		t.Errorf("expected Summary %+v, got %+v", run.Summary, updated.Summary)
	}
	if updated.Duration() != 42*time.Second {
		t.Errorf("expected duration 42s, got %v", updated.Duration())
	}
	if updated.FailedResource != run.FailedResource {
		t.Errorf("expected FailedResource %s, got %s", run.FailedResource, updated.FailedResource)
	}

	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	if _, err := store.GetRun(ctx, run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for deleted run, got %v", err)
	}
}

func TestCompleteUnknownRun(t *testing.T) {
	store := setupTestStore(t)

	err := store.CompleteRun(context.Background(), testRun("missing", epoch))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		run := testRun(fmt.Sprintf("run-%d", i), epoch.Add(time.Duration(i)*time.Minute))
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
	}

	runs, err := store.ListRuns(ctx, 3, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i, want := range []string{"run-4", "run-3", "run-2"} {
		if runs[i].ID != want {
			t.Errorf("runs[%d]: expected %s, got %s", i, want, runs[i].ID)
		}
	}

	all, err := store.ListRuns(ctx, 0, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("expected 5 runs without a limit, got %d", len(all))
	}
}

func TestPruneRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		run := testRun(fmt.Sprintf("run-%d", i), epoch.Add(time.Duration(i)*time.Minute))
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
		if err := store.SaveResourceResult(ctx, &ResourceResult{
			RunID: run.ID, Seq: 1, Kind: "file", Name: "/etc/hosts", Recipe: "default",
			Action: "create", State: "converged",
		}); err != nil {
			t.Fatalf("failed to save result: %v", err)
		}
	}

	deleted, err := store.PruneRuns(ctx, 2)
	if err != nil {
		t.Fatalf("failed to prune runs: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 runs deleted, got %d", deleted)
	}

	runs, err := store.ListRuns(ctx, 0, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-3" || runs[1].ID != "run-2" {
		t.Errorf("unexpected runs after prune: %v", runs)
	}

	results, err := store.ListResourceResults(ctx, "run-0")
	if err != nil {
		t.Fatalf("failed to list results: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected results of pruned run to cascade, got %d", len(results))
	}

	if _, err := store.PruneRuns(ctx, -1); err == nil {
		t.Error("expected error for negative keep")
	}
}

func TestResourceResults(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, testRun("run-002", epoch)); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	started := epoch.Add(time.Second)
	errMsg := "post-write command timed out after 15s"
	results := []*ResourceResult{
		{
			RunID: "run-002", Seq: 2, Kind: "file", Name: "/etc/etcd/conf.yml", Recipe: "etcd",
			Action: "create", State: "failed", Error: &errMsg, StartedAt: &started, Duration: 15 * time.Second,
		},
		{
			RunID: "run-002", Seq: 1, Kind: "package", Name: "docker-ce", Recipe: "docker",
			Action: "install", State: "converged", Changed: true, Message: "installed 19.03.5",
			Details: map[string]interface{}{"version": "5:19.03.5~3-0~ubuntu-bionic"},
			StartedAt: &started, Duration: 1500 * time.Millisecond,
		},
	}
	for _, r := range results {
		if err := store.SaveResourceResult(ctx, r); err != nil {
			t.Fatalf("failed to save result %d: %v", r.Seq, err)
		}
	}

	got, err := store.ListResourceResults(ctx, "run-002")
	if err != nil {
		t.Fatalf("failed to list results: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Seq != 1 || got[1].Seq != 2 {
		t.Errorf("expected results in seq order, got %d, %d", got[0].Seq, got[1].Seq)
	}
	if !got[0].Changed || got[0].Duration != 1500*time.Millisecond {
		t.Errorf("unexpected first result: %+v", got[0])
	}
	if got[0].Details["version"] != "5:19.03.5~3-0~ubuntu-bionic" {
		t.Errorf("details not round-tripped: %v", got[0].Details)
	}
	if got[0].ID() != "package[docker-ce]" {
		t.Errorf("expected id package[docker-ce], got %s", got[0].ID())
	}
	if got[1].Error == nil || *got[1].Error != errMsg {
		t.Errorf("expected error %q, got %v", errMsg, got[1].Error)
	}
	if got[1].Details != nil {
		t.Errorf("expected nil details, got %v", got[1].Details)
	}

	// Saving the same seq again replaces the state.
	results[0].State = "converged"
	results[0].Error = nil
	if err := store.SaveResourceResult(ctx, results[0]); err != nil {
		t.Fatalf("failed to overwrite result: %v", err)
	}
	got, err = store.ListResourceResults(ctx, "run-002")
	if err != nil {
		t.Fatalf("failed to list results: %v", err)
	}
	if len(got) != 2 || got[1].State != "converged" || got[1].Error != nil {
		t.Errorf("expected seq 2 replaced, got %+v", got[1])
	}
}

func TestResourceResultRequiresRun(t *testing.T) {
	store := setupTestStore(t)

	err := store.SaveResourceResult(context.Background(), &ResourceResult{
		RunID: "nope", Seq: 1, Kind: "file", Name: "/x", Recipe: "r", Action: "create", State: "pending",
	})
	if err == nil {
		t.Error("expected foreign key violation for unknown run")
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"run-a", "run-b"} {
		if err := store.CreateRun(ctx, testRun(id, epoch)); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
	}

	events := []*Event{
		{RunID: "run-a", Type: "run_started", Level: EventLevelInfo, Message: "run started with 2 resources"},
		{RunID: "run-a", Resource: "service[etcd]", Type: "resource_failed", Level: EventLevelError,
			Message: "exit status 1", Details: map[string]interface{}{"output": "unit not found"}},
		{RunID: "run-b", Type: "run_started", Level: EventLevelInfo, Message: "run started with 1 resources"},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if e.ID == 0 {
			t.Error("expected event ID to be set")
		}
		if e.Timestamp.IsZero() {
			t.Error("expected timestamp to be defaulted")
		}
	}

	tests := []struct {
		name   string
		filter EventFilter
		want   int
	}{
		{"all", EventFilter{}, 3},
		{"by run", EventFilter{RunID: "run-a"}, 2},
		{"by level", EventFilter{Level: EventLevelError}, 1},
		{"by run and level", EventFilter{RunID: "run-b", Level: EventLevelError}, 0},
		{"limit", EventFilter{Limit: 1}, 1},
		{"offset", EventFilter{Offset: 2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.GetEvents(ctx, tt.filter)
			if err != nil {
				t.Fatalf("failed to get events: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d events, got %d", tt.want, len(got))
			}
		})
	}

	got, err := store.GetEvents(ctx, EventFilter{RunID: "run-a"})
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if got[0].Type != "run_started" || got[1].Resource != "service[etcd]" {
		t.Errorf("events out of order: %+v", got)
	}
	if got[1].Details["output"] != "unit not found" {
		t.Errorf("details not round-tripped: %v", got[1].Details)
	}
}
