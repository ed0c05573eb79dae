package repos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/reelkit/reelkit-backend/internal/logger"
	"github.com/reelkit/reelkit-backend/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000",
		strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&types.GenerationBatch{}, &types.VideoItem{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

func seedItem(t *testing.T, repo VideoItemRepo, batchID uuid.UUID, status types.ItemStatus) *types.VideoItem {
	t.Helper()
	item := &types.VideoItem{
		ID:          uuid.New(),
		BatchID:     batchID,
		Status:      status,
		ReviewState: types.ReviewStatePending,
	}
	if _, err := repo.Create(context.Background(), nil, []*types.VideoItem{item}); err != nil {
		t.Fatalf("create item: %v", err)
	}
	return item
}

func TestTransitionStatusIsForwardOnly(t *testing.T) {
	repo := NewVideoItemRepo(newTestDB(t), newTestLogger(t))
	ctx := context.Background()
	item := seedItem(t, repo, uuid.New(), types.ItemStatusPending)

	if err := repo.TransitionStatus(ctx, nil, item.ID, types.ItemStatusPending, types.ItemStatusQueued, nil); err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}

	// the expected-from guard refuses a write based on a stale read
	err := repo.TransitionStatus(ctx, nil, item.ID, types.ItemStatusPending, types.ItemStatusScriptGen, nil)
	if !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("TransitionStatus: want=ErrStaleTransition got=%v", err)
	}

	got, err := repo.GetByIDs(ctx, nil, []uuid.UUID{item.ID})
	if err != nil || len(got) != 1 {
		t.Fatalf("GetByIDs: %v", err)
	}
	if got[0].Status != types.ItemStatusQueued {
		t.Fatalf("status: want=%s got=%s", types.ItemStatusQueued, got[0].Status)
	}
}

func TestFailNeverOverwritesTerminalStatus(t *testing.T) {
	repo := NewVideoItemRepo(newTestDB(t), newTestLogger(t))
	ctx := context.Background()

	item := seedItem(t, repo, uuid.New(), types.ItemStatusScriptGen)
	if err := repo.Fail(ctx, nil, item.ID, "boom"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	got, _ := repo.GetByIDs(ctx, nil, []uuid.UUID{item.ID})
	if got[0].Status != types.ItemStatusFailed || got[0].Error != "boom" || got[0].FailedAt == nil {
		t.Fatalf("failed item: got %s/%q", got[0].Status, got[0].Error)
	}

	// a second failure reason must not replace the first
	if err := repo.Fail(ctx, nil, item.ID, "later"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	got, _ = repo.GetByIDs(ctx, nil, []uuid.UUID{item.ID})
	if got[0].Error != "boom" {
		t.Fatalf("error: want=boom got=%q", got[0].Error)
	}

	done := seedItem(t, repo, uuid.New(), types.ItemStatusCompleted)
	if err := repo.Fail(ctx, nil, done.ID, "boom"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	got, _ = repo.GetByIDs(ctx, nil, []uuid.UUID{done.ID})
	if got[0].Status != types.ItemStatusCompleted {
		t.Fatalf("completed item must stay completed, got %s", got[0].Status)
	}
}

func TestFailNonTerminalByBatchIDSkipsTerminalItems(t *testing.T) {
	repo := NewVideoItemRepo(newTestDB(t), newTestLogger(t))
	ctx := context.Background()
	batchID := uuid.New()

	completed := seedItem(t, repo, batchID, types.ItemStatusCompleted)
	queued := seedItem(t, repo, batchID, types.ItemStatusQueued)
	other := seedItem(t, repo, uuid.New(), types.ItemStatusQueued)

	if err := repo.FailNonTerminalByBatchID(ctx, nil, batchID, "cancelled"); err != nil {
		t.Fatalf("FailNonTerminalByBatchID: %v", err)
	}

	got, _ := repo.GetByIDs(ctx, nil, []uuid.UUID{completed.ID, queued.ID, other.ID})
	byID := map[uuid.UUID]*types.VideoItem{}
	for _, it := range got {
		byID[it.ID] = it
	}
	if byID[completed.ID].Status != types.ItemStatusCompleted {
		t.Fatalf("completed item touched by cancellation")
	}
	if byID[queued.ID].Status != types.ItemStatusFailed || byID[queued.ID].Error != "cancelled" {
		t.Fatalf("queued item: want failed/cancelled got %s/%q", byID[queued.ID].Status, byID[queued.ID].Error)
	}
	if byID[other.ID].Status != types.ItemStatusQueued {
		t.Fatalf("other batch item touched by cancellation")
	}
}
