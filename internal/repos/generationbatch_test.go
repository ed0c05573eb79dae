package repos

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/reelkit/reelkit-backend/internal/types"
)

const (
	testMaxAttempts  = 3
	testStaleRunning = 5 * time.Minute
)

func seedBatch(t *testing.T, repo GenerationBatchRepo, createdAt time.Time, mutate func(*types.GenerationBatch)) *types.GenerationBatch {
	t.Helper()
	batch := &types.GenerationBatch{
		ID:          uuid.New(),
		BriefID:     uuid.New(),
		TargetCount: 1,
		CreatedAt:   createdAt,
	}
	if mutate != nil {
		mutate(batch)
	}
	if _, err := repo.Create(context.Background(), nil, []*types.GenerationBatch{batch}); err != nil {
		t.Fatalf("create batch: %v", err)
	}
	return batch
}

func TestClaimNextRunnableClaimsOldestAndLocks(t *testing.T) {
	repo := NewGenerationBatchRepo(newTestDB(t), newTestLogger(t))
	ctx := context.Background()
	now := time.Now()

	older := seedBatch(t, repo, now.Add(-2*time.Minute), nil)
	newer := seedBatch(t, repo, now.Add(-1*time.Minute), nil)

	claimed, err := repo.ClaimNextRunnable(ctx, nil, testMaxAttempts, testStaleRunning)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if claimed == nil || claimed.ID != older.ID {
		t.Fatalf("claim: want=%s got=%v", older.ID, claimed)
	}

	got, err := repo.GetByIDs(ctx, nil, []uuid.UUID{older.ID})
	if err != nil || len(got) != 1 {
		t.Fatalf("GetByIDs: %v", err)
	}
	if got[0].Attempts != 1 {
		t.Fatalf("attempts: want=1 got=%d", got[0].Attempts)
	}
	if got[0].LockedAt == nil || got[0].HeartbeatAt == nil {
		t.Fatalf("claim must set locked_at and heartbeat_at")
	}

	// a second claimer skips the locked batch and takes the next one
	second, err := repo.ClaimNextRunnable(ctx, nil, testMaxAttempts, testStaleRunning)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if second == nil || second.ID != newer.ID {
		t.Fatalf("second claim: want=%s got=%v", newer.ID, second)
	}

	// nothing runnable remains
	third, err := repo.ClaimNextRunnable(ctx, nil, testMaxAttempts, testStaleRunning)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if third != nil {
		t.Fatalf("third claim: want=nil got=%s", third.ID)
	}
}

func TestClaimNextRunnableReclaimsStaleHeartbeat(t *testing.T) {
	repo := NewGenerationBatchRepo(newTestDB(t), newTestLogger(t))
	ctx := context.Background()

	batch := seedBatch(t, repo, time.Now().Add(-time.Hour), nil)
	claimed, err := repo.ClaimNextRunnable(ctx, nil, testMaxAttempts, testStaleRunning)
	if err != nil || claimed == nil {
		t.Fatalf("initial claim: got=%v err=%v", claimed, err)
	}

	// fresh heartbeat: the batch stays invisible to other claimers
	if again, err := repo.ClaimNextRunnable(ctx, nil, testMaxAttempts, testStaleRunning); err != nil || again != nil {
		t.Fatalf("claim with fresh heartbeat: want=nil got=%v err=%v", again, err)
	}

	// a crashed worker stops heartbeating; after the staleness window the
	// batch becomes claimable again and the attempt counter advances
	if err := repo.UpdateFields(ctx, nil, batch.ID, map[string]interface{}{
		"heartbeat_at": time.Now().Add(-2 * testStaleRunning),
	}); err != nil {
		t.Fatalf("age heartbeat: %v", err)
	}
	reclaimed, err := repo.ClaimNextRunnable(ctx, nil, testMaxAttempts, testStaleRunning)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if reclaimed == nil || reclaimed.ID != batch.ID {
		t.Fatalf("reclaim: want=%s got=%v", batch.ID, reclaimed)
	}
	got, _ := repo.GetByIDs(ctx, nil, []uuid.UUID{batch.ID})
	if got[0].Attempts != 2 {
		t.Fatalf("attempts after reclaim: want=2 got=%d", got[0].Attempts)
	}
}

func TestClaimNextRunnableHonorsAttemptBudget(t *testing.T) {
	repo := NewGenerationBatchRepo(newTestDB(t), newTestLogger(t))
	ctx := context.Background()

	batch := seedBatch(t, repo, time.Now().Add(-time.Hour), func(b *types.GenerationBatch) {
		b.Attempts = testMaxAttempts
	})
	if err := repo.UpdateFields(ctx, nil, batch.ID, map[string]interface{}{
		"heartbeat_at": time.Now().Add(-2 * testStaleRunning),
		"locked_at":    time.Now().Add(-2 * testStaleRunning),
	}); err != nil {
		t.Fatalf("age batch: %v", err)
	}

	claimed, err := repo.ClaimNextRunnable(ctx, nil, testMaxAttempts, testStaleRunning)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if claimed != nil {
		t.Fatalf("exhausted batch must not be claimed, got %s", claimed.ID)
	}
}

func TestClaimNextRunnableSkipsSettledBatches(t *testing.T) {
	repo := NewGenerationBatchRepo(newTestDB(t), newTestLogger(t))
	ctx := context.Background()
	now := time.Now()
	old := now.Add(-time.Hour)

	seedBatch(t, repo, old, func(b *types.GenerationBatch) { b.CompletedAt = &now })
	seedBatch(t, repo, old, func(b *types.GenerationBatch) { b.CancelledAt = &now })
	seedBatch(t, repo, old, func(b *types.GenerationBatch) { b.Error = "brief missing or unparsed" })

	claimed, err := repo.ClaimNextRunnable(ctx, nil, testMaxAttempts, testStaleRunning)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if claimed != nil {
		t.Fatalf("settled batches must not be claimed, got %s", claimed.ID)
	}
}
