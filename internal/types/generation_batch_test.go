package types

import (
	"testing"
	"time"
)

func itemsWith(statuses ...ItemStatus) []*VideoItem {
	items := make([]*VideoItem, len(statuses))
	for i, s := range statuses {
		items[i] = &VideoItem{Status: s}
	}
	return items
}

func TestDeriveBatchStatus(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name  string
		batch *GenerationBatch
		items []*VideoItem
		want  BatchStatus
	}{
		{"nil batch", nil, nil, BatchStatusPending},
		{"batch error wins", &GenerationBatch{Error: "boom"}, itemsWith(ItemStatusCompleted), BatchStatusFailed},
		{"cancelled wins", &GenerationBatch{CancelledAt: &now}, itemsWith(ItemStatusCompleted), BatchStatusCancelled},
		{"no items", &GenerationBatch{}, nil, BatchStatusPending},
		{"nothing started", &GenerationBatch{}, itemsWith(ItemStatusPending, ItemStatusPending), BatchStatusPending},
		{"in flight", &GenerationBatch{}, itemsWith(ItemStatusCompleted, ItemStatusScriptGen), BatchStatusRunning},
		{"all terminal", &GenerationBatch{}, itemsWith(ItemStatusCompleted, ItemStatusFailed), BatchStatusCompleted},
	}
	for _, tc := range cases {
		if got := DeriveBatchStatus(tc.batch, tc.items); got != tc.want {
			t.Fatalf("%s: want=%s got=%s", tc.name, tc.want, got)
		}
	}
}

func TestLowestActiveStage(t *testing.T) {
	// the slowest non-terminal item defines the stage
	stage, ok := LowestActiveStage(itemsWith(ItemStatusCompositing, ItemStatusScriptGen, ItemStatusCompleted))
	if !ok || stage != ItemStatusScriptGen {
		t.Fatalf("stage: want=%s ok=true got=%s ok=%v", ItemStatusScriptGen, stage, ok)
	}

	// failed items never count as active
	stage, ok = LowestActiveStage(itemsWith(ItemStatusFailed, ItemStatusUploading))
	if !ok || stage != ItemStatusUploading {
		t.Fatalf("stage: want=%s ok=true got=%s ok=%v", ItemStatusUploading, stage, ok)
	}

	if _, ok := LowestActiveStage(itemsWith(ItemStatusCompleted, ItemStatusFailed)); ok {
		t.Fatalf("all-terminal batch must report no active stage")
	}
	if _, ok := LowestActiveStage(nil); ok {
		t.Fatalf("empty batch must report no active stage")
	}
}
