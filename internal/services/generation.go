package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/reelkit/reelkit-backend/internal/apierr"
	"github.com/reelkit/reelkit-backend/internal/logger"
	"github.com/reelkit/reelkit-backend/internal/providers"
	"github.com/reelkit/reelkit-backend/internal/repos"
	"github.com/reelkit/reelkit-backend/internal/retry"
	"github.com/reelkit/reelkit-backend/internal/types"
	"github.com/reelkit/reelkit-backend/internal/utils"
)

const storageProviderName = "gcs"

// BatchProgress counts items per coarse state.
type BatchProgress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	InFlight  int `json:"in_flight"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// ItemDetail is one item plus its cost total from the ledger.
type ItemDetail struct {
	Item       *types.VideoItem `json:"item"`
	CostMicros int64            `json:"cost_micros"`
}

// BatchDetail is the read model for one batch: derived status, the lowest
// stage still in flight, per-item breakdown, progress counts, and cost totals.
type BatchDetail struct {
	Batch           *types.GenerationBatch `json:"batch"`
	Status          types.BatchStatus      `json:"status"`
	CurrentStage    types.ItemStatus       `json:"current_stage,omitempty"`
	Items           []*ItemDetail          `json:"items"`
	Progress        BatchProgress          `json:"progress"`
	TotalCostMicros int64                  `json:"total_cost_micros"`
}

type GenerationService interface {
	StartBatch(ctx context.Context, briefID uuid.UUID, targetCount int) (*types.GenerationBatch, error)
	GetBatch(ctx context.Context, batchID uuid.UUID) (*BatchDetail, error)
	CancelBatch(ctx context.Context, batchID uuid.UUID) error

	// RetryFailed spins up a new batch covering the failed items of a finished
	// batch. The new batch points at the old one through ParentBatchID and
	// regenerates from scratch; completed items of the old batch are untouched.
	RetryFailed(ctx context.Context, batchID uuid.UUID) (*types.GenerationBatch, error)

	// CreateIteration starts a new batch seeded from an approved winner item.
	// The variation intent is appended to a copy of the original brief so
	// lineage stays queryable from batch to source item to original brief.
	CreateIteration(ctx context.Context, itemID uuid.UUID, targetCount int, variationIntent string) (*types.GenerationBatch, error)

	ReviewItem(ctx context.Context, itemID uuid.UUID, state types.ReviewState) (*types.VideoItem, error)

	// StartWorker launches the claim loop. It returns immediately; the loop
	// stops when ctx is cancelled.
	StartWorker(ctx context.Context)
}

type generationService struct {
	db        *gorm.DB
	log       *logger.Logger
	briefRepo repos.BriefRepo
	batchRepo repos.GenerationBatchRepo
	itemRepo  repos.VideoItemRepo
	ledger    CostLedgerService
	gateway   *providers.Gateway
	bucket    BucketService

	policy            retry.Policy
	fanOut            int
	claimInterval     time.Duration
	heartbeatInterval time.Duration
	staleRunning      time.Duration
	maxBatchAttempts  int

	storageCostMicrosPerGiB int64
}

func NewGenerationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	briefRepo repos.BriefRepo,
	batchRepo repos.GenerationBatchRepo,
	itemRepo repos.VideoItemRepo,
	ledger CostLedgerService,
	gateway *providers.Gateway,
	bucket BucketService,
) GenerationService {
	log := baseLog.With("service", "GenerationService")
	return &generationService{
		db:        db,
		log:       log,
		briefRepo: briefRepo,
		batchRepo: batchRepo,
		itemRepo:  itemRepo,
		ledger:    ledger,
		gateway:   gateway,
		bucket:    bucket,

		policy:            retry.Default(),
		fanOut:            utils.GetEnvAsInt("GENERATION_FANOUT_LIMIT", 4, log),
		claimInterval:     time.Duration(utils.GetEnvAsInt("GENERATION_CLAIM_INTERVAL_SECONDS", 5, log)) * time.Second,
		heartbeatInterval: time.Duration(utils.GetEnvAsInt("GENERATION_HEARTBEAT_SECONDS", 30, log)) * time.Second,
		staleRunning:      time.Duration(utils.GetEnvAsInt("GENERATION_STALE_RUNNING_SECONDS", 300, log)) * time.Second,
		maxBatchAttempts:  utils.GetEnvAsInt("GENERATION_MAX_BATCH_ATTEMPTS", 3, log),

		storageCostMicrosPerGiB: int64(utils.GetEnvAsInt("STORAGE_COST_MICROS_PER_GIB", 26000, log)),
	}
}

func (gs *generationService) StartBatch(ctx context.Context, briefID uuid.UUID, targetCount int) (*types.GenerationBatch, error) {
	if targetCount < types.MinTargetCount || targetCount > types.MaxTargetCount {
		return nil, apierr.New(http.StatusBadRequest, apierr.CodeValidationError,
			fmt.Errorf("target_count must be between %d and %d, got %d", types.MinTargetCount, types.MaxTargetCount, targetCount))
	}

	briefs, err := gs.briefRepo.GetByIDs(ctx, nil, []uuid.UUID{briefID})
	if err != nil {
		return nil, fmt.Errorf("failed to get brief: %w", err)
	}
	if len(briefs) == 0 {
		return nil, apierr.New(http.StatusNotFound, apierr.CodeNotFound, fmt.Errorf("brief %s not found", briefID))
	}
	if !briefs[0].Parsed() {
		return nil, apierr.New(http.StatusBadRequest, apierr.CodeValidationError,
			fmt.Errorf("brief %s has not been parsed", briefID))
	}

	batch, err := gs.createBatch(ctx, briefID, nil, nil, targetCount)
	if err != nil {
		return nil, err
	}
	gs.log.Info("Batch started", "batch_id", batch.ID, "brief_id", briefID, "target_count", targetCount)
	return batch, nil
}

// createBatch inserts the batch row and its pending items in one transaction
// so a claimed batch always sees its full item set.
func (gs *generationService) createBatch(
	ctx context.Context,
	briefID uuid.UUID,
	parentBatchID *uuid.UUID,
	sourceItemID *uuid.UUID,
	targetCount int,
) (*types.GenerationBatch, error) {
	batch := &types.GenerationBatch{
		ID:            uuid.New(),
		BriefID:       briefID,
		ParentBatchID: parentBatchID,
		SourceItemID:  sourceItemID,
		TargetCount:   targetCount,
	}
	err := gs.db.Transaction(func(tx *gorm.DB) error {
		if _, err := gs.batchRepo.Create(ctx, tx, []*types.GenerationBatch{batch}); err != nil {
			return fmt.Errorf("failed to create batch: %w", err)
		}
		items := make([]*types.VideoItem, targetCount)
		for i := range items {
			items[i] = &types.VideoItem{
				ID:          uuid.New(),
				BatchID:     batch.ID,
				Status:      types.ItemStatusPending,
				ReviewState: types.ReviewStatePending,
			}
		}
		if _, err := gs.itemRepo.Create(ctx, tx, items); err != nil {
			return fmt.Errorf("failed to create items: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (gs *generationService) GetBatch(ctx context.Context, batchID uuid.UUID) (*BatchDetail, error) {
	batches, err := gs.batchRepo.GetByIDs(ctx, nil, []uuid.UUID{batchID})
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	if len(batches) == 0 {
		return nil, apierr.New(http.StatusNotFound, apierr.CodeNotFound, fmt.Errorf("batch %s not found", batchID))
	}
	batch := batches[0]

	items, err := gs.itemRepo.GetByBatchID(ctx, nil, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch items: %w", err)
	}

	detail := &BatchDetail{
		Batch:  batch,
		Status: types.DeriveBatchStatus(batch, items),
		Items:  make([]*ItemDetail, 0, len(items)),
	}
	if stage, ok := types.LowestActiveStage(items); ok {
		detail.CurrentStage = stage
	}
	detail.Progress.Total = len(items)
	for _, item := range items {
		cost, err := gs.ledger.TotalForItem(ctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to sum item cost: %w", err)
		}
		detail.Items = append(detail.Items, &ItemDetail{Item: item, CostMicros: cost})
		switch {
		case item.Status == types.ItemStatusPending:
			detail.Progress.Pending++
		case item.Status == types.ItemStatusCompleted:
			detail.Progress.Completed++
		case item.Status == types.ItemStatusFailed:
			detail.Progress.Failed++
		default:
			detail.Progress.InFlight++
		}
	}

	total, err := gs.ledger.TotalForBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum batch cost: %w", err)
	}
	detail.TotalCostMicros = total
	return detail, nil
}

func (gs *generationService) CancelBatch(ctx context.Context, batchID uuid.UUID) error {
	batches, err := gs.batchRepo.GetByIDs(ctx, nil, []uuid.UUID{batchID})
	if err != nil {
		return fmt.Errorf("failed to get batch: %w", err)
	}
	if len(batches) == 0 {
		return apierr.New(http.StatusNotFound, apierr.CodeNotFound, fmt.Errorf("batch %s not found", batchID))
	}
	batch := batches[0]
	if batch.CancelledAt != nil {
		return nil
	}
	if batch.CompletedAt != nil {
		return apierr.New(http.StatusConflict, apierr.CodeValidationError,
			fmt.Errorf("batch %s already completed", batchID))
	}

	err = gs.db.Transaction(func(tx *gorm.DB) error {
		if err := gs.batchRepo.UpdateFields(ctx, tx, batchID, map[string]interface{}{
			"cancelled_at": time.Now(),
		}); err != nil {
			return err
		}
		return gs.itemRepo.FailNonTerminalByBatchID(ctx, tx, batchID, "cancelled")
	})
	if err != nil {
		return fmt.Errorf("failed to cancel batch: %w", err)
	}
	gs.log.Info("Batch cancelled", "batch_id", batchID)
	return nil
}

func (gs *generationService) RetryFailed(ctx context.Context, batchID uuid.UUID) (*types.GenerationBatch, error) {
	batches, err := gs.batchRepo.GetByIDs(ctx, nil, []uuid.UUID{batchID})
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	if len(batches) == 0 {
		return nil, apierr.New(http.StatusNotFound, apierr.CodeNotFound, fmt.Errorf("batch %s not found", batchID))
	}
	batch := batches[0]

	items, err := gs.itemRepo.GetByBatchID(ctx, nil, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch items: %w", err)
	}

	status := types.DeriveBatchStatus(batch, items)
	if status == types.BatchStatusPending || status == types.BatchStatusRunning {
		return nil, apierr.New(http.StatusConflict, apierr.CodeValidationError,
			fmt.Errorf("batch %s is still in progress", batchID))
	}

	failedCount := 0
	for _, item := range items {
		if item.Status == types.ItemStatusFailed {
			failedCount++
		}
	}
	if failedCount == 0 {
		return nil, apierr.New(http.StatusBadRequest, apierr.CodeValidationError,
			fmt.Errorf("batch %s has no failed items", batchID))
	}

	retryBatch, err := gs.createBatch(ctx, batch.BriefID, &batch.ID, nil, failedCount)
	if err != nil {
		return nil, err
	}
	gs.log.Info("Retry batch created",
		"batch_id", retryBatch.ID,
		"parent_batch_id", batch.ID,
		"target_count", failedCount,
	)
	return retryBatch, nil
}

func (gs *generationService) CreateIteration(ctx context.Context, itemID uuid.UUID, targetCount int, variationIntent string) (*types.GenerationBatch, error) {
	if targetCount < types.MinTargetCount || targetCount > types.MaxTargetCount {
		return nil, apierr.New(http.StatusBadRequest, apierr.CodeValidationError,
			fmt.Errorf("target_count must be between %d and %d, got %d", types.MinTargetCount, types.MaxTargetCount, targetCount))
	}

	items, err := gs.itemRepo.GetByIDs(ctx, nil, []uuid.UUID{itemID})
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if len(items) == 0 {
		return nil, apierr.New(http.StatusNotFound, apierr.CodeNotFound, fmt.Errorf("item %s not found", itemID))
	}
	item := items[0]
	if item.Status != types.ItemStatusCompleted {
		return nil, apierr.New(http.StatusBadRequest, apierr.CodeValidationError,
			fmt.Errorf("item %s is not completed", itemID))
	}
	if item.ReviewState != types.ReviewStateApproved {
		return nil, apierr.New(http.StatusBadRequest, apierr.CodeValidationError,
			fmt.Errorf("item %s is not approved", itemID))
	}

	parents, err := gs.batchRepo.GetByIDs(ctx, nil, []uuid.UUID{item.BatchID})
	if err != nil || len(parents) == 0 {
		return nil, fmt.Errorf("failed to get parent batch: %w", err)
	}
	origBriefs, err := gs.briefRepo.GetByIDs(ctx, nil, []uuid.UUID{parents[0].BriefID})
	if err != nil || len(origBriefs) == 0 {
		return nil, fmt.Errorf("failed to get original brief: %w", err)
	}
	orig := origBriefs[0]

	text := orig.Text
	if strings.TrimSpace(variationIntent) != "" {
		text = text + "\n\nVariation intent: " + strings.TrimSpace(variationIntent)
	}
	now := time.Now()
	iterBrief := &types.Brief{
		ID:             uuid.New(),
		Text:           text,
		Interpretation: orig.Interpretation,
		ParsedAt:       &now,
	}

	batch := &types.GenerationBatch{
		ID:            uuid.New(),
		BriefID:       iterBrief.ID,
		ParentBatchID: &item.BatchID,
		SourceItemID:  &item.ID,
		TargetCount:   targetCount,
	}
	err = gs.db.Transaction(func(tx *gorm.DB) error {
		if _, err := gs.briefRepo.Create(ctx, tx, []*types.Brief{iterBrief}); err != nil {
			return fmt.Errorf("failed to create iteration brief: %w", err)
		}
		if _, err := gs.batchRepo.Create(ctx, tx, []*types.GenerationBatch{batch}); err != nil {
			return fmt.Errorf("failed to create iteration batch: %w", err)
		}
		newItems := make([]*types.VideoItem, targetCount)
		for i := range newItems {
			newItems[i] = &types.VideoItem{
				ID:          uuid.New(),
				BatchID:     batch.ID,
				Status:      types.ItemStatusPending,
				ReviewState: types.ReviewStatePending,
			}
		}
		_, err := gs.itemRepo.Create(ctx, tx, newItems)
		return err
	})
	if err != nil {
		return nil, err
	}

	gs.log.Info("Iteration batch created",
		"batch_id", batch.ID,
		"source_item_id", item.ID,
		"parent_batch_id", item.BatchID,
		"target_count", targetCount,
	)
	return batch, nil
}

func (gs *generationService) ReviewItem(ctx context.Context, itemID uuid.UUID, state types.ReviewState) (*types.VideoItem, error) {
	switch state {
	case types.ReviewStatePending, types.ReviewStateApproved, types.ReviewStateFlagged:
	default:
		return nil, apierr.New(http.StatusBadRequest, apierr.CodeValidationError,
			fmt.Errorf("unknown review state %q", state))
	}

	items, err := gs.itemRepo.GetByIDs(ctx, nil, []uuid.UUID{itemID})
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if len(items) == 0 {
		return nil, apierr.New(http.StatusNotFound, apierr.CodeNotFound, fmt.Errorf("item %s not found", itemID))
	}
	item := items[0]
	if item.Status != types.ItemStatusCompleted {
		return nil, apierr.New(http.StatusBadRequest, apierr.CodeValidationError,
			fmt.Errorf("item %s is not completed", itemID))
	}

	if err := gs.itemRepo.UpdateFields(ctx, nil, itemID, map[string]interface{}{
		"review_state": state,
	}); err != nil {
		return nil, fmt.Errorf("failed to update review state: %w", err)
	}
	item.ReviewState = state
	return item, nil
}

func (gs *generationService) StartWorker(ctx context.Context) {
	log := gs.log.With("component", "GenerationWorker")
	go func() {
		log.Info("Generation worker started",
			"claim_interval", gs.claimInterval,
			"fan_out", gs.fanOut,
			"max_batch_attempts", gs.maxBatchAttempts,
		)
		ticker := time.NewTicker(gs.claimInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info("Generation worker stopped")
				return
			case <-ticker.C:
				for {
					if ctx.Err() != nil {
						return
					}
					batch, err := gs.batchRepo.ClaimNextRunnable(ctx, nil, gs.maxBatchAttempts, gs.staleRunning)
					if err != nil {
						log.Error("Failed to claim batch", "error", err)
						break
					}
					if batch == nil {
						break
					}
					if err := gs.processBatch(ctx, batch); err != nil {
						log.Error("Batch processing failed", "batch_id", batch.ID, "error", err)
					}
				}
			}
		}
	}()
}

// processBatch drives one claimed batch to a settled state: every item either
// completed or failed. Item failures are isolated; a batch-level error is
// recorded only when nothing could run at all.
func (gs *generationService) processBatch(ctx context.Context, batch *types.GenerationBatch) error {
	log := gs.log.With("batch_id", batch.ID)
	log.Info("Processing batch", "attempt", batch.Attempts+1, "target_count", batch.TargetCount)

	briefs, err := gs.briefRepo.GetByIDs(ctx, nil, []uuid.UUID{batch.BriefID})
	if err != nil {
		return fmt.Errorf("failed to load brief: %w", err)
	}
	if len(briefs) == 0 || !briefs[0].Parsed() {
		return gs.failBatch(ctx, batch, "brief missing or unparsed")
	}
	brief := briefs[0]

	items, err := gs.itemRepo.GetByBatchID(ctx, nil, batch.ID)
	if err != nil {
		return fmt.Errorf("failed to load items: %w", err)
	}
	if len(items) == 0 {
		return gs.failBatch(ctx, batch, "batch has no items")
	}

	hbCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()
	go func() {
		t := time.NewTicker(gs.heartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-t.C:
				if err := gs.batchRepo.Heartbeat(hbCtx, nil, batch.ID); err != nil {
					log.Warn("Heartbeat failed", "error", err)
				}
			}
		}
	}()

	g := new(errgroup.Group)
	g.SetLimit(gs.fanOut)
	for _, it := range items {
		if it.Status.Terminal() {
			continue
		}
		item := it
		g.Go(func() error {
			gs.runItem(ctx, batch, brief, item)
			return nil
		})
	}
	_ = g.Wait()
	stopHeartbeat()

	return gs.finishBatch(ctx, batch)
}

// finishBatch settles the batch row after a processing pass. If the pass was
// interrupted (shutdown) the lock is released so another claim can resume.
func (gs *generationService) finishBatch(ctx context.Context, batch *types.GenerationBatch) error {
	items, err := gs.itemRepo.GetByBatchID(ctx, nil, batch.ID)
	if err != nil {
		return fmt.Errorf("failed to reload items: %w", err)
	}
	allTerminal := true
	for _, item := range items {
		if !item.Status.Terminal() {
			allTerminal = false
			break
		}
	}

	fresh, err := gs.batchRepo.GetByIDs(ctx, nil, []uuid.UUID{batch.ID})
	if err != nil || len(fresh) == 0 {
		return fmt.Errorf("failed to reload batch: %w", err)
	}

	updates := map[string]interface{}{"locked_at": nil}
	if allTerminal && fresh[0].CancelledAt == nil && fresh[0].CompletedAt == nil {
		updates["completed_at"] = time.Now()
	}
	if err := gs.batchRepo.UpdateFields(ctx, nil, batch.ID, updates); err != nil {
		return fmt.Errorf("failed to settle batch: %w", err)
	}
	gs.log.Info("Batch settled", "batch_id", batch.ID, "all_terminal", allTerminal)
	return nil
}

func (gs *generationService) failBatch(ctx context.Context, batch *types.GenerationBatch, reason string) error {
	gs.log.Error("Batch failed before items could run", "batch_id", batch.ID, "reason", reason)
	return gs.batchRepo.UpdateFields(ctx, nil, batch.ID, map[string]interface{}{
		"error":     reason,
		"locked_at": nil,
	})
}

// runItem walks one item through the stage order until it reaches a terminal
// status. Each loop iteration handles exactly one stage: provider call wrapped
// in the retry policy, ledger write, output persist, then the guarded status
// advance. Any error fails this item only.
func (gs *generationService) runItem(ctx context.Context, batch *types.GenerationBatch, brief *types.Brief, item *types.VideoItem) {
	log := gs.log.With("batch_id", batch.ID, "item_id", item.ID)

	for !item.Status.Terminal() {
		cancelled, err := gs.batchCancelled(ctx, batch.ID)
		if err != nil {
			log.Error("Cancellation check failed", "error", err)
			gs.failItem(ctx, item, fmt.Sprintf("cancellation check failed: %v", err))
			return
		}
		if cancelled {
			gs.failItem(ctx, item, "cancelled")
			return
		}

		var stageErr error
		switch item.Status {
		case types.ItemStatusPending:
			stageErr = gs.transition(ctx, item, types.ItemStatusQueued, nil)
		case types.ItemStatusQueued:
			stageErr = gs.transition(ctx, item, types.ItemStatusScriptGen, nil)
		case types.ItemStatusScriptGen:
			stageErr = gs.stageScript(ctx, batch, brief, item)
		case types.ItemStatusAvatarGen:
			stageErr = gs.stageAvatar(ctx, batch, item)
		case types.ItemStatusVideoGen:
			// the avatar provider returns a fully rendered clip, so this stage
			// has no provider work; the transition is still recorded
			stageErr = gs.transition(ctx, item, types.ItemStatusCompositing, nil)
		case types.ItemStatusCompositing:
			stageErr = gs.stageCompose(ctx, batch, item)
		case types.ItemStatusUploading:
			stageErr = gs.stageUpload(ctx, batch, item)
		default:
			stageErr = fmt.Errorf("unexpected item status %q", item.Status)
		}

		if stageErr != nil {
			log.Warn("Item failed", "status", item.Status, "error", stageErr)
			gs.failItem(ctx, item, stageErr.Error())
			return
		}
	}
}

// transition performs the guarded forward status write and mirrors it on the
// in-memory item.
func (gs *generationService) transition(ctx context.Context, item *types.VideoItem, to types.ItemStatus, updates map[string]interface{}) error {
	if err := gs.itemRepo.TransitionStatus(ctx, nil, item.ID, item.Status, to, updates); err != nil {
		return fmt.Errorf("transition %s -> %s: %w", item.Status, to, err)
	}
	item.Status = to
	return nil
}

func (gs *generationService) stageScript(ctx context.Context, batch *types.GenerationBatch, brief *types.Brief, item *types.VideoItem) error {
	// output survived a previous attempt, skip the provider call
	if len(item.Script) > 0 {
		return gs.transition(ctx, item, types.ItemStatusAvatarGen, nil)
	}

	var script providers.Script
	err := gs.policy.Do(ctx, func(ctx context.Context) error {
		scripts, usage, callErr := gs.gateway.Script.GenerateScripts(ctx, brief, 1)
		if usage.Billable() {
			if _, lerr := gs.ledger.Record(ctx, nil, &batch.ID, &item.ID, usage); lerr != nil {
				return fmt.Errorf("record script cost: %w", lerr)
			}
		}
		if callErr != nil {
			return callErr
		}
		if len(scripts) == 0 {
			return providers.NewError(gs.gateway.Script.Name(), "generate_scripts",
				providers.KindTransient, fmt.Errorf("provider returned no scripts"))
		}
		script = scripts[0]
		return nil
	})
	if err != nil {
		return fmt.Errorf("script stage: %w", err)
	}

	raw, err := json.Marshal(script)
	if err != nil {
		return fmt.Errorf("script stage: encode script: %w", err)
	}
	if err := gs.transition(ctx, item, types.ItemStatusAvatarGen, map[string]interface{}{
		"script": datatypes.JSON(raw),
	}); err != nil {
		return err
	}
	item.Script = datatypes.JSON(raw)
	return nil
}

func (gs *generationService) stageAvatar(ctx context.Context, batch *types.GenerationBatch, item *types.VideoItem) error {
	if item.AvatarClipURL != "" {
		return gs.transition(ctx, item, types.ItemStatusVideoGen, nil)
	}

	var script providers.Script
	if err := json.Unmarshal(item.Script, &script); err != nil {
		return fmt.Errorf("avatar stage: decode script: %w", err)
	}

	var clip *providers.AvatarClip
	err := gs.policy.Do(ctx, func(ctx context.Context) error {
		out, usage, callErr := gs.gateway.Avatar.GenerateAvatar(ctx, script)
		if usage.Billable() {
			if _, lerr := gs.ledger.Record(ctx, nil, &batch.ID, &item.ID, usage); lerr != nil {
				return fmt.Errorf("record avatar cost: %w", lerr)
			}
		}
		if callErr != nil {
			return callErr
		}
		clip = out
		return nil
	})
	if err != nil {
		return fmt.Errorf("avatar stage: %w", err)
	}

	if err := gs.transition(ctx, item, types.ItemStatusVideoGen, map[string]interface{}{
		"avatar_clip_url": clip.URL,
	}); err != nil {
		return err
	}
	item.AvatarClipURL = clip.URL
	return nil
}

func (gs *generationService) stageCompose(ctx context.Context, batch *types.GenerationBatch, item *types.VideoItem) error {
	if item.ComposedURL != "" {
		return gs.transition(ctx, item, types.ItemStatusUploading, nil)
	}

	var script providers.Script
	if err := json.Unmarshal(item.Script, &script); err != nil {
		return fmt.Errorf("compose stage: decode script: %w", err)
	}
	avatar := &providers.AvatarClip{
		URL:         item.AvatarClipURL,
		DurationSec: float64(script.DurationSec),
	}

	var composed *providers.ComposedMedia
	err := gs.policy.Do(ctx, func(ctx context.Context) error {
		out, usage, callErr := gs.gateway.Composer.Compose(ctx, avatar, nil)
		if usage.Billable() {
			if _, lerr := gs.ledger.Record(ctx, nil, &batch.ID, &item.ID, usage); lerr != nil {
				return fmt.Errorf("record composition cost: %w", lerr)
			}
		}
		if callErr != nil {
			return callErr
		}
		composed = out
		return nil
	})
	if err != nil {
		return fmt.Errorf("compose stage: %w", err)
	}

	if err := gs.transition(ctx, item, types.ItemStatusUploading, map[string]interface{}{
		"composed_url": composed.URL,
	}); err != nil {
		return err
	}
	item.ComposedURL = composed.URL
	return nil
}

// stageUpload copies the composed render into our bucket. Storage faults are
// not retried here; a failed upload fails the item and a batch retry
// regenerates it.
func (gs *generationService) stageUpload(ctx context.Context, batch *types.GenerationBatch, item *types.VideoItem) error {
	if item.VideoURL != "" {
		return gs.transition(ctx, item, types.ItemStatusCompleted, nil)
	}

	key := fmt.Sprintf("videos/%s/%s.mp4", batch.ID, item.ID)
	bytesWritten, err := gs.bucket.UploadFromURL(ctx, key, item.ComposedURL)
	if err != nil {
		return fmt.Errorf("upload stage: %w", err)
	}

	usage := providers.Usage{
		Provider:    storageProviderName,
		Operation:   "upload",
		Category:    types.CategoryStorage,
		InputUnits:  bytesWritten,
		OutputUnits: 1,
		UnitType:    "bytes",
		CostMicros:  bytesWritten * gs.storageCostMicrosPerGiB / (1 << 30),
	}
	if _, err := gs.ledger.Record(ctx, nil, &batch.ID, &item.ID, usage); err != nil {
		return fmt.Errorf("upload stage: record storage cost: %w", err)
	}

	publicURL := gs.bucket.GetPublicURL(key)
	if err := gs.transition(ctx, item, types.ItemStatusCompleted, map[string]interface{}{
		"storage_key": key,
		"video_url":   publicURL,
	}); err != nil {
		return err
	}
	item.StorageKey = key
	item.VideoURL = publicURL
	return nil
}

func (gs *generationService) failItem(ctx context.Context, item *types.VideoItem, msg string) {
	if err := gs.itemRepo.Fail(ctx, nil, item.ID, msg); err != nil {
		gs.log.Error("Failed to mark item failed", "item_id", item.ID, "error", err)
	}
	item.Status = types.ItemStatusFailed
	item.Error = msg
}

func (gs *generationService) batchCancelled(ctx context.Context, batchID uuid.UUID) (bool, error) {
	batches, err := gs.batchRepo.GetByIDs(ctx, nil, []uuid.UUID{batchID})
	if err != nil {
		return false, err
	}
	if len(batches) == 0 {
		return false, fmt.Errorf("batch %s disappeared", batchID)
	}
	return batches[0].CancelledAt != nil, nil
}
