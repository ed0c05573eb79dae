package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reelkit/reelkit-backend/internal/logger"
	"github.com/reelkit/reelkit-backend/internal/providers"
	"github.com/reelkit/reelkit-backend/internal/repos"
	"github.com/reelkit/reelkit-backend/internal/types"
)

// CostLedgerService turns provider usage into ledger rows and answers cost
// queries. One Record call per provider invocation; totals are computed from
// the rows, never cached.
type CostLedgerService interface {
	Record(ctx context.Context, tx *gorm.DB, batchID *uuid.UUID, itemID *uuid.UUID, usage providers.Usage) (*types.CostLedgerEntry, error)
	EntriesForBatch(ctx context.Context, batchID uuid.UUID) ([]*types.CostLedgerEntry, error)
	TotalForItem(ctx context.Context, itemID uuid.UUID) (int64, error)
	TotalForBatch(ctx context.Context, batchID uuid.UUID) (int64, error)
}

type costLedgerService struct {
	log        *logger.Logger
	ledgerRepo repos.CostLedgerRepo
}

func NewCostLedgerService(baseLog *logger.Logger, ledgerRepo repos.CostLedgerRepo) CostLedgerService {
	return &costLedgerService{
		log:        baseLog.With("service", "CostLedgerService"),
		ledgerRepo: ledgerRepo,
	}
}

func (cs *costLedgerService) Record(ctx context.Context, tx *gorm.DB, batchID *uuid.UUID, itemID *uuid.UUID, usage providers.Usage) (*types.CostLedgerEntry, error) {
	if !usage.Billable() {
		return nil, fmt.Errorf("usage is not billable: no provider recorded")
	}
	if usage.Operation == "" {
		return nil, fmt.Errorf("usage missing operation")
	}
	if usage.CostMicros < 0 {
		return nil, fmt.Errorf("negative cost %d for %s %s", usage.CostMicros, usage.Provider, usage.Operation)
	}

	entry := &types.CostLedgerEntry{
		ID:          uuid.New(),
		VideoItemID: itemID,
		BatchID:     batchID,
		Category:    usage.Category,
		Provider:    usage.Provider,
		Operation:   usage.Operation,
		InputUnits:  usage.InputUnits,
		OutputUnits: usage.OutputUnits,
		UnitType:    usage.UnitType,
		CostMicros:  usage.CostMicros,
	}
	created, err := cs.ledgerRepo.Create(ctx, tx, []*types.CostLedgerEntry{entry})
	if err != nil {
		return nil, fmt.Errorf("failed to record cost ledger entry: %w", err)
	}
	cs.log.Debug("Recorded cost ledger entry",
		"provider", usage.Provider,
		"operation", usage.Operation,
		"cost_micros", usage.CostMicros,
	)
	return created[0], nil
}

func (cs *costLedgerService) EntriesForBatch(ctx context.Context, batchID uuid.UUID) ([]*types.CostLedgerEntry, error) {
	return cs.ledgerRepo.GetByBatchID(ctx, nil, batchID)
}

func (cs *costLedgerService) TotalForItem(ctx context.Context, itemID uuid.UUID) (int64, error) {
	return cs.ledgerRepo.SumByVideoItemID(ctx, nil, itemID)
}

func (cs *costLedgerService) TotalForBatch(ctx context.Context, batchID uuid.UUID) (int64, error) {
	return cs.ledgerRepo.SumByBatchID(ctx, nil, batchID)
}
