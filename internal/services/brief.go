package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/reelkit/reelkit-backend/internal/apierr"
	"github.com/reelkit/reelkit-backend/internal/logger"
	"github.com/reelkit/reelkit-backend/internal/providers"
	"github.com/reelkit/reelkit-backend/internal/repos"
	"github.com/reelkit/reelkit-backend/internal/retry"
	"github.com/reelkit/reelkit-backend/internal/types"
)

const maxBriefTextLen = 8000

type BriefService interface {
	Create(ctx context.Context, text string) (*types.Brief, error)
	Get(ctx context.Context, id uuid.UUID) (*types.Brief, error)

	// Parse calls the brief parser and stores the structured interpretation on
	// the brief. Re-parsing replaces the previous interpretation wholesale.
	Parse(ctx context.Context, id uuid.UUID) (*types.Brief, error)
}

type briefService struct {
	db        *gorm.DB
	log       *logger.Logger
	briefRepo repos.BriefRepo
	ledger    CostLedgerService
	gateway   *providers.Gateway
	policy    retry.Policy
}

func NewBriefService(
	db *gorm.DB,
	baseLog *logger.Logger,
	briefRepo repos.BriefRepo,
	ledger CostLedgerService,
	gateway *providers.Gateway,
) BriefService {
	return &briefService{
		db:        db,
		log:       baseLog.With("service", "BriefService"),
		briefRepo: briefRepo,
		ledger:    ledger,
		gateway:   gateway,
		policy:    retry.Default(),
	}
}

func (bs *briefService) Create(ctx context.Context, text string) (*types.Brief, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apierr.New(http.StatusBadRequest, apierr.CodeValidationError, fmt.Errorf("brief text is required"))
	}
	if len(text) > maxBriefTextLen {
		return nil, apierr.New(http.StatusBadRequest, apierr.CodeValidationError,
			fmt.Errorf("brief text exceeds %d characters", maxBriefTextLen))
	}

	brief := &types.Brief{ID: uuid.New(), Text: text}
	created, err := bs.briefRepo.Create(ctx, nil, []*types.Brief{brief})
	if err != nil {
		return nil, fmt.Errorf("failed to create brief: %w", err)
	}
	bs.log.Info("Brief created", "brief_id", brief.ID, "text_len", len(text))
	return created[0], nil
}

func (bs *briefService) Get(ctx context.Context, id uuid.UUID) (*types.Brief, error) {
	briefs, err := bs.briefRepo.GetByIDs(ctx, nil, []uuid.UUID{id})
	if err != nil {
		return nil, fmt.Errorf("failed to get brief: %w", err)
	}
	if len(briefs) == 0 {
		return nil, apierr.New(http.StatusNotFound, apierr.CodeNotFound, fmt.Errorf("brief %s not found", id))
	}
	return briefs[0], nil
}

func (bs *briefService) Parse(ctx context.Context, id uuid.UUID) (*types.Brief, error) {
	brief, err := bs.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var interp *types.BriefInterpretation
	callErr := bs.policy.Do(ctx, func(ctx context.Context) error {
		out, usage, err := bs.gateway.Briefs.ParseBrief(ctx, brief.Text)
		if usage.Billable() {
			// parse happens before any batch exists, so the entry carries no
			// batch or item reference
			if _, lerr := bs.ledger.Record(ctx, nil, nil, nil, usage); lerr != nil {
				return fmt.Errorf("record parse cost: %w", lerr)
			}
		}
		if err != nil {
			return err
		}
		interp = out
		return nil
	})
	if callErr != nil {
		return nil, providerToAPIError("parse brief", callErr)
	}

	raw, err := json.Marshal(interp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode interpretation: %w", err)
	}
	now := time.Now()
	if err := bs.briefRepo.UpdateFields(ctx, nil, brief.ID, map[string]interface{}{
		"interpretation": datatypes.JSON(raw),
		"parsed_at":      now,
	}); err != nil {
		return nil, fmt.Errorf("failed to store interpretation: %w", err)
	}

	brief.Interpretation = datatypes.JSON(raw)
	brief.ParsedAt = &now
	bs.log.Info("Brief parsed", "brief_id", brief.ID, "provider", bs.gateway.Briefs.Name())
	return brief, nil
}

// providerToAPIError maps a provider failure onto the request boundary's
// closed error codes.
func providerToAPIError(op string, err error) error {
	var pe *providers.Error
	if errors.As(err, &pe) {
		switch pe.Kind {
		case providers.KindRateLimited:
			return apierr.New(http.StatusTooManyRequests, apierr.CodeRateLimited, fmt.Errorf("%s: %w", op, err))
		case providers.KindMalformedInput, providers.KindContentPolicy:
			return apierr.New(http.StatusUnprocessableEntity, apierr.CodeValidationError, fmt.Errorf("%s: %w", op, err))
		}
	}
	return apierr.New(http.StatusBadGateway, apierr.CodeProviderError, fmt.Errorf("%s: %w", op, err))
}
