package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/reelkit/reelkit-backend/internal/apierr"
	"github.com/reelkit/reelkit-backend/internal/providers"
	"github.com/reelkit/reelkit-backend/internal/types"
)

func TestCreateBriefValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.briefs.Create(ctx, "   "); err == nil {
		t.Fatalf("want validation error for blank text")
	} else {
		wantAPIError(t, err, http.StatusBadRequest, apierr.CodeValidationError)
	}
	if _, err := env.briefs.Create(ctx, strings.Repeat("x", maxBriefTextLen+1)); err == nil {
		t.Fatalf("want validation error for oversized text")
	}

	brief, err := env.briefs.Create(ctx, "  Sell the thing  ")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if brief.Text != "Sell the thing" {
		t.Fatalf("text: want trimmed, got %q", brief.Text)
	}
	if brief.Parsed() {
		t.Fatalf("fresh brief must not be parsed")
	}
}

func TestParseBriefStoresInterpretationAndBills(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	brief, err := env.briefs.Create(ctx, "Sell the smoothie maker")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	parsed, err := env.briefs.Parse(ctx, brief.ID)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !parsed.Parsed() {
		t.Fatalf("brief not marked parsed")
	}
	var interp types.BriefInterpretation
	if err := json.Unmarshal(parsed.Interpretation, &interp); err != nil {
		t.Fatalf("decode interpretation: %v", err)
	}
	if interp.Persona == "" || len(interp.SceneTags) == 0 {
		t.Fatalf("interpretation incomplete: %+v", interp)
	}

	// parse bills outside any batch
	var count int64
	if err := env.db.Model(&types.CostLedgerEntry{}).
		Where("batch_id IS NULL AND operation = ?", "parse_brief").
		Count(&count).Error; err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	if count != 1 {
		t.Fatalf("parse ledger entries: want=1 got=%d", count)
	}
}

func TestParseBriefErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.briefs.Parse(ctx, uuid.New()); err == nil {
		t.Fatalf("want not found for unknown brief")
	} else {
		wantAPIError(t, err, http.StatusNotFound, apierr.CodeNotFound)
	}

	brief, err := env.briefs.Create(ctx, "Sell something sketchy")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	env.script.FailWith = providers.NewError("mock", "parse_brief", providers.KindContentPolicy, fmt.Errorf("refused"))
	if _, err := env.briefs.Parse(ctx, brief.ID); err == nil {
		t.Fatalf("want error for content policy refusal")
	} else {
		wantAPIError(t, err, http.StatusUnprocessableEntity, apierr.CodeValidationError)
	}

	env.script.FailWith = providers.NewError("mock", "parse_brief", providers.KindRateLimited, fmt.Errorf("slow down"))
	if _, err := env.briefs.Parse(ctx, brief.ID); err == nil {
		t.Fatalf("want error for rate limit exhaustion")
	} else {
		wantAPIError(t, err, http.StatusTooManyRequests, apierr.CodeRateLimited)
	}
}
