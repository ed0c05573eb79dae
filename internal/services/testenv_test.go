package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/reelkit/reelkit-backend/internal/logger"
	"github.com/reelkit/reelkit-backend/internal/providers"
	"github.com/reelkit/reelkit-backend/internal/repos"
	"github.com/reelkit/reelkit-backend/internal/retry"
	"github.com/reelkit/reelkit-backend/internal/types"
)

type testEnv struct {
	db         *gorm.DB
	log        *logger.Logger
	briefRepo  repos.BriefRepo
	batchRepo  repos.GenerationBatchRepo
	itemRepo   repos.VideoItemRepo
	ledgerRepo repos.CostLedgerRepo
	ledger     CostLedgerService

	script   *providers.MockScriptProvider
	avatar   *providers.MockAvatarProvider
	composer *providers.MockComposer
	bucket   *fakeBucket

	briefs BriefService
	gen    *generationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000",
		strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(
		&types.Brief{},
		&types.GenerationBatch{},
		&types.VideoItem{},
		&types.CostLedgerEntry{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	script := providers.NewMockScriptProvider()
	avatar := providers.NewMockAvatarProvider()
	composer := providers.NewMockComposer()
	gateway := &providers.Gateway{Script: script, Avatar: avatar, Composer: composer, Briefs: script}
	bucket := newFakeBucket()

	briefRepo := repos.NewBriefRepo(gdb, log)
	batchRepo := repos.NewGenerationBatchRepo(gdb, log)
	itemRepo := repos.NewVideoItemRepo(gdb, log)
	ledgerRepo := repos.NewCostLedgerRepo(gdb, log)
	ledger := NewCostLedgerService(log, ledgerRepo)

	briefs := NewBriefService(gdb, log, briefRepo, ledger, gateway).(*briefService)
	briefs.policy = fastTestPolicy()

	gen := NewGenerationService(gdb, log, briefRepo, batchRepo, itemRepo, ledger, gateway, bucket).(*generationService)
	gen.policy = fastTestPolicy()
	gen.fanOut = 1

	return &testEnv{
		db:         gdb,
		log:        log,
		briefRepo:  briefRepo,
		batchRepo:  batchRepo,
		itemRepo:   itemRepo,
		ledgerRepo: ledgerRepo,
		ledger:     ledger,
		script:     script,
		avatar:     avatar,
		composer:   composer,
		bucket:     bucket,
		briefs:     briefs,
		gen:        gen,
	}
}

func fastTestPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    2 * time.Millisecond,
	}
}

func (e *testEnv) createParsedBrief(t *testing.T) *types.Brief {
	t.Helper()
	interp, err := json.Marshal(types.BriefInterpretation{
		Persona:        "busy parent",
		Hook:           "mornings are chaos",
		EmotionalAngle: "relief",
		SceneTags:      []string{"kitchen", "product"},
	})
	if err != nil {
		t.Fatalf("encode interpretation: %v", err)
	}
	now := time.Now()
	brief := &types.Brief{
		ID:             uuid.New(),
		Text:           "Sell the 10-second smoothie maker to busy parents",
		Interpretation: interp,
		ParsedAt:       &now,
	}
	if _, err := e.briefRepo.Create(context.Background(), nil, []*types.Brief{brief}); err != nil {
		t.Fatalf("create brief: %v", err)
	}
	return brief
}

func (e *testEnv) reloadItems(t *testing.T, batchID uuid.UUID) []*types.VideoItem {
	t.Helper()
	items, err := e.itemRepo.GetByBatchID(context.Background(), nil, batchID)
	if err != nil {
		t.Fatalf("reload items: %v", err)
	}
	return items
}

func (e *testEnv) reloadBatch(t *testing.T, batchID uuid.UUID) *types.GenerationBatch {
	t.Helper()
	batches, err := e.batchRepo.GetByIDs(context.Background(), nil, []uuid.UUID{batchID})
	if err != nil || len(batches) == 0 {
		t.Fatalf("reload batch: %v", err)
	}
	return batches[0]
}

type fakeBucket struct {
	mu       sync.Mutex
	uploads  map[string]string
	failWith error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{uploads: map[string]string{}}
}

func (f *fakeBucket) Upload(ctx context.Context, key string, r io.Reader) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return 0, f.failWith
	}
	f.uploads[key] = "<stream>"
	return 2048, nil
}

func (f *fakeBucket) UploadFromURL(ctx context.Context, key string, srcURL string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return 0, f.failWith
	}
	f.uploads[key] = srcURL
	return 2048, nil
}

func (f *fakeBucket) GetPublicURL(key string) string {
	return "https://cdn.test/" + key
}
