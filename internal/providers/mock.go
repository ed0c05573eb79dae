package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/reelkit/reelkit-backend/internal/types"
)

// Mock providers produce deterministic output with fixed pricing. They back
// local development and are the default in tests.

const mockProviderName = "mock"

const (
	mockScriptCostMicros  = 1200
	mockAvatarCostMicros  = 900000
	mockComposeCostMicros = 160000
)

type MockScriptProvider struct {
	// FailWith, when set, is returned by every call. Tests use it to simulate
	// provider faults.
	FailWith error

	mu    sync.Mutex
	seq   int
	Calls int
}

func NewMockScriptProvider() *MockScriptProvider { return &MockScriptProvider{} }

func (m *MockScriptProvider) Name() string { return mockProviderName }

func (m *MockScriptProvider) GenerateScripts(ctx context.Context, brief *types.Brief, count int) ([]Script, Usage, error) {
	if err := ctx.Err(); err != nil {
		return nil, Usage{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.FailWith != nil {
		return nil, Usage{}, m.FailWith
	}
	if brief == nil || strings.TrimSpace(brief.Text) == "" {
		return nil, Usage{}, NewError(mockProviderName, "generate_scripts", KindMalformedInput, fmt.Errorf("brief text required"))
	}
	if count < 1 {
		return nil, Usage{}, NewError(mockProviderName, "generate_scripts", KindMalformedInput, fmt.Errorf("count must be >= 1, got %d", count))
	}

	scripts := make([]Script, count)
	for i := range scripts {
		m.seq++
		scripts[i] = Script{
			Title:        fmt.Sprintf("Variant %d", m.seq),
			Hook:         fmt.Sprintf("Hook %d for: %s", m.seq, firstLine(brief.Text)),
			Body:         "Here is why this matters to you.",
			CallToAction: "Tap the link to get started.",
			DurationSec:  30,
		}
	}
	usage := Usage{
		Provider:    mockProviderName,
		Operation:   "generate_scripts",
		Category:    types.CategoryScript,
		InputUnits:  int64(len(brief.Text)),
		OutputUnits: int64(count),
		UnitType:    "scripts",
		CostMicros:  int64(count) * mockScriptCostMicros,
	}
	return scripts, usage, nil
}

func (m *MockScriptProvider) ParseBrief(ctx context.Context, text string) (*types.BriefInterpretation, Usage, error) {
	if err := ctx.Err(); err != nil {
		return nil, Usage{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.FailWith != nil {
		return nil, Usage{}, m.FailWith
	}
	if strings.TrimSpace(text) == "" {
		return nil, Usage{}, NewError(mockProviderName, "parse_brief", KindMalformedInput, fmt.Errorf("brief text required"))
	}
	usage := Usage{
		Provider:    mockProviderName,
		Operation:   "parse_brief",
		Category:    types.CategoryScript,
		InputUnits:  int64(len(text)),
		OutputUnits: 1,
		UnitType:    "briefs",
		CostMicros:  mockScriptCostMicros,
	}
	return &types.BriefInterpretation{
		Persona:        "busy professional",
		Hook:           firstLine(text),
		EmotionalAngle: "relief",
		SceneTags:      []string{"product", "lifestyle"},
	}, usage, nil
}

type MockAvatarProvider struct {
	FailWith error
	// FailTimes bounds FailWith to the first N calls; zero means every call.
	FailTimes int
	// FailFor makes only calls whose script title matches fail; sibling items
	// keep succeeding, which is what the partial-failure tests exercise.
	FailFor map[string]error

	mu    sync.Mutex
	Calls int
}

func NewMockAvatarProvider() *MockAvatarProvider { return &MockAvatarProvider{} }

func (m *MockAvatarProvider) Name() string { return mockProviderName }

func (m *MockAvatarProvider) GenerateAvatar(ctx context.Context, script Script) (*AvatarClip, Usage, error) {
	if err := ctx.Err(); err != nil {
		return nil, Usage{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.FailWith != nil && (m.FailTimes == 0 || m.Calls <= m.FailTimes) {
		return nil, Usage{}, m.FailWith
	}
	if err, ok := m.FailFor[script.Title]; ok {
		return nil, Usage{}, err
	}
	if strings.TrimSpace(script.Hook+script.Body) == "" {
		return nil, Usage{}, NewError(mockProviderName, "generate_avatar", KindMalformedInput, fmt.Errorf("script text required"))
	}
	usage := Usage{
		Provider:    mockProviderName,
		Operation:   "generate_avatar",
		Category:    types.CategoryAvatar,
		InputUnits:  int64(len(script.Body)),
		OutputUnits: int64(script.DurationSec),
		UnitType:    "render_seconds",
		CostMicros:  mockAvatarCostMicros,
	}
	return &AvatarClip{
		ClipID:      fmt.Sprintf("mock-clip-%d", m.Calls),
		URL:         fmt.Sprintf("https://mock.invalid/avatar/%d.mp4", m.Calls),
		DurationSec: float64(script.DurationSec),
	}, usage, nil
}

type MockComposer struct {
	FailWith error

	mu    sync.Mutex
	Calls int
}

func NewMockComposer() *MockComposer { return &MockComposer{} }

func (m *MockComposer) Name() string { return mockProviderName }

func (m *MockComposer) Compose(ctx context.Context, avatar *AvatarClip, supporting []Clip) (*ComposedMedia, Usage, error) {
	if err := ctx.Err(); err != nil {
		return nil, Usage{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.FailWith != nil {
		return nil, Usage{}, m.FailWith
	}
	if avatar == nil || avatar.URL == "" {
		return nil, Usage{}, NewError(mockProviderName, "compose", KindMalformedInput, fmt.Errorf("avatar clip required"))
	}
	usage := Usage{
		Provider:    mockProviderName,
		Operation:   "compose",
		Category:    types.CategoryComposition,
		InputUnits:  int64(1 + len(supporting)),
		OutputUnits: int64(avatar.DurationSec + 0.5),
		UnitType:    "render_seconds",
		CostMicros:  mockComposeCostMicros,
	}
	return &ComposedMedia{
		URL:         fmt.Sprintf("https://mock.invalid/composed/%d.mp4", m.Calls),
		DurationSec: avatar.DurationSec,
	}, usage, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}
