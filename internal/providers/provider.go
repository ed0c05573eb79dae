package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/reelkit/reelkit-backend/internal/logger"
	"github.com/reelkit/reelkit-backend/internal/types"
	"github.com/reelkit/reelkit-backend/internal/utils"
)

// Script is the output of the script stage: one spoken ad script.
type Script struct {
	Title        string `json:"title"`
	Hook         string `json:"hook"`
	Body         string `json:"body"`
	CallToAction string `json:"call_to_action"`
	DurationSec  int    `json:"duration_sec"`
}

// AvatarClip is a rendered talking-head clip handle returned by the avatar
// provider.
type AvatarClip struct {
	ClipID      string  `json:"clip_id"`
	URL         string  `json:"url"`
	DurationSec float64 `json:"duration_sec"`
}

// Clip is a supporting asset handed to the composer (b-roll, overlays).
type Clip struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

// ComposedMedia is the final cut produced by the composer, still hosted on the
// provider side until the upload stage copies it into our bucket.
type ComposedMedia struct {
	URL         string  `json:"url"`
	DurationSec float64 `json:"duration_sec"`
}

// Usage describes the billable work one provider invocation performed. The
// caller turns it into exactly one cost ledger entry. A zero-provider Usage
// means no provider-side work started and nothing must be recorded.
type Usage struct {
	Provider    string
	Operation   string
	Category    types.ServiceCategory
	InputUnits  int64
	OutputUnits int64
	UnitType    string
	CostMicros  int64
}

func (u Usage) Billable() bool { return u.Provider != "" }

// The three capability interfaces. Implementations never retry and never write
// to the ledger; the stage driver owns both concerns.
type ScriptProvider interface {
	Name() string
	GenerateScripts(ctx context.Context, brief *types.Brief, count int) ([]Script, Usage, error)
}

type AvatarProvider interface {
	Name() string
	GenerateAvatar(ctx context.Context, script Script) (*AvatarClip, Usage, error)
}

type Composer interface {
	Name() string
	Compose(ctx context.Context, avatar *AvatarClip, supporting []Clip) (*ComposedMedia, Usage, error)
}

// BriefParser produces the structured interpretation of a brief. Resolved from
// the same configuration as the script capability since both are prompt work.
type BriefParser interface {
	Name() string
	ParseBrief(ctx context.Context, text string) (*types.BriefInterpretation, Usage, error)
}

// Gateway bundles one resolved implementation per capability. Selection happens
// once at construction from configuration; the driver never branches on
// provider names.
type Gateway struct {
	Script   ScriptProvider
	Avatar   AvatarProvider
	Composer Composer
	Briefs   BriefParser
}

func NewGateway(log *logger.Logger) (*Gateway, error) {
	gwLog := log.With("component", "ProviderGateway")

	scriptName := strings.ToLower(utils.GetEnv("SCRIPT_PROVIDER", "openai", log))
	avatarName := strings.ToLower(utils.GetEnv("AVATAR_PROVIDER", "heygen", log))
	composerName := strings.ToLower(utils.GetEnv("COMPOSER_PROVIDER", "shotstack", log))

	var (
		script ScriptProvider
		avatar AvatarProvider
		comp   Composer
		briefs BriefParser
		err    error
	)

	switch scriptName {
	case "openai":
		oa, oaErr := NewOpenAIScriptProvider(gwLog)
		if oaErr != nil {
			return nil, fmt.Errorf("init openai script provider: %w", oaErr)
		}
		script = oa
		briefs = oa
	case "mock":
		m := NewMockScriptProvider()
		script = m
		briefs = m
	default:
		return nil, fmt.Errorf("unknown SCRIPT_PROVIDER %q", scriptName)
	}

	switch avatarName {
	case "heygen":
		avatar, err = NewHeyGenAvatarProvider(gwLog)
		if err != nil {
			return nil, fmt.Errorf("init heygen avatar provider: %w", err)
		}
	case "mock":
		avatar = NewMockAvatarProvider()
	default:
		return nil, fmt.Errorf("unknown AVATAR_PROVIDER %q", avatarName)
	}

	switch composerName {
	case "shotstack":
		comp, err = NewShotstackComposer(gwLog)
		if err != nil {
			return nil, fmt.Errorf("init shotstack composer: %w", err)
		}
	case "mock":
		comp = NewMockComposer()
	default:
		return nil, fmt.Errorf("unknown COMPOSER_PROVIDER %q", composerName)
	}

	gwLog.Info("Provider gateway resolved",
		"script", script.Name(),
		"avatar", avatar.Name(),
		"composer", comp.Name(),
	)

	return &Gateway{Script: script, Avatar: avatar, Composer: comp, Briefs: briefs}, nil
}
