package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/reelkit/reelkit-backend/internal/logger"
	"github.com/reelkit/reelkit-backend/internal/types"
)

const heygenProviderName = "heygen"

const defaultAvatarCostMicrosPerSec = 50000 // $0.05 per rendered second

type heygenAvatarProvider struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	avatarID   string
	voiceID    string
	httpClient *http.Client

	pollInterval     time.Duration
	renderTimeout    time.Duration
	costMicrosPerSec int64
}

func NewHeyGenAvatarProvider(log *logger.Logger) (*heygenAvatarProvider, error) {
	apiKey := os.Getenv("HEYGEN_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("missing HEYGEN_API_KEY")
	}

	baseURL := os.Getenv("HEYGEN_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.heygen.com"
	}

	avatarID := os.Getenv("HEYGEN_AVATAR_ID")
	if avatarID == "" {
		return nil, fmt.Errorf("missing HEYGEN_AVATAR_ID")
	}
	voiceID := os.Getenv("HEYGEN_VOICE_ID")
	if voiceID == "" {
		return nil, fmt.Errorf("missing HEYGEN_VOICE_ID")
	}

	cost := int64(defaultAvatarCostMicrosPerSec)
	if v := os.Getenv("HEYGEN_COST_MICROS_PER_SEC"); v != "" {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && parsed >= 0 {
			cost = parsed
		}
	}

	return &heygenAvatarProvider{
		log:              log.With("provider", heygenProviderName),
		baseURL:          baseURL,
		apiKey:           apiKey,
		avatarID:         avatarID,
		voiceID:          voiceID,
		httpClient:       &http.Client{Timeout: 60 * time.Second},
		pollInterval:     5 * time.Second,
		renderTimeout:    10 * time.Minute,
		costMicrosPerSec: cost,
	}, nil
}

func (p *heygenAvatarProvider) Name() string { return heygenProviderName }

func (p *heygenAvatarProvider) doJSON(ctx context.Context, operation, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return NewError(heygenProviderName, operation, KindMalformedInput, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, &buf)
	if err != nil {
		return NewError(heygenProviderName, operation, KindMalformedInput, err)
	}
	req.Header.Set("X-Api-Key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return NewError(heygenProviderName, operation, KindTransient, err)
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return NewError(heygenProviderName, operation, KindTransient, readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		pErr := &Error{
			Provider:  heygenProviderName,
			Operation: operation,
			Kind:      kindForHTTPStatus(resp.StatusCode),
			Message:   fmt.Sprintf("http %d: %s", resp.StatusCode, truncate(string(raw), 512)),
		}
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
				pErr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return pErr
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return NewError(heygenProviderName, operation, KindTransient, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

type heygenGenerateResponse struct {
	Data struct {
		VideoID string `json:"video_id"`
	} `json:"data"`
}

type heygenStatusResponse struct {
	Data struct {
		Status   string  `json:"status"`
		VideoURL string  `json:"video_url"`
		Duration float64 `json:"duration"`
		Error    *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"data"`
}

// GenerateAvatar submits the script and polls until the clip is rendered.
// The whole submit+poll cycle is one billable invocation: usage is only
// returned once the provider reports a rendered (and therefore charged) clip,
// or a moderation rejection, which HeyGen also bills.
func (p *heygenAvatarProvider) GenerateAvatar(ctx context.Context, script Script) (*AvatarClip, Usage, error) {
	const op = "generate_avatar"

	text := strings.TrimSpace(script.Hook + " " + script.Body + " " + script.CallToAction)
	if text == "" {
		return nil, Usage{}, NewError(heygenProviderName, op, KindMalformedInput, fmt.Errorf("script text required"))
	}

	submitReq := map[string]any{
		"video_inputs": []map[string]any{
			{
				"character": map[string]any{
					"type":      "avatar",
					"avatar_id": p.avatarID,
				},
				"voice": map[string]any{
					"type":       "text",
					"voice_id":   p.voiceID,
					"input_text": text,
				},
			},
		},
		"dimension": map[string]any{"width": 1080, "height": 1920},
	}

	var submitResp heygenGenerateResponse
	if err := p.doJSON(ctx, op, http.MethodPost, "/v2/video/generate", submitReq, &submitResp); err != nil {
		return nil, Usage{}, err
	}
	if submitResp.Data.VideoID == "" {
		return nil, Usage{}, NewError(heygenProviderName, op, KindTransient, fmt.Errorf("no video_id in response"))
	}

	deadline := time.Now().Add(p.renderTimeout)
	for {
		if time.Now().After(deadline) {
			return nil, Usage{}, NewError(heygenProviderName, op, KindTransient,
				fmt.Errorf("render %s did not finish within %s", submitResp.Data.VideoID, p.renderTimeout))
		}

		select {
		case <-ctx.Done():
			return nil, Usage{}, ctx.Err()
		case <-time.After(p.pollInterval):
		}

		var st heygenStatusResponse
		if err := p.doJSON(ctx, op, http.MethodGet, "/v1/video_status.get?video_id="+submitResp.Data.VideoID, nil, &st); err != nil {
			return nil, Usage{}, err
		}

		switch st.Data.Status {
		case "completed":
			seconds := int64(st.Data.Duration + 0.5)
			if seconds < 1 {
				seconds = 1
			}
			usage := Usage{
				Provider:    heygenProviderName,
				Operation:   op,
				Category:    types.CategoryAvatar,
				InputUnits:  int64(len(text)),
				OutputUnits: seconds,
				UnitType:    "render_seconds",
				CostMicros:  seconds * p.costMicrosPerSec,
			}
			return &AvatarClip{
				ClipID:      submitResp.Data.VideoID,
				URL:         st.Data.VideoURL,
				DurationSec: st.Data.Duration,
			}, usage, nil
		case "failed":
			msg := "render failed"
			kind := KindTransient
			if st.Data.Error != nil {
				msg = st.Data.Error.Message
				if st.Data.Error.Code == "moderation_rejected" {
					kind = KindContentPolicy
				}
			}
			return nil, Usage{}, &Error{
				Provider:  heygenProviderName,
				Operation: op,
				Kind:      kind,
				Message:   msg,
			}
		default:
			// pending / processing: keep polling
		}
	}
}
