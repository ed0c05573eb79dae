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

const shotstackProviderName = "shotstack"

const defaultComposeCostMicrosPerSec = 8000 // $0.008 per output second

type shotstackComposer struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client

	pollInterval     time.Duration
	renderTimeout    time.Duration
	costMicrosPerSec int64
}

func NewShotstackComposer(log *logger.Logger) (*shotstackComposer, error) {
	apiKey := os.Getenv("SHOTSTACK_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("missing SHOTSTACK_API_KEY")
	}

	baseURL := os.Getenv("SHOTSTACK_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.shotstack.io/v1"
	}

	cost := int64(defaultComposeCostMicrosPerSec)
	if v := os.Getenv("SHOTSTACK_COST_MICROS_PER_SEC"); v != "" {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && parsed >= 0 {
			cost = parsed
		}
	}

	return &shotstackComposer{
		log:              log.With("provider", shotstackProviderName),
		baseURL:          baseURL,
		apiKey:           apiKey,
		httpClient:       &http.Client{Timeout: 60 * time.Second},
		pollInterval:     5 * time.Second,
		renderTimeout:    10 * time.Minute,
		costMicrosPerSec: cost,
	}, nil
}

func (c *shotstackComposer) Name() string { return shotstackProviderName }

func (c *shotstackComposer) doJSON(ctx context.Context, operation, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return NewError(shotstackProviderName, operation, KindMalformedInput, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return NewError(shotstackProviderName, operation, KindMalformedInput, err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return NewError(shotstackProviderName, operation, KindTransient, err)
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return NewError(shotstackProviderName, operation, KindTransient, readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		pErr := &Error{
			Provider:  shotstackProviderName,
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
			return NewError(shotstackProviderName, operation, KindTransient, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

type shotstackRenderResponse struct {
	Response struct {
		ID string `json:"id"`
	} `json:"response"`
}

type shotstackStatusResponse struct {
	Response struct {
		Status string  `json:"status"`
		URL    string  `json:"url"`
		Error  string  `json:"error"`
		Data   struct {
			Output struct {
				Duration float64 `json:"duration"`
			} `json:"output"`
		} `json:"data"`
	} `json:"response"`
}

// Compose stitches the avatar clip and supporting clips into the final cut.
// Clips play back to back on one track; the avatar clip leads.
func (c *shotstackComposer) Compose(ctx context.Context, avatar *AvatarClip, supporting []Clip) (*ComposedMedia, Usage, error) {
	const op = "compose"

	if avatar == nil || avatar.URL == "" {
		return nil, Usage{}, NewError(shotstackProviderName, op, KindMalformedInput, fmt.Errorf("avatar clip required"))
	}

	clips := []map[string]any{
		{
			"asset":  map[string]any{"type": "video", "src": avatar.URL},
			"start":  0,
			"length": avatar.DurationSec,
		},
	}
	start := avatar.DurationSec
	for _, s := range supporting {
		if s.URL == "" {
			return nil, Usage{}, NewError(shotstackProviderName, op, KindMalformedInput, fmt.Errorf("supporting clip missing url"))
		}
		const supportingLen = 3.0
		clips = append(clips, map[string]any{
			"asset":  map[string]any{"type": "video", "src": s.URL},
			"start":  start,
			"length": supportingLen,
		})
		start += supportingLen
	}

	renderReq := map[string]any{
		"timeline": map[string]any{
			"tracks": []map[string]any{{"clips": clips}},
		},
		"output": map[string]any{
			"format":      "mp4",
			"resolution":  "1080",
			"aspectRatio": "9:16",
		},
	}

	var submit shotstackRenderResponse
	if err := c.doJSON(ctx, op, http.MethodPost, "/render", renderReq, &submit); err != nil {
		return nil, Usage{}, err
	}
	if submit.Response.ID == "" {
		return nil, Usage{}, NewError(shotstackProviderName, op, KindTransient, fmt.Errorf("no render id in response"))
	}

	deadline := time.Now().Add(c.renderTimeout)
	for {
		if time.Now().After(deadline) {
			return nil, Usage{}, NewError(shotstackProviderName, op, KindTransient,
				fmt.Errorf("render %s did not finish within %s", submit.Response.ID, c.renderTimeout))
		}

		select {
		case <-ctx.Done():
			return nil, Usage{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		var st shotstackStatusResponse
		if err := c.doJSON(ctx, op, http.MethodGet, "/render/"+submit.Response.ID, nil, &st); err != nil {
			return nil, Usage{}, err
		}

		switch st.Response.Status {
		case "done":
			duration := st.Response.Data.Output.Duration
			if duration <= 0 {
				duration = start
			}
			seconds := int64(duration + 0.5)
			if seconds < 1 {
				seconds = 1
			}
			usage := Usage{
				Provider:    shotstackProviderName,
				Operation:   op,
				Category:    types.CategoryComposition,
				InputUnits:  int64(len(clips)),
				OutputUnits: seconds,
				UnitType:    "render_seconds",
				CostMicros:  seconds * c.costMicrosPerSec,
			}
			return &ComposedMedia{URL: st.Response.URL, DurationSec: duration}, usage, nil
		case "failed":
			msg := st.Response.Error
			if msg == "" {
				msg = "render failed"
			}
			return nil, Usage{}, &Error{
				Provider:  shotstackProviderName,
				Operation: op,
				Kind:      KindTransient,
				Message:   msg,
			}
		default:
			// queued / fetching / rendering / saving: keep polling
		}
	}
}
