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

const openAIProviderName = "openai"

// Micro-USD per 1K tokens. Overridable so pricing changes don't need a deploy.
const (
	defaultInputCostMicrosPer1K  = 2500
	defaultOutputCostMicrosPer1K = 10000
)

type openAIScriptProvider struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client

	inCostMicrosPer1K  int64
	outCostMicrosPer1K int64
}

func NewOpenAIScriptProvider(log *logger.Logger) (*openAIScriptProvider, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o"
	}

	timeoutSec := 120
	if v := os.Getenv("OPENAI_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	in := int64(defaultInputCostMicrosPer1K)
	if v := os.Getenv("OPENAI_INPUT_COST_MICROS_PER_1K"); v != "" {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && parsed >= 0 {
			in = parsed
		}
	}
	out := int64(defaultOutputCostMicrosPer1K)
	if v := os.Getenv("OPENAI_OUTPUT_COST_MICROS_PER_1K"); v != "" {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && parsed >= 0 {
			out = parsed
		}
	}

	return &openAIScriptProvider{
		log:                log.With("provider", openAIProviderName),
		baseURL:            baseURL,
		apiKey:             apiKey,
		model:              model,
		httpClient:         &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		inCostMicrosPer1K:  in,
		outCostMicrosPer1K: out,
	}, nil
}

func (p *openAIScriptProvider) Name() string { return openAIProviderName }

type openAIResponsesRequest struct {
	Model string `json:"model"`
	Input []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"input"`
	Text struct {
		Format map[string]any `json:"format"`
	} `json:"text"`
	Temperature float64 `json:"temperature,omitempty"`
}

type openAIResponsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
	Usage   struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// generateJSON performs one Responses API call with a strict JSON schema.
// Single-shot on purpose: the stage driver's retry policy owns retries.
func (p *openAIScriptProvider) generateJSON(ctx context.Context, operation, system, user, schemaName string, schema map[string]any) (map[string]any, Usage, error) {
	req := openAIResponsesRequest{
		Model: p.model,
		Input: []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.7,
	}
	req.Text.Format = map[string]any{
		"type":   "json_schema",
		"name":   schemaName,
		"schema": schema,
		"strict": true,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return nil, Usage{}, NewError(openAIProviderName, operation, KindMalformedInput, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/responses", &buf)
	if err != nil {
		return nil, Usage{}, NewError(openAIProviderName, operation, KindMalformedInput, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, Usage{}, NewError(openAIProviderName, operation, KindTransient, err)
	}
	raw, readErr := io.ReadAll(httpResp.Body)
	_ = httpResp.Body.Close()
	if readErr != nil {
		return nil, Usage{}, NewError(openAIProviderName, operation, KindTransient, readErr)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		pErr := &Error{
			Provider:  openAIProviderName,
			Operation: operation,
			Kind:      kindForHTTPStatus(httpResp.StatusCode),
			Message:   fmt.Sprintf("http %d: %s", httpResp.StatusCode, truncate(string(raw), 512)),
		}
		if ra := strings.TrimSpace(httpResp.Header.Get("Retry-After")); ra != "" {
			if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
				pErr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, Usage{}, pErr
	}

	var resp openAIResponsesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, Usage{}, NewError(openAIProviderName, operation, KindTransient, fmt.Errorf("decode response: %w", err))
	}

	usage := Usage{
		Provider:    openAIProviderName,
		Operation:   operation,
		Category:    types.CategoryScript,
		InputUnits:  resp.Usage.InputTokens,
		OutputUnits: resp.Usage.OutputTokens,
		UnitType:    "tokens",
		CostMicros:  resp.Usage.InputTokens*p.inCostMicrosPer1K/1000 + resp.Usage.OutputTokens*p.outCostMicrosPer1K/1000,
	}

	if resp.Refusal != "" {
		// Billed work, but the output is unusable and retrying won't change it.
		return nil, usage, &Error{
			Provider:  openAIProviderName,
			Operation: operation,
			Kind:      KindContentPolicy,
			Message:   resp.Refusal,
		}
	}

	var jsonText string
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					jsonText += c.Text
				}
			}
		}
	}
	if jsonText == "" {
		return nil, usage, NewError(openAIProviderName, operation, KindTransient, fmt.Errorf("no output_text in response"))
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(jsonText), &obj); err != nil {
		return nil, usage, NewError(openAIProviderName, operation, KindTransient, fmt.Errorf("parse model JSON: %w", err))
	}
	return obj, usage, nil
}

var scriptsSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"scripts"},
	"properties": map[string]any{
		"scripts": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"title", "hook", "body", "call_to_action", "duration_sec"},
				"properties": map[string]any{
					"title":          map[string]any{"type": "string"},
					"hook":           map[string]any{"type": "string"},
					"body":           map[string]any{"type": "string"},
					"call_to_action": map[string]any{"type": "string"},
					"duration_sec":   map[string]any{"type": "integer"},
				},
			},
		},
	},
}

func (p *openAIScriptProvider) GenerateScripts(ctx context.Context, brief *types.Brief, count int) ([]Script, Usage, error) {
	const op = "generate_scripts"
	if brief == nil || strings.TrimSpace(brief.Text) == "" {
		return nil, Usage{}, NewError(openAIProviderName, op, KindMalformedInput, fmt.Errorf("brief text required"))
	}
	if count < 1 {
		return nil, Usage{}, NewError(openAIProviderName, op, KindMalformedInput, fmt.Errorf("count must be >= 1, got %d", count))
	}

	system := "You write spoken scripts for short-form video ads. " +
		"Each script is 20-40 seconds when read aloud, opens with the hook, and ends with the call to action."
	user := fmt.Sprintf("Brief:\n%s\n", brief.Text)
	if len(brief.Interpretation) > 0 {
		user += fmt.Sprintf("\nStructured interpretation:\n%s\n", string(brief.Interpretation))
	}
	user += fmt.Sprintf("\nWrite exactly %d distinct script(s).", count)

	obj, usage, err := p.generateJSON(ctx, op, system, user, "ad_scripts", scriptsSchema)
	if err != nil {
		return nil, usage, err
	}

	rawScripts, _ := json.Marshal(obj["scripts"])
	var scripts []Script
	if err := json.Unmarshal(rawScripts, &scripts); err != nil {
		return nil, usage, NewError(openAIProviderName, op, KindTransient, fmt.Errorf("decode scripts: %w", err))
	}
	if len(scripts) < count {
		return nil, usage, NewError(openAIProviderName, op, KindTransient, fmt.Errorf("asked for %d scripts, got %d", count, len(scripts)))
	}
	return scripts[:count], usage, nil
}

var interpretationSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"persona", "hook", "emotional_angle", "scene_tags"},
	"properties": map[string]any{
		"persona":         map[string]any{"type": "string"},
		"hook":            map[string]any{"type": "string"},
		"emotional_angle": map[string]any{"type": "string"},
		"scene_tags": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
}

// ParseBrief turns raw brief text into the structured interpretation StartBatch
// requires. Re-parsing replaces any previous interpretation.
func (p *openAIScriptProvider) ParseBrief(ctx context.Context, text string) (*types.BriefInterpretation, Usage, error) {
	const op = "parse_brief"
	if strings.TrimSpace(text) == "" {
		return nil, Usage{}, NewError(openAIProviderName, op, KindMalformedInput, fmt.Errorf("brief text required"))
	}

	system := "Extract the target persona, the strongest hook, the emotional angle, and scene tags from an ad brief."
	obj, usage, err := p.generateJSON(ctx, op, system, text, "brief_interpretation", interpretationSchema)
	if err != nil {
		return nil, usage, err
	}

	raw, _ := json.Marshal(obj)
	var interp types.BriefInterpretation
	if err := json.Unmarshal(raw, &interp); err != nil {
		return nil, usage, NewError(openAIProviderName, op, KindTransient, fmt.Errorf("decode interpretation: %w", err))
	}
	return &interp, usage, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
