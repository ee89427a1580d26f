package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emandor/sketchguess/internal/telemetry"
)

const anthropicBaseURL = "https://api.anthropic.com/v1"

type Anthropic struct {
	opts Options
}

func NewAnthropic(o Options) (*Anthropic, error) {
	if err := requireKey(SourceClaude, o); err != nil {
		return nil, err
	}
	if o.Model == "" {
		o.Model = "claude-3-5-sonnet-latest"
	}
	if o.BaseURL == "" {
		o.BaseURL = anthropicBaseURL
	}
	return &Anthropic{opts: o}, nil
}

func (c *Anthropic) Name() SourceName { return SourceClaude }

func (c *Anthropic) Guess(ctx context.Context, img Image) (Guess, error) {
	// DRY_RUN mode: skip API call
	if c.opts.DryRun {
		log := telemetry.L().With().Str("provider", string(c.Name())).Logger()
		log.Info().Msg("anthropic_dry_run_enabled")
		return dryRunGuess(c.Name()), nil
	}
	body := map[string]any{
		"model":      c.opts.Model,
		"max_tokens": 256,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []any{
					map[string]any{
						"type": "image",
						"source": map[string]string{
							"type":       "base64",
							"media_type": img.MIME,
							"data":       img.Base64(),
						},
					},
					map[string]string{"type": "text", "text": c.opts.prompt()},
				},
			},
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return Guess{}, err
	}
	log := telemetry.L().With().Str("provider", string(c.Name())).Int("body_len", len(b)).Logger()

	url := strings.TrimRight(c.opts.BaseURL, "/") + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return Guess{}, err
	}
	req.Header.Set("x-api-key", c.opts.Key)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Content-Type", "application/json")

	t0 := time.Now()
	resp, err := c.opts.httpClient().Do(req)
	if err != nil {
		log.Error().Err(err).Msg("anthropic_request_failed")
		return Guess{}, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().Str("status", resp.Status).Str("body", truncateSingleLine(string(raw), 512)).Msg("anthropic_http_error")
		return Guess{}, errors.New("anthropic http " + resp.Status)
	}
	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Guess{}, errors.New("anthropic: malformed response")
	}

	var text string
	for _, part := range out.Content {
		if part.Type == "" || part.Type == "text" {
			text += part.Text
		}
	}
	if strings.TrimSpace(text) == "" {
		return Guess{}, fmt.Errorf("anthropic: %w", ErrEmptyGuess)
	}

	parsed, err := TryParseGuess(text)
	if err != nil {
		return Guess{}, fmt.Errorf("anthropic: %w", err)
	}
	parsed.Source = c.Name()
	parsed.LatencyMs = int(time.Since(t0) / time.Millisecond)
	return parsed, nil
}
