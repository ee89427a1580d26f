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

const openAIBaseURL = "https://api.openai.com/v1"

type OpenAI struct {
	opts Options
}

func NewOpenAI(o Options) (*OpenAI, error) {
	if err := requireKey(SourceOpenAI, o); err != nil {
		return nil, err
	}
	if o.Model == "" {
		o.Model = "gpt-4o"
	}
	if o.BaseURL == "" {
		o.BaseURL = openAIBaseURL
	}
	return &OpenAI{opts: o}, nil
}

func (c *OpenAI) Name() SourceName { return SourceOpenAI }

func (c *OpenAI) Guess(ctx context.Context, img Image) (Guess, error) {
	// DRY_RUN mode: skip API call
	if c.opts.DryRun {
		log := telemetry.L().With().Str("provider", string(c.Name())).Logger()
		log.Info().Msg("openai_dry_run_enabled")
		return dryRunGuess(c.Name()), nil
	}
	return chatCompletionGuess(ctx, c.Name(), c.opts, img, nil)
}

// chatCompletionGuess serves every backend speaking the OpenAI chat
// completions dialect with image_url content parts.
func chatCompletionGuess(ctx context.Context, name SourceName, o Options, img Image, extra map[string]any) (Guess, error) {
	tag := strings.ToLower(string(name))
	body := map[string]any{
		"model": o.Model,
		"messages": []any{
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]string{"type": "text", "text": o.prompt()},
					map[string]any{"type": "image_url", "image_url": map[string]any{"url": img.DataURL()}},
				},
			},
		},
		"max_tokens": 100,
	}
	for k, v := range extra {
		body[k] = v
	}

	b, err := json.Marshal(body)
	if err != nil {
		return Guess{}, err
	}
	log := telemetry.L().With().Str("provider", string(name)).Int("body_len", len(b)).Logger()

	url := strings.TrimRight(o.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return Guess{}, err
	}
	req.Header.Set("Authorization", "Bearer "+o.Key)
	req.Header.Set("Content-Type", "application/json")

	t0 := time.Now()
	resp, err := o.httpClient().Do(req)
	if err != nil {
		log.Error().Err(err).Msg(tag + "_request_failed")
		return Guess{}, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	log.Debug().Int("status_code", resp.StatusCode).Int("body_len", len(raw)).Msg(tag + "_response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().
			Str("status", resp.Status).
			Str("body", truncateSingleLine(string(raw), 512)).
			Msg(tag + "_http_error")
		return Guess{}, errors.New(tag + " http " + resp.Status)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Guess{}, errors.New(tag + ": malformed response")
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		// no fatal panic; send an error that can be handled by the caller
		return Guess{}, fmt.Errorf("%s: %w", tag, ErrEmptyGuess)
	}

	parsed, err := TryParseGuess(out.Choices[0].Message.Content)
	if err != nil {
		return Guess{}, fmt.Errorf("%s: %w", tag, err)
	}
	parsed.Source = name
	parsed.LatencyMs = int(time.Since(t0) / time.Millisecond)
	return parsed, nil
}
