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

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type Gemini struct {
	opts Options
}

func NewGemini(o Options) (*Gemini, error) {
	if err := requireKey(SourceGemini, o); err != nil {
		return nil, err
	}
	if o.Model == "" {
		o.Model = "gemini-2.0-flash"
	}
	if o.BaseURL == "" {
		o.BaseURL = geminiBaseURL
	}
	return &Gemini{opts: o}, nil
}

func (c *Gemini) Name() SourceName { return SourceGemini }

func (c *Gemini) Guess(ctx context.Context, img Image) (Guess, error) {
	// DRY_RUN mode: skip API call
	if c.opts.DryRun {
		log := telemetry.L().With().Str("provider", string(c.Name())).Logger()
		log.Info().Msg("gemini_dry_run_enabled")
		return dryRunGuess(c.Name()), nil
	}

	body := map[string]any{
		"contents": []any{
			map[string]any{
				"role": "user",
				"parts": []any{
					map[string]string{"text": c.opts.prompt()},
					map[string]any{
						"inline_data": map[string]string{
							"mime_type": img.MIME,
							"data":      img.Base64(),
						},
					},
				},
			},
		},
		"generationConfig": map[string]any{
			"temperature":      0.2,
			"maxOutputTokens":  128,
			"responseMimeType": "application/json",
		},
	}

	b, errBody := json.Marshal(body)
	if errBody != nil {
		return Guess{}, errBody
	}

	log := telemetry.L().With().Str("provider", string(c.Name())).Int("body_len", len(b)).Logger()
	log.Debug().Msg("gemini_request")

	url := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(c.opts.BaseURL, "/"), c.opts.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return Guess{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-goog-api-key", c.opts.Key)

	t0 := time.Now()
	resp, err := c.opts.httpClient().Do(req)
	if err != nil {
		log.Error().Err(err).Msg("gemini_request_failed")
		return Guess{}, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	log.Debug().Int("status_code", resp.StatusCode).Int("body_len", len(raw)).Msg("gemini_response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().Str("status", resp.Status).Str("body", truncateSingleLine(string(raw), 512)).Msg("gemini_http_error")
		return Guess{}, errors.New("gemini http " + resp.Status)
	}

	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		PromptFeedback *struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Guess{}, errors.New("gemini: malformed response")
	}

	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return Guess{}, errors.New("gemini blocked: " + out.PromptFeedback.BlockReason)
	}

	var text string
	if len(out.Candidates) > 0 {
		for _, p := range out.Candidates[0].Content.Parts {
			text += p.Text
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Guess{}, fmt.Errorf("gemini: %w", ErrEmptyGuess)
	}

	parsed, err := TryParseGuess(text)
	if err != nil {
		return Guess{}, fmt.Errorf("gemini: %w", err)
	}
	parsed.Source = c.Name()
	parsed.LatencyMs = int(time.Since(t0) / time.Millisecond)
	return parsed, nil
}
