package providers

import (
	"context"

	"github.com/emandor/sketchguess/internal/telemetry"
)

const internVLBaseURL = "https://chat.intern-ai.org.cn/api/v1"

// InternVL talks to the OpenAI-compatible InternVL chat endpoint.
type InternVL struct {
	opts Options
}

func NewInternVL(o Options) (*InternVL, error) {
	if err := requireKey(SourceInternVL, o); err != nil {
		return nil, err
	}
	if o.Model == "" {
		o.Model = "internvl2.5-latest"
	}
	if o.BaseURL == "" {
		o.BaseURL = internVLBaseURL
	}
	return &InternVL{opts: o}, nil
}

func (c *InternVL) Name() SourceName { return SourceInternVL }

func (c *InternVL) Guess(ctx context.Context, img Image) (Guess, error) {
	if c.opts.DryRun {
		log := telemetry.L().With().Str("provider", string(c.Name())).Logger()
		log.Info().Msg("internvl_dry_run_enabled")
		return dryRunGuess(c.Name()), nil
	}
	return chatCompletionGuess(ctx, c.Name(), c.opts, img, map[string]any{
		"temperature": 0.8,
		"top_p":       0.9,
	})
}
