package guess

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/emandor/sketchguess/internal/img"
	"github.com/emandor/sketchguess/internal/metrics"
	"github.com/emandor/sketchguess/internal/providers"
	"github.com/emandor/sketchguess/internal/strategy"
	"github.com/emandor/sketchguess/internal/telemetry"
)

// Client input errors. They are returned before any provider is contacted.
var (
	ErrNoImage       = errors.New("no image data provided")
	ErrInvalidImage  = errors.New("image data is not a supported image")
	ErrImageTooLarge = errors.New("image is too large")
)

type Cache interface {
	Get(ctx context.Context, fingerprint string) (providers.Guess, bool)
	Set(ctx context.Context, fingerprint string, g providers.Guess)
}

type Options struct {
	MaxBytes    int
	AllowedMIME []string
	// MaxWidth and MaxHeight box the prepared drawing; zero keeps that side.
	MaxWidth  int
	MaxHeight int
	// MaxPixels rejects sources whose decoded size would exceed it.
	MaxPixels int
	// Cache may be nil.
	Cache Cache
	// DryRun results are simulated and never written to Cache.
	DryRun bool
}

type Service struct {
	strategy *strategy.Fallback
	opts     Options
	// inflight collapses concurrent guesses of the same prepared drawing
	inflight singleflight.Group
}

func NewService(s *strategy.Fallback, opts Options) *Service {
	if len(opts.AllowedMIME) == 0 {
		opts.AllowedMIME = []string{"image/png", "image/jpeg", "image/webp"}
	}
	return &Service{strategy: s, opts: opts}
}

func (s *Service) Providers() []providers.SourceName { return s.strategy.Names() }

// Guess validates the payload, normalizes the drawing and runs the fallback
// chain on it.
func (s *Service) Guess(ctx context.Context, raw providers.Image) (providers.Guess, error) {
	if raw.Empty() {
		return providers.Guess{}, ErrNoImage
	}
	if s.opts.MaxBytes > 0 && len(raw.Data) > s.opts.MaxBytes {
		return providers.Guess{}, ErrImageTooLarge
	}
	if _, err := img.Validate(raw, s.opts.AllowedMIME); err != nil {
		return providers.Guess{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	prepared, err := img.PrepareDrawing(raw, img.Bounds{
		MaxW:      s.opts.MaxWidth,
		MaxH:      s.opts.MaxHeight,
		MaxPixels: s.opts.MaxPixels,
	})
	if errors.Is(err, img.ErrTooManyPixels) {
		return providers.Guess{}, fmt.Errorf("%w: %v", ErrImageTooLarge, err)
	}
	if err != nil {
		return providers.Guess{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	log := telemetry.Ctx(ctx, "guess")

	fp := img.Fingerprint(prepared)
	if s.opts.Cache != nil {
		if g, ok := s.opts.Cache.Get(ctx, fp); ok {
			// no backend was called for this request
			g.LatencyMs = 0
			metrics.GuessCacheHits.Inc()
			log.Info().Str("provider", string(g.Source)).Msg("guess_cache_hit")
			return g, nil
		}
	}

	log.Debug().Int("raw_len", len(raw.Data)).Int("prepared_len", len(prepared.Data)).Msg("guess_start")
	// Callers that join an in-flight chain share its outcome, including a
	// cancellation of the caller that started it.
	v, err, shared := s.inflight.Do(fp, func() (any, error) {
		g, err := s.strategy.GuessImage(ctx, prepared)
		if err != nil {
			return providers.Guess{}, err
		}
		if s.opts.Cache != nil && !s.opts.DryRun {
			s.opts.Cache.Set(ctx, fp, g)
		}
		return g, nil
	})
	if shared {
		log.Debug().Msg("guess_shared")
	}
	if err != nil {
		return providers.Guess{}, err
	}
	return v.(providers.Guess), nil
}

// Classify maps a Guess error onto the status, category and detail sent to
// clients. Provider error text is never part of the detail.
func Classify(err error) (status int, category, detail string) {
	switch {
	case errors.Is(err, ErrNoImage):
		return http.StatusBadRequest, "no_image", "No image data provided"
	case errors.Is(err, ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge, "image_too_large", "Image is too large"
	case errors.Is(err, ErrInvalidImage), errors.Is(err, providers.ErrInvalidDataURL):
		return http.StatusBadRequest, "invalid_image", "Image data is not a supported PNG, JPEG or WebP image"
	case errors.Is(err, strategy.ErrExhausted):
		return http.StatusInternalServerError, "guess_failed", "All configured AI providers failed to process the image."
	default:
		return http.StatusInternalServerError, "internal_error", "An unexpected error occurred while processing the image."
	}
}

// MetricStatus is the label used for metrics.GuessTotal.
func MetricStatus(err error) string {
	if err == nil {
		return "ok"
	}
	status, category, _ := Classify(err)
	switch {
	case status < 500:
		return "client_error"
	case category == "guess_failed":
		return "exhausted"
	default:
		return "error"
	}
}
