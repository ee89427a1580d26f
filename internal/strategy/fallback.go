// Package strategy tries an ordered roster of vision providers one after
// another and returns the first successful guess.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emandor/sketchguess/internal/providers"
	"github.com/emandor/sketchguess/internal/telemetry"
)

var (
	ErrEmptyRoster = errors.New("at least one AI provider must be configured")
	ErrExhausted   = errors.New("all configured AI providers failed to process the image")
)

// ProviderFailure is kept for diagnostics only and never sent to clients.
type ProviderFailure struct {
	Provider providers.SourceName
	Err      error
}

func (f ProviderFailure) String() string {
	return string(f.Provider) + ": " + f.Err.Error()
}

// ExhaustedError is returned when every provider of the roster failed.
// errors.Is(err, ErrExhausted) holds for it.
type ExhaustedError struct {
	Failures []ProviderFailure
}

func (e *ExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return ErrExhausted.Error()
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("%s (%s)", ErrExhausted.Error(), strings.Join(parts, "; "))
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Unwrap exposes the individual causes to errors.Is / errors.As.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Observer receives one call per attempt. It must be safe for concurrent use
// because one Fallback serves many requests.
type Observer interface {
	Attempt(provider providers.SourceName, d time.Duration, err error)
}

type Option func(*Fallback)

// WithAttemptTimeout bounds a single provider call. Zero disables it.
func WithAttemptTimeout(d time.Duration) Option {
	return func(f *Fallback) { f.attemptTimeout = d }
}

func WithObserver(o Observer) Option {
	return func(f *Fallback) { f.observer = o }
}

type Fallback struct {
	roster         []providers.Provider
	attemptTimeout time.Duration
	observer       Observer
}

// New copies roster; the copy is never modified afterwards.
func New(roster []providers.Provider, opts ...Option) (*Fallback, error) {
	if len(roster) == 0 {
		return nil, ErrEmptyRoster
	}
	f := &Fallback{roster: append([]providers.Provider(nil), roster...)}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// Names lists the roster in priority order.
func (f *Fallback) Names() []providers.SourceName {
	out := make([]providers.SourceName, len(f.roster))
	for i, p := range f.roster {
		out[i] = p.Name()
	}
	return out
}

// GuessImage calls providers strictly in roster order, one at a time, and
// returns the first success. Earlier failures are logged, not returned.
func (f *Fallback) GuessImage(ctx context.Context, img providers.Image) (providers.Guess, error) {
	log := telemetry.Ctx(ctx, "strategy")

	failures := make([]ProviderFailure, 0, len(f.roster))
	for _, p := range f.roster {
		if err := ctx.Err(); err != nil {
			// caller went away; nobody is waiting for the remaining providers
			failures = append(failures, ProviderFailure{Provider: p.Name(), Err: err})
			break
		}

		log.Debug().Str("provider", string(p.Name())).Msg("provider_attempt")
		g, d, err := f.attempt(ctx, p, img)
		if f.observer != nil {
			f.observer.Attempt(p.Name(), d, err)
		}
		if err != nil {
			log.Warn().Err(err).Str("provider", string(p.Name())).Dur("took", d).Msg("provider_attempt_failed")
			failures = append(failures, ProviderFailure{Provider: p.Name(), Err: err})
			continue
		}

		if g.Source == "" {
			g.Source = p.Name()
		}
		log.Info().Str("provider", string(p.Name())).Dur("took", d).Int("failed_before", len(failures)).Msg("provider_attempt_ok")
		return g, nil
	}

	exhausted := &ExhaustedError{Failures: failures}
	log.Error().Int("attempts", len(failures)).Str("failures", exhausted.Error()).Msg("guess_exhausted")
	return providers.Guess{}, exhausted
}

func (f *Fallback) attempt(ctx context.Context, p providers.Provider, img providers.Image) (g providers.Guess, d time.Duration, err error) {
	if f.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.attemptTimeout)
		defer cancel()
	}

	t0 := time.Now()
	defer func() {
		d = time.Since(t0)
		// a panicking adapter is one more failed provider, not a dead request
		if r := recover(); r != nil {
			g, err = providers.Guess{}, fmt.Errorf("provider panic: %v", r)
		}
	}()

	g, err = p.Guess(ctx, img)
	if err == nil && strings.TrimSpace(g.Guess) == "" {
		err = providers.ErrEmptyGuess
	}
	return g, d, err
}
