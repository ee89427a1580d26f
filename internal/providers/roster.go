package providers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/emandor/sketchguess/internal/config"
)

// BuildRoster constructs providers in cfg.ProviderOrder. Providers that fail
// to initialize (missing key, unknown name) are left out and their errors
// returned so the caller can log them.
func BuildRoster(cfg *config.Config, client *http.Client) ([]Provider, []error) {
	var (
		list []Provider
		errs []error
	)
	seen := map[string]bool{}
	for _, name := range cfg.ProviderOrder {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		p, err := buildOne(name, cfg, client)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if cfg.ProviderRPS > 0 {
			p = NewLimited(p, cfg.ProviderRPS, cfg.ProviderBurst)
		}
		list = append(list, p)
	}
	return list, errs
}

func buildOne(name string, cfg *config.Config, client *http.Client) (Provider, error) {
	base := Options{Prompt: cfg.GuessPrompt, Client: client, DryRun: cfg.DryRun}
	switch name {
	case "openai":
		o := base
		o.Key, o.Model = cfg.OpenAIKey, cfg.OpenAIModel
		return NewOpenAI(o)
	case "gemini":
		o := base
		o.Key, o.Model = cfg.GeminiKey, cfg.GeminiModel
		return NewGemini(o)
	case "internvl":
		o := base
		o.Key, o.Model, o.BaseURL = cfg.InternVLKey, cfg.InternVLModel, cfg.InternVLBaseURL
		return NewInternVL(o)
	case "anthropic", "claude":
		o := base
		o.Key, o.Model = cfg.AnthropicKey, cfg.AnthropicModel
		return NewAnthropic(o)
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
