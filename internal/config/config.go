package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv, AppPort string
	CORSOrigins     []string
	DryRun          bool

	OpenAIKey, OpenAIModel       string
	GeminiKey, GeminiModel       string
	InternVLKey, InternVLModel   string
	InternVLBaseURL              string
	AnthropicKey, AnthropicModel string

	// ProviderOrder is the roster priority, most preferred first.
	ProviderOrder   []string
	ProviderTimeout time.Duration
	ProviderRPS     int
	ProviderBurst   int
	GuessPrompt     string

	MaxImageMB       int
	AllowedImageMIME []string
	ImgMaxW          int
	ImgMaxH          int
	ImgMaxPixels     int

	RateLimitMax    int
	RateLimitWindow time.Duration
	// WSGuessBurst is how many guesses one websocket connection may send
	// back to back; after that it refills at RateLimitMax per RateLimitWindow.
	WSGuessBurst    int

	RedisAddr     string
	RedisDB       int
	GuessCacheTTL time.Duration

	// Warnings lists settings that were rejected and replaced by defaults.
	// Load runs before the logger exists, so the caller logs them.
	Warnings []string
}

func Load() *Config {
	_ = godotenv.Load()

	var warns []string
	c := &Config{
		AppEnv:           get("APP_ENV", "dev"),
		AppPort:          get("APP_PORT", "3000"),
		CORSOrigins:      split(get("CORS_ORIGINS", "*")),
		DryRun:           parseBool(get("DRY_RUN", "false")),
		OpenAIKey:        get("OPENAI_API_KEY", ""),
		OpenAIModel:      get("OPENAI_MODEL", "gpt-4o"),
		GeminiKey:        get("GEMINI_API_KEY", ""),
		GeminiModel:      get("GEMINI_MODEL", "gemini-2.0-flash"),
		InternVLKey:      get("INTERNVL_API_KEY", ""),
		InternVLModel:    get("INTERNVL_MODEL", "internvl2.5-latest"),
		InternVLBaseURL:  get("INTERNVL_BASE_URL", "https://chat.intern-ai.org.cn/api/v1"),
		AnthropicKey:     get("ANTHROPIC_API_KEY", ""),
		AnthropicModel:   get("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),
		ProviderOrder:    GetEnvList("PROVIDER_ORDER", []string{"gemini", "openai", "internvl", "anthropic"}),
		ProviderTimeout:  durationEnv("PROVIDER_TIMEOUT", 45*time.Second, &warns),
		ProviderRPS:      GetEnvInt("PROVIDER_RPS", 2),
		ProviderBurst:    GetEnvInt("PROVIDER_BURST", 2),
		GuessPrompt:      get("GUESS_PROMPT", ""),
		MaxImageMB:       GetEnvInt("MAX_IMAGE_MB", 10),
		AllowedImageMIME: GetEnvList("ALLOWED_IMAGE_MIME", []string{"image/png", "image/jpeg", "image/webp"}),
		ImgMaxW:          GetEnvInt("IMG_MAX_W", 1024),
		ImgMaxH:          GetEnvInt("IMG_MAX_H", 1024),
		ImgMaxPixels:     GetEnvInt("IMG_MAX_PIXELS", 25_000_000),
		RateLimitMax:     GetEnvInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow:  durationEnv("RATE_LIMIT_WINDOW", 15*time.Minute, &warns),
		WSGuessBurst:     GetEnvInt("WS_GUESS_BURST", 5),
		RedisAddr:        get("REDIS_ADDR", ""),
		RedisDB:          atoi(get("REDIS_DB", "0")),
		GuessCacheTTL:    durationEnv("GUESS_CACHE_TTL", 24*time.Hour, &warns),
	}
	c.Warnings = warns
	return c
}

// MaxImageBytes is the upper bound for a decoded inbound image.
func (c *Config) MaxImageBytes() int {
	return c.MaxImageMB * 1024 * 1024
}

func GetEnvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return d
}

func GetEnvList(k string, d []string) []string {
	if v := os.Getenv(k); v != "" {
		return split(v)
	}
	return d
}

func get(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func atoi(s string) int                   { i, _ := strconv.Atoi(s); return i }
func parseBool(s string) bool             { b, _ := strconv.ParseBool(s); return b }

// durationEnv parses k as a Go duration ("45s", "15m"). Bare numbers and
// other garbage keep the default d.
func durationEnv(k string, d time.Duration, warns *[]string) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d
	}
	p, err := time.ParseDuration(v)
	if err != nil || p < 0 {
		*warns = append(*warns, fmt.Sprintf("%s=%q is not a valid duration, using %s", k, v, d))
		return d
	}
	return p
}
func split(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func GetEnv(k, d string) string {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	return v
}
