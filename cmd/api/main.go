package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/emandor/sketchguess/internal/cache"
	"github.com/emandor/sketchguess/internal/config"
	"github.com/emandor/sketchguess/internal/guess"
	"github.com/emandor/sketchguess/internal/metrics"
	"github.com/emandor/sketchguess/internal/middleware"
	"github.com/emandor/sketchguess/internal/providers"
	"github.com/emandor/sketchguess/internal/strategy"
	"github.com/emandor/sketchguess/internal/telemetry"
	"github.com/emandor/sketchguess/internal/ws"
)

func main() {
	cfg := config.Load()
	tlog := telemetry.Init(telemetry.FromEnv(config.GetEnv))
	tlog.Info().Str("port", cfg.AppPort).Str("env", cfg.AppEnv).Msg("booting sketchguess")
	for _, w := range cfg.Warnings {
		tlog.Warn().Msg(w)
	}

	// providers without credentials are left out of the roster at startup
	roster, skipped := providers.BuildRoster(cfg, &http.Client{})
	for _, err := range skipped {
		tlog.Warn().Err(err).Msg("provider_skipped")
	}
	fb, err := strategy.New(roster,
		strategy.WithAttemptTimeout(cfg.ProviderTimeout),
		strategy.WithObserver(metrics.Observer{}),
	)
	if err != nil {
		tlog.Fatal().Err(err).Msg("no usable AI provider; set at least one *_API_KEY")
	}
	tlog.Info().Interface("roster", fb.Names()).Bool("dry_run", cfg.DryRun).Msg("providers_ready")

	opts := guess.Options{
		MaxBytes:    cfg.MaxImageBytes(),
		AllowedMIME: cfg.AllowedImageMIME,
		MaxWidth:    cfg.ImgMaxW,
		MaxHeight:   cfg.ImgMaxH,
		MaxPixels:   cfg.ImgMaxPixels,
		DryRun:      cfg.DryRun,
	}
	if cfg.RedisAddr != "" {
		rdb := cache.MustConnect(cfg.RedisAddr, cfg.RedisDB)
		opts.Cache = cache.NewGuessCache(rdb, cfg.GuessCacheTTL)
		tlog.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.GuessCacheTTL).Msg("guess_cache_enabled")
	}
	svc := guess.NewService(fb, opts)

	app := fiber.New(fiber.Config{
		AppName: "sketchguess",
		// base64 inflates the image by 4/3, plus room for the JSON envelope
		BodyLimit:             cfg.MaxImageBytes()/3*4 + 64*1024,
		DisableStartupMessage: cfg.AppEnv != "dev",
	})

	app.Use(middleware.RequestID())
	app.Use(middleware.Recover())
	app.Use(middleware.CORS(cfg))
	app.Use(middleware.SecureHeaders())
	app.Use(middleware.RequestLog())
	app.Use(middleware.RateLimiter(cfg))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	gh := guess.NewHandler(svc)
	api := app.Group("/api")
	api.Post("/guess", gh.Guess)
	api.Get("/providers", gh.Providers)

	wh := ws.NewHandler(svc, ws.GuessLimit(cfg.RateLimitMax, cfg.RateLimitWindow), cfg.WSGuessBurst)
	app.Get("/ws", middleware.WSUpgrade(), websocket.New(wh.HandleWS))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Listen(":" + cfg.AppPort)
	})
	g.Go(func() error {
		<-gctx.Done()
		tlog.Info().Msg("shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	})
	if err := g.Wait(); err != nil {
		tlog.Fatal().Err(err).Msg("server stopped")
	}
}
