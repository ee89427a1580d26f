package guess

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emandor/sketchguess/internal/middleware"
	"github.com/emandor/sketchguess/internal/providers"
	"github.com/emandor/sketchguess/internal/strategy"
)

type countingProvider struct {
	name  providers.SourceName
	guess string
	err   error
	calls atomic.Int32
}

func (p *countingProvider) Name() providers.SourceName { return p.name }

func (p *countingProvider) Guess(context.Context, providers.Image) (providers.Guess, error) {
	p.calls.Add(1)
	if p.err != nil {
		return providers.Guess{}, p.err
	}
	return providers.Guess{Guess: p.guess, Confidence: providers.UnspecifiedConfidence}, nil
}

func succeeds(name, guess string) *countingProvider {
	return &countingProvider{name: providers.SourceName(name), guess: guess}
}

func fails(name string) *countingProvider {
	return &countingProvider{name: providers.SourceName(name), err: errors.New(name + " upstream exploded: sk-secret")}
}

func drawingPNG(t *testing.T) []byte {
	t.Helper()
	m := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for x := 10; x < 50; x++ {
		m.Set(x, 20, color.Black)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, m))
	return buf.Bytes()
}

func dataURL(b []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(b)
}

func newApp(t *testing.T, opts Options, roster ...providers.Provider) *fiber.App {
	t.Helper()
	s, err := strategy.New(roster)
	require.NoError(t, err)
	h := NewHandler(NewService(s, opts))

	app := fiber.New()
	app.Use(middleware.RequestID())
	app.Post("/api/guess", h.Guess)
	app.Get("/api/providers", h.Providers)
	return app
}

func postJSON(t *testing.T, app *fiber.App, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/guess", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return do(t, app, req)
}

func do(t *testing.T, app *fiber.App, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

func TestGuess_FallbackToSecondProvider(t *testing.T) {
	a, b := fails("A"), succeeds("B", "a cat")
	app := newApp(t, Options{}, a, b)

	status, body := postJSON(t, app, `{"imageData":"`+dataURL(drawingPNG(t))+`"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "a cat", body["guess"])
	assert.Equal(t, 1.0, body["confidence"])
	assert.Equal(t, false, body["confidence_known"])
	assert.Equal(t, "B", body["provider"])
	assert.EqualValues(t, 1, a.calls.Load())
	assert.EqualValues(t, 1, b.calls.Load())
}

func TestGuess_AllProvidersFail(t *testing.T) {
	a, b := fails("A"), fails("B")
	app := newApp(t, Options{}, a, b)

	status, body := postJSON(t, app, `{"imageData":"`+dataURL(drawingPNG(t))+`"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "guess_failed", body["error"])
	assert.NotContains(t, body["details"], "sk-secret")
	assert.NotContains(t, body["details"], "exploded")
	assert.NotContains(t, body, "guess")
	assert.EqualValues(t, 1, a.calls.Load())
	assert.EqualValues(t, 1, b.calls.Load())
}

func TestGuess_MissingImage(t *testing.T) {
	for name, body := range map[string]string{
		"no field":    `{}`,
		"empty field": `{"imageData":""}`,
		"empty body":  ``,
		"other field": `{"image":"x"}`,
	} {
		t.Run(name, func(t *testing.T) {
			a := succeeds("A", "a cat")
			app := newApp(t, Options{}, a)

			status, out := postJSON(t, app, body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "no_image", out["error"])
			assert.Equal(t, "No image data provided", out["details"])
			assert.EqualValues(t, 0, a.calls.Load())
		})
	}
}

func TestGuess_EmptyGuessExhausts(t *testing.T) {
	a := succeeds("A", "")
	app := newApp(t, Options{}, a)

	status, body := postJSON(t, app, `{"imageData":"`+dataURL(drawingPNG(t))+`"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "guess_failed", body["error"])
	assert.EqualValues(t, 1, a.calls.Load())
}

func TestGuess_InvalidImage(t *testing.T) {
	for name, body := range map[string]string{
		"not base64":  `{"imageData":"data:image/png;base64,@@@"}`,
		"not image":   `{"imageData":"data:image/png;base64,` + base64.StdEncoding.EncodeToString([]byte("hello there")) + `"}`,
		"broken json": `{"imageData":`,
	} {
		t.Run(name, func(t *testing.T) {
			a := succeeds("A", "a cat")
			app := newApp(t, Options{}, a)

			status, out := postJSON(t, app, body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "invalid_image", out["error"])
			assert.EqualValues(t, 0, a.calls.Load())
		})
	}
}

func TestGuess_TooLarge(t *testing.T) {
	a := succeeds("A", "a cat")
	app := newApp(t, Options{MaxBytes: 16}, a)

	status, out := postJSON(t, app, `{"imageData":"`+dataURL(drawingPNG(t))+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	assert.Equal(t, "image_too_large", out["error"])
	assert.EqualValues(t, 0, a.calls.Load())
}

func TestGuess_Multipart(t *testing.T) {
	a := succeeds("A", "a tree")
	app := newApp(t, Options{}, a)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "drawing.png")
	require.NoError(t, err)
	_, _ = fw.Write(drawingPNG(t))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/guess", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	status, body := do(t, app, req)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "a tree", body["guess"])
}

func TestGuess_MultipartWithoutFile(t *testing.T) {
	a := succeeds("A", "a tree")
	app := newApp(t, Options{}, a)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "hi"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/guess", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	status, body := do(t, app, req)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "no_image", body["error"])
	assert.EqualValues(t, 0, a.calls.Load())
}

func TestProviders(t *testing.T) {
	app := newApp(t, Options{}, succeeds("GEMINI", "x"), succeeds("OPENAI", "y"))

	status, body := do(t, app, httptest.NewRequest(http.MethodGet, "/api/providers", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"GEMINI", "OPENAI"}, body["providers"])
}

type memCache struct {
	mu sync.Mutex
	m  map[string]providers.Guess
}

func (c *memCache) Get(_ context.Context, fp string) (providers.Guess, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.m[fp]
	return g, ok
}

func (c *memCache) Set(_ context.Context, fp string, g providers.Guess) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[fp] = g
}

func TestService_CachesSuccess(t *testing.T) {
	a := succeeds("A", "a moon")
	s, err := strategy.New([]providers.Provider{a})
	require.NoError(t, err)
	cache := &memCache{m: map[string]providers.Guess{}}
	svc := NewService(s, Options{Cache: cache, MaxWidth: 32})

	in := providers.Image{Data: drawingPNG(t), MIME: "image/png"}
	g1, err := svc.Guess(context.Background(), in)
	require.NoError(t, err)
	g2, err := svc.Guess(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "a moon", g1.Guess)
	assert.Equal(t, g1.Guess, g2.Guess)
	assert.EqualValues(t, 1, a.calls.Load())
	assert.Len(t, cache.m, 1)
}

func TestService_FailuresNotCached(t *testing.T) {
	a := fails("A")
	s, err := strategy.New([]providers.Provider{a})
	require.NoError(t, err)
	cache := &memCache{m: map[string]providers.Guess{}}
	svc := NewService(s, Options{Cache: cache})

	_, err = svc.Guess(context.Background(), providers.Image{Data: drawingPNG(t), MIME: "image/png"})
	require.ErrorIs(t, err, strategy.ErrExhausted)
	assert.Empty(t, cache.m)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err      error
		status   int
		category string
	}{
		{ErrNoImage, http.StatusBadRequest, "no_image"},
		{providers.ErrInvalidDataURL, http.StatusBadRequest, "invalid_image"},
		{ErrImageTooLarge, http.StatusRequestEntityTooLarge, "image_too_large"},
		{&strategy.ExhaustedError{}, http.StatusInternalServerError, "guess_failed"},
		{errors.New("db down"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		status, category, detail := Classify(tt.err)
		assert.Equal(t, tt.status, status, tt.category)
		assert.Equal(t, tt.category, category)
		assert.NotEmpty(t, detail)
	}
	assert.Equal(t, "exhausted", MetricStatus(&strategy.ExhaustedError{}))
	assert.Equal(t, "client_error", MetricStatus(ErrNoImage))
	assert.Equal(t, "ok", MetricStatus(nil))
}

func TestGuess_TooManyPixels(t *testing.T) {
	a := succeeds("A", "a cat")
	app := newApp(t, Options{MaxPixels: 1000}, a)

	status, out := postJSON(t, app, `{"imageData":"`+dataURL(drawingPNG(t))+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	assert.Equal(t, "image_too_large", out["error"])
	assert.EqualValues(t, 0, a.calls.Load())
}

// blockingProvider holds every call until release is closed.
type blockingProvider struct {
	countingProvider
	started chan struct{}
	release chan struct{}
}

func (p *blockingProvider) Guess(ctx context.Context, img providers.Image) (providers.Guess, error) {
	if p.calls.Load() == 0 {
		close(p.started)
	}
	p.calls.Add(1)
	<-p.release
	return providers.Guess{Guess: p.guess, Confidence: providers.UnspecifiedConfidence}, nil
}

func TestService_CollapsesConcurrentIdenticalGuesses(t *testing.T) {
	p := &blockingProvider{
		countingProvider: countingProvider{name: "A", guess: "a kite"},
		started:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	s, err := strategy.New([]providers.Provider{p})
	require.NoError(t, err)
	svc := NewService(s, Options{})
	in := providers.Image{Data: drawingPNG(t), MIME: "image/png"}

	const n = 4
	results := make(chan providers.Guess, n)
	var wg sync.WaitGroup
	guessOnce := func() {
		defer wg.Done()
		g, err := svc.Guess(context.Background(), in)
		assert.NoError(t, err)
		results <- g
	}

	wg.Add(1)
	go guessOnce()
	<-p.started
	for i := 1; i < n; i++ {
		wg.Add(1)
		go guessOnce()
	}
	// let the followers reach the in-flight call before it finishes
	time.Sleep(100 * time.Millisecond)
	close(p.release)
	wg.Wait()
	close(results)

	for g := range results {
		assert.Equal(t, "a kite", g.Guess)
	}
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestService_DryRunNotCached(t *testing.T) {
	a := succeeds("A", "simulated guess")
	s, err := strategy.New([]providers.Provider{a})
	require.NoError(t, err)
	cache := &memCache{m: map[string]providers.Guess{}}
	svc := NewService(s, Options{Cache: cache, DryRun: true})

	_, err = svc.Guess(context.Background(), providers.Image{Data: drawingPNG(t), MIME: "image/png"})
	require.NoError(t, err)
	assert.Empty(t, cache.m)
}

func TestService_CacheHitDropsLatency(t *testing.T) {
	a := succeeds("A", "a moon")
	s, err := strategy.New([]providers.Provider{a})
	require.NoError(t, err)
	cache := &memCache{m: map[string]providers.Guess{}}
	svc := NewService(s, Options{Cache: cache})
	in := providers.Image{Data: drawingPNG(t), MIME: "image/png"}

	_, err = svc.Guess(context.Background(), in)
	require.NoError(t, err)
	for fp, g := range cache.m {
		g.LatencyMs = 1234
		cache.m[fp] = g
	}

	g, err := svc.Guess(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "a moon", g.Guess)
	assert.Zero(t, g.LatencyMs)
	assert.EqualValues(t, 1, a.calls.Load())
}
