package guess

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/emandor/sketchguess/internal/metrics"
	"github.com/emandor/sketchguess/internal/providers"
	"github.com/emandor/sketchguess/internal/telemetry"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type Request struct {
	ImageData string `json:"imageData"`
	// snake_case alias for non-browser clients
	ImageDataAlt string `json:"image_data,omitempty"`
}

func (r Request) data() string {
	if strings.TrimSpace(r.ImageData) != "" {
		return r.ImageData
	}
	return r.ImageDataAlt
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// ErrorBody builds the client-facing error for err.
func ErrorBody(err error) (int, ErrorResponse) {
	status, category, detail := Classify(err)
	return status, ErrorResponse{Error: category, Details: detail}
}

// Guess handles POST /api/guess.
func (h *Handler) Guess(c *fiber.Ctx) error {
	ctx := c.UserContext()
	log := telemetry.Ctx(ctx, "http")

	var g providers.Guess
	raw, err := readImage(c)
	if err == nil {
		g, err = h.svc.Guess(ctx, raw)
	}
	metrics.GuessTotal.WithLabelValues(MetricStatus(err)).Inc()

	if err != nil {
		status, body := ErrorBody(err)
		if status >= 500 {
			log.Error().Err(err).Str("category", body.Error).Msg("guess_failed")
		} else {
			log.Info().Err(err).Str("category", body.Error).Msg("guess_rejected")
		}
		return c.Status(status).JSON(body)
	}

	log.Info().Str("provider", string(g.Source)).Bool("confidence_known", g.ConfidenceKnown).Msg("guess_done")
	return c.JSON(g)
}

// Providers handles GET /api/providers: the roster in priority order.
func (h *Handler) Providers(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"providers": h.svc.Providers()})
}

// readImage accepts either a JSON body with a data URL or a multipart form
// with an "image" file.
func readImage(c *fiber.Ctx) (providers.Image, error) {
	ct := strings.ToLower(string(c.Request().Header.ContentType()))
	if strings.HasPrefix(ct, fiber.MIMEMultipartForm) {
		fh, err := c.FormFile("image")
		if err != nil {
			return providers.Image{}, ErrNoImage
		}
		f, err := fh.Open()
		if err != nil {
			return providers.Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
		defer f.Close()
		b, err := io.ReadAll(f)
		if err != nil {
			return providers.Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
		if len(b) == 0 {
			return providers.Image{}, ErrNoImage
		}
		return providers.Image{Data: b, MIME: fh.Header.Get(fiber.HeaderContentType)}, nil
	}

	body := c.Body()
	if len(bytes.TrimSpace(body)) == 0 {
		return providers.Image{}, ErrNoImage
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return providers.Image{}, fmt.Errorf("%w: malformed body", ErrInvalidImage)
	}
	return DecodeRequest(req)
}

// DecodeRequest turns the imageData field into an Image.
func DecodeRequest(req Request) (providers.Image, error) {
	data := req.data()
	if strings.TrimSpace(data) == "" {
		return providers.Image{}, ErrNoImage
	}
	return providers.ParseDataURL(data)
}
