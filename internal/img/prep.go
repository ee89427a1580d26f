package img

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/emandor/sketchguess/internal/providers"
)

var (
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrUndecodable     = errors.New("image cannot be decoded")
	ErrTooManyPixels   = errors.New("image dimensions exceed the pixel limit")
)

// Bounds limits a prepared drawing. Zero fields are unbounded.
type Bounds struct {
	MaxW, MaxH int
	// MaxPixels caps width*height of the decoded source; it is checked from
	// the header before any pixel is decoded.
	MaxPixels int
}

// DetectMIME sniffs the payload; the declared type of a data URL is not trusted.
func DetectMIME(data []byte) string {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	mime := http.DetectContentType(head)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return mime
}

// Validate checks that the sniffed content type is one of allowed and that
// it matches the magic numbers of the format.
func Validate(in providers.Image, allowed []string) (string, error) {
	mime := DetectMIME(in.Data)
	ok := false
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSpace(a), mime) {
			ok = true
			break
		}
	}
	if !ok || !isValidMagic(mime, in.Data) {
		return "", ErrUnsupportedType
	}
	return mime, nil
}

// verify magic numbers for jpeg, png and webp
func isValidMagic(mime string, head []byte) bool {
	switch mime {
	case "image/jpeg":
		return len(head) > 2 && head[0] == 0xFF && head[1] == 0xD8
	case "image/png":
		return bytes.HasPrefix(head, []byte{0x89, 0x50, 0x4E, 0x47})
	case "image/webp":
		return len(head) > 12 && string(head[0:4]) == "RIFF" && string(head[8:12]) == "WEBP"
	default:
		return false
	}
}

// PrepareDrawing: check header → decode → fit into MaxW×MaxH → flatten
// transparency onto white → PNG.
// Canvas exports have a transparent background that some vision models read
// as black, which hides black strokes.
func PrepareDrawing(in providers.Image, b Bounds) (providers.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(in.Data))
	if err != nil {
		return providers.Image{}, ErrUndecodable
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return providers.Image{}, ErrUndecodable
	}
	if b.MaxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(b.MaxPixels) {
		return providers.Image{}, ErrTooManyPixels
	}

	src, _, err := image.Decode(bytes.NewReader(in.Data))
	if err != nil {
		return providers.Image{}, ErrUndecodable
	}

	w, h := b.MaxW, b.MaxH
	if w <= 0 {
		w = src.Bounds().Dx()
	}
	if h <= 0 {
		h = src.Bounds().Dy()
	}
	// Fit keeps the aspect ratio and never upscales
	src = imaging.Fit(src, w, h, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flattenOnWhite(src), imaging.PNG); err != nil {
		return providers.Image{}, err
	}
	return providers.Image{Data: buf.Bytes(), MIME: "image/png"}, nil
}

// convert alpha to white
func flattenOnWhite(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

// Fingerprint is the hex SHA-256 of the image bytes, used as cache key.
func Fingerprint(in providers.Image) string {
	h := sha256.Sum256(in.Data)
	return hex.EncodeToString(h[:])
}
