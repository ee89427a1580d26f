package providers

import (
	"encoding/base64"
	"errors"
	"strings"
)

var ErrInvalidDataURL = errors.New("invalid image data url")

// Image is the payload handed to every provider of a roster. Treat Data as
// read-only once the image has been built.
type Image struct {
	Data []byte
	MIME string
}

func (i Image) Empty() bool { return len(i.Data) == 0 }

func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

func (i Image) DataURL() string {
	return "data:" + i.MIME + ";base64," + i.Base64()
}

// ParseDataURL decodes "data:<mime>;base64,<payload>". A bare base64 string
// is accepted as image/png, which is what the drawing canvas exports.
func ParseDataURL(s string) (Image, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Image{}, ErrInvalidDataURL
	}

	mime := "image/png"
	payload := s
	if strings.HasPrefix(s, "data:") {
		head, body, ok := strings.Cut(s[len("data:"):], ",")
		if !ok {
			return Image{}, ErrInvalidDataURL
		}
		params := strings.Split(head, ";")
		if params[0] != "" {
			mime = strings.ToLower(params[0])
		}
		isB64 := false
		for _, p := range params[1:] {
			if p == "base64" {
				isB64 = true
			}
		}
		if !isB64 {
			return Image{}, ErrInvalidDataURL
		}
		payload = body
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// some encoders drop the padding
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return Image{}, ErrInvalidDataURL
		}
	}
	if len(data) == 0 {
		return Image{}, ErrInvalidDataURL
	}
	return Image{Data: data, MIME: mime}, nil
}
