package providers

import (
	"encoding/base64"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryParseGuess(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		guess      string
		confidence float64
		known      bool
	}{
		{"json", `{"guess":"a cat","confidence":0.82}`, "a cat", 0.82, true},
		{"json without confidence", `{"guess":"a dog"}`, "a dog", UnspecifiedConfidence, false},
		{"confidence out of range", `{"guess":"a dog","confidence":7}`, "a dog", UnspecifiedConfidence, false},
		{"answer key", `{"answer":"a fish"}`, "a fish", UnspecifiedConfidence, false},
		{"fenced", "```json\n{\"guess\":\"a sun\",\"confidence\":0.5}\n```", "a sun", 0.5, true},
		{"embedded object", `Sure! {"guess":"a car"} hope that helps`, "a car", UnspecifiedConfidence, false},
		{"colon style", "Guess: a bird\nReason: wings", "a bird", UnspecifiedConfidence, false},
		{"raw text", "  A smiling\n face  ", "A smiling face", UnspecifiedConfidence, false},
		{"quoted", `"a star"`, "a star", UnspecifiedConfidence, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := TryParseGuess(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.guess, g.Guess)
			assert.Equal(t, tt.confidence, g.Confidence)
			assert.Equal(t, tt.known, g.ConfidenceKnown)
		})
	}
}

func TestTryParseGuess_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", `""`, "\n\t"} {
		_, err := TryParseGuess(in)
		assert.ErrorIs(t, err, ErrEmptyGuess, "input %q", in)
	}
}

func TestParseDataURL(t *testing.T) {
	data := []byte{0x89, 'P', 'N', 'G'}
	enc := base64.StdEncoding.EncodeToString(data)

	img, err := ParseDataURL("data:image/jpeg;base64," + enc)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.MIME)
	assert.Equal(t, data, img.Data)
	assert.Equal(t, "data:image/jpeg;base64,"+enc, img.DataURL())

	img, err = ParseDataURL(enc)
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MIME)

	for _, bad := range []string{"", "data:image/png,abc", "data:image/png;base64", "data:image/png;base64,!!!"} {
		_, err := ParseDataURL(bad)
		assert.ErrorIs(t, err, ErrInvalidDataURL, "input %q", bad)
	}
}

func TestBuildPrompt(t *testing.T) {
	assert.Contains(t, BuildPrompt(""), DefaultQuestion)
	p := BuildPrompt("Was ist das?")
	assert.Contains(t, p, "Was ist das?")
	assert.Contains(t, p, JSON_INSTRUCTION)
}

func TestTryParseGuess_JSONWithoutGuess(t *testing.T) {
	for _, in := range []string{`{"guess":""}`, `{"confidence":0.9}`, "```json\n{\"guess\":\"  \"}\n```"} {
		_, err := TryParseGuess(in)
		assert.ErrorIs(t, err, ErrEmptyGuess, "input %q", in)
	}
}

func TestTryParseGuess_LongMultibyteReply(t *testing.T) {
	g, err := TryParseGuess("a" + strings.Repeat("猫", 200))
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(g.Guess))
	assert.True(t, strings.HasSuffix(g.Guess, "…"))
	assert.LessOrEqual(t, len(g.Guess), 300+len("…"))
}
