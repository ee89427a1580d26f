package ws

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"golang.org/x/time/rate"

	"github.com/emandor/sketchguess/internal/guess"
	"github.com/emandor/sketchguess/internal/metrics"
	"github.com/emandor/sketchguess/internal/middleware"
	"github.com/emandor/sketchguess/internal/telemetry"
)

type Action string

const (
	ActionGuess Action = "guess"
	ActionPing  Action = "ping"
)

type Event string

const (
	EventGuessResult Event = "guess.event.result"
	EventGuessError  Event = "guess.event.error"
	EventPong        Event = "guess.event.pong"
)

type PayloadEvent struct {
	Event Event `json:"event"`
	// Seq echoes the client's sequence number so replies can be matched.
	Seq  int64 `json:"seq,omitempty"`
	Data any   `json:"data,omitempty"`
}

type ClientMessage struct {
	Action    Action `json:"action"`
	Seq       int64  `json:"seq,omitempty"`
	ImageData string `json:"imageData,omitempty"`
}

// Handler serves live guessing: the canvas sends a drawing whenever the user
// pauses and receives one event back per message. Messages on a connection
// are handled one at a time.
type Handler struct {
	svc   *guess.Service
	limit rate.Limit
	burst int
	conns atomic.Int64
}

// NewHandler throttles guesses per connection to limit with the given burst.
// A zero limit disables throttling.
func NewHandler(svc *guess.Service, limit rate.Limit, burst int) *Handler {
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Handler{svc: svc, limit: limit, burst: burst}
}

// GuessLimit spreads max guesses evenly over window.
func GuessLimit(max int, window time.Duration) rate.Limit {
	if max <= 0 || window <= 0 {
		return rate.Inf
	}
	return rate.Every(window / time.Duration(max))
}

// Session is the per-connection state.
type Session struct {
	h       *Handler
	limiter *rate.Limiter
}

func (h *Handler) NewSession() *Session {
	return &Session{h: h, limiter: rate.NewLimiter(h.limit, h.burst)}
}

func (h *Handler) Connections() int64 { return h.conns.Load() }

func (h *Handler) HandleWS(c *websocket.Conn) {
	rid, _ := c.Locals(middleware.ReqIDKey).(string)
	ctx := telemetry.WithRequestID(context.Background(), rid)
	tlog := telemetry.Ctx(ctx, "ws")

	h.conns.Add(1)
	tlog.Info().Int64("open", h.conns.Load()).Msg("ws_connected")
	defer func() {
		h.conns.Add(-1)
		_ = c.Close()
		tlog.Info().Msg("ws_disconnected")
	}()

	sess := h.NewSession()
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			break
		}
		pl, ok := sess.Process(ctx, msg)
		if !ok {
			continue
		}
		if err := c.WriteJSON(pl); err != nil {
			tlog.Warn().Err(err).Msg("ws_write_failed")
			break
		}
	}
}

// Process handles one client message. ok is false for messages that get no
// reply (undecodable or unknown actions).
func (s *Session) Process(ctx context.Context, msg []byte) (PayloadEvent, bool) {
	var cm ClientMessage
	if err := json.Unmarshal(msg, &cm); err != nil {
		return PayloadEvent{}, false
	}

	switch cm.Action {
	case ActionPing:
		return PayloadEvent{Event: EventPong, Seq: cm.Seq}, true
	case ActionGuess:
		if !s.limiter.Allow() {
			metrics.GuessTotal.WithLabelValues("rate_limited").Inc()
			log := telemetry.Ctx(ctx, "ws")
			log.Warn().Int64("seq", cm.Seq).Msg("ws_guess_rate_limited")
			return PayloadEvent{Event: EventGuessError, Seq: cm.Seq, Data: guess.ErrorResponse{
				Error:   "rate_limited",
				Details: "Too many guesses on this connection, please slow down",
			}}, true
		}
		if rid := telemetry.RequestID(ctx); rid != "" {
			ctx = telemetry.WithRequestID(ctx, rid+"#"+strconv.FormatInt(cm.Seq, 10))
		}
		img, err := guess.DecodeRequest(guess.Request{ImageData: cm.ImageData})
		if err == nil {
			g, gerr := s.h.svc.Guess(ctx, img)
			if gerr == nil {
				metrics.GuessTotal.WithLabelValues(guess.MetricStatus(nil)).Inc()
				return PayloadEvent{Event: EventGuessResult, Seq: cm.Seq, Data: g}, true
			}
			err = gerr
		}
		metrics.GuessTotal.WithLabelValues(guess.MetricStatus(err)).Inc()
		_, body := guess.ErrorBody(err)
		return PayloadEvent{Event: EventGuessError, Seq: cm.Seq, Data: body}, true
	default:
		return PayloadEvent{}, false
	}
}
