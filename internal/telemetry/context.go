package telemetry

import (
	"context"

	"github.com/rs/zerolog"
)

type reqIDKey struct{}

func WithRequestID(ctx context.Context, rid string) context.Context {
	if rid == "" {
		return ctx
	}
	return context.WithValue(ctx, reqIDKey{}, rid)
}

func RequestID(ctx context.Context) string {
	rid, _ := ctx.Value(reqIDKey{}).(string)
	return rid
}

// Ctx returns the global logger tagged with module and, when present, the
// request id carried by ctx.
func Ctx(ctx context.Context, module string) zerolog.Logger {
	lc := log.With().Str("module", module)
	if rid := RequestID(ctx); rid != "" {
		lc = lc.Str("req_id", rid)
	}
	return lc.Logger()
}
