package tools

import (
	"context"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/channels"
)

// ctxKeyTurn is the context key for per-turn data.
type ctxKeyTurn struct{}

// Turn is the per-turn data tools need: who asked and where to answer.
type Turn struct {
	UserID  string
	Replier channels.Replier
}

// WithTurn returns a new context carrying turn.
func WithTurn(ctx context.Context, turn Turn) context.Context {
	return context.WithValue(ctx, ctxKeyTurn{}, turn)
}

// TurnFromContext extracts the turn from ctx. Replier is never nil.
func TurnFromContext(ctx context.Context) (Turn, bool) {
	t, ok := ctx.Value(ctxKeyTurn{}).(Turn)
	if t.Replier == nil {
		t.Replier = channels.Discard{}
	}
	return t, ok
}
