package bilan

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/mocksi/bilan-go/internal/bilanerr"
	"github.com/mocksi/bilan-go/internal/event"
)

// defaultSDK is the process-wide convenience instance behind Init. Library
// code should prefer explicit *SDK values; the top-level functions exist for
// application ergonomics.
var defaultSDK atomic.Pointer[SDK]

// Init initializes the process-wide default instance. Calling it again
// replaces the instance (the previous one keeps its queue until Shutdown).
func Init(cfg Config) error {
	sdk, err := New(cfg)
	if err != nil {
		return err
	}
	defaultSDK.Store(sdk)
	return nil
}

// Default returns the process-wide instance, or nil before Init.
func Default() *SDK {
	return defaultSDK.Load()
}

// Shutdown stops the default instance's scheduler and flushes it.
func Shutdown(ctx context.Context) error {
	if sdk := defaultSDK.Swap(nil); sdk != nil {
		return sdk.Shutdown(ctx)
	}
	return nil
}

// Track records an event through the default instance. A no-op before Init.
func Track(ctx context.Context, eventType event.Type, props map[string]any, content Content) error {
	sdk := Default()
	if sdk == nil {
		log.Debug().Msg("bilan.Track called before Init; event dropped")
		return nil
	}
	return sdk.Track(ctx, eventType, props, content)
}

// TrackTurn wraps an AI call through the default instance. Before Init the
// call runs unwrapped so application behavior never depends on telemetry.
func TrackTurn(ctx context.Context, promptText string, call AICall, props map[string]any) (any, error) {
	sdk := Default()
	if sdk == nil {
		log.Debug().Msg("bilan.TrackTurn called before Init; running call untracked")
		return call(ctx)
	}
	return sdk.TrackTurn(ctx, promptText, call, props)
}

// TrackTurnWithRetry is TrackTurn with retry through the default instance.
func TrackTurnWithRetry(ctx context.Context, promptText string, call AICall, props map[string]any, maxRetries int) (any, error) {
	sdk := Default()
	if sdk == nil {
		log.Debug().Msg("bilan.TrackTurnWithRetry called before Init; running call untracked")
		return call(ctx)
	}
	return sdk.TrackTurnWithRetry(ctx, promptText, call, props, maxRetries)
}

// Vote records feedback through the default instance. Before Init it is a
// safe no-op.
func Vote(ctx context.Context, turnID string, value int, comment string) error {
	sdk := Default()
	if sdk == nil {
		log.Debug().Msg("bilan.Vote called before Init; vote dropped")
		return nil
	}
	return sdk.Vote(ctx, turnID, value, comment)
}

// GetStats reads feedback stats through the default instance. Before Init it
// returns zero-valued stats.
func GetStats(ctx context.Context) (BasicStats, error) {
	sdk := Default()
	if sdk == nil {
		return BasicStats{}, nil
	}
	return sdk.GetStats(ctx)
}

// Flush forces delivery through the default instance.
func Flush(ctx context.Context) error {
	sdk := Default()
	if sdk == nil {
		return bilanerr.NewInit(bilanerr.ErrNotInitialized, "call bilan.Init first")
	}
	return sdk.Flush(ctx)
}
