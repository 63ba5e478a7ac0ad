// Package gate wraps the transport push primitive and isolates per-handle
// delivery failures from one another and from callers.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Pusher is the transport primitive: push a serialized payload to one live
// handle. Implemented by the websocket gateway.
type Pusher interface {
	Push(ctx context.Context, handle string, payload []byte) error
}

// Outcome reports the result of one delivery attempt.
type Outcome struct {
	Handle string
	Err    error
}

// Gate performs best-effort deliveries. Failures are logged and absorbed
// here; callers that care about partial failure inspect the returned
// outcomes.
type Gate struct {
	log    *zap.Logger
	pusher Pusher
}

// New wires a gate over the given pusher.
func New(log *zap.Logger, pusher Pusher) *Gate {
	return &Gate{log: log, pusher: pusher}
}

// SendOne serializes event and pushes it to a single handle. The error is
// returned for callers that inspect outcomes but is already logged and never
// needs to abort anything.
func (g *Gate) SendOne(ctx context.Context, handle string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		g.log.Error("encode notification", zap.Error(err))
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := g.pusher.Push(ctx, handle, payload); err != nil {
		g.log.Warn("delivery failed", zap.String("handle", handle), zap.Error(err))
		return err
	}
	return nil
}

// SendMany pushes the same event to every handle concurrently. One handle's
// failure never affects another's delivery or the caller; per-handle results
// come back in the same order as handles.
func (g *Gate) SendMany(ctx context.Context, handles []string, event any) []Outcome {
	payload, err := json.Marshal(event)
	if err != nil {
		g.log.Error("encode notification", zap.Error(err))
		out := make([]Outcome, len(handles))
		for i, h := range handles {
			out[i] = Outcome{Handle: h, Err: fmt.Errorf("encode notification: %w", err)}
		}
		return out
	}

	out := make([]Outcome, len(handles))
	var wg sync.WaitGroup
	for i, handle := range handles {
		wg.Add(1)
		go func(i int, handle string) {
			defer wg.Done()
			pushErr := g.pusher.Push(ctx, handle, payload)
			if pushErr != nil {
				g.log.Warn("delivery failed", zap.String("handle", handle), zap.Error(pushErr))
			}
			out[i] = Outcome{Handle: handle, Err: pushErr}
		}(i, handle)
	}
	wg.Wait()
	return out
}
