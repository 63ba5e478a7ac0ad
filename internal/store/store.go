// Package store provides durable backends for the identity directory and
// the conversation history: DynamoDB for the hosted deployment and SQLite
// for single-node installs. Both satisfy directory.Directory and
// history.Store.
package store

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks a failed or timed-out durable-store call. It is never
// retried here; the dispatcher aborts the current operation instead.
var ErrUnavailable = errors.New("durable store unavailable")

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
