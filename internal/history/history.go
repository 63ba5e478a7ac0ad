// Package history persists the append-only, timestamp-ordered record set of
// each conversation.
package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// TimestampLayout is the fixed-width UTC encoding for Message.Timestamp.
// The fractional seconds are zero-padded to three digits so that
// lexicographic order of encoded timestamps matches chronological order;
// RFC3339Nano trims trailing zeros and breaks that property.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp encodes t for Message.Timestamp.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Message is one immutable conversation record. Timestamp is an ISO-8601
// string and is the sole source of ordering within a conversation.
type Message struct {
	ConversationID string `json:"conversationAddress"`
	Timestamp      string `json:"timestamp"`
	Sender         string `json:"senderIdentity"`
	Receiver       string `json:"receiverIdentity"`
	Text           string `json:"text"`
}

// Store is the append-only history of all conversations. Appends carry an
// already-computed canonical conversation address; repeated appends create
// repeated records (at-least-once, no dedup).
type Store interface {
	// Append writes one message record.
	Append(ctx context.Context, msg Message) error

	// ListConversation returns every record for the address in ascending
	// timestamp order. No pagination.
	ListConversation(ctx context.Context, address string) ([]Message, error)
}

// InMemory is a map-backed Store for tests and single-process deployments.
type InMemory struct {
	mu            sync.RWMutex
	conversations map[string][]Message
}

// NewInMemory builds an empty in-memory history store.
func NewInMemory() *InMemory {
	return &InMemory{conversations: make(map[string][]Message)}
}

// Append stores a record under its conversation address.
func (s *InMemory) Append(_ context.Context, msg Message) error {
	if msg.ConversationID == "" {
		return errors.New("conversation address is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[msg.ConversationID] = append(s.conversations[msg.ConversationID], msg)
	return nil
}

// ListConversation returns the records for address sorted by timestamp.
// Records appended out of order come back ordered; ties keep append order.
func (s *InMemory) ListConversation(_ context.Context, address string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.conversations[address]
	out := make([]Message, len(stored))
	copy(out, stored)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// Len reports the number of records stored for address.
func (s *InMemory) Len(address string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations[address])
}
