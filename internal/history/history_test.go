package history

import (
	"context"
	"sort"
	"testing"
	"time"
)

func TestFormatTimestampSortsChronologically(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	instants := []time.Time{
		base.Add(125 * time.Millisecond),
		base.Add(120 * time.Millisecond),
		base.Add(1 * time.Second),
		base,
	}

	encoded := make([]string, len(instants))
	for i, instant := range instants {
		encoded[i] = FormatTimestamp(instant)
	}
	sort.Strings(encoded)

	want := []string{
		"2024-05-01T10:00:00.000Z",
		"2024-05-01T10:00:00.120Z",
		"2024-05-01T10:00:00.125Z",
		"2024-05-01T10:00:01.000Z",
	}
	for i := range want {
		if encoded[i] != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, encoded[i], want[i])
		}
	}
}

func TestAppendAndListOrdered(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()

	// Appended out of real-time order on purpose.
	stamps := []string{
		"2024-05-01T10:00:02Z",
		"2024-05-01T10:00:00Z",
		"2024-05-01T10:00:01Z",
	}
	for i, ts := range stamps {
		err := store.Append(ctx, Message{
			ConversationID: "alice@x&bob@x",
			Timestamp:      ts,
			Sender:         "alice@x",
			Receiver:       "bob@x",
			Text:           string(rune('a' + i)),
		})
		if err != nil {
			t.Fatalf("append %s: %v", ts, err)
		}
	}

	messages, err := store.ListConversation(ctx, "alice@x&bob@x")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for i := 1; i < len(messages); i++ {
		if messages[i-1].Timestamp > messages[i].Timestamp {
			t.Fatalf("messages out of order: %s before %s", messages[i-1].Timestamp, messages[i].Timestamp)
		}
	}
}

func TestAppendRequiresAddress(t *testing.T) {
	store := NewInMemory()
	if err := store.Append(context.Background(), Message{Text: "hi"}); err == nil {
		t.Fatal("expected error for missing conversation address")
	}
}

func TestListUnknownConversationEmpty(t *testing.T) {
	store := NewInMemory()
	messages, err := store.ListConversation(context.Background(), "no@x&one@x")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected empty result, got %d", len(messages))
	}
}

func TestConversationsIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	_ = store.Append(ctx, Message{ConversationID: "a@x&b@x", Timestamp: "2024-05-01T10:00:00Z", Text: "one"})
	_ = store.Append(ctx, Message{ConversationID: "a@x&c@x", Timestamp: "2024-05-01T10:00:00Z", Text: "two"})

	messages, err := store.ListConversation(ctx, "a@x&b@x")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(messages) != 1 || messages[0].Text != "one" {
		t.Fatalf("expected only the a&b record, got %+v", messages)
	}
}
