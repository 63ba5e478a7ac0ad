package store

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/internal/directory"
	"github.com/parley-chat/parley/internal/history"
)

// fakeDynamo emulates the two tables in memory: users keyed by identity,
// messages keyed by (conversationAddress, timestamp).
type fakeDynamo struct {
	users    map[string]map[string]types.AttributeValue
	messages []map[string]types.AttributeValue
	failWith error

	// pageSize > 0 makes Query paginate and report LastEvaluatedKey as an
	// empty non-nil map on the final page.
	pageSize int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{users: make(map[string]map[string]types.AttributeValue)}
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if attr, ok := item[name].(*types.AttributeValueMemberS); ok {
		return attr.Value
	}
	return ""
}

func (f *fakeDynamo) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	if identity := stringAttr(params.Item, "identity"); identity != "" {
		f.users[identity] = params.Item
		return &dynamodb.PutItemOutput{}, nil
	}
	f.messages = append(f.messages, params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	identity := stringAttr(params.Key, "identity")
	item, ok := f.users[identity]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDynamo) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	address := ""
	if attr, ok := params.ExpressionAttributeValues[":cid"].(*types.AttributeValueMemberS); ok {
		address = attr.Value
	}
	var items []map[string]types.AttributeValue
	for _, item := range f.messages {
		if stringAttr(item, "conversationAddress") == address {
			items = append(items, item)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return stringAttr(items[i], "timestamp") < stringAttr(items[j], "timestamp")
	})
	if f.pageSize > 0 {
		if after := stringAttr(params.ExclusiveStartKey, "timestamp"); after != "" {
			for len(items) > 0 && stringAttr(items[0], "timestamp") <= after {
				items = items[1:]
			}
		}
		if len(items) > f.pageSize {
			items = items[:f.pageSize]
			last := map[string]types.AttributeValue{
				"conversationAddress": items[len(items)-1]["conversationAddress"],
				"timestamp":           items[len(items)-1]["timestamp"],
			}
			return &dynamodb.QueryOutput{Items: items, LastEvaluatedKey: last}, nil
		}
		// Real responses omit the key on the last page; return an empty
		// map instead to make sure the reader treats both as terminal.
		return &dynamodb.QueryOutput{Items: items, LastEvaluatedKey: map[string]types.AttributeValue{}}, nil
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	var items []map[string]types.AttributeValue
	for _, item := range f.users {
		items = append(items, item)
	}
	return &dynamodb.ScanOutput{Items: items}, nil
}

func TestDynamoUpsertAndLookup(t *testing.T) {
	ctx := context.Background()
	client := newFakeDynamo()
	store := NewDynamo(client, "chat-users", "chat-conversations")

	_, err := store.Upsert(ctx, directory.Record{Identity: "alice@x", DisplayName: "Alice", Handle: "h1"})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, directory.Record{Identity: "alice@x", DisplayName: "Alice", Handle: "h2"})
	require.NoError(t, err)

	handle, err := store.LookupHandle(ctx, "alice@x")
	require.NoError(t, err)
	assert.Equal(t, "h2", handle, "PutItem replaces the whole item")
}

func TestDynamoLookupMissing(t *testing.T) {
	store := NewDynamo(newFakeDynamo(), "chat-users", "chat-conversations")
	_, err := store.LookupHandle(context.Background(), "ghost@x")
	assert.ErrorIs(t, err, directory.ErrNotFound)
}

func TestDynamoListUsers(t *testing.T) {
	ctx := context.Background()
	store := NewDynamo(newFakeDynamo(), "chat-users", "chat-conversations")

	for _, r := range []directory.Record{
		{Identity: "bob@x", DisplayName: "Bob", Handle: "h2"},
		{Identity: "alice@x", DisplayName: "Alice", Handle: "h1"},
	} {
		_, err := store.Upsert(ctx, r)
		require.NoError(t, err)
	}

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "alice@x", records[0].Identity)
	assert.Equal(t, "bob@x", records[1].Identity)
}

func TestDynamoConversationRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewDynamo(newFakeDynamo(), "chat-users", "chat-conversations")

	appends := []history.Message{
		{ConversationID: "a@x&b@x", Timestamp: "2024-05-01T10:00:01Z", Sender: "a@x", Receiver: "b@x", Text: "second"},
		{ConversationID: "a@x&b@x", Timestamp: "2024-05-01T10:00:00Z", Sender: "a@x", Receiver: "b@x", Text: "first"},
		{ConversationID: "a@x&c@x", Timestamp: "2024-05-01T10:00:00Z", Sender: "a@x", Receiver: "c@x", Text: "other"},
	}
	for _, msg := range appends {
		require.NoError(t, store.Append(ctx, msg))
	}

	messages, err := store.ListConversation(ctx, "a@x&b@x")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Text)
	assert.Equal(t, "second", messages[1].Text)
}

func TestDynamoConversationPaginatedQuery(t *testing.T) {
	ctx := context.Background()
	client := newFakeDynamo()
	client.pageSize = 2
	store := NewDynamo(client, "chat-users", "chat-conversations")

	stamps := []string{
		"2024-05-01T10:00:00.000Z",
		"2024-05-01T10:00:00.120Z",
		"2024-05-01T10:00:00.125Z",
		"2024-05-01T10:00:01.000Z",
		"2024-05-01T10:00:02.000Z",
	}
	for _, ts := range stamps {
		require.NoError(t, store.Append(ctx, history.Message{
			ConversationID: "a@x&b@x",
			Timestamp:      ts,
			Sender:         "a@x",
			Receiver:       "b@x",
			Text:           ts,
		}))
	}

	messages, err := store.ListConversation(ctx, "a@x&b@x")
	require.NoError(t, err)
	require.Len(t, messages, len(stamps))
	for i, msg := range messages {
		assert.Equal(t, stamps[i], msg.Timestamp)
	}
}

func TestDynamoErrorsWrapUnavailable(t *testing.T) {
	ctx := context.Background()
	client := newFakeDynamo()
	client.failWith = errors.New("throttled")
	store := NewDynamo(client, "chat-users", "chat-conversations")

	_, err := store.Upsert(ctx, directory.Record{Identity: "alice@x", Handle: "h1"})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = store.LookupHandle(ctx, "alice@x")
	assert.ErrorIs(t, err, ErrUnavailable)

	err = store.Append(ctx, history.Message{ConversationID: "a@x&b@x", Timestamp: "t"})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = store.ListConversation(ctx, "a@x&b@x")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = store.List(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
}
