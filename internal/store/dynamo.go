package store

import (
	"context"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/parley-chat/parley/internal/directory"
	"github.com/parley-chat/parley/internal/history"
)

// DynamoAPI is the slice of the DynamoDB client this store calls.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Dynamo persists identity records and message history in two DynamoDB
// tables: users keyed by identity, messages keyed by
// (conversationAddress, timestamp).
type Dynamo struct {
	client        DynamoAPI
	usersTable    string
	messagesTable string
}

// NewDynamo wires a store over the given client and table names.
func NewDynamo(client DynamoAPI, usersTable, messagesTable string) *Dynamo {
	return &Dynamo{
		client:        client,
		usersTable:    usersTable,
		messagesTable: messagesTable,
	}
}

type userItem struct {
	Identity    string `dynamodbav:"identity"`
	DisplayName string `dynamodbav:"displayName"`
	Handle      string `dynamodbav:"liveHandle"`
	UpdatedAt   string `dynamodbav:"updatedAt"`
}

type messageItem struct {
	ConversationID string `dynamodbav:"conversationAddress"`
	Timestamp      string `dynamodbav:"timestamp"`
	Sender         string `dynamodbav:"senderIdentity"`
	Receiver       string `dynamodbav:"receiverIdentity"`
	Text           string `dynamodbav:"text"`
}

// Upsert overwrites the user item for record.Identity. PutItem replaces the
// whole item, which gives the last-write-wins contract for free.
func (d *Dynamo) Upsert(ctx context.Context, record directory.Record) (directory.Record, error) {
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	item, err := attributevalue.MarshalMap(userItem{
		Identity:    record.Identity,
		DisplayName: record.DisplayName,
		Handle:      record.Handle,
		UpdatedAt:   record.UpdatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return directory.Record{}, unavailable("marshal user item", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.usersTable),
		Item:      item,
	})
	if err != nil {
		return directory.Record{}, unavailable("put user item", err)
	}
	return record, nil
}

// LookupHandle fetches the handle stored for identity.
func (d *Dynamo) LookupHandle(ctx context.Context, identity string) (string, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.usersTable),
		Key: map[string]types.AttributeValue{
			"identity": &types.AttributeValueMemberS{Value: identity},
		},
	})
	if err != nil {
		return "", unavailable("get user item", err)
	}
	if len(out.Item) == 0 {
		return "", directory.ErrNotFound
	}
	var item userItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return "", unavailable("unmarshal user item", err)
	}
	return item.Handle, nil
}

// List scans the whole users table. O(n) by construction; fine at the scale
// this directory is meant for.
func (d *Dynamo) List(ctx context.Context) ([]directory.Record, error) {
	var records []directory.Record
	var startKey map[string]types.AttributeValue
	for {
		out, err := d.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(d.usersTable),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, unavailable("scan users", err)
		}
		var items []userItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, unavailable("unmarshal users", err)
		}
		for _, item := range items {
			updatedAt, _ := time.Parse(time.RFC3339Nano, item.UpdatedAt)
			records = append(records, directory.Record{
				Identity:    item.Identity,
				DisplayName: item.DisplayName,
				Handle:      item.Handle,
				UpdatedAt:   updatedAt,
			})
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Identity < records[j].Identity })
	return records, nil
}

// Append writes one message item keyed by its conversation address and
// timestamp.
func (d *Dynamo) Append(ctx context.Context, msg history.Message) error {
	item, err := attributevalue.MarshalMap(messageItem{
		ConversationID: msg.ConversationID,
		Timestamp:      msg.Timestamp,
		Sender:         msg.Sender,
		Receiver:       msg.Receiver,
		Text:           msg.Text,
	})
	if err != nil {
		return unavailable("marshal message item", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.messagesTable),
		Item:      item,
	})
	if err != nil {
		return unavailable("put message item", err)
	}
	return nil
}

// ListConversation queries the full partition for address in ascending sort
// key order.
func (d *Dynamo) ListConversation(ctx context.Context, address string) ([]history.Message, error) {
	var messages []history.Message
	var startKey map[string]types.AttributeValue
	for {
		out, err := d.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.messagesTable),
			KeyConditionExpression: aws.String("conversationAddress = :cid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":cid": &types.AttributeValueMemberS{Value: address},
			},
			ScanIndexForward:  aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, unavailable("query conversation", err)
		}
		var items []messageItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, unavailable("unmarshal conversation", err)
		}
		for _, item := range items {
			messages = append(messages, history.Message{
				ConversationID: item.ConversationID,
				Timestamp:      item.Timestamp,
				Sender:         item.Sender,
				Receiver:       item.Receiver,
				Text:           item.Text,
			})
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return messages, nil
}
