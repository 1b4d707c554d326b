package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client the stores use.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoSessionStore persists sessions in a DynamoDB table keyed by Id.
type DynamoSessionStore struct {
	client DynamoAPI
	table  string
}

// NewDynamoSessionStore creates a session store on the given table.
func NewDynamoSessionStore(client DynamoAPI, table string) (*DynamoSessionStore, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if table == "" {
		return nil, errors.New("sessions table name is required")
	}
	return &DynamoSessionStore{client: client, table: table}, nil
}

// Create writes a new session record.
func (s *DynamoSessionStore) Create(ctx context.Context, session *Session) error {
	item, err := attributevalue.MarshalMap(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put session %q: %w", session.ID, err)
	}
	return nil
}

// Get loads a session by id, or ErrNotFound.
func (s *DynamoSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"Id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get session %q: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var session Session
	if err := attributevalue.UnmarshalMap(out.Item, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session %q: %w", id, err)
	}
	return &session, nil
}

// DynamoAssistantStore persists knowledge index records in a table keyed by
// UserId, matching the one-record-per-user invariant.
type DynamoAssistantStore struct {
	client DynamoAPI
	table  string
}

// NewDynamoAssistantStore creates an assistant record store on the given table.
func NewDynamoAssistantStore(client DynamoAPI, table string) (*DynamoAssistantStore, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if table == "" {
		return nil, errors.New("assistants table name is required")
	}
	return &DynamoAssistantStore{client: client, table: table}, nil
}

// GetByUser loads the user's record, or ErrNotFound.
func (s *DynamoAssistantStore) GetByUser(ctx context.Context, userID string) (*AssistantRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"UserId": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get assistant record for user %q: %w", userID, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var record AssistantRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, fmt.Errorf("unmarshal assistant record for user %q: %w", userID, err)
	}
	return &record, nil
}

// Put creates or replaces the user's record.
func (s *DynamoAssistantStore) Put(ctx context.Context, record *AssistantRecord) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("marshal assistant record: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put assistant record for user %q: %w", record.UserID, err)
	}
	return nil
}
