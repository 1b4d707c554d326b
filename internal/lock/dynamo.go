package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by the lock service.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoLocker implements Service with a DynamoDB conditional write.
//
// Acquisition is a single PutItem whose condition is "record absent OR not
// held OR lease expired". A ConditionalCheckFailedException is the designed
// busy signal, not a fault; any other store error propagates.
type DynamoLocker struct {
	client DynamoAPI
	table  string
	ttl    time.Duration

	// now is swappable for lease-expiry tests.
	now func() time.Time
}

// NewDynamoLocker creates a DynamoDB-backed lock service. A non-positive ttl
// falls back to DefaultTTL.
func NewDynamoLocker(client DynamoAPI, table string, ttl time.Duration) (*DynamoLocker, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if table == "" {
		return nil, errors.New("lock table name is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DynamoLocker{client: client, table: table, ttl: ttl, now: time.Now}, nil
}

// Acquire attempts to flip the key's record to held via a conditional put.
func (l *DynamoLocker) Acquire(ctx context.Context, key string) (bool, error) {
	now := l.now()
	record := Record{
		Key:        key,
		Held:       true,
		AcquiredAt: now,
		ExpiresAt:  now.Add(l.ttl),
	}
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return false, fmt.Errorf("marshal lock record: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(Id) OR Held = :held OR ExpiresAt < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":held": &types.AttributeValueMemberBOOL{Value: false},
			":now":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return false, nil
		}
		return false, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	return true, nil
}

// Release unconditionally clears the held flag. Updating a nonexistent record
// creates it as not held, so releasing an unknown key is harmless.
func (l *DynamoLocker) Release(ctx context.Context, key string) error {
	_, err := l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(l.table),
		Key: map[string]types.AttributeValue{
			"Id": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression: aws.String("SET Held = :held"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":held": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if err != nil {
		return fmt.Errorf("release lock %q: %w", key, err)
	}
	return nil
}
