package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	attrLastSyncAt   = "last_sync_at"
	attrWatermarkKey = "watermark_key"
)

// DynamoDBAPI defines the DynamoDB operations used by the watermark store.
type DynamoDBAPI interface {
	// GetItem retrieves an item from DynamoDB.
	GetItem(
		ctx context.Context,
		params *dynamodb.GetItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.GetItemOutput, error)

	// PutItem stores an item in DynamoDB.
	PutItem(
		ctx context.Context,
		params *dynamodb.PutItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.PutItemOutput, error)
}

// DynamoDBWatermarkStore keeps one item per entity and direction, keyed "<entity>#<direction>".
type DynamoDBWatermarkStore struct {
	// client is the DynamoDB API client.
	client DynamoDBAPI

	// tableName is the name of the DynamoDB table.
	tableName string
}

// NewDynamoDBWatermarkStore creates a new DynamoDB-backed watermark store.
func NewDynamoDBWatermarkStore(client DynamoDBAPI, tableName string) (*DynamoDBWatermarkStore, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if tableName == "" {
		return nil, errors.New("table name is required")
	}

	return &DynamoDBWatermarkStore{
		client:    client,
		tableName: tableName,
	}, nil
}

// Watermark returns the stored watermark. The boolean is false when none exists.
func (s *DynamoDBWatermarkStore) Watermark(ctx context.Context, entity string, dir Direction) (time.Time, bool, error) {
	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			attrWatermarkKey: &types.AttributeValueMemberS{Value: watermarkKey(entity, dir)},
		},
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("getting item from DynamoDB: %w", err)
	}

	if output.Item == nil {
		return time.Time{}, false, nil
	}

	attr, ok := output.Item[attrLastSyncAt].(*types.AttributeValueMemberS)
	if !ok || attr.Value == "" {
		return time.Time{}, false, nil
	}

	t, err := time.Parse(time.RFC3339Nano, attr.Value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing %s: %w", attrLastSyncAt, err)
	}

	return t.UTC(), true, nil
}

// SetWatermark stores the watermark.
func (s *DynamoDBWatermarkStore) SetWatermark(ctx context.Context, entity string, dir Direction, t time.Time) error {
	if entity == "" {
		return errors.New("entity is required")
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			attrWatermarkKey: &types.AttributeValueMemberS{Value: watermarkKey(entity, dir)},
			"entity_type":    &types.AttributeValueMemberS{Value: entity},
			"direction":      &types.AttributeValueMemberS{Value: string(dir)},
			attrLastSyncAt:   &types.AttributeValueMemberS{Value: t.UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("putting item to DynamoDB: %w", err)
	}

	return nil
}

func watermarkKey(entity string, dir Direction) string {
	return entity + "#" + string(dir)
}
