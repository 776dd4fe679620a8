// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package tracking

import (
	"context"
	"fmt"

	"github.com/LeeDigitalWorks/datapump/pkg/record"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DefaultStatusIndex is the secondary index over (manifest_file, processing_status).
const DefaultStatusIndex = "manifest_file-processing_status-index"

// DynamoDBAPI is the subset of *dynamodb.Client used by DynamoDBStore.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Compile-time interface verification
var (
	_ Backend     = (*DynamoDBStore)(nil)
	_ DynamoDBAPI = (*dynamodb.Client)(nil)
)

// DynamoDBStore keeps one item per object keyed by
// (source_bucket, source_object_path).
type DynamoDBStore struct {
	api         DynamoDBAPI
	table       string
	statusIndex string
}

// DynamoDBConfig configures a DynamoDBStore.
type DynamoDBConfig struct {
	API         DynamoDBAPI
	TableName   string
	StatusIndex string // Defaults to DefaultStatusIndex
}

// NewDynamoDBStore creates a DynamoDB-backed store.
func NewDynamoDBStore(cfg DynamoDBConfig) (*DynamoDBStore, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("dynamodb client is required")
	}
	if cfg.TableName == "" {
		return nil, fmt.Errorf("tracking table name is required")
	}
	if cfg.StatusIndex == "" {
		cfg.StatusIndex = DefaultStatusIndex
	}
	return &DynamoDBStore{
		api:         cfg.API,
		table:       cfg.TableName,
		statusIndex: cfg.StatusIndex,
	}, nil
}

func (s *DynamoDBStore) Put(ctx context.Context, rec *record.CopyRequest) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal copy request: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	return err
}

func (s *DynamoDBStore) Get(ctx context.Context, bucket, path string) (*record.CopyRequest, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"source_bucket":      &types.AttributeValueMemberS{Value: bucket},
			"source_object_path": &types.AttributeValueMemberS{Value: path},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, ErrRecordNotFound
	}

	var rec record.CopyRequest
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal copy request: %w", err)
	}
	return &rec, nil
}

func (s *DynamoDBStore) List(ctx context.Context, manifest string, status record.Status) ([]*record.CopyRequest, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(s.statusIndex),
		KeyConditionExpression: aws.String("manifest_file = :m AND processing_status = :s"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":m": &types.AttributeValueMemberS{Value: manifest},
			":s": &types.AttributeValueMemberS{Value: string(status)},
		},
	}

	var out []*record.CopyRequest
	for {
		page, err := s.api.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			var rec record.CopyRequest
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("unmarshal copy request: %w", err)
			}
			out = append(out, &rec)
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
}
