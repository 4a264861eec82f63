// Package dynamodb provides a DynamoDB implementation of counterstore.Store.
//
// Each sequence is one item. DynamoDB conditional writes provide the
// compare-and-swap the allocator needs:
//   - CreateIfAbsent: PutItem with attribute_not_exists(name)
//   - ConditionalAdvance: UpdateItem SET value = :next with value = :expected
//
// Table schema:
//   - Partition key: name (string) - the sequence name
//   - Attribute: value (number) - the high-water mark
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name seqcache-counters \
//	  --attribute-definitions AttributeName=name,AttributeType=S \
//	  --key-schema AttributeName=name,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/seqcache/counterstore"
)

const (
	keyAttr   = "name"
	valueAttr = "value"
)

// Client is the interface for DynamoDB operations.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store persists sequence counters in a DynamoDB table.
type Store struct {
	client    Client
	tableName string
}

// NewStore creates a new DynamoDB counter store.
func NewStore(client Client, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
	}
}

// New creates a DynamoDB counter store using the default AWS configuration
// chain (environment, shared config, instance role).
func New(ctx context.Context, tableName string, optFns ...func(*config.LoadOptions) error) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("dynamodb: load aws config: %w", err)
	}
	return NewStore(dynamodb.NewFromConfig(cfg), tableName), nil
}

func (s *Store) key(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		keyAttr: &types.AttributeValueMemberS{Value: name},
	}
}

// ReadCurrentValue implements counterstore.Store.
func (s *Store) ReadCurrentValue(ctx context.Context, name string) (int64, bool, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(name),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, false, fmt.Errorf("dynamodb: get %q: %w", name, err)
	}
	if len(resp.Item) == 0 {
		return 0, false, nil
	}

	attr, ok := resp.Item[valueAttr].(*types.AttributeValueMemberN)
	if !ok {
		return 0, false, fmt.Errorf("dynamodb: %w: invalid value attribute for %q", counterstore.ErrMalformedValue, name)
	}
	v, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("dynamodb: %w: %q", counterstore.ErrMalformedValue, attr.Value)
	}
	return v, true, nil
}

// CreateIfAbsent implements counterstore.Store.
func (s *Store) CreateIfAbsent(ctx context.Context, name string) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			keyAttr:   &types.AttributeValueMemberS{Value: name},
			valueAttr: &types.AttributeValueMemberN{Value: "0"},
		},
		ConditionExpression:      aws.String("attribute_not_exists(#n)"),
		ExpressionAttributeNames: map[string]string{"#n": keyAttr},
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil
		}
		return fmt.Errorf("dynamodb: create %q: %w", name, err)
	}
	return nil
}

// ConditionalAdvance implements counterstore.Store.
func (s *Store) ConditionalAdvance(ctx context.Context, name string, expected, next int64) (bool, error) {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(name),
		UpdateExpression:    aws.String("SET #v = :next"),
		ConditionExpression: aws.String("#v = :expected"),
		ExpressionAttributeNames: map[string]string{
			"#v": valueAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":next":     &types.AttributeValueMemberN{Value: strconv.FormatInt(next, 10)},
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("dynamodb: advance %q: %w", name, err)
	}
	return true, nil
}

// List implements counterstore.Lister. It scans the whole table.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var names []string

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                aws.String(s.tableName),
		ProjectionExpression:     aws.String("#n"),
		ExpressionAttributeNames: map[string]string{"#n": keyAttr},
		ConsistentRead:           aws.Bool(true),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb: scan: %w", err)
		}
		for _, item := range page.Items {
			if attr, ok := item[keyAttr].(*types.AttributeValueMemberS); ok {
				names = append(names, attr.Value)
			}
		}
	}

	sort.Strings(names)
	return names, nil
}

func isConditionFailed(err error) bool {
	var condErr *types.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}

// Compile-time interface checks.
var (
	_ counterstore.Store  = (*Store)(nil)
	_ counterstore.Lister = (*Store)(nil)
)
