package kvtable

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// skNone is the sort key used for kinds that have no sort component.
const skNone = "#"

// dynamodbAPI is the minimal DynamoDB interface required by DynamoTable.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoTable stores every kind in one DynamoDB table with a PK/SK schema.
type DynamoTable struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewDynamoTable wraps a DynamoDB client for the named table.
func NewDynamoTable(api dynamodbAPI, tableName string) (*DynamoTable, error) {
	if api == nil {
		return nil, errors.New("kvtable: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("kvtable: dynamodb table name must not be empty")
	}
	return &DynamoTable{api: api, tableName: tableName, now: time.Now}, nil
}

// itemPK returns the partition key for a record.
func itemPK(key Key) string {
	return string(key.Kind) + "#" + key.Partition
}

// itemSK returns the sort key for a record.
func itemSK(key Key) string {
	if key.Sort == "" {
		return skNone
	}
	return key.Sort
}

func (t *DynamoTable) primaryKey(key Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: itemPK(key)},
		"SK": &types.AttributeValueMemberS{Value: itemSK(key)},
	}
}

// Get implements Table. Reads are strongly consistent so a Get after Put
// observes the new value.
func (t *DynamoTable) Get(ctx context.Context, key Key) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	out, err := t.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.tableName),
		Key:            t.primaryKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, unavailable("get", key, err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	payload, err := strAttr(out.Item, "payload")
	if err != nil {
		return nil, fmt.Errorf("kvtable: get %s: %w", key, err)
	}
	return []byte(payload), nil
}

// Put implements Table.
func (t *DynamoTable) Put(ctx context.Context, key Key, value []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	item := t.primaryKey(key)
	item["kind"] = &types.AttributeValueMemberS{Value: string(key.Kind)}
	item["payload"] = &types.AttributeValueMemberS{Value: string(value)}
	item["updated_at"] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(epochSeconds(t.now()), 'f', 6, 64)}

	_, err := t.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.tableName),
		Item:      item,
	})
	if err != nil {
		return unavailable("put", key, err)
	}
	return nil
}

// Delete implements Table.
func (t *DynamoTable) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	out, err := t.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(t.tableName),
		Key:          t.primaryKey(key),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return unavailable("delete", key, err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping implements Table.
func (t *DynamoTable) Ping(ctx context.Context) error {
	_, err := t.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(t.tableName)})
	if err != nil {
		return fmt.Errorf("kvtable: describe table %q: %w: %w", t.tableName, ErrStorageUnavailable, err)
	}
	return nil
}

// Close implements Table. The AWS client holds no resources to release.
func (t *DynamoTable) Close() error { return nil }

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}
