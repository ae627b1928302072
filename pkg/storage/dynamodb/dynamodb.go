// Package dynamodb provides a DynamoDB backed entity store.
//
// Table schema:
//   - Partition key: id (string), the derived entity id
//   - A sparse "pending" attribute marks entities awaiting indexing; the
//     pending-timestamp global secondary index (partition key: pending,
//     sort key: ts) serves the indexer's oldest-first reads.
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name entitydb \
//	  --attribute-definitions AttributeName=id,AttributeType=S AttributeName=pending,AttributeType=S AttributeName=ts,AttributeType=N \
//	  --key-schema AttributeName=id,KeyType=HASH \
//	  --global-secondary-indexes 'IndexName=pending-ts,KeySchema=[{AttributeName=pending,KeyType=HASH},{AttributeName=ts,KeyType=RANGE}],Projection={ProjectionType=ALL}' \
//	  --billing-mode PAY_PER_REQUEST
package dynamodb

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"

	"github.com/mtnfog/entitydb/pkg/entity"
	"github.com/mtnfog/entitydb/pkg/storage"
)

var tracer = otel.Tracer("entitydb/pkg/storage/dynamodb")

const pendingMarker = "1"

// Client is the interface for the DynamoDB operations the store uses.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Datastore provides a DynamoDB based implementation of storage.EntityStore.
//
// EQL queries are evaluated client-side over a table scan; this backend
// trades query pushdown for operational simplicity. GetContexts is not
// supported (DynamoDB has no efficient distinct scan).
type Datastore struct {
	client    Client
	tableName string
	indexName string
}

var _ storage.EntityStore = (*Datastore)(nil)

// New creates a new Datastore over the given client and table. indexName is
// the pending-timestamp GSI.
func New(client Client, tableName, indexName string) *Datastore {
	return &Datastore{
		client:    client,
		tableName: tableName,
		indexName: indexName,
	}
}

// Close does not do anything for Datastore.
func (d *Datastore) Close() {}

// StoreEntities see storage.EntityStore.StoreEntities.
func (d *Datastore) StoreEntities(ctx context.Context, entities []entity.Entity, acl string) (*storage.StoreResult, error) {
	ctx, span := tracer.Start(ctx, "dynamodb.StoreEntities")
	defer span.End()

	result := &storage.StoreResult{}

	for _, e := range entities {
		stored := entity.NewStoredEntity(e, acl)

		_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(d.tableName),
			Item:                marshalEntity(stored),
			ConditionExpression: aws.String("attribute_not_exists(#id)"),
			ExpressionAttributeNames: map[string]string{
				"#id": "id",
			},
		})
		if err != nil {
			var condErr *types.ConditionalCheckFailedException
			if errors.As(err, &condErr) {
				result.SkippedIDs = append(result.SkippedIDs, stored.ID)
				continue
			}
			// Each entity is its own write: a failed one is recorded
			// and the batch continues.
			result.FailedIDs = append(result.FailedIDs, stored.ID)
			continue
		}

		result.Stored = append(result.Stored, stored)
	}

	return result, nil
}

// Query see storage.EntityStore.Query.
func (d *Datastore) Query(ctx context.Context, query *storage.EntityQuery) (*storage.QueryResult, error) {
	ctx, span := tracer.Start(ctx, "dynamodb.Query")
	defer span.End()

	var matched []*entity.StoredEntity

	var startKey map[string]types.AttributeValue
	for {
		out, err := d.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(d.tableName),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}

		for _, item := range out.Items {
			stored, err := unmarshalEntity(item)
			if err != nil {
				return nil, err
			}
			if storage.Matches(query, target(stored)) {
				matched = append(matched, stored)
			}
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	sort.Slice(matched, func(i, j int) bool {
		return storage.Less(query.Order, query.SortOrder, target(matched[i]), target(matched[j]))
	})

	return &storage.QueryResult{
		Entities: storage.Page(matched, query.Offset, query.Limit),
		QueryID:  ulid.Make().String(),
	}, nil
}

// GetNonIndexedEntities see storage.EntityStore.GetNonIndexedEntities.
func (d *Datastore) GetNonIndexedEntities(ctx context.Context, limit int) ([]*entity.StoredEntity, error) {
	ctx, span := tracer.Start(ctx, "dynamodb.GetNonIndexedEntities")
	defer span.End()

	if limit <= 0 {
		limit = storage.DefaultNonIndexedLimit
	}

	var pending []*entity.StoredEntity

	var startKey map[string]types.AttributeValue
	for len(pending) < limit {
		out, err := d.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.tableName),
			IndexName:              aws.String(d.indexName),
			KeyConditionExpression: aws.String("#p = :p"),
			ExpressionAttributeNames: map[string]string{
				"#p": "pending",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":p": &types.AttributeValueMemberS{Value: pendingMarker},
			},
			ScanIndexForward:  aws.Bool(true), // oldest first
			Limit:             aws.Int32(int32(limit - len(pending))),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}

		for _, item := range out.Items {
			stored, err := unmarshalEntity(item)
			if err != nil {
				return nil, err
			}
			pending = append(pending, stored)
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return pending, nil
}

// MarkEntitiesAsIndexed see storage.EntityStore.MarkEntitiesAsIndexed.
func (d *Datastore) MarkEntitiesAsIndexed(ctx context.Context, ids []string) (int, error) {
	ctx, span := tracer.Start(ctx, "dynamodb.MarkEntitiesAsIndexed")
	defer span.End()

	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	marked := 0
	for _, id := range ids {
		_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName: aws.String(d.tableName),
			Key: map[string]types.AttributeValue{
				"id": &types.AttributeValueMemberS{Value: id},
			},
			UpdateExpression:    aws.String("SET #idx = :t REMOVE #p"),
			ConditionExpression: aws.String("attribute_exists(#p)"),
			ExpressionAttributeNames: map[string]string{
				"#idx": "indexed",
				"#p":   "pending",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":t": &types.AttributeValueMemberN{Value: now},
			},
		})
		if err != nil {
			var condErr *types.ConditionalCheckFailedException
			if errors.As(err, &condErr) {
				// Missing or already indexed is a no-op counted as zero.
				continue
			}
			return marked, err
		}
		marked++
	}

	return marked, nil
}

// GetEntityCount see storage.EntityStore.GetEntityCount.
func (d *Datastore) GetEntityCount(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "dynamodb.GetEntityCount")
	defer span.End()

	var count int64

	var startKey map[string]types.AttributeValue
	for {
		out, err := d.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(d.tableName),
			Select:            types.SelectCount,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return 0, err
		}

		count += int64(out.Count)

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return count, nil
}

// GetContexts is not supported by the DynamoDB backend.
func (d *Datastore) GetContexts(ctx context.Context) ([]string, error) {
	return nil, storage.ErrUnsupported
}

// DeleteContext see storage.EntityStore.DeleteContext.
func (d *Datastore) DeleteContext(ctx context.Context, entityContext string) error {
	ctx, span := tracer.Start(ctx, "dynamodb.DeleteContext")
	defer span.End()

	return d.deleteWhere(ctx, "context", entityContext)
}

// DeleteDocument see storage.EntityStore.DeleteDocument.
func (d *Datastore) DeleteDocument(ctx context.Context, documentID string) error {
	ctx, span := tracer.Start(ctx, "dynamodb.DeleteDocument")
	defer span.End()

	return d.deleteWhere(ctx, "document_id", documentID)
}

func (d *Datastore) deleteWhere(ctx context.Context, attribute, value string) error {
	var startKey map[string]types.AttributeValue
	for {
		out, err := d.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(d.tableName),
			FilterExpression:     aws.String("#a = :v"),
			ProjectionExpression: aws.String("#id"),
			ExpressionAttributeNames: map[string]string{
				"#a":  attribute,
				"#id": "id",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":v": &types.AttributeValueMemberS{Value: value},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return err
		}

		for _, item := range out.Items {
			id, ok := item["id"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(d.tableName),
				Key: map[string]types.AttributeValue{
					"id": &types.AttributeValueMemberS{Value: id.Value},
				},
			})
			if err != nil {
				return err
			}
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return nil
}

func target(s *entity.StoredEntity) storage.Target {
	return storage.Target{
		Entity:    &s.Entity,
		ID:        s.ID,
		Timestamp: s.Timestamp,
	}
}
