package dynamodb

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/mtnfog/entitydb/pkg/entity"
	"github.com/mtnfog/entitydb/pkg/storage/test"
)

// TestDynamoDBEntityStore runs the shared conformance suite against a live
// DynamoDB endpoint, typically dynamodb-local. Set
// ENTITYDB_TEST_DYNAMODB_ENDPOINT and ENTITYDB_TEST_DYNAMODB_TABLE to
// enable it; the table and its pending-ts index must already exist (see the
// package documentation for the creation command).
func TestDynamoDBEntityStore(t *testing.T) {
	endpoint := os.Getenv("ENTITYDB_TEST_DYNAMODB_ENDPOINT")
	table := os.Getenv("ENTITYDB_TEST_DYNAMODB_TABLE")
	if endpoint == "" || table == "" {
		t.Skip("ENTITYDB_TEST_DYNAMODB_ENDPOINT or ENTITYDB_TEST_DYNAMODB_TABLE not set")
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	require.NoError(t, err)

	client := awsdynamodb.NewFromConfig(cfg, func(o *awsdynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	ds := New(client, table, "pending-ts")
	defer ds.Close()

	test.RunAllTests(t, ds)
}

// faultyClient accepts every write except the one entity text it is
// configured to fail.
type faultyClient struct {
	failText string
	puts     int
}

func (c *faultyClient) PutItem(ctx context.Context, params *awsdynamodb.PutItemInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.PutItemOutput, error) {
	if text, ok := params.Item["text"].(*types.AttributeValueMemberS); ok && text.Value == c.failText {
		return nil, errors.New("throughput exceeded")
	}
	c.puts++
	return &awsdynamodb.PutItemOutput{}, nil
}

func (c *faultyClient) GetItem(ctx context.Context, params *awsdynamodb.GetItemInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.GetItemOutput, error) {
	return &awsdynamodb.GetItemOutput{}, nil
}

func (c *faultyClient) UpdateItem(ctx context.Context, params *awsdynamodb.UpdateItemInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.UpdateItemOutput, error) {
	return &awsdynamodb.UpdateItemOutput{}, nil
}

func (c *faultyClient) DeleteItem(ctx context.Context, params *awsdynamodb.DeleteItemInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.DeleteItemOutput, error) {
	return &awsdynamodb.DeleteItemOutput{}, nil
}

func (c *faultyClient) Query(ctx context.Context, params *awsdynamodb.QueryInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.QueryOutput, error) {
	return &awsdynamodb.QueryOutput{}, nil
}

func (c *faultyClient) Scan(ctx context.Context, params *awsdynamodb.ScanInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.ScanOutput, error) {
	return &awsdynamodb.ScanOutput{}, nil
}

func TestStoreEntitiesContinuesPastFailedWrites(t *testing.T) {
	client := &faultyClient{failText: "Aaron Burr"}
	ds := New(client, "entities", "pending-ts")

	entities := []entity.Entity{
		{Text: "George Washington", Type: "PER", Confidence: 97},
		{Text: "Aaron Burr", Type: "PER", Confidence: 90},
		{Text: "Mount Vernon", Type: "LOC", Confidence: 80},
	}

	result, err := ds.StoreEntities(context.Background(), entities, "::1")
	require.NoError(t, err)
	require.Len(t, result.Stored, 2)
	require.Equal(t, "George Washington", result.Stored[0].Text)
	require.Equal(t, "Mount Vernon", result.Stored[1].Text)
	require.Equal(t, []string{entity.DeriveID(&entities[1], "::1")}, result.FailedIDs)
	require.Equal(t, 2, client.puts)
}
