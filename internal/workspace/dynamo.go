package workspace

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/model"
)

// DynamoDBClient is the subset of *dynamodb.Client methods used by DynamoBackend.
type DynamoDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoBackend stores workspaces in a DynamoDB table with partition key "login".
type DynamoBackend struct {
	client    DynamoDBClient
	tableName string
	now       func() time.Time
}

// NewDynamoBackend returns a backend over tableName.
func NewDynamoBackend(client DynamoDBClient, tableName string) *DynamoBackend {
	return &DynamoBackend{client: client, tableName: tableName, now: time.Now}
}

func (b *DynamoBackend) Load(ctx context.Context, login string) (string, bool, error) {
	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(b.tableName),
		Key: map[string]types.AttributeValue{
			"login": &types.AttributeValueMemberS{Value: login},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to get workspace: %w", err)
	}
	if out.Item == nil {
		return "", false, nil
	}

	var ws model.Workspace
	if err := attributevalue.UnmarshalMap(out.Item, &ws); err != nil {
		return "", false, fmt.Errorf("failed to unmarshal workspace: %w", err)
	}
	return ws.Content, true, nil
}

func (b *DynamoBackend) Save(ctx context.Context, login, blob string) error {
	item, err := attributevalue.MarshalMap(model.Workspace{
		Login:     login,
		Content:   blob,
		UpdatedAt: b.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal workspace: %w", err)
	}

	_, err = b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put workspace: %w", err)
	}
	return nil
}
