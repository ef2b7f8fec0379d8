package scheduling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/careflow-scheduling/internal/apperr"
)

const runTTL = 30 * 24 * time.Hour

// ErrRunNotFound indicates the requested auto-schedule run does not exist.
var ErrRunNotFound = &apperr.Error{Kind: apperr.KindNotFound, Message: "auto-schedule run not found"}

// RunStore persists auto-schedule results for later retrieval.
type RunStore interface {
	Save(ctx context.Context, result *AutoScheduleResult) error
	Get(ctx context.Context, runID string) (*AutoScheduleResult, error)
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

type runRecord struct {
	AutoScheduleResult
	ExpiresAt int64 `dynamodbav:"expiresAt,omitempty"`
}

// DynamoRunStore keeps runs in a DynamoDB table keyed by runId, expiring
// them through the table TTL attribute.
type DynamoRunStore struct {
	client    dynamoAPI
	tableName string
}

// NewDynamoRunStore builds a store backed by the provided DynamoDB client.
func NewDynamoRunStore(client dynamoAPI, tableName string) *DynamoRunStore {
	if client == nil {
		panic("scheduling: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("scheduling: table name cannot be empty")
	}
	return &DynamoRunStore{client: client, tableName: tableName}
}

func (s *DynamoRunStore) Save(ctx context.Context, result *AutoScheduleResult) error {
	if result == nil || result.RunID == "" {
		return fmt.Errorf("scheduling: run id required")
	}
	created := result.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	item, err := attributevalue.MarshalMap(runRecord{
		AutoScheduleResult: *result,
		ExpiresAt:          created.Add(runTTL).Unix(),
	})
	if err != nil {
		return fmt.Errorf("scheduling: failed to marshal run: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(runId)"),
	})
	if err != nil {
		return fmt.Errorf("scheduling: failed to persist run: %w", err)
	}
	return nil
}

func (s *DynamoRunStore) Get(ctx context.Context, runID string) (*AutoScheduleResult, error) {
	if runID == "" {
		return nil, apperr.Validation("scheduling: get run", "run id required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"runId": &types.AttributeValueMemberS{Value: runID},
		},
	})
	if err != nil {
		return nil, apperr.Internal("scheduling: get run", err)
	}
	if out.Item == nil {
		return nil, ErrRunNotFound
	}
	var rec runRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, apperr.Internal("scheduling: decode run", err)
	}
	return &rec.AutoScheduleResult, nil
}

// MemoryRunStore keeps runs in memory.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]AutoScheduleResult
}

// NewMemoryRunStore creates an empty store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]AutoScheduleResult)}
}

func (s *MemoryRunStore) Save(_ context.Context, result *AutoScheduleResult) error {
	if result == nil || result.RunID == "" {
		return fmt.Errorf("scheduling: run id required")
	}
	s.mu.Lock()
	s.runs[result.RunID] = *result
	s.mu.Unlock()
	return nil
}

func (s *MemoryRunStore) Get(_ context.Context, runID string) (*AutoScheduleResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return &r, nil
}
