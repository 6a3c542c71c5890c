package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	redis "github.com/redis/go-redis/v9"

	"github.com/corpacademy/coursegen/pkg/models"
)

const (
	redisKeyPrefix      = "coursegen:workflow:"
	redisActiveSet      = "coursegen:workflows:active"
	redisCompletedLog   = "coursegen:workflows:completed"
	redisProcessedCount = "coursegen:workflows:processed"
)

// RedisStore keeps workflow records in redis so they survive orchestrator
// restarts and remain queryable from the side. Records are JSON blobs
// keyed by workflow ID, with an active set and a completed list trimmed
// to the retention limit. The orchestrator process is the single writer;
// updates are serialized with a process-local lock.
type RedisStore struct {
	mu        sync.Mutex
	client    redis.UniversalClient
	retention int
}

// NewRedisStore connects to the redis at url (redis://...) and returns a
// store retaining up to retention completed records.
func NewRedisStore(url string, retention int) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if retention <= 0 {
		retention = defaultRetention
	}

	return &RedisStore{
		client:    redis.NewClient(opts),
		retention: retention,
	}, nil
}

func (s *RedisStore) Create(ctx context.Context, result *models.WorkflowResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := redisKeyPrefix + result.WorkflowID

	payload, err := json.Marshal(result)
	if err != nil {
		return NewWorkflowError("Create", result.WorkflowID, err)
	}

	created, err := s.client.SetNX(ctx, key, payload, 0).Result()
	if err != nil {
		return NewWorkflowError("Create", result.WorkflowID, err)
	}

	if !created {
		return NewWorkflowError("Create", result.WorkflowID, ErrWorkflowAlreadyExists)
	}

	if err := s.client.SAdd(ctx, redisActiveSet, result.WorkflowID).Err(); err != nil {
		return NewWorkflowError("Create", result.WorkflowID, err)
	}

	return nil
}

func (s *RedisStore) Update(ctx context.Context, workflowID string, mutate func(*models.WorkflowResult) error) (*models.WorkflowResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.load(ctx, workflowID)
	if err != nil {
		return nil, NewWorkflowError("Update", workflowID, err)
	}

	if record.Status.Terminal() {
		return nil, NewWorkflowError("Update", workflowID, ErrWorkflowAlreadyTerminal)
	}

	if err := mutate(record); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, NewWorkflowError("Update", workflowID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisKeyPrefix+workflowID, payload, 0)

	if record.Status.Terminal() {
		pipe.SRem(ctx, redisActiveSet, workflowID)
		pipe.LPush(ctx, redisCompletedLog, workflowID)
		pipe.LTrim(ctx, redisCompletedLog, 0, int64(s.retention-1))
		pipe.Incr(ctx, redisProcessedCount)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, NewWorkflowError("Update", workflowID, err)
	}

	return record, nil
}

func (s *RedisStore) Get(ctx context.Context, workflowID string) (*models.WorkflowResult, error) {
	record, err := s.load(ctx, workflowID)
	if err != nil {
		return nil, NewWorkflowError("Get", workflowID, err)
	}

	return record, nil
}

func (s *RedisStore) ListActive(ctx context.Context) ([]*models.WorkflowResult, error) {
	ids, err := s.client.SMembers(ctx, redisActiveSet).Result()
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}

	return s.loadAll(ctx, ids), nil
}

func (s *RedisStore) ListCompleted(ctx context.Context, limit int) ([]*models.WorkflowResult, error) {
	if limit <= 0 {
		limit = s.retention
	}

	ids, err := s.client.LRange(ctx, redisCompletedLog, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list completed workflows: %w", err)
	}

	return s.loadAll(ctx, ids), nil
}

func (s *RedisStore) Counts(ctx context.Context) (int, int, int, error) {
	active, err := s.client.SCard(ctx, redisActiveSet).Result()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("count active workflows: %w", err)
	}

	completed, err := s.client.LLen(ctx, redisCompletedLog).Result()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("count completed workflows: %w", err)
	}

	processed, err := s.client.Get(ctx, redisProcessedCount).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, 0, fmt.Errorf("count processed workflows: %w", err)
	}

	return int(active), int(completed), processed, nil
}

func (s *RedisStore) Evict(ctx context.Context) error {
	// Record keys for evicted IDs are left to expire with the list trim;
	// the completed list is the only unbounded structure.
	return s.client.LTrim(ctx, redisCompletedLog, 0, int64(s.retention-1)).Err()
}

func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close(_ context.Context) error {
	return s.client.Close()
}

func (s *RedisStore) load(ctx context.Context, workflowID string) (*models.WorkflowResult, error) {
	payload, err := s.client.Get(ctx, redisKeyPrefix+workflowID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrWorkflowNotFound
	}

	if err != nil {
		return nil, err
	}

	var record models.WorkflowResult
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, err
	}

	return &record, nil
}

func (s *RedisStore) loadAll(ctx context.Context, ids []string) []*models.WorkflowResult {
	results := make([]*models.WorkflowResult, 0, len(ids))

	for _, id := range ids {
		record, err := s.load(ctx, id)
		if err != nil {
			continue
		}

		results = append(results, record)
	}

	return results
}
