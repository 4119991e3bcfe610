// Package store implements the QueueStore client: a thin adapter over the
// external, durable input-queue service. This implementation backs each
// configured input queue with a Redis list, following the same
// RPush/LRange/LRem idiom the teacher's pkg/queue/client.go uses for its
// priority queues.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/guido-cesarano/admitq/pkg/logger"
	"github.com/guido-cesarano/admitq/pkg/requests"
	"github.com/redis/go-redis/v9"
)

// QueueStore is the interface InputQueueProcessor/RequestManager depend on.
// It abstracts over the persistent input-queue service (§4.2).
type QueueStore interface {
	// List returns the records currently stored for queueName, in
	// insertion order.
	List(ctx context.Context, queueName string) ([]requests.Request, error)
	// Insert durably appends reqs to queueName.
	Insert(ctx context.Context, queueName string, reqs []requests.Request) error
	// Delete durably removes reqs from queueName, matched by record
	// equality (see pkg/store doc comment and DESIGN.md for the chosen
	// match semantics).
	Delete(ctx context.Context, queueName string, reqs []requests.Request) error
	// ReadAll returns, for every queueName in queueNames, its pending
	// records truncated to capacities[queueName].
	ReadAll(ctx context.Context, queueNames []string, capacities map[string]int) (map[string][]requests.Request, error)
}

// keyPrefix namespaces admitq's Redis keys from anything else sharing the
// same Redis instance.
const keyPrefix = "admitq:queue:"

func key(queueName string) string {
	return keyPrefix + queueName
}

// RedisQueueStore is the concrete Redis-backed QueueStore. Record match
// semantics for Delete are structural equality of the JSON encoding: the
// open question in spec §9 (primary-key vs structural match) is resolved
// this way because it directly mirrors the teacher's LRem-by-value idiom;
// see DESIGN.md for the rationale and the primary-key alternative that was
// considered.
type RedisQueueStore struct {
	rdb *redis.Client
}

// NewRedisQueueStore wraps an existing Redis client.
func NewRedisQueueStore(rdb *redis.Client) *RedisQueueStore {
	return &RedisQueueStore{rdb: rdb}
}

// List returns queueName's records in the order they were RPushed, i.e.
// insertion order (oldest first).
func (s *RedisQueueStore) List(ctx context.Context, queueName string) ([]requests.Request, error) {
	raw, err := s.rdb.LRange(ctx, key(queueName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", queueName, err)
	}

	out := make([]requests.Request, 0, len(raw))
	for _, item := range raw {
		var req requests.Request
		if err := json.Unmarshal([]byte(item), &req); err != nil {
			logger.Log.Error().Err(err).Str("queue", queueName).Msg("store: skipping malformed record")
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

// Insert durably appends reqs to queueName.
func (s *RedisQueueStore) Insert(ctx context.Context, queueName string, reqs []requests.Request) error {
	if len(reqs) == 0 {
		return nil
	}
	encoded := make([]interface{}, 0, len(reqs))
	for _, req := range reqs {
		data, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("store: marshal request %s: %w", req.RequestID, err)
		}
		encoded = append(encoded, data)
	}
	if err := s.rdb.RPush(ctx, key(queueName), encoded...).Err(); err != nil {
		return fmt.Errorf("store: insert %s: %w", queueName, err)
	}
	return nil
}

// Delete removes each of reqs from queueName by structural JSON-equality
// match, one LRem per record (mirrors the teacher's Ack/Complete/Retry
// idiom of LRem-by-exact-value).
func (s *RedisQueueStore) Delete(ctx context.Context, queueName string, reqs []requests.Request) error {
	if len(reqs) == 0 {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	for _, req := range reqs {
		data, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("store: marshal request %s: %w", req.RequestID, err)
		}
		pipe.LRem(ctx, key(queueName), 1, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: delete %s: %w", queueName, err)
	}
	return nil
}

// ReadAll lists every queue in queueNames and truncates each result to its
// configured capacity, matching §4.2/§4.6's "truncated to capacity by the
// store adapter" contract.
func (s *RedisQueueStore) ReadAll(ctx context.Context, queueNames []string, capacities map[string]int) (map[string][]requests.Request, error) {
	pending := make(map[string][]requests.Request, len(queueNames))
	for _, name := range queueNames {
		reqs, err := s.List(ctx, name)
		if err != nil {
			return nil, err
		}
		if len(reqs) == 0 {
			continue
		}
		capacity := capacities[name]
		if capacity > 0 && len(reqs) > capacity {
			reqs = reqs[:capacity]
		}
		pending[name] = reqs
	}
	return pending, nil
}
