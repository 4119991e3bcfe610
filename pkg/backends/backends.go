// Package backends implements the execution-backend client handles that
// InputQueueProcessor dispatches submissions to, keyed by the lowercased
// `client` discriminator in a request's low data (runner, wheel, cloud,
// local). The concrete RedisBackend pushes accepted submissions onto a
// per-kind Redis list, the same RPush idiom the teacher's
// pkg/queue/client.go uses for its priority queues.
package backends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/guido-cesarano/admitq/pkg/idgen"
	"github.com/redis/go-redis/v9"
)

// ErrSubmitFailed is the sentinel RedisBackend.SubmitAsync wraps when a
// FailNext injection fires. Marshal and Redis errors are wrapped as they
// are and do not match it.
var ErrSubmitFailed = errors.New("backends: submit failed")

// Backend is the execution-backend client contract consumed by
// InputQueueProcessor (spec §6: submit_async).
type Backend interface {
	// SubmitAsync submits fun/low for asynchronous execution and returns
	// the backend-assigned jid, or an error (BackendSubmitError, §7).
	SubmitAsync(ctx context.Context, fun string, low map[string]interface{}) (jid string, err error)
}

const keyPrefix = "admitq:backend:"

// RedisBackend is a Redis-list-backed Backend: each accepted submission is
// JSON-encoded and RPushed onto admitq:backend:<kind> for illustration (the
// spec treats the execution service itself as external; nothing in this
// module consumes that list, and no completion events are published for
// these submissions).
type RedisBackend struct {
	rdb  *redis.Client
	Kind string

	// failNext causes the next SubmitAsync call to fail, then resets.
	// Exists purely to let tests exercise §8 P6 (backend failure
	// isolation) without a real unreachable service.
	failNext bool
}

// NewRedisBackend constructs a RedisBackend for the given client kind.
func NewRedisBackend(rdb *redis.Client, kind string) *RedisBackend {
	return &RedisBackend{rdb: rdb, Kind: kind}
}

// FailNext arranges for the next SubmitAsync call on this backend to
// return ErrSubmitFailed instead of succeeding. Test-only hook.
func (b *RedisBackend) FailNext() {
	b.failNext = true
}

type submission struct {
	Jid string                 `json:"jid"`
	Fun string                 `json:"fun"`
	Low map[string]interface{} `json:"low"`
}

// SubmitAsync generates a fresh jid, records the submission on this
// backend's Redis list, and returns the jid.
func (b *RedisBackend) SubmitAsync(ctx context.Context, fun string, low map[string]interface{}) (string, error) {
	if b.failNext {
		b.failNext = false
		return "", fmt.Errorf("backends(%s): %w", b.Kind, ErrSubmitFailed)
	}

	jid := idgen.New()
	data, err := json.Marshal(submission{Jid: jid, Fun: fun, Low: low})
	if err != nil {
		return "", fmt.Errorf("backends(%s): marshal submission: %w", b.Kind, err)
	}
	if err := b.rdb.RPush(ctx, keyPrefix+b.Kind, data).Err(); err != nil {
		return "", fmt.Errorf("backends(%s): record submission: %w", b.Kind, err)
	}
	return jid, nil
}

// Registry maps lowercased client kind to its Backend handle, mirroring
// original_source's SaltRequestManager._instantiate_clients.
type Registry map[string]Backend

// NewRegistry constructs a Registry with one RedisBackend per kind.
func NewRegistry(rdb *redis.Client, kinds []string) Registry {
	reg := make(Registry, len(kinds))
	for _, kind := range kinds {
		reg[kind] = NewRedisBackend(rdb, kind)
	}
	return reg
}
