// Package events implements the non-blocking event-stream drain
// (EventSource, §4.3) and the tag-parsing EventProcessor (§4.4) that turns
// raw events into completion tuples.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/redis/go-redis/v9"
)

// Event is the minimal shape the processor needs: a tag and opaque data.
type Event struct {
	Tag  string          `json:"tag"`
	Data json.RawMessage `json:"data"`
}

// EventSource is the non-blocking drain contract consumed by the manager.
type EventSource interface {
	// GetPending returns every event currently buffered, a finite
	// snapshot per invocation (spec §4.3).
	GetPending(ctx context.Context) ([]Event, error)
}

const streamKey = "admitq:events"

// RedisEventSource backs EventSource with a single Redis list. GetPending
// loops a non-blocking LPOP until the list is empty, which is the Go
// equivalent of the spec's "poll with a small fixed wait (~1ms) repeatedly
// until a poll yields no event" — both produce the same finite,
// stateless-between-calls snapshot semantics (§4.3), and a non-blocking pop
// loop needs no artificial sleep to achieve it.
type RedisEventSource struct {
	rdb *redis.Client
}

// NewRedisEventSource wraps an existing Redis client. sockDir/transport are
// accepted for parity with the spec's "passed through to the event-source
// constructor" configuration knobs but are neither stored nor used — this
// implementation's actual transport is always the wrapped Redis client.
func NewRedisEventSource(rdb *redis.Client, sockDir, transport string) *RedisEventSource {
	return &RedisEventSource{rdb: rdb}
}

// Publish pushes a tagged event onto the stream. Used by the tests, the
// integration tests and the benchmark to inject completion events.
func (s *RedisEventSource) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal event: %w", err)
	}
	return s.rdb.RPush(ctx, streamKey, data).Err()
}

// GetPending drains every event currently on the stream.
func (s *RedisEventSource) GetPending(ctx context.Context) ([]Event, error) {
	var out []Event
	for {
		raw, err := s.rdb.LPop(ctx, streamKey).Result()
		if err == redis.Nil {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("events: get pending: %w", err)
		}
		var evt Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			// MalformedEvent (§7): ignored, event skipped.
			continue
		}
		out = append(out, evt)
	}
}

// tagPattern is the anchored return-event grammar from §4.4:
// salt/(job|run)/([0-9]{20})/ret, with an optional trailing per-minion
// suffix ("/" and anything after it) matched by the (?:/.*)? group before
// the end anchor. The job/run group is non-capturing, so the jid is
// submatch 1.
var tagPattern = regexp.MustCompile(`^salt/(?:job|run)/([0-9]{20})/ret(?:/.*)?$`)

// Completion is the (request_id, queue_name, jid) tuple the manager's
// Update step consumes.
type Completion struct {
	RequestID string
	Queue     string
	Jid       string
}

// JidEntry is the value side of the shared jid->request map the processor
// consults (§4.4 step 2).
type JidEntry struct {
	RequestID string
	Queue     string
}

// Processor is the stateless EventProcessor (§4.4): it remembers nothing
// between Parse calls, relying on the caller to remove retired jids from
// jidMap so duplicate events become benign no-ops.
type Processor struct{}

// NewProcessor constructs an EventProcessor. It carries no state.
func NewProcessor() *Processor {
	return &Processor{}
}

// Parse extracts completion tuples from evts, consulting jidMap to resolve
// each matching jid to its owning request/queue. Events whose tag doesn't
// match tagPattern, or whose jid isn't (or is no longer) tracked, are
// silently skipped — both are explicitly benign per §4.4.
func (p *Processor) Parse(evts []Event, jidMap map[string]JidEntry) []Completion {
	var out []Completion
	for _, evt := range evts {
		m := tagPattern.FindStringSubmatch(evt.Tag)
		if m == nil {
			continue
		}
		jid := m[1]
		entry, ok := jidMap[jid]
		if !ok {
			continue
		}
		out = append(out, Completion{RequestID: entry.RequestID, Queue: entry.Queue, Jid: jid})
	}
	return out
}
