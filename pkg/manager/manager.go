// Package manager implements the throttled submission engine's top-level
// orchestrator (RequestManager) and its per-queue admission processor
// (InputQueueProcessor) — the direct Go translation of
// original_source/salt/request_queuing/salt_request_manager.py's
// SaltRequestManager/InputQueueProcessor pair.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/guido-cesarano/admitq/pkg/backends"
	"github.com/guido-cesarano/admitq/pkg/events"
	"github.com/guido-cesarano/admitq/pkg/idgen"
	"github.com/guido-cesarano/admitq/pkg/logger"
	"github.com/guido-cesarano/admitq/pkg/requests"
	"github.com/guido-cesarano/admitq/pkg/runqueue"
	"github.com/guido-cesarano/admitq/pkg/store"
)

// ErrStoreUnavailable surfaces a QueueStore failure to InitializeRequest's
// caller (§7).
var ErrStoreUnavailable = errors.New("manager: store unavailable")

// ErrUnknownQueue is returned by InitializeRequest when the named queue
// isn't configured.
var ErrUnknownQueue = errors.New("manager: unknown input queue")

// QueueConfig names a configured input queue and its in-flight capacity
// (spec §3).
type QueueConfig struct {
	Name     string
	Capacity int
}

// jidEntry is an alias for events.JidEntry, so the jid map the processors
// write is the same map type events.Processor.Parse reads in Update.
type jidEntry = events.JidEntry

// RequestManager owns every in-flight request's lifecycle and per-queue
// state (§4.6). All of its exported methods are safe to call concurrently
// with each other (guarded by mu); Poll and Update are still expected to be
// invoked sequentially by a single driver loop per §5, but the mutex lets
// read-only accessors (GetRequest, GetReqForJid, RunQueueDepth, QueueNames) run concurrently
// from an HTTP handler goroutine.
type RequestManager struct {
	mu sync.Mutex

	queueOrder []string
	capacities map[string]int
	runQueues  map[string]*runqueue.RunQueue

	// requests maps queue name -> request id -> ordered snapshot history.
	requests map[string]map[string][]requests.Request

	jidMap map[string]jidEntry

	processors map[string]*InputQueueProcessor

	store           store.QueueStore
	eventSource     events.EventSource
	eventProcessor  *events.Processor
}

// New constructs a RequestManager for the given queue configuration,
// backend registry, store, and event source.
func New(queues []QueueConfig, backendRegistry backends.Registry, qs store.QueueStore, es events.EventSource) *RequestManager {
	m := &RequestManager{
		queueOrder: make([]string, 0, len(queues)),
		capacities: make(map[string]int, len(queues)),
		runQueues:  make(map[string]*runqueue.RunQueue, len(queues)),
		requests:   make(map[string]map[string][]requests.Request, len(queues)),
		jidMap:     make(map[string]jidEntry),
		processors: make(map[string]*InputQueueProcessor, len(queues)),

		store:          qs,
		eventSource:    es,
		eventProcessor: events.NewProcessor(),
	}

	for _, q := range queues {
		m.queueOrder = append(m.queueOrder, q.Name)
		m.capacities[q.Name] = q.Capacity
		m.runQueues[q.Name] = runqueue.New(q.Name, q.Capacity)
		m.requests[q.Name] = make(map[string][]requests.Request)
		m.processors[q.Name] = &InputQueueProcessor{
			queueName: q.Name,
			runQueue:  m.runQueues[q.Name],
			registry:  m.requests[q.Name],
			jidMap:    m.jidMap,
			clients:   backendRegistry,
		}
	}

	return m
}

// InitializeRequest persists a new request record and returns its id
// (§4.6). The in-memory registry is deliberately not populated here; it is
// populated by Poll when the record is next read back from the store.
func (m *RequestManager) InitializeRequest(ctx context.Context, inputQueue string, low requests.Low) (string, error) {
	m.mu.Lock()
	_, known := m.capacities[inputQueue]
	m.mu.Unlock()
	if !known {
		return "", fmt.Errorf("%w: %s", ErrUnknownQueue, inputQueue)
	}

	requestID := idgen.New()
	record := requests.New(requestID, inputQueue, low)

	if err := m.store.Insert(ctx, inputQueue, []requests.Request{record}); err != nil {
		logger.Log.Error().Err(err).Str("queue", inputQueue).Msg("manager: store insert failed")
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	logger.Log.Debug().Str("request_id", requestID).Str("queue", inputQueue).Msg("manager: new request initialized")
	return requestID, nil
}

// Poll reads pending records from every configured input queue, hands each
// queue's records to its InputQueueProcessor, and asks the store to delete
// every successfully submitted record (§4.6).
func (m *RequestManager) Poll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, err := m.store.ReadAll(ctx, m.queueOrder, m.capacities)
	if err != nil {
		logger.Log.Error().Err(err).Msg("manager: poll aborted, store unavailable")
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	toDelete := make(map[string][]requests.Request, len(m.queueOrder))
	for _, queueName := range m.queueOrder {
		records, ok := pending[queueName]
		if !ok {
			continue
		}

		// Lazily populate the registry with each record's "new" snapshot
		// the first time it is read back from the store (§3 "created
		// ... lazily when the record is next read back via poll"); a
		// record already tracked (e.g. still new from a prior poll that
		// couldn't admit it) is left alone.
		registry := m.requests[queueName]
		for _, rec := range records {
			if _, tracked := registry[rec.RequestID]; !tracked {
				registry[rec.RequestID] = []requests.Request{rec}
			}
		}

		submittedIDs := m.processors[queueName].submitPending(ctx, records)
		if len(submittedIDs) == 0 {
			continue
		}

		var deletes []requests.Request
		for _, rid := range submittedIDs {
			snapshots := m.requests[queueName][rid]
			if len(snapshots) == 0 {
				continue
			}
			// "First" snapshot per §4.6 step 3 is the request's
			// originally-stored new-state form; reconstructing its
			// nil-jid template lets the delete match what the store
			// actually holds regardless of how many snapshots were
			// appended since (see InputQueueProcessor.submitPending).
			deletes = append(deletes, snapshots[0].WithNilJid())
		}
		if len(deletes) > 0 {
			toDelete[queueName] = deletes
		}
	}

	for queueName, records := range toDelete {
		if err := m.store.Delete(ctx, queueName, records); err != nil {
			logger.Log.Error().Err(err).Str("queue", queueName).Msg("manager: delete submitted records failed")
		}
	}

	return nil
}

// Update drains the event stream and retires the slot for every completion
// it identifies (§4.6). All removals tolerate missing keys defensively
// (invariant I5).
func (m *RequestManager) Update(ctx context.Context) error {
	evts, err := m.eventSource.GetPending(ctx)
	if err != nil {
		logger.Log.Error().Err(err).Msg("manager: update aborted, event source unavailable")
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	completions := m.eventProcessor.Parse(evts, m.jidMap)
	for _, c := range completions {
		if rq, ok := m.runQueues[c.Queue]; ok {
			rq.Remove(c.Jid)
		}
		if q, ok := m.requests[c.Queue]; ok {
			delete(q, c.RequestID)
		}
		delete(m.jidMap, c.Jid)
		logger.Log.Debug().Str("request_id", c.RequestID).Str("queue", c.Queue).Str("jid", c.Jid).Msg("manager: request completed")
	}

	return nil
}

// GetRequest returns the snapshot history for requestID in inputQueue, or
// nil if absent.
func (m *RequestManager) GetRequest(inputQueue, requestID string) []requests.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.requests[inputQueue]
	if !ok {
		return nil
	}
	return q[requestID]
}

// GetReqForJid returns the (request id, queue name) a jid currently maps
// to, or ok=false if the jid is unknown (already retired, or never
// submitted).
func (m *RequestManager) GetReqForJid(jid string) (requestID, queue string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, found := m.jidMap[jid]
	if !found {
		return "", "", false
	}
	return entry.RequestID, entry.Queue, true
}

// RunQueueDepth returns the current in-flight count for queueName.
func (m *RequestManager) RunQueueDepth(queueName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	rq, ok := m.runQueues[queueName]
	if !ok {
		return 0
	}
	return rq.Len()
}

// QueueNames returns the configured input queue names in configuration
// order.
func (m *RequestManager) QueueNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.queueOrder))
	copy(out, m.queueOrder)
	return out
}
