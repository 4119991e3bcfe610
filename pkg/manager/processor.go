package manager

import (
	"context"

	"github.com/guido-cesarano/admitq/pkg/backends"
	"github.com/guido-cesarano/admitq/pkg/logger"
	"github.com/guido-cesarano/admitq/pkg/requests"
	"github.com/guido-cesarano/admitq/pkg/runqueue"
)

// InputQueueProcessor performs admission control for one configured input
// queue (§4.5). It holds only the references it needs — its RunQueue, its
// registry slice, the shared jid map, and the backend client table — with
// no back-pointer to the owning RequestManager (per §9's note on avoiding
// the source's cyclic self-reference).
type InputQueueProcessor struct {
	queueName string
	runQueue  *runqueue.RunQueue
	registry  map[string][]requests.Request
	jidMap    map[string]jidEntry
	clients   backends.Registry
}

// submitPending implements the admission loop from §4.5: dispatch pending
// records in FIFO order while the run queue has room, skipping (logging
// and leaving in the input queue) any record whose backend submission
// fails. It returns the request ids that were successfully submitted, for
// the caller to build delete-template records from.
func (p *InputQueueProcessor) submitPending(ctx context.Context, pending []requests.Request) []string {
	var submitted []string

	i := 0
	for i < len(pending) && !p.runQueue.IsFull() {
		req := pending[i]
		i++

		client := req.Low.Client()
		backend, ok := p.clients[client]
		if !ok {
			logger.Log.Error().Str("queue", p.queueName).Str("request_id", req.RequestID).Str("client", client).
				Msg("manager: unknown client kind, skipping request")
			continue
		}

		jid, err := backend.SubmitAsync(ctx, req.Low.Fun(), req.Low)
		if err != nil {
			logger.Log.Error().Err(err).Str("queue", p.queueName).Str("request_id", req.RequestID).
				Msg("manager: backend submission failed, leaving request queued")
			continue
		}

		// IsFull was already checked above, so Add cannot fail here
		// under the single-threaded discipline §5 requires.
		if err := p.runQueue.Add(jid); err != nil {
			logger.Log.Error().Err(err).Str("queue", p.queueName).Str("jid", jid).
				Msg("manager: run queue add failed unexpectedly")
			continue
		}

		running := req.WithJid(jid)
		p.registry[req.RequestID] = append(p.registry[req.RequestID], running)
		p.jidMap[jid] = jidEntry{RequestID: req.RequestID, Queue: p.queueName}

		submitted = append(submitted, req.RequestID)
	}

	return submitted
}
