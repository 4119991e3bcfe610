// Package main provides a benchmark tool for admitq to measure request
// submission and end-to-end admission throughput.
// It submits a large number of dummy requests and measures completion time.
//
// Usage:
//
//	go run benchmark/main.go -requests 10000 -queue default
package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/guido-cesarano/admitq/pkg/backends"
	"github.com/guido-cesarano/admitq/pkg/events"
	"github.com/guido-cesarano/admitq/pkg/manager"
	"github.com/guido-cesarano/admitq/pkg/requests"
	"github.com/guido-cesarano/admitq/pkg/store"
	"github.com/redis/go-redis/v9"
)

func main() {
	numRequests := flag.Int("requests", 10000, "Number of requests to submit")
	numWorkers := flag.Int("workers", 10, "Number of concurrent submitters")
	queueName := flag.String("queue", "default", "Input queue to submit against")
	capacity := flag.Int("capacity", 50, "In-flight capacity of the benchmark queue")
	flag.Parse()

	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()

	registry := backends.NewRegistry(rdb, []string{"benchmark"})
	qs := store.NewRedisQueueStore(rdb)
	es := events.NewRedisEventSource(rdb, "", "")
	m := manager.New([]manager.QueueConfig{{Name: *queueName, Capacity: *capacity}}, registry, qs, es)

	fmt.Printf("admitq Benchmark\n")
	fmt.Printf("================\n")
	fmt.Printf("Requests to submit: %d\n", *numRequests)
	fmt.Printf("Concurrent submitters: %d\n", *numWorkers)
	fmt.Printf("Queue: %s (capacity %d)\n\n", *queueName, *capacity)

	fmt.Printf("Starting submission phase...\n")
	startSubmit := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var submitted atomic.Int64
	requestIDs := make([]string, 0, *numRequests)
	requestsPerWorker := *numRequests / *numWorkers

	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < requestsPerWorker; j++ {
				low := requests.Low{
					"client": "benchmark",
					"fun":    "test.ping",
					"id":     uuid.New().String(),
					"worker": workerID,
					"seq":    j,
				}
				requestID, err := m.InitializeRequest(ctx, *queueName, low)
				if err != nil {
					fmt.Printf("Error submitting: %v\n", err)
					return
				}
				mu.Lock()
				requestIDs = append(requestIDs, requestID)
				mu.Unlock()
				submitted.Add(1)
			}
		}(i)
	}

	wg.Wait()
	submitTime := time.Since(startSubmit)

	fmt.Printf("Submitted %d requests in %s\n", submitted.Load(), submitTime)
	fmt.Printf("  Throughput: %.2f requests/sec\n\n", float64(submitted.Load())/submitTime.Seconds())

	// There is no real execution backend consuming admitq:backend:benchmark,
	// so this benchmark simulates one: as soon as a request goes running, it
	// publishes the matching return event itself, letting Update retire the
	// slot and the run queue keep absorbing the backlog.
	fmt.Printf("Driving the loop until every request is admitted and retired...\n")
	startDrain := time.Now()

	retired := make(map[string]bool, len(requestIDs))
	for {
		if err := m.Poll(ctx); err != nil {
			fmt.Printf("Poll error: %v\n", err)
		}

		for _, id := range requestIDs {
			if retired[id] {
				continue
			}
			snapshots := m.GetRequest(*queueName, id)
			if len(snapshots) == 0 {
				continue
			}
			last := snapshots[len(snapshots)-1]
			if last.Jid == nil {
				continue
			}
			tag := fmt.Sprintf("salt/job/%s/ret", *last.Jid)
			if err := es.Publish(ctx, events.Event{Tag: tag}); err != nil {
				fmt.Printf("Publish error: %v\n", err)
				continue
			}
			retired[id] = true
		}

		if err := m.Update(ctx); err != nil {
			fmt.Printf("Update error: %v\n", err)
		}

		pending, err := qs.List(ctx, *queueName)
		if err != nil {
			fmt.Printf("List error: %v\n", err)
		}
		if len(pending) == 0 && m.RunQueueDepth(*queueName) == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	drainTime := time.Since(startDrain)

	fmt.Printf("\nAll requests admitted and retired in %s\n", drainTime)
	fmt.Printf("  Throughput: %.2f requests/sec\n", float64(*numRequests)/drainTime.Seconds())

	totalTime := submitTime + drainTime
	fmt.Printf("\nTotal time: %s\n", totalTime)
	fmt.Printf("Overall throughput: %.2f requests/sec\n", float64(*numRequests)/totalTime.Seconds())
}
