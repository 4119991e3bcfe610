// Package main implements admitq's HTTP API server: the client-facing
// surface over RequestManager.InitializeRequest plus a handful of
// read-only operability endpoints (GetRequest, GetReqForJid, queue
// depths).
//
// API Endpoints:
//
//	POST /requests?queue=<name>  - submits a new request, returns its id
//	GET  /requests?queue=<name>&id=<request_id> - returns a request's snapshot history
//	GET  /jids?jid=<jid>         - resolves a jid back to (request_id, queue)
//	GET  /stats                  - run-queue and input-queue depths
//
// This process never calls Poll or Update, so its RequestManager tracks no
// request: GET /requests and GET /jids answer 404 and /stats reports a
// run_queue of 0. Only POST /requests and the pending counts reflect the
// shared Redis store; cmd/driver runs the poll/update loop in its own
// process.
//
// Usage:
//
//	go run cmd/server/main.go -config admitq.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"

	"github.com/guido-cesarano/admitq/pkg/backends"
	"github.com/guido-cesarano/admitq/pkg/config"
	"github.com/guido-cesarano/admitq/pkg/events"
	"github.com/guido-cesarano/admitq/pkg/logger"
	"github.com/guido-cesarano/admitq/pkg/manager"
	"github.com/guido-cesarano/admitq/pkg/requests"
	"github.com/guido-cesarano/admitq/pkg/store"
	"github.com/redis/go-redis/v9"
)

// authMiddleware wraps an http.HandlerFunc and enforces API Key
// authentication, same shape as the teacher's cmd/server/main.go.
func authMiddleware(next http.HandlerFunc, requiredKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if requiredKey == "" {
			next(w, r)
			return
		}
		if r.Header.Get("X-API-Key") != requiredKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// enableCORS wraps an http.HandlerFunc and adds CORS headers.
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

// statsSnapshot is the /stats response shape: per-queue in-flight run-queue
// occupancy alongside pending input-queue store depth.
type statsSnapshot struct {
	RunQueue int `json:"run_queue"`
	Pending  int `json:"pending"`
}

// setupRouter configures the HTTP handlers and returns the mux.
func setupRouter(m *manager.RequestManager, qs store.QueueStore, apiKey string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/requests", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			queue := r.URL.Query().Get("queue")
			if queue == "" {
				http.Error(w, "Missing queue parameter", http.StatusBadRequest)
				return
			}

			var low requests.Low
			if err := json.NewDecoder(r.Body).Decode(&low); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			requestID, err := m.InitializeRequest(r.Context(), queue, low)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"request_id": requestID})

		case http.MethodGet:
			queue := r.URL.Query().Get("queue")
			requestID := r.URL.Query().Get("id")
			if queue == "" || requestID == "" {
				http.Error(w, "Missing queue or id parameter", http.StatusBadRequest)
				return
			}

			snapshots := m.GetRequest(queue, requestID)
			if snapshots == nil {
				http.Error(w, "Request not found", http.StatusNotFound)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(snapshots)

		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}, apiKey)))

	mux.HandleFunc("/jids", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		jid := r.URL.Query().Get("jid")
		if jid == "" {
			http.Error(w, "Missing jid parameter", http.StatusBadRequest)
			return
		}

		requestID, queue, ok := m.GetReqForJid(jid)
		if !ok {
			http.Error(w, "Jid not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"request_id": requestID, "queue": queue})
	}, apiKey)))

	mux.HandleFunc("/stats", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		stats := make(map[string]statsSnapshot)
		for _, queue := range m.QueueNames() {
			pending, err := qs.List(r.Context(), queue)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			stats[queue] = statsSnapshot{RunQueue: m.RunQueueDepth(queue), Pending: len(pending)}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}, apiKey)))

	return mux
}

func buildManager(cfg *config.Config, rdb *redis.Client) (*manager.RequestManager, *store.RedisQueueStore) {
	queues := make([]manager.QueueConfig, 0, len(cfg.InputQueues))
	for _, q := range cfg.InputQueues {
		queues = append(queues, manager.QueueConfig{Name: q.Name, Capacity: q.Capacity})
	}

	kinds := cfg.Backends
	if len(kinds) == 0 {
		kinds = []string{"runner", "wheel", "cloud", "local"}
	}
	registry := backends.NewRegistry(rdb, kinds)

	qs := store.NewRedisQueueStore(rdb)
	es := events.NewRedisEventSource(rdb, cfg.SockDir, cfg.Transport)

	return manager.New(queues, registry, qs, es), qs
}

func main() {
	configPath := flag.String("config", "admitq.yaml", "path to the admitq configuration file")
	apiKey := flag.String("api-key", "", "required X-API-Key header value; empty disables auth")
	addr := flag.String("addr", ":8081", "HTTP listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	m, qs := buildManager(cfg, rdb)

	if *apiKey == "" {
		logger.Log.Warn().Msg("API key not set. Authentication disabled.")
	} else {
		logger.Log.Info().Msg("API authentication enabled.")
	}

	mux := setupRouter(m, qs, *apiKey)

	logger.Log.Info().Str("addr", *addr).Msg("admitq server listening")
	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Log.Fatal().Err(err).Msg("Server failed")
	}
}
