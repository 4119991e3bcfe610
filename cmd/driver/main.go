// Package main implements admitq's driver loop: the single-threaded
// cooperative process that alternates RequestManager.Poll and
// RequestManager.Update on a fixed interval (§5).
//
// Features:
//   - Fixed-interval poll/update loop, ticker-driven
//   - Prometheus metrics exposed on :9090/metrics
//   - Graceful shutdown on SIGINT/SIGTERM
//
// Usage:
//
//	go run cmd/driver/main.go -config admitq.yaml
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guido-cesarano/admitq/pkg/backends"
	"github.com/guido-cesarano/admitq/pkg/config"
	"github.com/guido-cesarano/admitq/pkg/events"
	"github.com/guido-cesarano/admitq/pkg/logger"
	"github.com/guido-cesarano/admitq/pkg/manager"
	"github.com/guido-cesarano/admitq/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Prometheus metrics for the driver loop.
var (
	// pollDuration tracks time spent in each Poll call.
	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "admitq_poll_duration_seconds",
		Help:    "Duration of each RequestManager.Poll call",
		Buckets: prometheus.DefBuckets,
	})

	// updateDuration tracks time spent in each Update call.
	updateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "admitq_update_duration_seconds",
		Help:    "Duration of each RequestManager.Update call",
		Buckets: prometheus.DefBuckets,
	})

	// runQueueDepth tracks current in-flight occupancy per input queue.
	runQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "admitq_run_queue_depth",
		Help: "Number of in-flight requests per input queue",
	}, []string{"queue"})

	// pollErrors counts failed Poll/Update calls by step.
	pollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "admitq_driver_errors_total",
		Help: "Total number of failed driver loop steps",
	}, []string{"step"})
)

func buildManager(cfg *config.Config, rdb *redis.Client) *manager.RequestManager {
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

	return manager.New(queues, registry, qs, es)
}

// runLoop alternates Poll and Update on a fixed interval until ctx is
// cancelled (§5's single-threaded cooperative driver loop).
func runLoop(ctx context.Context, m *manager.RequestManager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pollStart := time.Now()
			if err := m.Poll(ctx); err != nil {
				logger.Log.Error().Err(err).Msg("driver: poll step failed")
				pollErrors.WithLabelValues("poll").Inc()
			}
			pollDuration.Observe(time.Since(pollStart).Seconds())

			updateStart := time.Now()
			if err := m.Update(ctx); err != nil {
				logger.Log.Error().Err(err).Msg("driver: update step failed")
				pollErrors.WithLabelValues("update").Inc()
			}
			updateDuration.Observe(time.Since(updateStart).Seconds())

			for _, queue := range m.QueueNames() {
				runQueueDepth.WithLabelValues(queue).Set(float64(m.RunQueueDepth(queue)))
			}
		}
	}
}

func main() {
	configPath := flag.String("config", "admitq.yaml", "path to the admitq configuration file")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	interval := time.Duration(cfg.LoopInterval * float64(time.Second))
	if interval <= 0 {
		interval = time.Second
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	m := buildManager(cfg, rdb)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		logger.Log.Info().Str("addr", *metricsAddr).Msg("Metrics server listening")
		http.ListenAndServe(*metricsAddr, nil)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Log.Info().Msg("Shutting down driver...")
		cancel()
	}()

	logger.Log.Info().Dur("interval", interval).Msg("Driver started")
	runLoop(ctx, m, interval)
}
