// Command example-server demonstrates quota-limiter guarding an outbound
// call to a fictitious rate-limited upstream, optionally distributed across
// replicas sharing a Redis channel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/manenim/quota-limiter/internal/config"
	"github.com/manenim/quota-limiter/internal/logging"
	"github.com/manenim/quota-limiter/internal/metrics"
	"github.com/manenim/quota-limiter/pkg/limiter"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(registry)

	quota := toLimiterQuota(cfg.Quota)

	var l *limiter.Limiter
	if cfg.Distributed {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		dm, err := limiter.NewDistributedQuotaManager(quota, cfg.Channel, client,
			limiter.WithIDGenerator(uuid.NewString),
			limiter.WithDistributedLogger(logger),
			limiter.WithDistributedRecorder(recorder),
		)
		if err != nil {
			log.Fatalf("distributed quota manager: %v", err)
		}
		select {
		case <-dm.Ready():
		case <-time.After(10 * time.Second):
			logger.Warn("timed out waiting for peer discovery; proceeding with current share")
		}
		l = limiter.NewLimiterFromManager(dm,
			limiter.WithLogger(logger),
			limiter.WithRecorder(recorder),
		)
	} else {
		l, err = limiter.NewLimiter(quota,
			limiter.WithLogger(logger),
			limiter.WithRecorder(recorder),
		)
		if err != nil {
			log.Fatalf("limiter: %v", err)
		}
	}
	defer l.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-Id")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set("X-Trace-Id", traceID)
		reqLogger := logger.With(zap.String("trace_id", traceID))

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		result, err := l.Schedule(ctx, func() (any, error) {
			return callUpstream(ctx)
		})
		if err != nil {
			var timeout *limiter.RateLimitTimeoutError
			if errors.As(err, &timeout) {
				reqLogger.Warn("rate limit queue deadline exceeded", zap.Duration("max_delay", timeout.MaxDelay))
				w.Header().Set("Retry-After", fmt.Sprintf("%.2f", timeout.MaxDelay.Seconds()))
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte("rate limit queue deadline exceeded\n"))
				return
			}
			reqLogger.Warn("upstream call failed", zap.Error(err))
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		reqLogger.Info("upstream call succeeded")
		fmt.Fprintf(w, "%v\n", result)
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	go func() {
		logger.Info("starting metrics server", zap.String("addr", cfg.MetricsAddr))
		if err := http.ListenAndServe(cfg.MetricsAddr, metricsMux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("starting server", zap.String("addr", cfg.ListenAddr))
	if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func toLimiterQuota(c config.QuotaConfig) limiter.Quota {
	q := limiter.Quota{
		MaxDelay:  c.MaxDelay,
		FastStart: c.FastStart,
	}
	if c.Rate > 0 {
		q.Rate = limiter.IntQuota(c.Rate)
		q.Interval = c.Interval
	}
	if c.Concurrency > 0 {
		q.Concurrency = limiter.IntQuota(c.Concurrency)
	}
	return q
}

// callUpstream simulates an outbound call to the rate-limited service this
// limiter protects.
func callUpstream(ctx context.Context) (any, error) {
	select {
	case <-time.After(50 * time.Millisecond):
		return "pong", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
