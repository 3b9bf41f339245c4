package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ta-systemv1/internal/gateway"
	"ta-systemv1/internal/logger"
	"ta-systemv1/internal/metrics"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("gateway", logger.LevelFromEnv(os.Getenv("LOG_LEVEL")))

	cfg := gateway.LoadConfig()
	processStart := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("[gateway] redis connection failed: %v", err)
	}
	log.Printf("[gateway] redis connected at %s", cfg.RedisAddr)

	hub := gateway.NewHub(rdb, metrics.NewMetrics(), cfg.EnabledTFs, cfg.TokenKeys)
	go hub.Run(ctx)
	go hub.StartStatsBroadcast(ctx, processStart)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	gateway.RegisterRoutes(mux, hub, rdb, ctx, cfg.EnabledTFs, cfg.TokenKeys, processStart)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Printf("[gateway] ✅ serving at http://localhost%s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[gateway] server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[gateway] shutting down...")
	cancel()
	srv.Shutdown(context.Background())
}
