package indengine

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/pquerna/otp/totp"

	"ta-systemv1/internal/indicator"
	"ta-systemv1/internal/metrics"
)

// startHTTP launches the HTTP server: Prometheus /metrics, /healthz, and the
// TOTP-guarded /reload endpoint, all on one listener.
func (svc *Service) startHTTP(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/reload", svc.handleReload)
	srv := metrics.NewServerWithMux(svc.cfg.HTTPAddr, svc.health, mux)
	srv.Start()
	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(stopCtx)
	}()
	log.Printf("[indengine] HTTP server on %s (/metrics, /healthz, /reload)", svc.cfg.HTTPAddr)
}

// handleReload handles POST /reload for live config updates via HTTP.
// When RELOAD_TOTP_SECRET is set, callers must present a valid one-time
// code in the X-Reload-Code header.
func (svc *Service) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	if svc.cfg.ReloadTOTPSecret != "" {
		code := r.Header.Get("X-Reload-Code")
		if !totp.Validate(code, svc.cfg.ReloadTOTPSecret) {
			http.Error(w, "invalid or missing X-Reload-Code", http.StatusUnauthorized)
			return
		}
	}
	var newConfigs []indicator.TFIndicatorConfig
	if err := json.NewDecoder(r.Body).Decode(&newConfigs); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := indicator.ValidateConfigs(newConfigs); err != nil {
		http.Error(w, "validation: "+err.Error(), http.StatusBadRequest)
		return
	}
	preserved, created := svc.engine.ReloadConfigs(newConfigs)
	svc.prom.ReloadsTotal.Inc()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"preserved": preserved,
		"created":   created,
	})
}

// startConfigSubscriber listens on Redis PubSub for dynamic indicator config updates.
func (svc *Service) startConfigSubscriber(ctx context.Context) {
	go func() {
		pubsub := svc.source.SubscribeChannel(ctx, "config:indicators")
		if pubsub == nil {
			log.Println("[indengine] WARNING: could not subscribe to config:indicators")
			return
		}
		defer pubsub.Close()
		log.Println("[indengine] subscribed to config:indicators for dynamic reload")

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				log.Printf("[indengine] received config update: %s", msg.Payload)
				svc.reloadFromSpecs(ctx, ParseIndicatorSpecs(msg.Payload))
			}
		}
	}()
}

// reloadFromSpecs rebuilds TF configs from indicator specs and reloads the engine.
// If new indicators are created, backfills them from Redis candle streams.
func (svc *Service) reloadFromSpecs(ctx context.Context, newSpecs []indicator.IndicatorConfig) {
	newConfigs := make([]indicator.TFIndicatorConfig, len(svc.cfg.EnabledTFs))
	for i, tf := range svc.cfg.EnabledTFs {
		newConfigs[i] = indicator.TFIndicatorConfig{TF: tf, Indicators: newSpecs}
	}
	if err := indicator.ValidateConfigs(newConfigs); err != nil {
		log.Printf("[indengine] invalid config: %v", err)
		return
	}
	preserved, created := svc.engine.ReloadConfigs(newConfigs)
	svc.prom.ReloadsTotal.Inc()
	log.Printf("[indengine] reloaded: preserved=%d, created=%d", preserved, created)

	// New indicators start cold; feed them the retained stream history.
	if created > 0 {
		n := svc.replayStreams(ctx, "0")
		log.Printf("[indengine] ✅ reload backfill: processed %d candles for new indicators", n)
	}
}
