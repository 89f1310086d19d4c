package indengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"ta-enginev1/internal/indicator"
	"ta-enginev1/internal/model"
)

// startHTTP serves /reload and /healthz.
func (svc *Service) startHTTP(ctx context.Context) {
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/reload", svc.handleReload)
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "ok")
		})
		log.Printf("[indengine] HTTP server on %s (/reload, /healthz)", svc.cfg.HTTPAddr)
		if err := http.ListenAndServe(svc.cfg.HTTPAddr, mux); err != nil {
			log.Printf("[indengine] HTTP server error: %v", err)
		}
	}()
}

// handleReload accepts a POSTed []indicator.TFSpec and hot-swaps the
// engine's spec set.
func (svc *Service) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var newSpecs []indicator.TFSpec
	if err := json.NewDecoder(r.Body).Decode(&newSpecs); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := indicator.ValidateSpecs(newSpecs); err != nil {
		http.Error(w, "validation: "+err.Error(), http.StatusBadRequest)
		return
	}
	preserved, created := svc.engine.ReloadSpecs(newSpecs)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"preserved": preserved,
		"created":   created,
	})
}

// startSpecSubscriber listens on Redis Pub/Sub for MA spec updates pushed
// by the gateway.
func (svc *Service) startSpecSubscriber(ctx context.Context) {
	go func() {
		pubsub := svc.redisReader.SubscribeChannel(ctx, "config:indicators")
		if pubsub == nil {
			log.Println("[indengine] could not subscribe to config:indicators")
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
				log.Printf("[indengine] received spec update: %s", msg.Payload)
				svc.reloadFromSpecs(ctx, ParseMASpecs(msg.Payload))
			}
		}
	}()
}

// reloadFromSpecs applies a new MA spec list across every enabled TF and
// backfills any instances the reload created.
func (svc *Service) reloadFromSpecs(ctx context.Context, specs []indicator.MASpec) {
	newSpecs := make([]indicator.TFSpec, len(svc.cfg.EnabledTFs))
	for i, tf := range svc.cfg.EnabledTFs {
		newSpecs[i] = indicator.TFSpec{TF: tf, Specs: specs}
	}
	if err := indicator.ValidateSpecs(newSpecs); err != nil {
		log.Printf("[indengine] invalid specs: %v", err)
		return
	}
	preserved, created := svc.engine.ReloadSpecs(newSpecs)
	log.Printf("[indengine] reloaded: preserved=%d, created=%d", preserved, created)

	if created > 0 {
		backfillCh := make(chan model.TFCandle, 5000)
		go func() {
			for _, stream := range svc.streams {
				if _, err := svc.redisReader.ReplayFromID(ctx, stream, "0", backfillCh); err != nil {
					log.Printf("[indengine] reload backfill error on %s: %v", stream, err)
				}
			}
			close(backfillCh)
		}()

		count := 0
		for tfc := range backfillCh {
			if tfc.Forming {
				continue
			}
			if points := svc.engine.Process(tfc); len(points) > 0 {
				svc.redisWriter.WritePointBatch(ctx, points)
			}
			count++
		}
		log.Printf("[indengine] reload backfill: processed %d candles for new instances", count)
	}
}
