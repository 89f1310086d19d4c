// cmd/api_gateway bridges Redis PubSub to WebSocket clients and serves
// the REST API for candle and indicator history, active indicator
// config and system metrics.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"ta-enginev1/config"
	"ta-enginev1/internal/gateway"
)

var processStart = time.Now()

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[gateway] starting...")

	cfg := config.Load()

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("[gateway] redis connection failed: %v", err)
	}
	log.Printf("[gateway] redis connected at %s", cfg.RedisAddr)

	tfs := cfg.ParseTFs()
	tokenKeys := cfg.ParseTokens()
	indicators := indicatorLabels(cfg.IndicatorConfigs)
	log.Printf("[gateway] TFs=%v tokens=%v indicators=%v", tfs, tokenKeys, indicators)

	hub := gateway.NewHub(rdb, tfs, tokenKeys, indicators)
	go hub.Run(ctx)
	go hub.StartMetricsBroadcast(ctx, processStart)

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, rdb, ctx, tfs, tokenKeys, indicators, processStart)

	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("[gateway] serving at http://localhost%s", cfg.GatewayAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[gateway] server error: %v", err)
		}
	}()

	<-sigCh
	log.Println("[gateway] shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	log.Println("[gateway] shutdown complete.")
}

// indicatorLabels turns "TYPE:PERIOD" config entries into the display
// labels the engine publishes under, e.g. "SMA:9" into "SMA(9)".
func indicatorLabels(s string) []string {
	defaults := []string{"SMA(9)", "SMA(20)", "SMA(50)", "SMA(200)", "EMA(9)", "EMA(21)", "RSI(14)"}
	if s == "" {
		return defaults
	}

	var labels []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			continue
		}
		typ := strings.ToUpper(strings.TrimSpace(fields[0]))
		period, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if typ == "" || err != nil || period <= 0 {
			log.Printf("[gateway] skipping invalid indicator config %q", part)
			continue
		}
		labels = append(labels, typ+"("+strconv.Itoa(period)+")")
	}
	if len(labels) == 0 {
		return defaults
	}
	return labels
}
