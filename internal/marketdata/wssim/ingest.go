// Package wssim ingests ticks from an unauthenticated feed such as
// cmd/tickserver. Drop-in replacement for internal/marketdata/ws when
// running without credentials: same Start signature, same tick shape.
package wssim

import (
	"context"
	"time"

	"ta-enginev1/internal/model"
	"ta-enginev1/pkg/feedclient"
)

// Config configures the simulated feed ingest.
type Config struct {
	// URL of the tick WebSocket server, e.g. "ws://localhost:9001/ws".
	URL string

	// Reconnect backoff; zero values take the feedclient defaults.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// Ingest streams sim ticks into tickCh.
type Ingest struct {
	client *feedclient.Client

	// OnReconnect, when set, is called per reconnect attempt.
	OnReconnect func()
}

// New creates an Ingest. Errors only on an unparseable URL.
func New(cfg Config) (*Ingest, error) {
	client, err := feedclient.New(feedclient.Config{
		URL:               cfg.URL,
		ReconnectDelay:    cfg.ReconnectDelay,
		MaxReconnectDelay: cfg.MaxReconnectDelay,
	})
	if err != nil {
		return nil, err
	}
	return &Ingest{client: client}, nil
}

// Start streams ticks into tickCh until ctx is cancelled, reconnecting
// automatically.
func (ing *Ingest) Start(ctx context.Context, tickCh chan<- model.Tick) error {
	ing.client.OnReconnect = ing.OnReconnect
	return ing.client.Run(ctx, tickCh)
}
