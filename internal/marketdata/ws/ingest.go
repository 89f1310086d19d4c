// Package ws ingests the live tick feed. It wraps pkg/feedclient with
// the credential and subscription wiring mdengine needs, pushing
// normalized ticks into the pipeline.
package ws

import (
	"context"
	"fmt"
	"strings"

	"ta-enginev1/internal/model"
	"ta-enginev1/pkg/feedclient"
)

// IngestConfig configures the live feed connection.
type IngestConfig struct {
	URL        string
	ClientCode string
	TOTPSecret string

	// Tokens is the instrument list, "EXCHANGE:TOKEN" per entry.
	Tokens []string
}

// Ingest streams authenticated live ticks into tickCh.
type Ingest struct {
	client *feedclient.Client

	// OnReconnect, when set, is forwarded to the feed client.
	OnReconnect func()
}

// New validates config and prepares the feed client.
func New(cfg IngestConfig) (*Ingest, error) {
	if len(cfg.Tokens) == 0 {
		return nil, fmt.Errorf("ws ingest: no tokens configured")
	}
	for _, t := range cfg.Tokens {
		if !strings.Contains(t, ":") {
			return nil, fmt.Errorf("ws ingest: bad token spec %q, want EXCHANGE:TOKEN", t)
		}
	}

	client, err := feedclient.New(feedclient.Config{
		URL: cfg.URL,
		Credentials: feedclient.Credentials{
			ClientCode: cfg.ClientCode,
			TOTPSecret: cfg.TOTPSecret,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ws ingest: %w", err)
	}
	if err := client.Subscribe(cfg.Tokens...); err != nil {
		return nil, fmt.Errorf("ws ingest: subscribe: %w", err)
	}

	return &Ingest{client: client}, nil
}

// Start streams ticks into tickCh until ctx is cancelled. Reconnects
// and resubscribes are handled by the feed client.
func (ing *Ingest) Start(ctx context.Context, tickCh chan<- model.Tick) error {
	ing.client.OnReconnect = ing.OnReconnect
	return ing.client.Run(ctx, tickCh)
}
