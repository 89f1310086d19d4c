// Package bus broadcasts 1s candles to every downstream consumer. A
// slow subscriber drops candles rather than stalling the pipeline.
package bus

import (
	"context"
	"log"
	"sync"

	"ta-enginev1/internal/model"
)

// FanOut replicates one candle stream onto N subscriber channels.
type FanOut struct {
	mu      sync.RWMutex
	outputs []chan model.Candle
	bufSize int

	// OnDrop, when set, is called with the index of the slow subscriber
	// each time a candle is dropped for it.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut whose subscriber channels buffer bufSize candles.
func New(bufSize int) *FanOut {
	return &FanOut{bufSize: bufSize}
}

// Subscribe registers a new consumer and returns its channel. Subscribe
// before Run; channels added later miss earlier candles.
func (f *FanOut) Subscribe() <-chan model.Candle {
	ch := make(chan model.Candle, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.mu.Unlock()
	return ch
}

// Run fans input out to every subscriber until ctx is cancelled or input
// closes. Subscriber channels close on exit.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Candle) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, ch := range f.outputs {
				select {
				case ch <- candle:
				default:
					if f.OnDrop != nil {
						f.OnDrop(i)
					} else {
						log.Printf("[bus] output channel %d full, dropping candle %s", i, candle.Key())
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat is the fill state of one subscriber channel, for the
// saturation gauge.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns the current fill state of every subscriber.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
