package redis

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"ta-enginev1/internal/model"
)

type bufferedKind int

const (
	buf1sCandle bufferedKind = iota
	bufTFCandle
	bufPointBatch
)

// pendingWrite is a write held back while the circuit is open.
type pendingWrite struct {
	Kind bufferedKind
	Data []byte // JSON payload
}

// BufferedWriter wraps a Writer with a circuit breaker. While the circuit
// is open, writes queue up locally (bounded, oldest dropped) and are
// replayed when the circuit closes.
type BufferedWriter struct {
	writer *Writer
	cb     *CircuitBreaker
	ctx    context.Context

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int

	OnBuffer func()          // a write was queued
	OnFlush  func(count int) // queued writes were replayed
}

// NewBufferedWriter wraps w with cb. maxBufferSize <= 0 defaults to 10000.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingWrite, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Chain onto any existing state-change callback; flush when closing.
	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}

	return bw
}

// WriteCandle writes a 1s candle, buffering it if the circuit is open.
func (bw *BufferedWriter) WriteCandle(c model.Candle) error {
	err := bw.cb.Execute(func() error {
		bw.writer.writeCandle(bw.ctx, c)
		return nil // writeCandle logs its own pipeline errors
	})
	if err == ErrCircuitOpen {
		bw.enqueue(buf1sCandle, c)
		return nil
	}
	return err
}

// WriteTFCandle writes a TF candle, buffering it if the circuit is open.
func (bw *BufferedWriter) WriteTFCandle(tfc model.TFCandle) error {
	err := bw.cb.Execute(func() error {
		bw.writer.writeTFCandle(bw.ctx, tfc)
		return nil
	})
	if err == ErrCircuitOpen {
		bw.enqueue(bufTFCandle, tfc)
		return nil
	}
	return err
}

// WritePoints writes an indicator point batch, buffering confirmed points
// if the circuit is open. Live points are preview-only and not worth
// replaying late, so they are dropped.
func (bw *BufferedWriter) WritePoints(points []model.IndicatorPoint) error {
	err := bw.cb.Execute(func() error {
		bw.writer.WritePointBatch(bw.ctx, points)
		return nil
	})
	if err == ErrCircuitOpen {
		confirmed := make([]model.IndicatorPoint, 0, len(points))
		for _, p := range points {
			if !p.Live {
				confirmed = append(confirmed, p)
			}
		}
		if len(confirmed) > 0 {
			bw.enqueue(bufPointBatch, confirmed)
		}
		return nil
	}
	return err
}

func (bw *BufferedWriter) enqueue(kind bufferedKind, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[buffered-writer] marshal error: %v", err)
		return
	}

	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.buffer) >= bw.maxBuf {
		bw.buffer = bw.buffer[1:]
	}
	bw.buffer = append(bw.buffer, pendingWrite{Kind: kind, Data: data})

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays everything queued while the circuit was open.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	toFlush := bw.buffer
	bw.buffer = make([]pendingWrite, 0, 256)
	bw.mu.Unlock()

	flushed := 0
	for _, pw := range toFlush {
		switch pw.Kind {
		case buf1sCandle:
			var c model.Candle
			if json.Unmarshal(pw.Data, &c) == nil {
				bw.writer.writeCandle(bw.ctx, c)
			}
		case bufTFCandle:
			var tfc model.TFCandle
			if json.Unmarshal(pw.Data, &tfc) == nil {
				bw.writer.writeTFCandle(bw.ctx, tfc)
			}
		case bufPointBatch:
			var pts []model.IndicatorPoint
			if json.Unmarshal(pw.Data, &pts) == nil {
				bw.writer.WritePointBatch(bw.ctx, pts)
			}
		}
		flushed++
	}

	log.Printf("[buffered-writer] flushed %d buffered writes", flushed)
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount reports how many writes are queued.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Underlying returns the wrapped Writer.
func (bw *BufferedWriter) Underlying() *Writer {
	return bw.writer
}
