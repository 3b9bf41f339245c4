package redis

import (
	"context"
	"log"
	"sync"

	"ta-systemv1/internal/model"
)

// BufferedWriter wraps a Redis Writer with a circuit breaker.
// During circuit-open state, indicator batches are buffered locally and
// flushed when the circuit closes again. Live preview results are dropped
// rather than buffered: a stale preview is worse than none.
type BufferedWriter struct {
	writer *Writer
	cb     *CircuitBreaker
	ctx    context.Context

	mu     sync.Mutex
	buffer []model.IndicatorResult
	maxBuf int // max buffered results before dropping oldest (default: 10000)

	// Callbacks
	OnBuffer func(count int) // called when results are buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered results
}

// NewBufferedWriter creates a BufferedWriter wrapping the given Writer.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]model.IndicatorResult, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}

	return bw
}

// WriteIndicatorBatch writes an indicator batch through the circuit breaker.
// If the circuit is open, confirmed results are buffered locally.
func (bw *BufferedWriter) WriteIndicatorBatch(results []model.IndicatorResult) error {
	if len(results) == 0 {
		return nil
	}
	err := bw.cb.Execute(func() error {
		return bw.writer.pingThenWrite(bw.ctx, results)
	})
	if err == ErrCircuitOpen {
		bw.bufferResults(results)
		return nil // buffered, not lost
	}
	return err
}

// pingThenWrite probes connectivity before the pipelined batch so the
// circuit breaker sees a real error signal (WriteIndicatorBatch itself
// only logs pipeline failures).
func (w *Writer) pingThenWrite(ctx context.Context, results []model.IndicatorResult) error {
	if err := w.client.Ping(ctx).Err(); err != nil {
		return err
	}
	w.WriteIndicatorBatch(ctx, results)
	return nil
}

func (bw *BufferedWriter) bufferResults(results []model.IndicatorResult) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	buffered := 0
	for i := range results {
		if results[i].Live {
			continue // previews expire immediately, never replay them
		}
		if len(bw.buffer) >= bw.maxBuf {
			// Buffer full — drop oldest
			bw.buffer = bw.buffer[1:]
		}
		bw.buffer = append(bw.buffer, results[i])
		buffered++
	}

	if buffered > 0 && bw.OnBuffer != nil {
		bw.OnBuffer(buffered)
	}
}

// flush replays all buffered results through the underlying writer.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := bw.buffer
	bw.buffer = make([]model.IndicatorResult, 0, 256)
	bw.mu.Unlock()

	bw.writer.WriteIndicatorBatch(bw.ctx, toFlush)

	log.Printf("[buffered-writer] flushed %d buffered indicator results", len(toFlush))
	if bw.OnFlush != nil {
		bw.OnFlush(len(toFlush))
	}
}

// PendingCount returns the number of buffered results waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Underlying returns the underlying Redis writer for direct access.
func (bw *BufferedWriter) Underlying() *Writer {
	return bw.writer
}
