package dialog

import (
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-configurator/pkg/logger"
	"github.com/capitalize-ai/voice-configurator/pkg/metrics"
)

// inbox serializes data-channel processing. It holds at most one pending message;
// a newer message replaces an older one that has not started processing yet.
// Messages offered before activation are held until Activate.
type inbox struct {
	process func(string)
	logger  *logger.Logger

	mu      sync.Mutex
	active  bool
	closed  bool
	busy    bool
	pending *string

	wg sync.WaitGroup
}

func newInbox(process func(string), log *logger.Logger) *inbox {
	if log == nil {
		log = logger.NewNop()
	}
	return &inbox{process: process, logger: log}
}

// Offer queues msg. It returns false once the inbox is closed.
func (b *inbox) Offer(msg string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		metrics.DataMessagesTotal.WithLabelValues("dropped").Inc()
		return false
	}

	if !b.active || b.busy {
		if b.pending != nil {
			metrics.DataMessagesTotal.WithLabelValues("coalesced").Inc()
			b.logger.Debug("data-channel message superseded",
				zap.Int("bytes", len(*b.pending)),
				zap.Int("replacement_bytes", len(msg)),
			)
		}
		b.pending = &msg
		return true
	}

	b.startLocked(msg)
	return true
}

// Activate starts processing, including any message held before activation.
func (b *inbox) Activate() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.active {
		return
	}
	b.active = true

	if b.pending != nil && !b.busy {
		msg := *b.pending
		b.pending = nil
		b.startLocked(msg)
	}
}

// Close discards the pending message and rejects further offers.
func (b *inbox) Close() {
	b.mu.Lock()
	b.closed = true
	b.pending = nil
	b.mu.Unlock()
}

// Wait blocks until the in-flight message, if any, is processed. Call after Close.
func (b *inbox) Wait() {
	b.wg.Wait()
}

func (b *inbox) startLocked(msg string) {
	b.busy = true
	b.wg.Add(1)
	go b.drain(msg)
}

func (b *inbox) drain(msg string) {
	defer b.wg.Done()

	for {
		b.process(msg)
		metrics.DataMessagesTotal.WithLabelValues("processed").Inc()

		b.mu.Lock()
		if b.closed || b.pending == nil {
			b.busy = false
			b.mu.Unlock()
			return
		}
		msg = *b.pending
		b.pending = nil
		b.mu.Unlock()
	}
}
