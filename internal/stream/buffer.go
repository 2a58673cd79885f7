// ABOUTME: Per-stream chunk buffer trading delivery latency for callback smoothness.
// ABOUTME: Flushes on size threshold or debounce timer, rate-limited by a minimum gap.

package stream

import (
	"strings"
	"sync"
	"time"
)

// chunkBuffer accumulates content between deliveries. It exists only while
// bytes are unflushed; stop releases the pending timer idempotently.
type chunkBuffer struct {
	threshold int
	debounce  time.Duration
	minGap    time.Duration
	deliver   func(string)
	now       func() time.Time

	mu           sync.Mutex
	pending      strings.Builder
	timer        *time.Timer
	lastDelivery time.Time
	stopped      bool
}

func newChunkBuffer(threshold int, debounce, minGap time.Duration, now func() time.Time, deliver func(string)) *chunkBuffer {
	return &chunkBuffer{
		threshold: threshold,
		debounce:  debounce,
		minGap:    minGap,
		deliver:   deliver,
		now:       now,
	}
}

// add appends content and flushes if the threshold is reached, otherwise
// arms the debounce timer. Coalescing preserves arrival order: content only
// ever leaves through deliver in the order it entered.
func (b *chunkBuffer) add(content string) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.pending.WriteString(content)
	if b.pending.Len() >= b.threshold {
		b.flushLocked()
		return // flushLocked unlocks
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.debounce, b.onTimer)
	}
	b.mu.Unlock()
}

// onTimer fires on the debounce deadline.
func (b *chunkBuffer) onTimer() {
	b.mu.Lock()
	b.timer = nil
	if b.stopped || b.pending.Len() == 0 {
		b.mu.Unlock()
		return
	}
	b.flushLocked()
}

// flushLocked delivers pending content unless the minimum inter-delivery
// interval has not elapsed, in which case delivery is rescheduled for the
// remainder. Always unlocks b.mu before returning.
func (b *chunkBuffer) flushLocked() {
	if wait := b.minGap - b.now().Sub(b.lastDelivery); wait > 0 {
		if b.timer == nil {
			b.timer = time.AfterFunc(wait, b.onTimer)
		}
		b.mu.Unlock()
		return
	}
	out := b.pending.String()
	b.pending.Reset()
	b.lastDelivery = b.now()
	b.mu.Unlock()

	b.deliver(out)
}

// flushNow forces delivery of any pending content, bypassing the rate limit.
// Used when a stream completes so the tail is never stranded.
func (b *chunkBuffer) flushNow() {
	b.mu.Lock()
	if b.stopped || b.pending.Len() == 0 {
		b.mu.Unlock()
		return
	}
	out := b.pending.String()
	b.pending.Reset()
	b.lastDelivery = b.now()
	b.mu.Unlock()

	b.deliver(out)
}

// stop releases the timer and drops pending content. Safe to call twice.
func (b *chunkBuffer) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.pending.Reset()
}
