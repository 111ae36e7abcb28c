package output

import (
	"sync"

	"github.com/golangsnmp/snmpcollect/internal/metric"
)

// DefaultBufferSize is the sample capacity used when none is configured.
const DefaultBufferSize = 100000

// Buffer is a bounded FIFO of samples. When full, the oldest samples are
// dropped to make room. It is safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	items   []metric.Sample // ring
	head    int
	n       int
	dropped uint64
	ready   chan struct{}
}

// NewBuffer returns a buffer holding at most capacity samples.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Buffer{
		items: make([]metric.Sample, capacity),
		ready: make(chan struct{}, 1),
	}
}

// Push appends samples, dropping from the head when full. It returns the
// number of samples dropped.
func (b *Buffer) Push(samples ...metric.Sample) int {
	if len(samples) == 0 {
		return 0
	}
	b.mu.Lock()
	var dropped int
	size := len(b.items)
	for _, s := range samples {
		if b.n == size {
			b.items[b.head] = metric.Sample{}
			b.head = (b.head + 1) % size
			b.n--
			dropped++
		}
		b.items[(b.head+b.n)%size] = s
		b.n++
	}
	b.dropped += uint64(dropped)
	b.mu.Unlock()
	b.signal()
	return dropped
}

// Unshift puts samples back at the head, ahead of everything buffered,
// preserving their order. If they do not all fit, the oldest of them are
// dropped. It returns the number dropped.
func (b *Buffer) Unshift(samples []metric.Sample) int {
	b.mu.Lock()
	size := len(b.items)
	var dropped int
	if room := size - b.n; len(samples) > room {
		dropped = len(samples) - room
		samples = samples[dropped:]
	}
	for i := len(samples) - 1; i >= 0; i-- {
		b.head = (b.head - 1 + size) % size
		b.items[b.head] = samples[i]
		b.n++
	}
	b.dropped += uint64(dropped)
	b.mu.Unlock()
	if len(samples) > 0 {
		b.signal()
	}
	return dropped
}

// Pop removes and returns up to max samples from the head.
func (b *Buffer) Pop(max int) []metric.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := min(max, b.n)
	if k <= 0 {
		return nil
	}
	size := len(b.items)
	out := make([]metric.Sample, k)
	for i := range out {
		out[i] = b.items[b.head]
		b.items[b.head] = metric.Sample{}
		b.head = (b.head + 1) % size
	}
	b.n -= k
	return out
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return len(b.items) }

// Dropped returns the total number of samples dropped for lack of room.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Ready is signalled after samples are added.
func (b *Buffer) Ready() <-chan struct{} { return b.ready }

func (b *Buffer) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}
