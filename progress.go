package rdl

import (
	"sync"
	"time"

	"github.com/hydrz/rdl/events"
)

// chunkProgress is the per-chunk runtime state spec.md §3 calls ChunkState:
// bytes written this session, the (bytes, time) snapshot speed is computed
// from, and the last computed speed.
type chunkProgress struct {
	length   int64
	bytes    int64
	refBytes int64
	refTime  time.Time
	speed    int64
}

// reporter implements spec.md §4.7: per-chunk and aggregate byte counters
// with time-windowed speed estimates and an interval-gated, listener-gated
// emit. Grounded in teacher progress.go's atomic-counter + rate-limited
// callback pattern, generalized from one flat counter into per-chunk slots
// plus an aggregate, and from a fixed 100ms gate to the spec's configurable
// ReportInterval.
type reporter struct {
	mu       sync.Mutex
	sink     *events.Sink
	interval time.Duration

	order  []int
	chunks map[int]*chunkProgress

	totalLen     int64
	totalBytes   int64
	totalRefB    int64
	totalRefTime time.Time
	totalSpeed   int64
}

func newReporter(sink *events.Sink, interval time.Duration, plan Plan) *reporter {
	r := &reporter{
		sink:     sink,
		interval: interval,
		chunks:   make(map[int]*chunkProgress, len(plan)),
		order:    make([]int, 0, len(plan)),
	}
	now := time.Now()
	for _, c := range plan {
		r.order = append(r.order, c.ID)
		r.chunks[c.ID] = &chunkProgress{length: c.Len(), refTime: now}
		r.totalLen += c.Len()
	}
	r.totalRefTime = now
	return r
}

// markResumed records a chunk that was already complete on disk before this
// session started: its full length counts toward the aggregate baseline but
// it never transfers, so its speed stays zero.
func (r *reporter) markResumed(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp, ok := r.chunks[id]
	if !ok {
		return
	}
	cp.bytes = cp.length
	cp.refBytes = cp.length
	r.totalBytes += cp.length
	r.totalRefB = r.totalBytes
}

// updateLength adjusts a chunk's known length, used when a single-request
// download discovers Content-Length only after the response headers arrive
// (the chunk's length was an unknown placeholder at reporter construction).
func (r *reporter) updateLength(id int, length int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp, ok := r.chunks[id]
	if !ok {
		return
	}
	r.totalLen += length - cp.length
	cp.length = length
}

// add records n freshly transferred bytes for chunk id and, unless the
// update is gated by the report interval, recomputes speed and emits a
// progress event to any listener.
func (r *reporter) add(id int, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp, ok := r.chunks[id]
	if !ok {
		return
	}
	cp.bytes += n
	r.totalBytes += n
	r.maybeUpdate(false)
}

// flush force-recomputes chunk id's speed (used on chunk completion), then
// zeroes it since the chunk has stopped transferring, per spec.md §4.6's
// chunk-completed handler ("force-flush its reporter; set its speed to 0").
func (r *reporter) flush(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maybeUpdate(true)
	if cp, ok := r.chunks[id]; ok {
		cp.speed = 0
	}
}

// maybeUpdate must be called with r.mu held.
func (r *reporter) maybeUpdate(force bool) {
	now := time.Now()

	for _, id := range r.order {
		cp := r.chunks[id]
		elapsed := now.Sub(cp.refTime)
		if force || elapsed > r.interval {
			if elapsed > 0 {
				cp.speed = int64(1000 * float64(cp.bytes-cp.refBytes) / float64(elapsed.Milliseconds()+1))
			}
			cp.refBytes = cp.bytes
			cp.refTime = now
		}
	}

	elapsed := now.Sub(r.totalRefTime)
	if force || elapsed > r.interval {
		if elapsed > 0 {
			r.totalSpeed = int64(1000 * float64(r.totalBytes-r.totalRefB) / float64(elapsed.Milliseconds()+1))
		}
		r.totalRefB = r.totalBytes
		r.totalRefTime = now

		if r.sink != nil && r.sink.HasProgressListener() {
			r.sink.EmitProgress(r.snapshotLocked())
		}
	}
}

func (r *reporter) snapshotLocked() events.Progress {
	details := make([]events.ChunkProgress, 0, len(r.order))
	for _, id := range r.order {
		cp := r.chunks[id]
		details = append(details, events.ChunkProgress{
			ID:         id,
			Bytes:      cp.bytes,
			Percentage: percentage(cp.bytes, cp.length),
			Speed:      cp.speed,
		})
	}
	return events.Progress{
		Total: events.Totals{
			Bytes:      r.totalBytes,
			Percentage: percentage(r.totalBytes, r.totalLen),
			Speed:      r.totalSpeed,
		},
		Details: details,
	}
}

// Snapshot returns the current aggregate + per-chunk progress without
// forcing an update, for metadata emission.
func (r *reporter) Snapshot() events.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func percentage(bytes, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return 100 * float64(bytes) / float64(total)
}
