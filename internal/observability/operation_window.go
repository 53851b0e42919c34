package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// OperationStats describes the recent calls of one façade operation.
// Failures count toward latency too: a timed-out store call is still a slow call.
type OperationStats struct {
	Operation string  `json:"operation"`
	Samples   int     `json:"samples"`
	Errors    int     `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
	LastMS    float64 `json:"last_ms"`
	AvgMS     float64 `json:"avg_ms"`
	P50MS     float64 `json:"p50_ms"`
	P95MS     float64 `json:"p95_ms"`
	P99MS     float64 `json:"p99_ms"`
}

// NamespaceStats counts cache lookups for one key namespace since start.
type NamespaceStats struct {
	Namespace string  `json:"namespace"`
	Hits      int     `json:"hits"`
	Misses    int     `json:"misses"`
	HitRatio  float64 `json:"hit_ratio"`
}

// OperationSnapshot is what /v1/perf/operations and the system status report.
type OperationSnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Operations  []OperationStats `json:"operations"`
	Cache       []NamespaceStats `json:"cache,omitempty"`
}

type callSample struct {
	ms     float64
	failed bool
}

// callRing keeps the last len(calls) samples of one operation.
type callRing struct {
	calls []callSample
	next  int
	full  bool
}

func (r *callRing) add(s callSample) {
	r.calls[r.next] = s
	r.next = (r.next + 1) % len(r.calls)
	if r.next == 0 {
		r.full = true
	}
}

// recent returns the samples oldest first.
func (r *callRing) recent() []callSample {
	if !r.full {
		return append([]callSample(nil), r.calls[:r.next]...)
	}
	out := make([]callSample, 0, len(r.calls))
	out = append(out, r.calls[r.next:]...)
	return append(out, r.calls[:r.next]...)
}

type lookupCounts struct {
	hits, misses int
}

type operationWindow struct {
	mu      sync.Mutex
	size    int
	ops     map[string]*callRing
	lookups map[string]*lookupCounts
}

func newOperationWindow(size int) *operationWindow {
	if size <= 0 {
		size = 256
	}
	return &operationWindow{
		size:    size,
		ops:     make(map[string]*callRing),
		lookups: make(map[string]*lookupCounts),
	}
}

func (w *operationWindow) Observe(operation string, ms float64, failed bool) {
	if operation == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ring, ok := w.ops[operation]
	if !ok {
		ring = &callRing{calls: make([]callSample, w.size)}
		w.ops[operation] = ring
	}
	ring.add(callSample{ms: ms, failed: failed})
}

func (w *operationWindow) ObserveLookup(namespace string, hit bool) {
	if namespace == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.lookups[namespace]
	if !ok {
		c = &lookupCounts{}
		w.lookups[namespace] = c
	}
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}

func (w *operationWindow) Snapshot() OperationSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := OperationSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Operations:  make([]OperationStats, 0, len(w.ops)),
	}
	for name, ring := range w.ops {
		calls := ring.recent()
		if len(calls) == 0 {
			continue
		}
		snap.Operations = append(snap.Operations, summarize(name, calls))
	}
	sort.Slice(snap.Operations, func(i, j int) bool {
		return snap.Operations[i].Operation < snap.Operations[j].Operation
	})

	for ns, c := range w.lookups {
		snap.Cache = append(snap.Cache, NamespaceStats{
			Namespace: ns,
			Hits:      c.hits,
			Misses:    c.misses,
			HitRatio:  round2(ratio(c.hits, c.hits+c.misses)),
		})
	}
	sort.Slice(snap.Cache, func(i, j int) bool {
		return snap.Cache[i].Namespace < snap.Cache[j].Namespace
	})
	return snap
}

func summarize(name string, calls []callSample) OperationStats {
	st := OperationStats{
		Operation: name,
		Samples:   len(calls),
		LastMS:    round2(calls[len(calls)-1].ms),
	}
	latencies := make([]float64, len(calls))
	sum := 0.0
	for i, c := range calls {
		latencies[i] = c.ms
		sum += c.ms
		if c.failed {
			st.Errors++
		}
	}
	sort.Float64s(latencies)
	st.ErrorRate = round2(ratio(st.Errors, len(calls)))
	st.AvgMS = round2(sum / float64(len(calls)))
	st.P50MS = round2(percentile(latencies, 0.50))
	st.P95MS = round2(percentile(latencies, 0.95))
	st.P99MS = round2(percentile(latencies, 0.99))
	return st
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case p <= 0:
		return sorted[0]
	case p >= 1:
		return sorted[len(sorted)-1]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
