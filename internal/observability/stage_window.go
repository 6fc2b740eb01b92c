package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Stage names one relay milestone, measured from the start of an invocation.
type Stage string

const (
	StageIssueSession Stage = "issue_session"
	StageConnect      Stage = "connect"
	StageAuthenticate Stage = "authenticate"
	StageFirstChunk   Stage = "first_chunk"
	StageRelayTotal   Stage = "relay_total"
)

// relayStages is the order a healthy relay passes through, with the p95
// each stage is expected to stay under.
var relayStages = []struct {
	stage     Stage
	targetP95 float64
}{
	{StageIssueSession, 800},
	{StageConnect, 600},
	{StageAuthenticate, 1200},
	{StageFirstChunk, 2500},
	{StageRelayTotal, 12000},
}

type StageStats struct {
	Stage       Stage   `json:"stage"`
	Samples     int     `json:"samples"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	MaxMS       float64 `json:"max_ms"`
	TargetP95MS float64 `json:"target_p95_ms"`
	OverTarget  bool    `json:"over_target"`
}

// StageSnapshot is the /v1/perf/latency body. Outcomes counts finished
// relays by outcome label since the last reset.
type StageSnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Stages      []StageStats   `json:"stages"`
	Outcomes    map[string]int `json:"outcomes"`
}

// stageWindow keeps the last size samples of every relay stage.
type stageWindow struct {
	mu       sync.Mutex
	size     int
	samples  map[Stage][]float64
	next     map[Stage]int
	outcomes map[string]int
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	w := &stageWindow{size: size}
	w.reset()
	return w
}

func (w *stageWindow) reset() {
	w.samples = make(map[Stage][]float64, len(relayStages))
	w.next = make(map[Stage]int, len(relayStages))
	w.outcomes = make(map[string]int)
}

// Observe records ms for a known stage. Other stages and negative
// durations are dropped.
func (w *stageWindow) Observe(stage Stage, ms float64) {
	if ms < 0 || !knownStage(stage) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	ring := w.samples[stage]
	if len(ring) < w.size {
		w.samples[stage] = append(ring, ms)
		return
	}
	i := w.next[stage]
	ring[i] = ms
	w.next[stage] = (i + 1) % w.size
}

func (w *stageWindow) ObserveOutcome(label string) {
	if label == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outcomes[label]++
}

func (w *stageWindow) Snapshot() StageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(relayStages)),
		Outcomes:    make(map[string]int, len(w.outcomes)),
	}
	for _, rs := range relayStages {
		ring := w.samples[rs.stage]
		if len(ring) == 0 {
			continue
		}
		sorted := append([]float64(nil), ring...)
		sort.Float64s(sorted)
		sum := 0.0
		for _, v := range sorted {
			sum += v
		}
		p95 := nearestRank(sorted, 0.95)
		snap.Stages = append(snap.Stages, StageStats{
			Stage:       rs.stage,
			Samples:     len(sorted),
			AvgMS:       round2(sum / float64(len(sorted))),
			P50MS:       round2(nearestRank(sorted, 0.50)),
			P95MS:       round2(p95),
			MaxMS:       round2(sorted[len(sorted)-1]),
			TargetP95MS: rs.targetP95,
			OverTarget:  p95 > rs.targetP95,
		})
	}
	for label, n := range w.outcomes {
		snap.Outcomes[label] = n
	}
	return snap
}

func (w *stageWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reset()
}

func knownStage(stage Stage) bool {
	for _, rs := range relayStages {
		if rs.stage == stage {
			return true
		}
	}
	return false
}

// nearestRank expects sorted to be non-empty and ascending.
func nearestRank(sorted []float64, q float64) float64 {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
