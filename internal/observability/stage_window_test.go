package observability

import (
	"testing"
	"time"
)

func TestStageWindowSnapshotFollowsRelayOrder(t *testing.T) {
	w := newStageWindow(8)
	w.Observe(StageRelayTotal, 4000)
	w.Observe(StageFirstChunk, 900)
	w.Observe(StageFirstChunk, 3100)
	w.Observe(StageIssueSession, 120)

	snap := w.Snapshot()
	want := []Stage{StageIssueSession, StageFirstChunk, StageRelayTotal}
	if len(snap.Stages) != len(want) {
		t.Fatalf("Stages = %+v, want %v", snap.Stages, want)
	}
	for i, stage := range want {
		if snap.Stages[i].Stage != stage {
			t.Fatalf("Stages[%d] = %q, want %q", i, snap.Stages[i].Stage, stage)
		}
	}

	first := snap.Stages[1]
	if first.Samples != 2 || first.AvgMS != 2000 || first.MaxMS != 3100 {
		t.Fatalf("first_chunk = %+v, want 2 samples avg 2000 max 3100", first)
	}
	if first.P50MS != 900 || first.P95MS != 3100 {
		t.Fatalf("first_chunk p50/p95 = %.2f/%.2f, want 900/3100", first.P50MS, first.P95MS)
	}
	if first.TargetP95MS != 2500 || !first.OverTarget {
		t.Fatalf("first_chunk target = %.0f over=%v, want 2500 over", first.TargetP95MS, first.OverTarget)
	}
	if snap.Stages[0].OverTarget {
		t.Fatalf("issue_session over target at 120ms")
	}
}

func TestStageWindowKeepsLatestSamples(t *testing.T) {
	w := newStageWindow(2)
	w.Observe(StageConnect, 10)
	w.Observe(StageConnect, 20)
	w.Observe(StageConnect, 30)
	w.Observe(StageConnect, 40)

	s := w.Snapshot().Stages[0]
	if s.Samples != 2 || s.AvgMS != 35 {
		t.Fatalf("connect = %+v, want the last two samples", s)
	}
}

func TestStageWindowOutcomes(t *testing.T) {
	w := newStageWindow(4)
	w.ObserveOutcome("completed")
	w.ObserveOutcome("timeout")
	w.ObserveOutcome("timeout")
	w.ObserveOutcome("")

	snap := w.Snapshot()
	if snap.Outcomes["timeout"] != 2 || snap.Outcomes["completed"] != 1 || len(snap.Outcomes) != 2 {
		t.Fatalf("Outcomes = %v, want completed=1 timeout=2", snap.Outcomes)
	}

	w.Reset()
	if snap := w.Snapshot(); len(snap.Outcomes) != 0 || len(snap.Stages) != 0 {
		t.Fatalf("Snapshot() after Reset = %+v, want empty", snap)
	}
}

func TestStageWindowDropsUnknownStagesAndNegativeSamples(t *testing.T) {
	w := newStageWindow(4)
	w.Observe("", 10)
	w.Observe("tts_first_audio", 10)
	w.Observe(StageConnect, -1)
	if snap := w.Snapshot(); len(snap.Stages) != 0 {
		t.Fatalf("Stages = %+v, want none", snap.Stages)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveStage(StageConnect, time.Millisecond)
	m.ObserveFirstChunkLatency(time.Millisecond)
	m.ObserveOutcome("completed")
	m.ObserveRecordOp("list", "ok")
	m.ResetStages()
	if snap := m.SnapshotStages(); len(snap.Stages) != 0 || snap.Outcomes == nil {
		t.Fatalf("SnapshotStages() = %+v, want empty stages and outcomes", snap)
	}
}
