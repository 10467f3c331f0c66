package analytics

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/HatiCode/jobadvisor/pkg/history"
	"github.com/HatiCode/jobadvisor/pkg/storage"
)

var base = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

func ts(offset time.Duration) string {
	return base.Add(offset).Format(time.RFC3339)
}

func ev(typ string, offset time.Duration, data map[string]any) history.Event {
	if data == nil {
		data = map[string]any{}
	}
	return history.Event{Type: typ, Timestamp: ts(offset), Data: data}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestFromJobs(t *testing.T) {
	queued := base
	started := base.Add(90 * time.Second)
	jobs := []JobRecord{
		{JobID: "j1", Backend: "sim", Status: "done", CreatedAt: base.Add(1 * time.Minute), QueuedAt: &queued, StartedAt: &started},
		{JobID: "j2", Backend: "sim", Status: "ERROR", CreatedAt: base.Add(3 * time.Minute)},
		{JobID: "j3", Backend: "Unknown", Status: "Completed", CreatedAt: base.Add(2 * time.Minute)},
		{JobID: "j4", Backend: "hw", Status: "QUEUED", CreatedAt: base},
	}

	r := FromJobs(jobs)

	if r.Source != SourceJobs {
		t.Errorf("Source = %q", r.Source)
	}
	if r.TotalJobs != 4 {
		t.Errorf("TotalJobs = %d, want 4", r.TotalJobs)
	}
	if !approx(r.SuccessRate, 50) {
		t.Errorf("SuccessRate = %v, want 50", r.SuccessRate)
	}
	if !approx(r.AverageQueueTime, 90) {
		t.Errorf("AverageQueueTime = %v, want 90", r.AverageQueueTime)
	}

	wantStatus := map[string]int{"DONE": 1, "ERROR": 1, "COMPLETED": 1, "QUEUED": 1}
	for k, v := range wantStatus {
		if r.JobsByStatus[k] != v {
			t.Errorf("JobsByStatus[%s] = %d, want %d", k, r.JobsByStatus[k], v)
		}
	}
	if len(r.JobsByBackend) != 2 || r.JobsByBackend["sim"] != 2 || r.JobsByBackend["hw"] != 1 {
		t.Errorf("JobsByBackend = %v", r.JobsByBackend)
	}

	wantOrder := []string{"j2", "j3", "j1", "j4"}
	if len(r.RecentActivity) != len(wantOrder) {
		t.Fatalf("len(RecentActivity) = %d", len(r.RecentActivity))
	}
	for i, id := range wantOrder {
		if r.RecentActivity[i].JobID != id {
			t.Errorf("RecentActivity[%d] = %s, want %s", i, r.RecentActivity[i].JobID, id)
		}
	}
	if r.RecentActivity[0].LastEvent != "ERROR" {
		t.Errorf("LastEvent = %q, want job status", r.RecentActivity[0].LastEvent)
	}
}

func TestFromJobs_RecentActivityLimit(t *testing.T) {
	var jobs []JobRecord
	for i := 0; i < 15; i++ {
		jobs = append(jobs, JobRecord{JobID: fmt.Sprintf("j%02d", i), Status: "DONE", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	r := FromJobs(jobs)
	if len(r.RecentActivity) != RecentActivityLimit {
		t.Fatalf("len(RecentActivity) = %d, want %d", len(r.RecentActivity), RecentActivityLimit)
	}
	if r.RecentActivity[0].JobID != "j14" || r.RecentActivity[9].JobID != "j05" {
		t.Errorf("RecentActivity range = %s..%s", r.RecentActivity[0].JobID, r.RecentActivity[9].JobID)
	}
}

func TestFromJobs_Empty(t *testing.T) {
	r := FromJobs(nil)
	if r.TotalJobs != 0 || r.SuccessRate != 0 || r.AverageQueueTime != 0 {
		t.Errorf("FromJobs(nil) = %+v", r)
	}
	if r.JobsByStatus == nil || r.JobsByBackend == nil || r.RecentActivity == nil {
		t.Error("empty report should carry non-nil collections")
	}
}

func TestFromHistory(t *testing.T) {
	timelines := map[string][]history.Event{
		"j1": {
			ev(history.EventSubmitted, 0, map[string]any{"user_id": "alice"}),
			ev(history.EventBackendAssigned, 0, map[string]any{"backend": "sim"}),
			ev(history.EventQueued, 10*time.Second, nil),
			ev(history.EventRunning, 70*time.Second, nil),
			ev(history.EventStatusChange, 80*time.Second, map[string]any{"status": "RUNNING"}),
			ev(history.EventStatusChange, 90*time.Second, map[string]any{"status": "COMPLETED"}),
		},
		"j2": {
			ev(history.EventSubmitted, time.Minute, map[string]any{"user_id": "alice"}),
			ev(history.EventBackendAssigned, time.Minute, map[string]any{"backend": "hw"}),
			ev(history.EventBackendAssigned, time.Minute, map[string]any{"backend": "other"}),
			ev(history.EventStatusChange, 5*time.Minute, map[string]any{"status": "ERROR"}),
		},
		"j3": {
			ev(history.EventSubmitted, 2*time.Minute, map[string]any{"user_id": "bob"}),
			ev(history.EventStatusChange, 3*time.Minute, map[string]any{"status": "DONE"}),
		},
	}

	t.Run("filtered by user", func(t *testing.T) {
		r := FromHistory(timelines, "alice")

		if r.Source != SourceHistory {
			t.Errorf("Source = %q", r.Source)
		}
		if r.TotalJobs != 2 {
			t.Errorf("TotalJobs = %d, want 2", r.TotalJobs)
		}
		// one success out of the two filtered jobs
		if !approx(r.SuccessRate, 50) {
			t.Errorf("SuccessRate = %v, want 50", r.SuccessRate)
		}
		if !approx(r.AverageQueueTime, 60) {
			t.Errorf("AverageQueueTime = %v, want 60", r.AverageQueueTime)
		}
		if r.JobsByStatus["COMPLETED"] != 1 || r.JobsByStatus["ERROR"] != 1 || len(r.JobsByStatus) != 2 {
			t.Errorf("JobsByStatus = %v", r.JobsByStatus)
		}
		if r.JobsByBackend["sim"] != 1 || r.JobsByBackend["hw"] != 1 || r.JobsByBackend["other"] != 0 {
			t.Errorf("JobsByBackend = %v", r.JobsByBackend)
		}
		if len(r.RecentActivity) != 2 || r.RecentActivity[0].JobID != "j2" {
			t.Errorf("RecentActivity = %+v", r.RecentActivity)
		}
	})

	t.Run("all users", func(t *testing.T) {
		r := FromHistory(timelines, "")
		if r.TotalJobs != 3 {
			t.Errorf("TotalJobs = %d, want 3", r.TotalJobs)
		}
		if !approx(r.SuccessRate, 200.0/3) {
			t.Errorf("SuccessRate = %v, want %v", r.SuccessRate, 200.0/3)
		}
		// 60s of queue time over two successful jobs
		if !approx(r.AverageQueueTime, 30) {
			t.Errorf("AverageQueueTime = %v, want 30", r.AverageQueueTime)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		r := FromHistory(timelines, "carol")
		if r.TotalJobs != 0 || r.SuccessRate != 0 || len(r.RecentActivity) != 0 {
			t.Errorf("FromHistory(carol) = %+v", r)
		}
	})
}

func TestFromHistory_PartialEvents(t *testing.T) {
	timelines := map[string][]history.Event{
		"only-submitted": {ev(history.EventSubmitted, 0, nil)},
		"no-status-data": {ev(history.EventStatusChange, time.Minute, nil)},
		"queued-only":    {ev(history.EventQueued, 2*time.Minute, nil)},
		"bad-timestamps": {
			{Type: history.EventQueued, Timestamp: "not a time", Data: map[string]any{}},
			{Type: history.EventRunning, Timestamp: "later", Data: map[string]any{}},
		},
		"empty": {},
	}

	r := FromHistory(timelines, "")

	if r.TotalJobs != 4 {
		t.Errorf("TotalJobs = %d, want 4", r.TotalJobs)
	}
	if r.JobsByStatus["UNKNOWN"] != 1 {
		t.Errorf("JobsByStatus = %v, want one UNKNOWN", r.JobsByStatus)
	}
	if r.AverageQueueTime != 0 || r.SuccessRate != 0 {
		t.Errorf("rates = %v, %v; want zero", r.SuccessRate, r.AverageQueueTime)
	}
	if n := len(r.RecentActivity); n != 4 {
		t.Fatalf("len(RecentActivity) = %d, want 4", n)
	}
	if got := r.RecentActivity[3].JobID; got != "bad-timestamps" {
		t.Errorf("unparseable timestamps should sort last, got %s", got)
	}
}

func TestFromHistory_OutOfOrderTimestamps(t *testing.T) {
	timelines := map[string][]history.Event{
		// running recorded before queued in wall-clock terms
		"negative-gap": {
			ev(history.EventQueued, 5*time.Minute, nil),
			ev(history.EventRunning, time.Minute, nil),
			ev(history.EventStatusChange, 6*time.Minute, map[string]any{"status": "DONE"}),
		},
		// last recorded event carries the oldest timestamp
		"rewound": {
			ev(history.EventQueued, 10*time.Minute, nil),
			ev(history.EventRunning, 11*time.Minute, nil),
			ev(history.EventStatusChange, 0, map[string]any{"status": "DONE"}),
		},
	}

	r := FromHistory(timelines, "")

	if !approx(r.AverageQueueTime, 30) {
		t.Errorf("AverageQueueTime = %v, want 30 (negative gap skipped)", r.AverageQueueTime)
	}
	if r.RecentActivity[0].JobID != "negative-gap" || r.RecentActivity[1].JobID != "rewound" {
		t.Errorf("RecentActivity = %+v", r.RecentActivity)
	}
}

func TestAggregator_Report(t *testing.T) {
	ctx := context.Background()
	h := history.New(ctx, storage.NewMemoryStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.RecordEvent(ctx, "j1", history.EventSubmitted, nil, map[string]any{"user_id": "alice"})
	h.RecordEvent(ctx, "j1", history.EventStatusChange, nil, map[string]any{"status": "DONE"})

	a := NewAggregator(h)

	fromHistory := a.Report("alice", nil)
	if fromHistory.Source != SourceHistory || fromHistory.TotalJobs != 1 || !approx(fromHistory.SuccessRate, 100) {
		t.Errorf("history report = %+v", fromHistory)
	}

	fromJobs := a.Report("alice", []JobRecord{
		{JobID: "x", Status: "ERROR", CreatedAt: base},
		{JobID: "y", Status: "ERROR", CreatedAt: base},
	})
	if fromJobs.Source != SourceJobs || fromJobs.TotalJobs != 2 || fromJobs.SuccessRate != 0 {
		t.Errorf("jobs report = %+v", fromJobs)
	}
}
