package recommend

import (
	"errors"
	"math"
	"testing"
)

func intPtr(v int) *int { return &v }

func TestScore(t *testing.T) {
	tests := []struct {
		name   string
		target TargetStatus
		want   float64
	}{
		{
			name:   "idle hardware, unknown qubits",
			target: TargetStatus{Operational: true, PendingJobs: intPtr(0)},
			want:   100,
		},
		{
			name:   "queue penalty",
			target: TargetStatus{Operational: true, PendingJobs: intPtr(10)},
			want:   80,
		},
		{
			name:   "queue penalty capped at 50",
			target: TargetStatus{Operational: true, PendingJobs: intPtr(1000)},
			want:   50,
		},
		{
			name:   "qubit bonus",
			target: TargetStatus{Operational: true, PendingJobs: intPtr(30), Qubits: intPtr(27)},
			want:   100 - 50 + 5.4,
		},
		{
			name:   "qubit bonus capped at 20",
			target: TargetStatus{Operational: true, PendingJobs: intPtr(40), Qubits: intPtr(500)},
			want:   70,
		},
		{
			name:   "clamped to 100",
			target: TargetStatus{Operational: true, Simulator: true, Qubits: intPtr(100)},
			want:   100,
		},
		{
			name:   "unknown pending counts as empty",
			target: TargetStatus{Operational: true},
			want:   100,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.target); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScore_Monotonic(t *testing.T) {
	prev := Score(TargetStatus{PendingJobs: intPtr(0), Qubits: intPtr(5)})
	for pending := 1; pending <= 60; pending++ {
		s := Score(TargetStatus{PendingJobs: intPtr(pending), Qubits: intPtr(5)})
		if s > prev {
			t.Fatalf("score increased with pending jobs: %d -> %v (prev %v)", pending, s, prev)
		}
		prev = s
	}

	prev = Score(TargetStatus{PendingJobs: intPtr(30), Qubits: intPtr(0)})
	for qubits := 1; qubits <= 200; qubits++ {
		s := Score(TargetStatus{PendingJobs: intPtr(30), Qubits: intPtr(qubits)})
		if s < prev {
			t.Fatalf("score decreased with qubits: %d -> %v (prev %v)", qubits, s, prev)
		}
		prev = s
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		name   string
		target TargetStatus
		want   string
	}{
		{name: "empty queue", target: TargetStatus{PendingJobs: intPtr(0)}, want: "No jobs in queue"},
		{name: "unknown queue", target: TargetStatus{}, want: "No jobs in queue"},
		{name: "short queue", target: TargetStatus{PendingJobs: intPtr(4)}, want: "Short queue"},
		{name: "long queue", target: TargetStatus{PendingJobs: intPtr(5)}, want: "5 jobs in queue"},
		{
			name:   "simulator",
			target: TargetStatus{PendingJobs: intPtr(1), Simulator: true},
			want:   "Short queue, Simulator (good for testing)",
		},
		{
			name:   "high qubit count",
			target: TargetStatus{PendingJobs: intPtr(12), Qubits: intPtr(11)},
			want:   "12 jobs in queue, High qubit count",
		},
		{
			name:   "ten qubits is not high",
			target: TargetStatus{PendingJobs: intPtr(0), Qubits: intPtr(10)},
			want:   "No jobs in queue",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Reason(tt.target); got != tt.want {
				t.Errorf("Reason() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecommend_SimulatorVersusHardware(t *testing.T) {
	sim := TargetStatus{Name: "sim", Operational: true, Simulator: true, Qubits: intPtr(5), PendingJobs: intPtr(0)}
	hw := TargetStatus{Name: "hw", Operational: true, Qubits: intPtr(20), PendingJobs: intPtr(10)}

	// sim: 100 - 0 + 10 + 1 = 111, clamped to 100
	// hw:  100 - 20 + 0 + 4 = 84
	simScore, hwScore := Score(sim), Score(hw)
	if simScore != 100 || hwScore != 84 {
		t.Fatalf("scores = (%v, %v), want (100, 84)", simScore, hwScore)
	}

	recs := Recommend([]TargetStatus{hw, sim})
	if len(recs) != 2 {
		t.Fatalf("len(Recommend()) = %d, want 2", len(recs))
	}
	if recs[0].Name != "sim" || recs[1].Name != "hw" {
		t.Errorf("order = [%s %s], want [sim hw]", recs[0].Name, recs[1].Name)
	}
}

func TestRecommend_TopThreeStable(t *testing.T) {
	targets := []TargetStatus{
		{Name: "offline", Operational: false, PendingJobs: intPtr(0)},
		{Name: "a", Operational: true, PendingJobs: intPtr(10)},
		{Name: "b", Operational: true, PendingJobs: intPtr(5)},
		{Name: "c", Operational: true, PendingJobs: intPtr(5)},
		{Name: "d", Operational: true, PendingJobs: intPtr(5)},
		{Name: "e", Operational: true, PendingJobs: intPtr(0)},
	}

	recs := Recommend(targets)
	if len(recs) != MaxRecommendations {
		t.Fatalf("len(Recommend()) = %d, want %d", len(recs), MaxRecommendations)
	}

	want := []string{"e", "b", "c"}
	for i, name := range want {
		if recs[i].Name != name {
			t.Errorf("recs[%d].Name = %q, want %q", i, recs[i].Name, name)
		}
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Score > recs[i-1].Score {
			t.Errorf("not sorted by score: %v", recs)
		}
	}
}

func TestRecommend_Fields(t *testing.T) {
	recs := Recommend([]TargetStatus{{Name: "x", Operational: true, PendingJobs: intPtr(3)}})
	if len(recs) != 1 {
		t.Fatalf("len(Recommend()) = %d, want 1", len(recs))
	}
	r := recs[0]
	if r.ServiceType != "unknown" || r.QueueLength != 3 || r.Qubits != nil || r.Reason != "Short queue" {
		t.Errorf("Recommend() = %+v", r)
	}
}

func TestRecommend_Empty(t *testing.T) {
	if got := Recommend(nil); len(got) != 0 {
		t.Errorf("Recommend(nil) = %v, want empty", got)
	}
	if got := Recommend([]TargetStatus{{Name: "down"}}); len(got) != 0 {
		t.Errorf("Recommend(non-operational) = %v, want empty", got)
	}
}

func TestLeastBusy(t *testing.T) {
	targets := []TargetStatus{
		{Name: "down", Operational: false, PendingJobs: intPtr(0)},
		{Name: "unknown", Operational: true},
		{Name: "a", Operational: true, PendingJobs: intPtr(7)},
		{Name: "b", Operational: true, PendingJobs: intPtr(2)},
		{Name: "c", Operational: true, PendingJobs: intPtr(2)},
	}

	got, ok := LeastBusy(targets)
	if !ok || got.Name != "b" {
		t.Errorf("LeastBusy() = %q, %v; want b, true", got.Name, ok)
	}

	if _, ok := LeastBusy(targets[:2]); ok {
		t.Error("LeastBusy() should find nothing without a known operational queue")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		target  TargetStatus
		wantErr bool
	}{
		{name: "valid", target: TargetStatus{Name: "hw", PendingJobs: intPtr(3), Qubits: intPtr(27)}},
		{name: "unknown counts", target: TargetStatus{Name: "hw"}},
		{name: "zero counts", target: TargetStatus{Name: "hw", PendingJobs: intPtr(0), Qubits: intPtr(0)}},
		{name: "empty name", target: TargetStatus{PendingJobs: intPtr(1)}, wantErr: true},
		{name: "negative pending", target: TargetStatus{Name: "hw", PendingJobs: intPtr(-1)}, wantErr: true},
		{name: "negative qubits", target: TargetStatus{Name: "hw", Qubits: intPtr(-5)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Errorf("Validate() error = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestValidateAll(t *testing.T) {
	targets := []TargetStatus{
		{Name: "ok", PendingJobs: intPtr(1)},
		{Name: "bad", PendingJobs: intPtr(-2)},
	}
	if err := ValidateAll(targets); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("ValidateAll() error = %v, want ErrInvalidInput", err)
	}
	if err := ValidateAll(targets[:1]); err != nil {
		t.Errorf("ValidateAll(valid) error = %v", err)
	}
	if err := ValidateAll(nil); err != nil {
		t.Errorf("ValidateAll(nil) error = %v", err)
	}
}

func TestRecommend_SkipsInvalidTargets(t *testing.T) {
	// A negative queue would otherwise earn a bonus instead of a penalty.
	targets := []TargetStatus{
		{Name: "negative", Operational: true, PendingJobs: intPtr(-100)},
		{Name: "negative-qubits", Operational: true, PendingJobs: intPtr(0), Qubits: intPtr(-50)},
		{Name: "hw", Operational: true, PendingJobs: intPtr(4)},
	}

	recs := Recommend(targets)
	if len(recs) != 1 || recs[0].Name != "hw" {
		t.Errorf("Recommend() = %+v, want only hw", recs)
	}

	got, ok := LeastBusy(targets)
	if !ok || got.Name != "hw" {
		t.Errorf("LeastBusy() = %q, %v; want hw, true", got.Name, ok)
	}
}
