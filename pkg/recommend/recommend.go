// Package recommend ranks execution targets for a new job.
//
// Scoring is a pure function of a caller-supplied snapshot; nothing is cached
// or persisted. A target's score starts at 100, loses up to 50 points for its
// queue, gains 10 for simulators and up to 20 for qubit count, and is clamped
// to [0, 100].
package recommend

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MaxRecommendations is how many targets Recommend returns at most.
const MaxRecommendations = 3

const (
	maxQueuePenalty = 50
	simulatorBonus  = 10
	maxQubitBonus   = 20
	shortQueue      = 5
	highQubitCount  = 10
)

// ErrInvalidInput is returned for a target snapshot that cannot be scored.
var ErrInvalidInput = errors.New("invalid input")

// TargetStatus is a point-in-time view of one execution target.
// A nil PendingJobs or Qubits means the value is unknown.
type TargetStatus struct {
	Name        string `json:"name"`
	Operational bool   `json:"operational"`
	PendingJobs *int   `json:"pending_jobs,omitempty"`
	Qubits      *int   `json:"qubits,omitempty"`
	ServiceType string `json:"service_type,omitempty"`
	Simulator   bool   `json:"simulator"`
}

// Pending returns the pending job count, treating unknown as zero.
func (t TargetStatus) Pending() int {
	if t.PendingJobs == nil {
		return 0
	}
	return *t.PendingJobs
}

// Validate rejects targets without a name or with negative counts.
func (t TargetStatus) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: target name cannot be empty", ErrInvalidInput)
	}
	if t.PendingJobs != nil && *t.PendingJobs < 0 {
		return fmt.Errorf("%w: target %s: pending jobs cannot be negative, got %d", ErrInvalidInput, t.Name, *t.PendingJobs)
	}
	if t.Qubits != nil && *t.Qubits < 0 {
		return fmt.Errorf("%w: target %s: qubits cannot be negative, got %d", ErrInvalidInput, t.Name, *t.Qubits)
	}
	return nil
}

// ValidateAll returns the first validation error in targets.
func ValidateAll(targets []TargetStatus) error {
	for i, t := range targets {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("targets[%d]: %w", i, err)
		}
	}
	return nil
}

// Recommendation is a scored target.
type Recommendation struct {
	Name        string  `json:"name"`
	ServiceType string  `json:"service_type"`
	Qubits      *int    `json:"qubits"`
	QueueLength int     `json:"queue_length"`
	Score       float64 `json:"score"`
	Reason      string  `json:"recommendation_reason"`
}

// Score rates a target in [0, 100]. Higher is better.
func Score(t TargetStatus) float64 {
	score := 100.0
	score -= float64(min(t.Pending()*2, maxQueuePenalty))
	if t.Simulator {
		score += simulatorBonus
	}
	if t.Qubits != nil {
		score += min(float64(*t.Qubits)/5, maxQubitBonus)
	}
	return max(0, min(score, 100))
}

// Reason explains a target's score in a short human sentence.
func Reason(t TargetStatus) string {
	var reasons []string

	switch pending := t.Pending(); {
	case pending == 0:
		reasons = append(reasons, "No jobs in queue")
	case pending < shortQueue:
		reasons = append(reasons, "Short queue")
	default:
		reasons = append(reasons, fmt.Sprintf("%d jobs in queue", pending))
	}

	if t.Simulator {
		reasons = append(reasons, "Simulator (good for testing)")
	}
	if t.Qubits != nil && *t.Qubits > highQubitCount {
		reasons = append(reasons, "High qubit count")
	}

	return strings.Join(reasons, ", ")
}

// Recommend scores every operational target and returns the best
// MaxRecommendations, highest score first. Equal scores keep input order.
// Targets that fail Validate are skipped.
func Recommend(targets []TargetStatus) []Recommendation {
	recs := make([]Recommendation, 0, len(targets))
	for _, t := range targets {
		if !t.Operational || t.Validate() != nil {
			continue
		}

		serviceType := t.ServiceType
		if serviceType == "" {
			serviceType = "unknown"
		}
		recs = append(recs, Recommendation{
			Name:        t.Name,
			ServiceType: serviceType,
			Qubits:      t.Qubits,
			QueueLength: t.Pending(),
			Score:       Score(t),
			Reason:      Reason(t),
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Score > recs[j].Score
	})

	if len(recs) > MaxRecommendations {
		recs = recs[:MaxRecommendations]
	}
	return recs
}

// LeastBusy returns the operational target with the fewest known pending
// jobs. Targets with an unknown queue or failing Validate are skipped; ties
// keep input order.
func LeastBusy(targets []TargetStatus) (TargetStatus, bool) {
	var best TargetStatus
	found := false
	for _, t := range targets {
		if !t.Operational || t.PendingJobs == nil || t.Validate() != nil {
			continue
		}
		if !found || *t.PendingJobs < *best.PendingJobs {
			best = t
			found = true
		}
	}
	return best, found
}
