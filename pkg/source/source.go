// Package source pulls a user's jobs and target statuses from the service
// that executes them.
//
// The advisor never talks to the execution service's own API. A source reads
// a normalized JSON feed published in front of it, or serves fixed data.
package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HatiCode/jobadvisor/pkg/analytics"
	"github.com/HatiCode/jobadvisor/pkg/recommend"
)

// UnknownBackend is the backend name a feed reports before a job has been
// placed on a target.
const UnknownBackend = "Unknown"

// JobUpdate is the current state of one job.
type JobUpdate struct {
	analytics.JobRecord
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// HasBackend reports whether the job has been assigned to a real target.
func (j JobUpdate) HasBackend() bool {
	return j.Backend != "" && j.Backend != UnknownBackend
}

// QueueTime returns the seconds between queueing and start.
func (j JobUpdate) QueueTime() (float64, bool) {
	return span(j.QueuedAt, j.StartedAt)
}

// RunTime returns the seconds between start and finish.
func (j JobUpdate) RunTime() (float64, bool) {
	return span(j.StartedAt, j.FinishedAt)
}

func span(from, to *time.Time) (float64, bool) {
	if from == nil || to == nil {
		return 0, false
	}
	d := to.Sub(*from)
	if d < 0 {
		return 0, false
	}
	return d.Seconds(), true
}

// Source fetches per-user data. Implementations must respect ctx.
type Source interface {
	Jobs(ctx context.Context, userID string) ([]JobUpdate, error)
	Targets(ctx context.Context, userID string) ([]recommend.TargetStatus, error)
	Name() string
}

// New creates a source of the given kind from a generic config map.
//
// Supported kinds:
//   - "http": HTTPSource, requires "url"
//   - "static": StaticSource with no data, fed through Set
func New(kind string, config map[string]string) (Source, error) {
	switch kind {
	case "http":
		return newHTTP(config)
	case "static", "":
		return NewStaticSource(), nil
	default:
		return nil, fmt.Errorf("unknown source kind: %s (must be http or static)", kind)
	}
}

func newHTTP(config map[string]string) (Source, error) {
	url := config["url"]
	if url == "" {
		return nil, fmt.Errorf("http source requires 'url' config")
	}

	s := &HTTPSource{
		BaseURL:         url,
		JobsPath:        config["jobsPath"],
		TargetsPath:     config["targetsPath"],
		TimestampFormat: config["timestampFormat"],
	}
	if token := config["token"]; token != "" {
		s.Headers = map[string]string{"Authorization": "Bearer {{.Token}}"}
		s.TemplateVars = map[string]string{"Token": token}
	}
	if err := s.ValidateConfig(); err != nil {
		return nil, err
	}
	return s, nil
}

// StaticSource serves data set in memory. It is safe for concurrent use.
type StaticSource struct {
	mu      sync.RWMutex
	jobs    map[string][]JobUpdate
	targets map[string][]recommend.TargetStatus
}

// NewStaticSource creates an empty StaticSource.
func NewStaticSource() *StaticSource {
	return &StaticSource{
		jobs:    make(map[string][]JobUpdate),
		targets: make(map[string][]recommend.TargetStatus),
	}
}

func (s *StaticSource) Name() string { return "static" }

// Set replaces the data served for userID.
func (s *StaticSource) Set(userID string, jobs []JobUpdate, targets []recommend.TargetStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[userID] = append([]JobUpdate(nil), jobs...)
	s.targets[userID] = append([]recommend.TargetStatus(nil), targets...)
}

// Jobs implements Source.
func (s *StaticSource) Jobs(ctx context.Context, userID string) ([]JobUpdate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]JobUpdate(nil), s.jobs[userID]...), nil
}

// Targets implements Source.
func (s *StaticSource) Targets(ctx context.Context, userID string) ([]recommend.TargetStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]recommend.TargetStatus(nil), s.targets[userID]...), nil
}
