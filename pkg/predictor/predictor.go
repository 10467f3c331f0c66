// Package predictor estimates queue wait and job start times per target
// from a rolling window of completed-job samples.
//
// Estimates are plain arithmetic means over the retained window. Each target
// keeps at most Cap samples; the oldest are evicted first.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/HatiCode/jobadvisor/pkg/storage"
)

// DefaultCap is the number of samples retained per target.
const DefaultCap = 1000

// Unknown is returned by EstimateAverageWait when there is nothing to average.
const Unknown = "Unknown"

// ErrInvalidInput is returned for negative times or queue lengths and empty ids.
var ErrInvalidInput = errors.New("invalid input")

// Sample is one completed job observed on a target. Times are in seconds.
type Sample struct {
	Timestamp string  `json:"timestamp"`
	JobID     string  `json:"job_id"`
	QueueTime float64 `json:"queue_time"`
	RunTime   float64 `json:"run_time"`
}

// Predictor owns the per-target sample windows.
type Predictor struct {
	mu        sync.Mutex
	samples   map[string][]Sample
	backend   storage.Store
	logger    *slog.Logger
	cap       int
	now       func() time.Time
	onPersist func(store string, err error)
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithCap sets the per-target window size. Values < 1 are ignored.
func WithCap(n int) Option {
	return func(p *Predictor) {
		if n > 0 {
			p.cap = n
		}
	}
}

// WithClock overrides the clock used for sample timestamps and estimates.
func WithClock(now func() time.Time) Option {
	return func(p *Predictor) { p.now = now }
}

// WithPersistObserver registers a callback for persist failures.
func WithPersistObserver(fn func(store string, err error)) Option {
	return func(p *Predictor) { p.onPersist = fn }
}

// New loads the sample windows from backend; failures start empty.
func New(ctx context.Context, backend storage.Store, logger *slog.Logger, opts ...Option) *Predictor {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Predictor{
		samples: make(map[string][]Sample),
		backend: backend,
		logger:  logger,
		cap:     DefaultCap,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	snap, err := backend.Load(ctx)
	if err != nil {
		logger.Warn("queue history unavailable, starting empty", "error", err)
		return p
	}
	samples, err := storage.Decode[[]Sample](snap)
	if err != nil {
		logger.Warn("queue history corrupt, starting empty", "error", err)
		return p
	}
	for target, s := range samples {
		samples[target] = trim(s, p.cap)
	}
	p.samples = samples

	logger.Info("loaded queue history", "targets", len(samples))
	return p
}

// RecordCompletion appends a sample for target and persists the windows.
func (p *Predictor) RecordCompletion(ctx context.Context, jobID, target string, queueTime, runTime float64) error {
	if target == "" {
		return fmt.Errorf("%w: target cannot be empty", ErrInvalidInput)
	}
	if !finite(queueTime) || !finite(runTime) {
		return fmt.Errorf("%w: queue time and run time must be finite, got %v and %v", ErrInvalidInput, queueTime, runTime)
	}
	if queueTime < 0 || runTime < 0 {
		return fmt.Errorf("%w: queue time and run time must be >= 0, got %v and %v", ErrInvalidInput, queueTime, runTime)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.samples[target] = trim(append(p.samples[target], Sample{
		Timestamp: p.now().Format(time.RFC3339Nano),
		JobID:     jobID,
		QueueTime: queueTime,
		RunTime:   runTime,
	}), p.cap)

	p.persist(ctx)
	return nil
}

// EstimateStartTime predicts when a job entering target's queue behind
// queueLength jobs will start. It returns nil when there are no positive
// run-time samples or the predicted wait is not positive.
func (p *Predictor) EstimateStartTime(jobID, target string, queueLength int) (*time.Time, error) {
	if queueLength < 0 {
		return nil, fmt.Errorf("%w: queue length must be >= 0, got %d", ErrInvalidInput, queueLength)
	}

	p.mu.Lock()
	avg, ok := meanPositive(p.samples[target], func(s Sample) float64 { return s.RunTime })
	p.mu.Unlock()
	if !ok {
		return nil, nil
	}

	wait := float64(queueLength) * avg
	if wait <= 0 {
		return nil, nil
	}

	start := p.now().Add(time.Duration(wait * float64(time.Second)))
	p.logger.Debug("estimated start time",
		"job_id", jobID,
		"target", target,
		"queue_length", queueLength,
		"avg_run_time", avg,
		"start", start,
	)
	return &start, nil
}

// EstimateAverageWait returns the mean positive queue time of target as a
// truncated human string, or Unknown.
func (p *Predictor) EstimateAverageWait(target string) string {
	p.mu.Lock()
	avg, ok := meanPositive(p.samples[target], func(s Sample) float64 { return s.QueueTime })
	p.mu.Unlock()
	if !ok {
		return Unknown
	}
	return FormatWait(avg)
}

// FormatWait renders seconds as "N seconds" below a minute, "N minutes" below
// an hour and "N hours" otherwise, truncating toward zero. NaN and infinite
// values render as Unknown.
func FormatWait(seconds float64) string {
	if !finite(seconds) {
		return Unknown
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("%d seconds", int(seconds))
	case seconds < 3600:
		return fmt.Sprintf("%d minutes", int(seconds/60))
	default:
		return fmt.Sprintf("%d hours", int(seconds/3600))
	}
}

// Samples returns a copy of target's window, oldest first.
func (p *Predictor) Samples(target string) []Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Sample{}, p.samples[target]...)
}

// Targets returns the targets with at least one sample, sorted by name.
func (p *Predictor) Targets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.samples))
	for target, s := range p.samples {
		if len(s) > 0 {
			out = append(out, target)
		}
	}
	sort.Strings(out)
	return out
}

func (p *Predictor) persist(ctx context.Context) {
	snap, err := storage.Encode(p.samples)
	if err == nil {
		err = p.backend.Save(ctx, snap)
	}
	if err != nil {
		p.logger.Error("failed to persist queue history", "error", err)
		if p.onPersist != nil {
			p.onPersist(storage.QueueHistory, err)
		}
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func meanPositive(samples []Sample, value func(Sample) float64) (float64, bool) {
	var sum float64
	var n int
	for _, s := range samples {
		if v := value(s); v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func trim(s []Sample, n int) []Sample {
	if len(s) <= n {
		return s
	}
	return append([]Sample(nil), s[len(s)-n:]...)
}
