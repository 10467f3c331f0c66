package predictor

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ParseQuantileLevel accepts p-notation ("p90") or a decimal ("0.9").
// An empty string or "0" means no quantile was requested.
func ParseQuantileLevel(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	if strings.HasPrefix(strings.ToLower(s), "p") {
		pct, err := strconv.ParseFloat(s[1:], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid percentile %q", ErrInvalidInput, s)
		}
		if pct < 0 || pct > 100 {
			return 0, fmt.Errorf("%w: percentile %v out of range [0, 100]", ErrInvalidInput, pct)
		}
		return pct / 100, nil
	}

	q, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid quantile %q", ErrInvalidInput, s)
	}
	if q < 0 || q > 1 {
		return 0, fmt.Errorf("%w: quantile %v out of range [0, 1]", ErrInvalidInput, q)
	}
	return q, nil
}

// FormatQuantileLevel renders q in p-notation, e.g. 0.9 -> "p90".
func FormatQuantileLevel(q float64) string {
	pct := q * 100
	if pct == math.Trunc(pct) {
		return fmt.Sprintf("p%d", int(pct))
	}
	return fmt.Sprintf("p%.1f", pct)
}

// WaitQuantile returns the nearest-rank q-quantile of target's positive queue
// times in seconds. ok is false when no positive sample exists.
func (p *Predictor) WaitQuantile(target string, q float64) (seconds float64, ok bool) {
	p.mu.Lock()
	values := make([]float64, 0, len(p.samples[target]))
	for _, s := range p.samples[target] {
		if s.QueueTime > 0 {
			values = append(values, s.QueueTime)
		}
	}
	p.mu.Unlock()

	if len(values) == 0 {
		return 0, false
	}
	sort.Float64s(values)

	rank := int(math.Ceil(q * float64(len(values))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(values) {
		rank = len(values)
	}
	return values[rank-1], true
}
