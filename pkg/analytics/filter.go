package analytics

import (
	"slices"
	"strings"
)

// Status classes used by dashboards to color a job.
const (
	ClassSuccess   = "success"
	ClassWarning   = "warning"
	ClassDanger    = "danger"
	ClassSecondary = "secondary"
)

// StatusClass maps a job status to its display class.
func StatusClass(status string) string {
	switch strings.ToLower(status) {
	case "completed", "done":
		return ClassSuccess
	case "running", "queued", "validating":
		return ClassWarning
	case "error", "failed", "cancelled":
		return ClassDanger
	}
	return ClassSecondary
}

// Filter selects jobs. Empty fields match everything.
type Filter struct {
	UserID  string
	Backend string
	// Status is compared case-insensitively.
	Status string
	// Tags matches jobs carrying at least one of the tags.
	Tags []string
}

// ParseTags splits a comma separated tag list, dropping blanks.
func ParseTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// Match reports whether job passes every set criterion.
func (f Filter) Match(job JobRecord) bool {
	if f.UserID != "" && job.UserID != f.UserID {
		return false
	}
	if f.Backend != "" && job.Backend != f.Backend {
		return false
	}
	if f.Status != "" && !strings.EqualFold(job.Status, f.Status) {
		return false
	}
	if len(f.Tags) > 0 && !hasAnyTag(job.Tags, f.Tags) {
		return false
	}
	return true
}

// FilterJobs returns the jobs matching f, in input order.
func FilterJobs(jobs []JobRecord, f Filter) []JobRecord {
	out := make([]JobRecord, 0, len(jobs))
	for _, job := range jobs {
		if f.Match(job) {
			out = append(out, job)
		}
	}
	return out
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}
