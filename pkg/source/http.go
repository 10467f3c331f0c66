package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/jobadvisor/pkg/analytics"
	"github.com/HatiCode/jobadvisor/pkg/recommend"
)

// HTTPSource reads a JSON job feed.
//
// Jobs are fetched from {BaseURL}/users/{user}/jobs and targets from
// {BaseURL}/users/{user}/targets. Each response holds an array of objects
// located with a gjson path:
//
//	{"jobs": [{"job_id": "j1", "backend": "sim", "status": "DONE",
//	           "creation_time": "...", "queued_at": "...", "started_at": "...",
//	           "finished_at": "...", "tags": ["user:alice"]}]}
//
//	{"targets": [{"name": "sim", "operational": true, "pending_jobs": 3,
//	              "qubits": 5, "service_type": "public", "simulator": true}]}
//
// A target without pending_jobs or qubits reports them as unknown.
type HTTPSource struct {
	// BaseURL is the feed root (required).
	BaseURL string

	// Headers are added to every request. Values may use template
	// variables from TemplateVars, e.g. "Bearer {{.Token}}".
	Headers map[string]string

	// JobsPath is the gjson path of the job array. Defaults to "jobs".
	JobsPath string

	// TargetsPath is the gjson path of the target array. Defaults to "targets".
	TargetsPath string

	// TimestampFormat is "rfc3339" (default), "unix" or "unix_milli".
	TimestampFormat string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	TemplateVars map[string]string
}

func (h *HTTPSource) Name() string { return "http" }

// Jobs implements Source.
func (h *HTTPSource) Jobs(ctx context.Context, userID string) ([]JobUpdate, error) {
	items, err := h.fetch(ctx, userID, "jobs", orDefault(h.JobsPath, "jobs"))
	if err != nil {
		return nil, err
	}

	jobs := make([]JobUpdate, 0, len(items))
	for i, item := range items {
		id := item.Get("job_id").String()
		if id == "" {
			return nil, fmt.Errorf("jobs[%d]: missing job_id", i)
		}

		created, err := h.parseTimestamp(item.Get("creation_time"))
		if err != nil {
			return nil, fmt.Errorf("jobs[%d].creation_time: %w", i, err)
		}

		job := JobUpdate{JobRecord: analytics.JobRecord{
			JobID:     id,
			Backend:   orDefault(item.Get("backend").String(), UnknownBackend),
			Status:    item.Get("status").String(),
			CreatedAt: created,
			UserID:    orDefault(item.Get("user_id").String(), userID),
		}}
		for _, tag := range item.Get("tags").Array() {
			job.Tags = append(job.Tags, tag.String())
		}
		if job.QueuedAt, err = h.optionalTimestamp(item.Get("queued_at")); err != nil {
			return nil, fmt.Errorf("jobs[%d].queued_at: %w", i, err)
		}
		if job.StartedAt, err = h.optionalTimestamp(item.Get("started_at")); err != nil {
			return nil, fmt.Errorf("jobs[%d].started_at: %w", i, err)
		}
		if job.FinishedAt, err = h.optionalTimestamp(item.Get("finished_at")); err != nil {
			return nil, fmt.Errorf("jobs[%d].finished_at: %w", i, err)
		}

		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Targets implements Source.
func (h *HTTPSource) Targets(ctx context.Context, userID string) ([]recommend.TargetStatus, error) {
	items, err := h.fetch(ctx, userID, "targets", orDefault(h.TargetsPath, "targets"))
	if err != nil {
		return nil, err
	}

	targets := make([]recommend.TargetStatus, 0, len(items))
	for i, item := range items {
		name := item.Get("name").String()
		if name == "" {
			return nil, fmt.Errorf("targets[%d]: missing name", i)
		}
		targets = append(targets, recommend.TargetStatus{
			Name:        name,
			Operational: item.Get("operational").Bool(),
			PendingJobs: optionalInt(item.Get("pending_jobs")),
			Qubits:      optionalInt(item.Get("qubits")),
			ServiceType: item.Get("service_type").String(),
			Simulator:   item.Get("simulator").Bool(),
		})
	}
	return targets, nil
}

func (h *HTTPSource) fetch(ctx context.Context, userID, resource, path string) ([]gjson.Result, error) {
	if h.BaseURL == "" {
		return nil, errors.New("http source: BaseURL is required")
	}

	u := strings.TrimRight(h.BaseURL, "/") + "/users/" + url.PathEscape(userID) + "/" + resource

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	data := map[string]any{"UserID": userID}
	for k, v := range h.TemplateVars {
		data[k] = v
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, data)
		if err != nil {
			return nil, fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%s feed: invalid JSON", resource)
	}

	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		return nil, fmt.Errorf("path %q not found in response", path)
	}
	if !result.IsArray() {
		return nil, fmt.Errorf("path %q is not an array", path)
	}
	return result.Array(), nil
}

func (h *HTTPSource) parseTimestamp(value gjson.Result) (time.Time, error) {
	if !value.Exists() {
		return time.Time{}, errors.New("missing timestamp")
	}

	switch orDefault(h.TimestampFormat, "rfc3339") {
	case "rfc3339":
		return time.Parse(time.RFC3339, value.String())
	case "unix":
		return time.Unix(int64(value.Float()), 0).UTC(), nil
	case "unix_milli":
		return time.UnixMilli(int64(value.Float())).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp format: %s", h.TimestampFormat)
	}
}

func (h *HTTPSource) optionalTimestamp(value gjson.Result) (*time.Time, error) {
	if !value.Exists() || value.Type == gjson.Null || value.String() == "" {
		return nil, nil
	}
	t, err := h.parseTimestamp(value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ValidateConfig checks if the source configuration is valid.
func (h *HTTPSource) ValidateConfig() error {
	if h.BaseURL == "" {
		return errors.New("url is required")
	}
	if _, err := url.Parse(h.BaseURL); err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	switch h.TimestampFormat {
	case "", "rfc3339", "unix", "unix_milli":
		return nil
	default:
		return fmt.Errorf("invalid timestampFormat: %s (must be rfc3339, unix, or unix_milli)", h.TimestampFormat)
	}
}

func optionalInt(value gjson.Result) *int {
	if !value.Exists() || value.Type != gjson.Number {
		return nil
	}
	v := int(value.Int())
	return &v
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
