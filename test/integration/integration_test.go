//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/HatiCode/jobadvisor/cmd/advisor/metrics"
	"github.com/HatiCode/jobadvisor/cmd/advisor/router"
	"github.com/HatiCode/jobadvisor/pkg/analytics"
	"github.com/HatiCode/jobadvisor/pkg/history"
	"github.com/HatiCode/jobadvisor/pkg/notify"
	"github.com/HatiCode/jobadvisor/pkg/predictor"
	"github.com/HatiCode/jobadvisor/pkg/session"
	"github.com/HatiCode/jobadvisor/pkg/source"
	"github.com/HatiCode/jobadvisor/pkg/storage"
)

type advisor struct {
	backend  storage.Backend
	history  *history.Store
	handler  http.Handler
	sessions *session.Cache
}

// startAdvisor wires the components the way the advisor binary does,
// against a shared Redis backend.
func startAdvisor(t *testing.T, redisAddr, webhookURL string) *advisor {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())

	backend, err := storage.Open(storage.Options{Kind: "redis", RedisAddr: redisAddr})
	if err != nil {
		t.Fatalf("open redis backend: %v", err)
	}

	open := func(name string) storage.Store {
		s, err := backend.Store(name)
		if err != nil {
			t.Fatalf("open store %s: %v", name, err)
		}
		return s
	}

	h := history.New(ctx, open(storage.JobHistory), logger, history.WithPersistObserver(m.ObservePersist))
	p := predictor.New(ctx, open(storage.QueueHistory), logger, predictor.WithPersistObserver(m.ObservePersist))
	n := notify.New(ctx, open(storage.Notifications), logger,
		notify.WithDeliverer(notify.NewWebhookDeliverer(webhookURL, 0, nil, logger)),
		notify.WithDeliveryObserver(m.ObserveDelivery))
	sessions := session.NewCache(nil)

	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Run(workerCtx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &advisor{
		backend:  backend,
		history:  h,
		sessions: sessions,
		handler: router.SetupRoutes(router.Deps{
			History:    h,
			Predictor:  p,
			Notifier:   n,
			Aggregator: analytics.NewAggregator(h),
			Sessions:   sessions,
			Metrics:    m,
		}, logger),
	}
}

func (a *advisor) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest(method, path, r))
	return w
}

// TestAdvisorRedisE2E drives the API against Redis, restarts the advisor
// and checks that history, queue samples and notifications survive.
func TestAdvisorRedisE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	redisContainer, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(redisContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	endpoint, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	addr := strings.TrimPrefix(endpoint, "redis://")

	delivered := make(chan []byte, 4)
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		delivered <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer webhook.Close()

	first := startAdvisor(t, addr, webhook.URL)

	steps := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, "/api/jobs/job-1/events", `{"event_type":"submitted","data":{"user_id":"alice"}}`, http.StatusCreated},
		{http.MethodPost, "/api/jobs/job-1/events", `{"event_type":"status_change","data":{"user_id":"alice","status":"DONE"}}`, http.StatusCreated},
		{http.MethodPost, "/api/targets/sim-a/completions", `{"job_id":"job-1","queue_time":30,"run_time":10}`, http.StatusNoContent},
		{http.MethodPost, "/api/targets/sim-a/completions", `{"job_id":"job-2","queue_time":90,"run_time":20}`, http.StatusNoContent},
		{http.MethodPost, "/api/users/alice/notifications", `{"title":"Job Submitted: job-1","message":"sampler job","job_info":{"job_id":"job-1","backend":"sim-a","status":"SUBMITTED"}}`, http.StatusCreated},
	}
	for _, s := range steps {
		if w := first.do(t, s.method, s.path, s.body); w.Code != s.want {
			t.Fatalf("%s %s = %d, want %d (%s)", s.method, s.path, w.Code, s.want, w.Body.String())
		}
	}

	select {
	case body := <-delivered:
		if !strings.Contains(string(body), "job-1") {
			t.Errorf("webhook payload missing job id: %s", body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not called")
	}

	if err := first.backend.Close(); err != nil {
		t.Fatalf("close backend: %v", err)
	}

	second := startAdvisor(t, addr, webhook.URL)
	defer second.backend.Close()

	if got := len(second.history.Timeline("job-1")); got != 2 {
		t.Errorf("timeline after restart has %d events, want 2", got)
	}

	w := second.do(t, http.MethodGet, "/api/targets/sim-a/wait", "")
	var wait map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &wait); err != nil {
		t.Fatalf("decode wait: %v", err)
	}
	if wait["average_wait"] != "60 seconds" {
		t.Errorf("average_wait after restart = %v, want 60 seconds", wait["average_wait"])
	}

	w = second.do(t, http.MethodGet, "/api/users/alice/notifications?unread=true", "")
	var list struct {
		Notifications []notify.Notification `json:"notifications"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode notifications: %v", err)
	}
	if len(list.Notifications) != 1 || list.Notifications[0].JobInfo == nil {
		t.Errorf("notifications after restart = %+v", list.Notifications)
	}

	w = second.do(t, http.MethodGet, "/api/users/alice/analytics", "")
	var report analytics.Report
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode analytics: %v", err)
	}
	if report.Source != analytics.SourceHistory || report.TotalJobs != 1 || report.SuccessRate != 100 {
		t.Errorf("analytics after restart = %+v", report)
	}
}

// TestHTTPSourceFeed checks the feed client against a live server speaking
// the feed's JSON layout.
func TestHTTPSourceFeed(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	now := time.Now().UTC().Truncate(time.Second)
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/users/alice/jobs":
			fmt.Fprintf(w, `{"data":{"jobs":[{"job_id":"j1","backend":"sim-a","status":"DONE","creation_time":%q,"queued_at":%q,"started_at":%q,"finished_at":%q}]}}`,
				now.Add(-time.Hour).Format(time.RFC3339), now.Add(-50*time.Minute).Format(time.RFC3339),
				now.Add(-45*time.Minute).Format(time.RFC3339), now.Add(-44*time.Minute).Format(time.RFC3339))
		case "/users/alice/targets":
			fmt.Fprint(w, `{"targets":[{"name":"sim-a","operational":true,"pending_jobs":2,"simulator":true}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer feed.Close()

	src, err := source.New("http", map[string]string{"url": feed.URL, "jobsPath": "data.jobs"})
	if err != nil {
		t.Fatalf("source.New() error = %v", err)
	}

	ctx := context.Background()
	jobs, err := src.Jobs(ctx, "alice")
	if err != nil {
		t.Fatalf("Jobs() error = %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	if q, ok := jobs[0].QueueTime(); !ok || q != 300 {
		t.Errorf("QueueTime() = %v, %v, want 300", q, ok)
	}

	targets, err := src.Targets(ctx, "alice")
	if err != nil {
		t.Fatalf("Targets() error = %v", err)
	}
	if len(targets) != 1 || targets[0].Pending() != 2 {
		t.Errorf("targets = %+v", targets)
	}

	if jobs, err := src.Jobs(ctx, "bob"); err != nil || len(jobs) != 0 {
		t.Errorf("unknown user: jobs = %v, err = %v", jobs, err)
	}
}
