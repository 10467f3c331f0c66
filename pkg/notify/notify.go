// Package notify keeps a bounded notification log per user and forwards
// job notifications to an external channel on a best-effort basis.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HatiCode/jobadvisor/pkg/storage"
)

// DefaultCap is the number of notifications retained per user.
const DefaultCap = 100

// DefaultQueueSize is the number of notifications that may wait for delivery.
const DefaultQueueSize = 64

var (
	// ErrInvalidInput is returned when a notification has no user or title.
	ErrInvalidInput = errors.New("invalid input")

	// ErrQueueFull is reported to the delivery observer when a notification
	// is dropped because the outbox is full.
	ErrQueueFull = errors.New("delivery queue full")
)

// JobInfo identifies the job a notification is about.
type JobInfo struct {
	JobID   string `json:"job_id"`
	Backend string `json:"backend"`
	Status  string `json:"status"`
	JobType string `json:"job_type,omitempty"`
}

// Notification is one entry of a user's log. Read is its only mutable field.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp string    `json:"timestamp"`
	JobInfo   *JobInfo  `json:"job_info"`
	Read      bool      `json:"read"`
}

// Dispatcher owns every user's notification log.
type Dispatcher struct {
	mu        sync.Mutex
	logs      map[string][]Notification
	backend   storage.Store
	deliverer Deliverer
	outbox    chan Notification
	queueSize int
	logger    *slog.Logger
	cap       int
	now       func() time.Time
	onPersist func(store string, err error)
	onDeliver func(err error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDeliverer sets the external channel used for job notifications.
// Without one, notifications are only kept in the log.
func WithDeliverer(d Deliverer) Option {
	return func(n *Dispatcher) { n.deliverer = d }
}

// WithCap sets the per-user log size. Values < 1 are ignored.
func WithCap(c int) Option {
	return func(n *Dispatcher) {
		if c > 0 {
			n.cap = c
		}
	}
}

// WithQueueSize sets how many notifications may wait for delivery.
// Values < 1 are ignored.
func WithQueueSize(size int) Option {
	return func(n *Dispatcher) {
		if size > 0 {
			n.queueSize = size
		}
	}
}

// WithClock overrides the clock used for notification timestamps.
func WithClock(now func() time.Time) Option {
	return func(n *Dispatcher) { n.now = now }
}

// WithPersistObserver registers a callback for persist failures.
func WithPersistObserver(fn func(store string, err error)) Option {
	return func(n *Dispatcher) { n.onPersist = fn }
}

// WithDeliveryObserver registers a callback invoked after every delivery
// attempt with its outcome, and with ErrQueueFull for dropped notifications.
// It runs on the delivery worker.
func WithDeliveryObserver(fn func(err error)) Option {
	return func(n *Dispatcher) { n.onDeliver = fn }
}

// New loads the notification logs from backend; failures start empty.
func New(ctx context.Context, backend storage.Store, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	n := &Dispatcher{
		logs:      make(map[string][]Notification),
		backend:   backend,
		queueSize: DefaultQueueSize,
		logger:    logger,
		cap:       DefaultCap,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.outbox = make(chan Notification, n.queueSize)

	snap, err := backend.Load(ctx)
	if err != nil {
		logger.Warn("notifications unavailable, starting empty", "error", err)
		return n
	}
	logs, err := storage.Decode[[]Notification](snap)
	if err != nil {
		logger.Warn("notifications corrupt, starting empty", "error", err)
		return n
	}
	for user, l := range logs {
		logs[user] = trim(l, n.cap)
	}
	n.logs = logs

	logger.Info("loaded notifications", "users", len(logs))
	return n
}

// Send appends a notification to the user's log and persists it. When job
// info is present and a deliverer is configured, the notification is queued
// for the delivery worker. Send never waits on delivery: a full queue drops
// the notification from the external channel, not from the log.
func (n *Dispatcher) Send(ctx context.Context, userID, title, message string, info *JobInfo) (Notification, error) {
	if userID == "" {
		return Notification{}, fmt.Errorf("%w: user id cannot be empty", ErrInvalidInput)
	}
	if title == "" {
		return Notification{}, fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
	}

	note := Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		Message:   message,
		Timestamp: n.now().Format(time.RFC3339Nano),
		JobInfo:   copyInfo(info),
	}

	n.mu.Lock()
	n.logs[userID] = trim(append(n.logs[userID], note), n.cap)
	n.persist(ctx)
	n.mu.Unlock()

	n.logger.Info("notification sent", "user_id", userID, "title", title)

	if info != nil && n.deliverer != nil {
		n.enqueue(note)
	}

	return note, nil
}

func (n *Dispatcher) enqueue(note Notification) {
	select {
	case n.outbox <- note:
	default:
		n.logger.Warn("delivery queue full, dropping notification",
			"user_id", note.UserID,
			"notification_id", note.ID,
		)
		if n.onDeliver != nil {
			n.onDeliver(ErrQueueFull)
		}
	}
}

// Pending returns the number of notifications waiting for delivery.
func (n *Dispatcher) Pending() int {
	return len(n.outbox)
}

// Run delivers queued notifications one at a time.
// Blocks until context is canceled; undelivered notifications are dropped.
func (n *Dispatcher) Run(ctx context.Context) error {
	if n.deliverer == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	n.logger.Info("notification delivery worker started", "queue_size", cap(n.outbox))
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("notification delivery worker stopped", "pending", len(n.outbox))
			return ctx.Err()
		case note := <-n.outbox:
			n.deliver(ctx, note)
		}
	}
}

func (n *Dispatcher) deliver(ctx context.Context, note Notification) {
	err := n.deliverer.Deliver(ctx, note)
	if err != nil {
		n.logger.Error("notification delivery failed",
			"user_id", note.UserID,
			"notification_id", note.ID,
			"error", err,
		)
	}
	if n.onDeliver != nil {
		n.onDeliver(err)
	}
}

// List returns a copy of the user's log, oldest first, optionally only the
// unread entries. Unknown users yield an empty slice.
func (n *Dispatcher) List(userID string, unreadOnly bool) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]Notification, 0, len(n.logs[userID]))
	for _, note := range n.logs[userID] {
		if unreadOnly && note.Read {
			continue
		}
		note.JobInfo = copyInfo(note.JobInfo)
		out = append(out, note)
	}
	return out
}

// UnreadCount returns how many of the user's notifications are unread.
func (n *Dispatcher) UnreadCount(userID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	count := 0
	for _, note := range n.logs[userID] {
		if !note.Read {
			count++
		}
	}
	return count
}

// MarkRead marks the notification at index as read, or all of them when
// index is nil. An out of range index or unknown user is a no-op.
func (n *Dispatcher) MarkRead(ctx context.Context, userID string, index *int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	log, ok := n.logs[userID]
	if !ok {
		return
	}

	if index != nil {
		if *index < 0 || *index >= len(log) {
			return
		}
		log[*index].Read = true
	} else {
		for i := range log {
			log[i].Read = true
		}
	}

	n.persist(ctx)
}

func (n *Dispatcher) persist(ctx context.Context) {
	snap, err := storage.Encode(n.logs)
	if err == nil {
		err = n.backend.Save(ctx, snap)
	}
	if err != nil {
		n.logger.Error("failed to persist notifications", "error", err)
		if n.onPersist != nil {
			n.onPersist(storage.Notifications, err)
		}
	}
}

func copyInfo(info *JobInfo) *JobInfo {
	if info == nil {
		return nil
	}
	c := *info
	return &c
}

func trim(l []Notification, n int) []Notification {
	if len(l) <= n {
		return l
	}
	return append([]Notification(nil), l[len(l)-n:]...)
}
