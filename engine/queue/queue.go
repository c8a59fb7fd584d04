// Package queue implements C5: a durable, per-user ingestion job queue.
// Per spec §4.5 it guarantees, for a given userId: FIFO delivery, at most
// one concurrent consumer, and survival across broker restart. A keyed
// logical queue "ingest-user-<userId>" over NATS JetStream provides
// durability; a lazily-created durable pull consumer per user, capped at
// one unacknowledged message, provides the FIFO and concurrency-1
// guarantees (each puller handles one message at a time and needs no
// additional locking).
//
// A Registry only runs consumers for users it has itself enqueued a job
// for in this process. Since C12 (cmd/api) and C6's worker pool
// (cmd/worker) are separate binaries that each construct their own
// Registry against the same JetStream stream, a lightweight core-NATS
// broadcast (pkg/natsutil, not JetStream — at-most-once is fine, it is
// purely a hint) tells every other Registry in the deployment "userId U
// has work" so their own EnsureConsumer can start draining it too,
// rather than leaving it to whichever process happened to call Enqueue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmagar/core-sub000/domain"
	"github.com/jmagar/core-sub000/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

const streamName = "INGEST_JOBS"
const activitySubject = "ingest-user-activity"

// activityNotice is the wire shape of the cross-process consumer hint.
type activityNotice struct {
	UserID string `json:"userId"`
}

func subjectFor(userID string) string { return "ingest-user-" + userID }
func durableFor(userID string) string { return "ingest-user-" + userID + "-consumer" }

// EntryStore persists IngestionQueueEntry lifecycle transitions, the
// parallel record spec §4.5 requires alongside the message itself.
type EntryStore interface {
	SaveQueueEntry(ctx context.Context, entry domain.IngestionQueueEntry) error
	UpdateQueueEntryStatus(ctx context.Context, id string, status domain.QueueStatus, output *domain.IngestOutput, errMsg string) error
}

// Handler runs one IngestJob through the ingestion pipeline.
type Handler func(ctx context.Context, job domain.IngestJob) (*domain.IngestOutput, error)

// Registry lazily maps userId to a durable, single-flight JetStream
// consumer. One Registry runs per process; every process in a
// deployment that can call Enqueue also runs a Registry so its own
// publishes are never orphaned.
type Registry struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	entries EntryStore
	handler Handler
	log     *slog.Logger

	mu      sync.Mutex
	subs    map[string]*nats.Subscription
	cancels map[string]context.CancelFunc
}

// NewRegistry ensures the backing JetStream stream exists, subscribes to
// the cross-process activity hint, and returns a Registry ready to
// Enqueue jobs and run their consumers.
func NewRegistry(nc *nats.Conn, entries EntryStore, handler Handler, log *slog.Logger) (*Registry, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("queue: jetstream context: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{"ingest-user-*"},
		Storage:  nats.FileStorage,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("queue: ensure stream: %w", err)
	}
	r := &Registry{
		nc:      nc,
		js:      js,
		entries: entries,
		handler: handler,
		log:     log,
		subs:    make(map[string]*nats.Subscription),
		cancels: make(map[string]context.CancelFunc),
	}
	if _, err := natsutil.Subscribe(nc, activitySubject, func(_ context.Context, notice activityNotice) {
		if notice.UserID == "" {
			return
		}
		if err := r.EnsureConsumer(notice.UserID); err != nil {
			r.log.Warn("queue: ensure consumer from activity hint failed", "user_id", notice.UserID, "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("queue: subscribe activity: %w", err)
	}
	return r, nil
}

// Enqueue records the IngestionQueueEntry as PENDING, publishes the job
// to the user's durable subject, ensures that user's consumer is running
// in this process, and broadcasts an activity hint so any sibling
// Registry in the deployment starts draining the same user too.
// Recording happens before publish so the entry never goes missing if
// the publish itself fails.
func (r *Registry) Enqueue(ctx context.Context, entry domain.IngestionQueueEntry, job domain.IngestJob) error {
	entry.Status = domain.StatusPending
	if err := r.entries.SaveQueueEntry(ctx, entry); err != nil {
		return fmt.Errorf("queue: save entry: %w", err)
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	if _, err := r.js.Publish(subjectFor(job.UserID), data); err != nil {
		return fmt.Errorf("queue: publish: %w", err)
	}
	if err := r.EnsureConsumer(job.UserID); err != nil {
		return err
	}
	if err := natsutil.Publish(ctx, r.nc, activitySubject, activityNotice{UserID: job.UserID}); err != nil {
		r.log.Warn("queue: activity broadcast failed", "user_id", job.UserID, "error", err)
	}
	return nil
}

// EnsureConsumer starts the pull subscription for userID if this process
// doesn't already have one running.
func (r *Registry) EnsureConsumer(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[userID]; ok {
		return nil
	}
	// MaxAckPending(1): the server hands out a user's next message only
	// after the previous one is acked, even when several processes pull
	// on the same durable consumer.
	sub, err := r.js.PullSubscribe(subjectFor(userID), durableFor(userID), nats.MaxAckPending(1))
	if err != nil {
		return fmt.Errorf("queue: pull subscribe %s: %w", userID, err)
	}
	r.subs[userID] = sub
	go r.runConsumer(userID, sub)
	return nil
}

// runConsumer pulls and processes messages for one user strictly one at
// a time, which is what gives FIFO delivery and single-consumer
// semantics without any extra locking: one goroutine per process drains
// this subject, and the consumer's one-message ack cap serializes
// pullers in different processes.
func (r *Registry) runConsumer(userID string, sub *nats.Subscription) {
	for {
		msgs, err := sub.Fetch(1, nats.MaxWait(5*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			r.log.Error("queue: fetch failed", "user_id", userID, "error", err)
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range msgs {
			r.process(userID, msg)
		}
	}
}

func (r *Registry) process(userID string, msg *nats.Msg) {
	var job domain.IngestJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		r.log.Error("queue: unmarshal job failed", "user_id", userID, "error", err)
		_ = msg.Term()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.trackCancel(job.QueueID, cancel)
	defer r.untrackCancel(job.QueueID)
	defer cancel()

	if err := r.entries.UpdateQueueEntryStatus(ctx, job.QueueID, domain.StatusProcessing, nil, ""); err != nil {
		r.log.Warn("queue: mark processing failed", "queue_id", job.QueueID, "error", err)
	}

	output, err := r.handler(ctx, job)
	if err != nil {
		errMsg := err.Error()
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, domain.ErrCancelled) {
			errMsg = "cancelled"
		}
		if uErr := r.entries.UpdateQueueEntryStatus(context.Background(), job.QueueID, domain.StatusFailed, nil, errMsg); uErr != nil {
			r.log.Error("queue: mark failed error", "queue_id", job.QueueID, "error", uErr)
		}
		// Terminal: the entry already records the failure, no redelivery.
		_ = msg.Ack()
		return
	}

	if uErr := r.entries.UpdateQueueEntryStatus(context.Background(), job.QueueID, domain.StatusCompleted, output, ""); uErr != nil {
		r.log.Error("queue: mark completed error", "queue_id", job.QueueID, "error", uErr)
	}
	_ = msg.Ack()
}

func (r *Registry) trackCancel(queueID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[queueID] = cancel
}

func (r *Registry) untrackCancel(queueID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, queueID)
}

// Cancel aborts an in-flight job if this process happens to be running
// it. Returns false if the job isn't in flight here (it may be queued,
// already finished, or running in another worker process).
func (r *Registry) Cancel(queueID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[queueID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}
