package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jmagar/core-sub000/domain"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	dir := t.TempDir()
	opts := &natsserver.Options{Port: -1, JetStream: true, StoreDir: dir}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

type fakeEntryStore struct {
	mu       sync.Mutex
	statuses map[string]domain.QueueStatus
	errs     map[string]string
}

func newFakeEntryStore() *fakeEntryStore {
	return &fakeEntryStore{statuses: make(map[string]domain.QueueStatus), errs: make(map[string]string)}
}

func (f *fakeEntryStore) SaveQueueEntry(_ context.Context, e domain.IngestionQueueEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[e.ID] = e.Status
	return nil
}

func (f *fakeEntryStore) UpdateQueueEntryStatus(_ context.Context, id string, status domain.QueueStatus, _ *domain.IngestOutput, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	f.errs[id] = errMsg
	return nil
}

func (f *fakeEntryStore) statusOf(id string) domain.QueueStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

func TestEnqueueProcessesJobInOrder(t *testing.T) {
	nc := startTestNATS(t)
	entries := newFakeEntryStore()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 10)

	handler := func(_ context.Context, job domain.IngestJob) (*domain.IngestOutput, error) {
		mu.Lock()
		order = append(order, job.QueueID)
		mu.Unlock()
		done <- struct{}{}
		return &domain.IngestOutput{EpisodeUUID: "ep-" + job.QueueID}, nil
	}

	reg, err := NewRegistry(nc, entries, handler, slog.Default())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	for i, qid := range []string{"q1", "q2", "q3"} {
		entry := domain.IngestionQueueEntry{ID: qid, WorkspaceID: "ws1"}
		job := domain.IngestJob{QueueID: qid, UserID: "user-1", Body: domain.IngestRequest{EpisodeBody: "doc"}}
		if err := reg.Enqueue(context.Background(), entry, job); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for jobs to process")
		}
	}

	mu.Lock()
	got := append([]string(nil), order...)
	mu.Unlock()
	want := []string{"q1", "q2", "q3"}
	for i, w := range want {
		if i >= len(got) || got[i] != w {
			t.Fatalf("processing order = %v, want %v", got, want)
		}
	}

	for _, qid := range want {
		if status := entries.statusOf(qid); status != domain.StatusCompleted {
			t.Fatalf("entry %s status = %s, want COMPLETED", qid, status)
		}
	}
}

func TestEnqueueMarksFailedOnHandlerError(t *testing.T) {
	nc := startTestNATS(t)
	entries := newFakeEntryStore()
	done := make(chan struct{}, 1)

	handler := func(_ context.Context, _ domain.IngestJob) (*domain.IngestOutput, error) {
		defer func() { done <- struct{}{} }()
		return nil, errors.New("pipeline exploded")
	}

	reg, err := NewRegistry(nc, entries, handler, slog.Default())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	entry := domain.IngestionQueueEntry{ID: "qf1", WorkspaceID: "ws1"}
	job := domain.IngestJob{QueueID: "qf1", UserID: "user-2", Body: domain.IngestRequest{EpisodeBody: "doc"}}
	if err := reg.Enqueue(context.Background(), entry, job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job")
	}
	time.Sleep(50 * time.Millisecond)

	if status := entries.statusOf("qf1"); status != domain.StatusFailed {
		t.Fatalf("entry status = %s, want FAILED", status)
	}
}

func TestCancelReturnsFalseWhenNotInFlight(t *testing.T) {
	nc := startTestNATS(t)
	entries := newFakeEntryStore()
	handler := func(_ context.Context, _ domain.IngestJob) (*domain.IngestOutput, error) {
		return &domain.IngestOutput{}, nil
	}
	reg, err := NewRegistry(nc, entries, handler, slog.Default())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if reg.Cancel("nonexistent") {
		t.Fatal("Cancel() = true for a job never enqueued")
	}
}
