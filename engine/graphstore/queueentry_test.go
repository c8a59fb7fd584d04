package graphstore

import (
	"testing"
	"time"

	"github.com/jmagar/core-sub000/domain"
)

func TestQueueEntryRoundtrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	e := domain.IngestionQueueEntry{
		ID:          "q1",
		WorkspaceID: "ws1",
		SpaceID:     "sp1",
		Priority:    3,
		Data:        domain.IngestRequest{EpisodeBody: "hello", Source: "test"},
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	props := queueEntryToMap(e)
	got := queueEntryFromProps(props)

	if got.ID != e.ID || got.WorkspaceID != e.WorkspaceID || got.Priority != e.Priority {
		t.Fatalf("queueEntryFromProps() = %+v", got)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("Status = %q, want PENDING", got.Status)
	}
	if got.Data.EpisodeBody != "hello" {
		t.Fatalf("Data.EpisodeBody = %q, want %q", got.Data.EpisodeBody, "hello")
	}
}

func TestQueueEntryWithOutput(t *testing.T) {
	e := domain.IngestionQueueEntry{
		ID:     "q2",
		Status: domain.StatusCompleted,
		Output: &domain.IngestOutput{EpisodeUUID: "ep1", StatementsCreated: 4},
	}
	props := queueEntryToMap(e)
	got := queueEntryFromProps(props)
	if got.Output == nil || got.Output.EpisodeUUID != "ep1" || got.Output.StatementsCreated != 4 {
		t.Fatalf("Output roundtrip = %+v", got.Output)
	}
}
