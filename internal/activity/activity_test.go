package activity

import (
	"fmt"
	"testing"
)

func TestTrackerLifecycle(t *testing.T) {
	tracker := NewTracker()

	tracker.StartRun("u1", "manual", 7)
	if !tracker.IsUserSyncing("u1") {
		t.Fatal("expected u1 to be syncing")
	}

	tracker.SetPhase("u1", "importedEvents", 1)
	tracker.IncrementProgress("u1", 2, 1, 0, 3)
	tracker.IncrementProgress("u1", 1, 0, 1, 0)

	active, recent := tracker.GetForUser("u1")
	if active == nil {
		t.Fatal("expected an active run")
	}
	if active.Phase != "importedEvents" || active.PhasesDone != 1 {
		t.Errorf("unexpected phase state %+v", active)
	}
	if active.Created != 3 || active.Updated != 1 || active.Deleted != 1 || active.Skipped != 3 {
		t.Errorf("unexpected counters %+v", active)
	}
	if len(recent) != 0 {
		t.Errorf("expected no recent runs, got %d", len(recent))
	}

	tracker.FinishRun("u1", true, "done", []string{"Essay: boom"})
	if tracker.IsUserSyncing("u1") {
		t.Error("expected run to be finished")
	}

	active, recent = tracker.GetForUser("u1")
	if active != nil {
		t.Error("expected no active run")
	}
	if len(recent) != 1 || recent[0].Status != "partial" {
		t.Fatalf("expected one partial run, got %+v", recent)
	}
	if recent[0].PhasesDone != 7 || recent[0].Phase != "" {
		t.Errorf("expected completed phases, got %+v", recent[0])
	}
}

func TestTrackerStatuses(t *testing.T) {
	tests := []struct {
		name    string
		success bool
		errors  []string
		want    string
	}{
		{"clean run", true, nil, "completed"},
		{"phase errors", true, []string{"x"}, "partial"},
		{"aborted", false, []string{"auth"}, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker()
			tracker.StartRun("u", "scheduled", 7)
			tracker.FinishRun("u", tt.success, "", tt.errors)
			recent := tracker.GetRecent()
			if len(recent) != 1 || recent[0].Status != tt.want {
				t.Errorf("expected status %q, got %+v", tt.want, recent)
			}
		})
	}
}

func TestTrackerKeepsRecentBounded(t *testing.T) {
	tracker := NewTracker()
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("user-%d", i)
		tracker.StartRun(id, "scheduled", 7)
		tracker.FinishRun(id, true, "", nil)
	}

	recent := tracker.GetRecent()
	if len(recent) != 20 {
		t.Fatalf("expected 20 recent runs, got %d", len(recent))
	}
	if recent[0].UserID != "user-24" {
		t.Errorf("expected newest first, got %s", recent[0].UserID)
	}
}

func TestTrackerIgnoresUnknownUser(t *testing.T) {
	tracker := NewTracker()
	tracker.SetPhase("ghost", "deletions", 0)
	tracker.IncrementProgress("ghost", 1, 1, 1, 1)
	tracker.FinishRun("ghost", true, "", nil)

	if len(tracker.GetActive()) != 0 || len(tracker.GetRecent()) != 0 {
		t.Error("expected no tracked runs")
	}
}
