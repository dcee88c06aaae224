package activity

import (
	"sync"
	"time"
)

// RunActivity represents the live state of one user's sync run.
type RunActivity struct {
	UserID      string     `json:"user_id"`
	Trigger     string     `json:"trigger"` // "manual", "scheduled", "cli"
	Status      string     `json:"status"`  // "running", "completed", "partial", "error"
	Phase       string     `json:"phase,omitempty"`
	PhasesDone  int        `json:"phases_done"`
	TotalPhases int        `json:"total_phases"`
	Created     int        `json:"created"`
	Updated     int        `json:"updated"`
	Deleted     int        `json:"deleted"`
	Skipped     int        `json:"skipped"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    string     `json:"duration,omitempty"`
	Message     string     `json:"message,omitempty"`
	Errors      []string   `json:"errors,omitempty"`
}

// Tracker tracks sync runs across all users.
type Tracker struct {
	mu             sync.RWMutex
	active         map[string]*RunActivity // userID -> activity
	recent         []*RunActivity          // Recently completed runs
	maxRecentSyncs int
}

// NewTracker creates a new activity tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active:         make(map[string]*RunActivity),
		recent:         make([]*RunActivity, 0),
		maxRecentSyncs: 20,
	}
}

// StartRun begins tracking a sync run for a user.
func (t *Tracker) StartRun(userID, trigger string, totalPhases int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active[userID] = &RunActivity{
		UserID:      userID,
		Trigger:     trigger,
		Status:      "running",
		TotalPhases: totalPhases,
		StartedAt:   time.Now(),
	}
}

// SetPhase records the phase a run has entered.
func (t *Tracker) SetPhase(userID, phase string, index int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if activity, exists := t.active[userID]; exists {
		activity.Phase = phase
		activity.PhasesDone = index
	}
}

// IncrementProgress increments progress counters by the given amounts.
func (t *Tracker) IncrementProgress(userID string, created, updated, deleted, skipped int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if activity, exists := t.active[userID]; exists {
		activity.Created += created
		activity.Updated += updated
		activity.Deleted += deleted
		activity.Skipped += skipped
	}
}

// FinishRun marks a run as completed and moves it to recent.
func (t *Tracker) FinishRun(userID string, success bool, message string, errors []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	activity, exists := t.active[userID]
	if !exists {
		return
	}

	now := time.Now()
	activity.CompletedAt = &now
	activity.Duration = now.Sub(activity.StartedAt).Round(time.Millisecond).String()
	activity.Message = message
	activity.Errors = errors
	activity.Phase = ""

	if success {
		activity.PhasesDone = activity.TotalPhases
		if len(errors) > 0 {
			activity.Status = "partial"
		} else {
			activity.Status = "completed"
		}
	} else {
		activity.Status = "error"
	}

	t.recent = append([]*RunActivity{activity}, t.recent...)
	if len(t.recent) > t.maxRecentSyncs {
		t.recent = t.recent[:t.maxRecentSyncs]
	}

	delete(t.active, userID)
}

// GetActive returns all currently active runs.
func (t *Tracker) GetActive() []*RunActivity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*RunActivity, 0, len(t.active))
	for _, activity := range t.active {
		// Copy so callers never race with the run updating it
		copy := *activity
		copy.Duration = time.Since(activity.StartedAt).Round(time.Millisecond).String()
		result = append(result, &copy)
	}
	return result
}

// GetRecent returns recently completed runs.
func (t *Tracker) GetRecent() []*RunActivity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*RunActivity, len(t.recent))
	for i, activity := range t.recent {
		copy := *activity
		result[i] = &copy
	}
	return result
}

// GetForUser returns the active run (nil when idle) and recent runs of one user.
func (t *Tracker) GetForUser(userID string) (*RunActivity, []*RunActivity) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var active *RunActivity
	if activity, exists := t.active[userID]; exists {
		copy := *activity
		copy.Duration = time.Since(activity.StartedAt).Round(time.Millisecond).String()
		active = &copy
	}

	recent := make([]*RunActivity, 0)
	for _, activity := range t.recent {
		if activity.UserID == userID {
			copy := *activity
			recent = append(recent, &copy)
		}
	}
	return active, recent
}

// IsUserSyncing returns true if the given user has a run in progress.
func (t *Tracker) IsUserSyncing(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, exists := t.active[userID]
	return exists
}
