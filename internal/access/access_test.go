package access

import (
	"errors"
	"testing"

	"github.com/macjediwizard/coursesync/internal/db"
)

type fakeUsers struct {
	users map[string]*db.User
	err   error
}

func (f *fakeUsers) GetUserByID(id string) (*db.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return u, nil
}

func TestHasRequiredAccess(t *testing.T) {
	users := &fakeUsers{users: map[string]*db.User{
		"free":    {ID: "free", Plan: db.PlanFree},
		"premium": {ID: "premium", Plan: db.PlanPremium},
	}}

	tests := []struct {
		name           string
		requirePremium bool
		userID         string
		wantAllowed    bool
	}{
		{"premium user with premium required", true, "premium", true},
		{"free user with premium required", true, "free", false},
		{"free user without premium required", false, "free", true},
		{"unknown user", false, "ghost", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := NewChecker(users, tt.requirePremium).HasRequiredAccess(tt.userID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if decision.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v", decision.Allowed, tt.wantAllowed)
			}
			if !decision.Allowed && decision.Message == "" {
				t.Error("denied decisions should carry a message")
			}
		})
	}
}

func TestHasRequiredAccessStoreError(t *testing.T) {
	boom := errors.New("database is locked")
	_, err := NewChecker(&fakeUsers{err: boom}, true).HasRequiredAccess("u1")
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped store error, got %v", err)
	}
}
