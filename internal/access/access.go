package access

import (
	"errors"
	"fmt"

	"github.com/macjediwizard/coursesync/internal/db"
)

// Decision is the outcome of an entitlement check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Message string `json:"message,omitempty"`
}

// UserStore loads the user whose plan is checked.
type UserStore interface {
	GetUserByID(id string) (*db.User, error)
}

// Checker decides whether a user may use calendar sync.
type Checker struct {
	users          UserStore
	requirePremium bool
}

// NewChecker creates a Checker. With requirePremium false every known user
// is allowed.
func NewChecker(users UserStore, requirePremium bool) *Checker {
	return &Checker{users: users, requirePremium: requirePremium}
}

// HasRequiredAccess reports whether userID may run a sync. Lookup failures
// other than an unknown user are returned as errors.
func (c *Checker) HasRequiredAccess(userID string) (Decision, error) {
	user, err := c.users.GetUserByID(userID)
	if errors.Is(err, db.ErrNotFound) {
		return Decision{Message: "Unknown user"}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load user: %w", err)
	}

	if c.requirePremium && user.Plan != db.PlanPremium {
		return Decision{Message: "Calendar sync requires a premium plan"}, nil
	}
	return Decision{Allowed: true}, nil
}
