package projection

import (
	"context"
	"errors"

	"github.com/JonMunkholm/fieldexport/internal/logging"
)

// UnknownUser is written to created_by when the author cannot be resolved.
const UnknownUser = "n/a"

// ErrUserNotFound is returned by a UserLookup for ids with no user.
var ErrUserNotFound = errors.New("user not found")

// UserLookup resolves a user's email address.
type UserLookup interface {
	EmailByID(ctx context.Context, id int64) (string, error)
}

// UserCache memoises email lookups for one export run. Thousands of rows
// usually come from a handful of users.
type UserCache struct {
	lookup  UserLookup
	emails  map[int64]string
	lookups int
}

// NewUserCache creates an empty cache over lookup.
func NewUserCache(lookup UserLookup) *UserCache {
	return &UserCache{lookup: lookup, emails: make(map[int64]string)}
}

// Email returns the email of a user, or UnknownUser for anonymous
// submissions, missing users and failed lookups. Failures are cached too so
// one broken id costs a single query per run.
func (c *UserCache) Email(ctx context.Context, id int64) string {
	if id == 0 || c.lookup == nil {
		return UnknownUser
	}
	if email, ok := c.emails[id]; ok {
		return email
	}

	c.lookups++
	email, err := c.lookup.EmailByID(ctx, id)
	switch {
	case errors.Is(err, ErrUserNotFound):
		email = UnknownUser
	case err != nil:
		logging.WithFields(ctx, "user_id", id, "error", err).Warn("user lookup failed")
		email = UnknownUser
	case email == "":
		email = UnknownUser
	}
	c.emails[id] = email
	return email
}

// Lookups returns how many times the underlying lookup was called.
func (c *UserCache) Lookups() int {
	return c.lookups
}
