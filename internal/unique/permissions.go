package unique

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/JonMunkholm/fieldexport/internal/entry"
)

// Role is a user's role on a project.
type Role string

const (
	RoleCreator   Role = "creator"
	RoleManager   Role = "manager"
	RoleCurator   Role = "curator"
	RoleCollector Role = "collector"
	RoleViewer    Role = "viewer"
)

// CanEditOthers reports whether the role may edit entries it did not
// submit.
func (r Role) CanEditOthers() bool {
	switch r {
	case RoleCreator, RoleManager, RoleCurator:
		return true
	}
	return false
}

// ErrNoRole is returned by a RoleLookup when the user has no role on the
// project.
var ErrNoRole = errors.New("no project role")

// RoleLookup resolves a user's role on a project.
type RoleLookup interface {
	RoleOf(ctx context.Context, projectID, userID int64) (Role, error)
}

// Permissions decides whether a submitter may overwrite an existing entry.
type Permissions struct {
	roles RoleLookup
}

// CanEdit reports whether cand may edit the stored entry m: the same
// logged-in user, the same device on a mobile platform, or a role allowed
// to edit other people's entries.
func (p *Permissions) CanEdit(ctx context.Context, cand Candidate, m Match) (bool, error) {
	if cand.UserID != 0 && cand.UserID == m.UserID {
		return true, nil
	}

	if cand.Platform != entry.PlatformWeb && cand.DeviceID != "" && m.DeviceIDHash != "" {
		err := bcrypt.CompareHashAndPassword([]byte(m.DeviceIDHash), []byte(cand.DeviceID))
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, fmt.Errorf("compare device id: %w", err)
		}
	}

	if cand.UserID == 0 || p.roles == nil {
		return false, nil
	}
	role, err := p.roles.RoleOf(ctx, cand.ProjectID, cand.UserID)
	if errors.Is(err, ErrNoRole) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup role: %w", err)
	}
	return role.CanEditOthers(), nil
}

// HashDeviceID hashes a device id for storage alongside an entry.
func HashDeviceID(deviceID string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(deviceID), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
