package rbac

import (
	"errors"

	"github.com/medicore/hms/internal/platform/httpx"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = httpx.NewError(httpx.ErrNotFound, "")
	// ErrUnknownUser is returned when a subject is requested for a user that does not exist.
	ErrUnknownUser = httpx.NewError(httpx.ErrNotFound, "Unknown user.")
	// ErrForbidden is an authorization denial. It carries no detail about why.
	ErrForbidden = httpx.NewError(httpx.ErrForbidden, "")
	// ErrProtectedRole rejects creating or assigning a reserved super-admin role.
	ErrProtectedRole = httpx.NewError(httpx.ErrForbidden, "This role is protected and cannot be created or assigned.")
	// ErrSuperAdminFlag rejects the super-admin flag requested by a non-super-admin.
	ErrSuperAdminFlag = httpx.NewError(httpx.ErrForbidden, "Only a super admin may grant super-admin status.")
	// ErrProtectedUser rejects changing the role of a user holding a protected role.
	ErrProtectedUser = httpx.NewError(httpx.ErrForbidden, "This user's role is protected and cannot be changed.")
	// ErrSystemRole rejects renaming a seeded system role.
	ErrSystemRole = httpx.NewError(httpx.ErrForbidden, "System roles cannot be renamed.")
	// ErrRoleDeletionDisabled is returned by every delete attempt.
	ErrRoleDeletionDisabled = httpx.NewError(httpx.ErrForbidden, "Role deletion is currently disabled.")
	// ErrOperationFailed hides internal failures of a mutation from clients.
	ErrOperationFailed = httpx.NewError(httpx.ErrInternal, "")
)

// IsNotFound reports whether err means a record is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, httpx.ErrNotFound)
}
