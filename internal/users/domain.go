package users

import (
	"time"

	"github.com/medicore/hms/internal/shared"
)

// Member is a user account as shown in the staff directory.
type Member struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	RoleID       *int64    `json:"role_id,omitempty"`
	RoleName     string    `json:"role_name,omitempty"`
	LegacyRole   string    `json:"role,omitempty"`
	IsSuperAdmin bool      `json:"is_super_admin"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListFilter narrows the directory listing.
type ListFilter struct {
	RoleID  *int64
	Search  string
	Page    int
	PerPage int
}

// Page is one page of the directory.
type Page struct {
	Members    []Member          `json:"members"`
	Pagination shared.Pagination `json:"pagination"`
}
