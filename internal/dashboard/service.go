// Package dashboard serves read-only access-control reports: how users are
// spread over roles and which permissions each role carries.
package dashboard

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/medicore/hms/internal/rbac"
)

// UnassignedLabel names the bucket of users without a role.
const UnassignedLabel = "Unassigned"

// Store is the subset of rbac.Store the reports read.
type Store interface {
	CountUsers(ctx context.Context) (int, error)
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	ListPermissions(ctx context.Context) ([]rbac.Permission, error)
	Bindings(ctx context.Context) (map[int64][]int64, error)
}

// RoleShare is one row of the role distribution.
type RoleShare struct {
	RoleID     *int64  `json:"role_id"`
	Name       string  `json:"name"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Distribution is the role distribution report.
type Distribution struct {
	TotalUsers int         `json:"total_users"`
	Roles      []RoleShare `json:"roles"`
}

// MatrixRole is one column of the permission matrix.
type MatrixRole struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Slug         string  `json:"slug"`
	IsSystem     bool    `json:"is_system"`
	IsSuperAdmin bool    `json:"is_super_admin"`
	ParentRoleID *int64  `json:"parent_role_id,omitempty"`
	Permissions  []int64 `json:"permission_ids"`
}

// Matrix is the role × permission grid. Super-admin roles bypass bindings,
// so their column lists every permission.
type Matrix struct {
	Modules []rbac.PermissionGroup `json:"modules"`
	Roles   []MatrixRole           `json:"roles"`
}

// Service builds the reports.
type Service struct {
	store Store
}

// NewService constructs a Service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// RoleDistribution counts members per role, most populated first, with users
// lacking a role reported under UnassignedLabel.
func (s *Service) RoleDistribution(ctx context.Context) (Distribution, error) {
	total, err := s.store.CountUsers(ctx)
	if err != nil {
		return Distribution{}, fmt.Errorf("dashboard: count users: %w", err)
	}
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return Distribution{}, fmt.Errorf("dashboard: list roles: %w", err)
	}

	shares := make([]RoleShare, 0, len(roles)+1)
	assigned := 0
	for _, role := range roles {
		id := role.ID
		assigned += role.MemberCount
		shares = append(shares, RoleShare{RoleID: &id, Name: role.Name, Count: role.MemberCount})
	}
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].Count > shares[j].Count })
	if unassigned := total - assigned; unassigned > 0 {
		shares = append(shares, RoleShare{Name: UnassignedLabel, Count: unassigned})
	}
	for i := range shares {
		shares[i].Percentage = percentage(shares[i].Count, total)
	}
	return Distribution{TotalUsers: total, Roles: shares}, nil
}

// PermissionMatrix returns every role with its bound permission ids next to
// the catalogue grouped by module.
func (s *Service) PermissionMatrix(ctx context.Context) (Matrix, error) {
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return Matrix{}, fmt.Errorf("dashboard: list permissions: %w", err)
	}
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return Matrix{}, fmt.Errorf("dashboard: list roles: %w", err)
	}
	bindings, err := s.store.Bindings(ctx)
	if err != nil {
		return Matrix{}, fmt.Errorf("dashboard: load bindings: %w", err)
	}

	all := make([]int64, len(perms))
	for i, p := range perms {
		all[i] = p.ID
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	columns := make([]MatrixRole, len(roles))
	for i, role := range roles {
		ids := bindings[role.ID]
		if role.IsSuperAdmin {
			ids = all
		}
		if ids == nil {
			ids = []int64{}
		}
		columns[i] = MatrixRole{
			ID:           role.ID,
			Name:         role.Name,
			Slug:         role.Slug,
			IsSystem:     role.IsSystem,
			IsSuperAdmin: role.IsSuperAdmin,
			ParentRoleID: role.ParentRoleID,
			Permissions:  ids,
		}
	}
	modules := rbac.GroupByModule(perms)
	if modules == nil {
		modules = []rbac.PermissionGroup{}
	}
	return Matrix{Modules: modules, Roles: columns}, nil
}

func percentage(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(count)/float64(total)*1000) / 10
}
