package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/medicore/hms/internal/audit"
	"github.com/medicore/hms/internal/platform/db"
	"github.com/medicore/hms/internal/platform/httpx"
)

const maxRoleNameLength = 100

// CreateRoleInput carries the fields of a new role.
type CreateRoleInput struct {
	Name         string
	Description  string
	IsSuperAdmin bool
	ParentRoleID *int64
}

// UpdateRoleInput carries the editable fields of a role.
type UpdateRoleInput struct {
	Name         string
	Description  string
	ParentRoleID *int64
}

// RoleDetail is a role with its bound permissions.
type RoleDetail struct {
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions"`
}

// PermissionGroup lists the permissions of one module.
type PermissionGroup struct {
	Module      string       `json:"module"`
	Permissions []Permission `json:"permissions"`
}

// Service administers roles, role bindings and user overrides.
type Service struct {
	store    Store
	resolver *Resolver
	rules    DependencyRules
	audit    audit.Sink
	logger   *slog.Logger
}

// NewService wires the administration service. Nil rules disable dependency
// checks; a nil sink discards audit entries.
func NewService(store Store, resolver *Resolver, rules DependencyRules, sink audit.Sink, logger *slog.Logger) *Service {
	if sink == nil {
		sink = audit.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, resolver: resolver, rules: rules, audit: sink, logger: logger}
}

// ListRoles returns roles ordered by priority desc then name, with member counts.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	sortRoles(roles)
	return roles, nil
}

func sortRoles(roles []Role) {
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i].Priority != roles[j].Priority {
			return roles[i].Priority > roles[j].Priority
		}
		return roles[i].Name < roles[j].Name
	})
}

// GetRole returns a role and its permissions.
func (s *Service) GetRole(ctx context.Context, id int64) (RoleDetail, error) {
	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return RoleDetail{}, err
	}
	perms, err := s.RolePermissions(ctx, id)
	if err != nil {
		return RoleDetail{}, err
	}
	return RoleDetail{Role: role, Permissions: perms}, nil
}

// RolePermissions returns the permissions bound to a role.
func (s *Service) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	ids, err := s.store.RolePermissionIDs(ctx, roleID)
	if err != nil {
		return nil, err
	}
	perms, err := s.store.PermissionsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if perms == nil {
		perms = []Permission{}
	}
	return perms, nil
}

// ListPermissions returns the permission catalogue grouped by module.
func (s *Service) ListPermissions(ctx context.Context) ([]PermissionGroup, error) {
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	return GroupByModule(perms), nil
}

// GroupByModule groups permissions by module, modules and names ascending.
func GroupByModule(perms []Permission) []PermissionGroup {
	index := make(map[string]int)
	var groups []PermissionGroup
	for _, p := range perms {
		i, ok := index[p.Module]
		if !ok {
			i = len(groups)
			index[p.Module] = i
			groups = append(groups, PermissionGroup{Module: p.Module})
		}
		groups[i].Permissions = append(groups[i].Permissions, p)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Module < groups[j].Module })
	for _, g := range groups {
		sort.Slice(g.Permissions, func(i, j int) bool { return g.Permissions[i].Name < g.Permissions[j].Name })
	}
	return groups
}

// CreateRole creates a non-system role. Reserved names are refused for every
// actor. Only the protected roles carry the super-admin flag, and those are
// never created here, so the flag is refused too: with ErrSuperAdminFlag for
// non-super-admins and a field error for super admins.
func (s *Service) CreateRole(ctx context.Context, actor Subject, in CreateRoleInput) (Role, error) {
	if !s.resolver.HasPermission(ctx, actor, PermManageRoles) {
		return Role{}, ErrForbidden
	}
	name := normalizeRoleName(in.Name)
	if fields := validateRoleName(name); fields != nil {
		return Role{}, fields
	}
	if IsProtectedRoleName(name) {
		return Role{}, ErrProtectedRole
	}
	if in.IsSuperAdmin {
		if !actor.IsSuperAdmin() {
			return Role{}, ErrSuperAdminFlag
		}
		fields := httpx.FieldErrors{}
		fields.Add("is_super_admin", "Only the protected super admin roles may carry super-admin status.")
		return Role{}, fields
	}

	role := Role{
		Name:         name,
		Slug:         Slugify(name),
		Description:  strings.TrimSpace(in.Description),
		Priority:     CalculatePriority(name),
		ParentRoleID: in.ParentRoleID,
	}
	var created Role
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if role.ParentRoleID != nil {
			if _, err := tx.GetRole(ctx, *role.ParentRoleID); err != nil {
				if IsNotFound(err) {
					return parentFieldError("The selected parent role does not exist.")
				}
				return err
			}
		}
		var err error
		created, err = tx.CreateRole(ctx, role)
		return err
	})
	if err != nil {
		return Role{}, s.mutationError("create role", err)
	}

	s.record(ctx, actor, "role.created", audit.SeverityInfo,
		fmt.Sprintf("Created role %s", created.Name), map[string]any{"role_id": created.ID})
	return created, nil
}

// UpdateRole edits a role's name, description and parent. System roles keep
// their name and protected roles cannot be edited by anyone but a super admin.
func (s *Service) UpdateRole(ctx context.Context, actor Subject, id int64, in UpdateRoleInput) (Role, error) {
	if !s.resolver.HasPermission(ctx, actor, PermManageRoles) {
		return Role{}, ErrForbidden
	}
	name := normalizeRoleName(in.Name)
	if fields := validateRoleName(name); fields != nil {
		return Role{}, fields
	}

	var updated Role
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		current, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if IsProtectedRoleName(current.Name) && !actor.IsSuperAdmin() {
			return ErrProtectedRole
		}
		renamed := name != current.Name
		if renamed && current.IsSystem {
			return ErrSystemRole
		}
		if renamed && IsProtectedRoleName(name) {
			return ErrProtectedRole
		}
		if err := s.checkParent(ctx, tx, id, in.ParentRoleID); err != nil {
			return err
		}
		current.Name = name
		current.Slug = Slugify(name)
		current.Description = strings.TrimSpace(in.Description)
		current.ParentRoleID = in.ParentRoleID
		updated, err = tx.UpdateRole(ctx, current)
		return err
	})
	if err != nil {
		return Role{}, s.mutationError("update role", err)
	}

	s.record(ctx, actor, "role.updated", audit.SeverityInfo,
		fmt.Sprintf("Updated role %s", updated.Name), map[string]any{"role_id": updated.ID})
	return updated, nil
}

// checkParent refuses a parent that is missing, the role itself, or one of its descendants.
func (s *Service) checkParent(ctx context.Context, tx TxStore, roleID int64, parentID *int64) error {
	seen := map[int64]bool{roleID: true}
	for next := parentID; next != nil; {
		if seen[*next] {
			return parentFieldError("The parent role would create a cycle.")
		}
		seen[*next] = true
		parent, err := tx.GetRole(ctx, *next)
		if err != nil {
			if IsNotFound(err) {
				return parentFieldError("The selected parent role does not exist.")
			}
			return err
		}
		next = parent.ParentRoleID
	}
	return nil
}

// DeleteRole is disabled; it always refuses without touching storage.
func (s *Service) DeleteRole(ctx context.Context, actor Subject, id int64) error {
	s.record(ctx, actor, "role.delete_refused", audit.SeverityWarning,
		"Role deletion attempted while disabled", map[string]any{"role_id": id})
	return ErrRoleDeletionDisabled
}

// UpdateRolePermissions replaces the bindings of a role with permissionIDs.
// Unknown ids and dependency violations reject the whole update.
func (s *Service) UpdateRolePermissions(ctx context.Context, actor Subject, roleID int64, permissionIDs []int64) error {
	if !s.resolver.HasPermission(ctx, actor, PermManageRolePermissions) {
		return ErrForbidden
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	ids := uniqueIDs(permissionIDs)
	perms, err := s.store.PermissionsByIDs(ctx, ids)
	if err != nil {
		return s.mutationError("load permissions", err)
	}
	if missing := missingIDs(ids, perms); len(missing) > 0 {
		fields := httpx.FieldErrors{}
		fields.Add("permissions", "Unknown permission ids: "+joinIDs(missing)+".")
		return fields
	}
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = p.Name
	}
	if violations := s.rules.Check(names); len(violations) > 0 {
		fields := httpx.FieldErrors{}
		for _, v := range violations {
			fields.Add("permissions."+v.Permission, v.Message())
		}
		return fields
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := tx.DeleteRolePermissions(ctx, roleID); err != nil {
			return err
		}
		return tx.InsertRolePermissions(ctx, roleID, ids)
	})
	if err != nil {
		return s.mutationError("replace role permissions", err)
	}
	if err := s.resolver.ClearRoleCache(ctx, roleID); err != nil {
		return s.mutationError("invalidate role cache", err)
	}

	s.record(ctx, actor, "role.permissions_updated", audit.SeverityWarning,
		fmt.Sprintf("Replaced permissions of role %s", role.Name),
		map[string]any{"role_id": roleID, "permissions": names})
	return nil
}

// UpdateUserRole moves a user to another role. Protected roles can neither be
// left nor entered this way.
func (s *Service) UpdateUserRole(ctx context.Context, actor Subject, userID, roleID int64) error {
	if !s.resolver.HasPermission(ctx, actor, PermManageUserRoles) {
		return ErrForbidden
	}
	target, err := s.resolver.Subject(ctx, userID)
	if err != nil {
		return err
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if target.Role != nil && IsProtectedRoleName(target.Role.Name) {
		return ErrProtectedUser
	}
	if IsProtectedRoleName(role.Name) {
		return ErrProtectedRole
	}
	if !s.resolver.CanManageUser(actor, target) {
		return ErrForbidden
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		return tx.AssignUserRole(ctx, userID, roleID, role.Slug)
	})
	if err != nil {
		return s.mutationError("assign user role", err)
	}
	if err := s.resolver.ClearUserCache(ctx, userID); err != nil {
		return s.mutationError("invalidate user cache", err)
	}

	from := "none"
	if target.Role != nil {
		from = target.Role.Name
	}
	s.record(ctx, actor, "user.role_changed", audit.SeverityWarning,
		fmt.Sprintf("Changed role of %s from %s to %s", target.User.Name, from, role.Name),
		map[string]any{"user_id": userID, "role_id": roleID})
	return nil
}

// UpdateUserPermissions replaces a user's overrides with grants for
// permissionIDs. Ids that match no permission are skipped.
func (s *Service) UpdateUserPermissions(ctx context.Context, actor Subject, userID int64, permissionIDs []int64) error {
	if !s.resolver.HasPermission(ctx, actor, PermManageUserPermissions) {
		return ErrForbidden
	}
	perms, err := s.store.PermissionsByIDs(ctx, uniqueIDs(permissionIDs))
	if err != nil {
		return s.mutationError("load permissions", err)
	}
	overrides := make([]Override, len(perms))
	for i, p := range perms {
		overrides[i] = Override{PermissionID: p.ID, Effect: EffectGrant}
	}
	return s.replaceOverrides(ctx, actor, userID, overrides)
}

// SetUserOverrides replaces a user's overrides with explicit grants and
// revokes. A revoke removes a permission the user's role would grant.
func (s *Service) SetUserOverrides(ctx context.Context, actor Subject, userID int64, overrides []Override) error {
	if !s.resolver.HasPermission(ctx, actor, PermManageUserPermissions) {
		return ErrForbidden
	}
	fields := httpx.FieldErrors{}
	byID := make(map[int64]Effect, len(overrides))
	for i, o := range overrides {
		if !o.Effect.Valid() {
			fields.Add("overrides."+strconv.Itoa(i)+".effect", "The effect must be one of: grant, revoke.")
			continue
		}
		byID[o.PermissionID] = o.Effect
	}
	if len(fields) > 0 {
		return fields
	}
	ids := make([]int64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	perms, err := s.store.PermissionsByIDs(ctx, ids)
	if err != nil {
		return s.mutationError("load permissions", err)
	}
	if missing := missingIDs(ids, perms); len(missing) > 0 {
		fields.Add("overrides", "Unknown permission ids: "+joinIDs(missing)+".")
		return fields
	}
	clean := make([]Override, len(ids))
	for i, id := range ids {
		clean[i] = Override{PermissionID: id, Effect: byID[id]}
	}
	return s.replaceOverrides(ctx, actor, userID, clean)
}

func (s *Service) replaceOverrides(ctx context.Context, actor Subject, userID int64, overrides []Override) error {
	target, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return ErrUnknownUser
		}
		return s.mutationError("load user", err)
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := tx.DeleteUserOverrides(ctx, userID); err != nil {
			return err
		}
		return tx.InsertUserOverrides(ctx, userID, overrides)
	})
	if err != nil {
		return s.mutationError("replace user overrides", err)
	}
	if err := s.resolver.ClearUserCache(ctx, userID); err != nil {
		return s.mutationError("invalidate user cache", err)
	}
	s.record(ctx, actor, "user.permissions_updated", audit.SeverityWarning,
		fmt.Sprintf("Replaced permission overrides of %s", target.Name),
		map[string]any{"user_id": userID, "overrides": len(overrides)})
	return nil
}

// mutationError passes client-facing errors through and hides everything else.
func (s *Service) mutationError(op string, err error) error {
	var public *httpx.Error
	var fields httpx.FieldErrors
	switch {
	case errors.As(err, &fields):
		return err
	case db.IsUniqueViolation(err):
		out := httpx.FieldErrors{}
		out.Add("name", "The name has already been taken.")
		return out
	case errors.As(err, &public) && !errors.Is(err, httpx.ErrInternal):
		return err
	}
	s.logger.Error("rbac "+op, slog.Any("error", err))
	return ErrOperationFailed
}

func (s *Service) record(ctx context.Context, actor Subject, action string, severity audit.Severity, description string, meta map[string]any) {
	entry := audit.Entry{
		UserName:    actor.User.Name,
		Action:      action,
		Module:      "rbac",
		Severity:    severity,
		Description: description,
		Meta:        meta,
	}
	// Anonymous callers reach DeleteRole; their entries carry no user.
	if id := actor.ID(); id > 0 {
		entry.UserID = &id
	}
	s.audit.Record(ctx, entry)
}

func normalizeRoleName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

func validateRoleName(name string) httpx.FieldErrors {
	fields := httpx.FieldErrors{}
	switch {
	case name == "":
		fields.Add("name", "The name field is required.")
	case len(name) > maxRoleNameLength:
		fields.Add("name", "The name may not be greater than "+strconv.Itoa(maxRoleNameLength)+" characters.")
	case Slugify(name) == "":
		fields.Add("name", "The name must contain letters or digits.")
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func parentFieldError(message string) httpx.FieldErrors {
	fields := httpx.FieldErrors{}
	fields.Add("parent_role_id", message)
	return fields
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func missingIDs(ids []int64, found []Permission) []int64 {
	have := make(map[int64]struct{}, len(found))
	for _, p := range found {
		have[p.ID] = struct{}{}
	}
	var missing []int64
	for _, id := range ids {
		if _, ok := have[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}
