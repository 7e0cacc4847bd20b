// Package rbactest provides an in-memory rbac.Store for tests.
package rbactest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medicore/hms/internal/rbac"
)

type data struct {
	users     map[int64]rbac.User
	roles     map[int64]rbac.Role
	perms     map[int64]rbac.Permission
	bindings  map[int64]map[int64]struct{}
	overrides map[int64]map[int64]rbac.Effect
	nextRole  int64
	nextPerm  int64
}

func (d *data) clone() *data {
	out := &data{
		users:     make(map[int64]rbac.User, len(d.users)),
		roles:     make(map[int64]rbac.Role, len(d.roles)),
		perms:     make(map[int64]rbac.Permission, len(d.perms)),
		bindings:  make(map[int64]map[int64]struct{}, len(d.bindings)),
		overrides: make(map[int64]map[int64]rbac.Effect, len(d.overrides)),
		nextRole:  d.nextRole,
		nextPerm:  d.nextPerm,
	}
	for k, v := range d.users {
		out.users[k] = v
	}
	for k, v := range d.roles {
		out.roles[k] = v
	}
	for k, v := range d.perms {
		out.perms[k] = v
	}
	for k, v := range d.bindings {
		inner := make(map[int64]struct{}, len(v))
		for id := range v {
			inner[id] = struct{}{}
		}
		out.bindings[k] = inner
	}
	for k, v := range d.overrides {
		inner := make(map[int64]rbac.Effect, len(v))
		for id, e := range v {
			inner[id] = e
		}
		out.overrides[k] = inner
	}
	return out
}

// Store is a goroutine-safe in-memory rbac.Store. Transactions work on a
// copy that replaces the live data only when the callback succeeds.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	d    *data

	calls map[string]int
	fail  map[string]error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		d: &data{
			users:     map[int64]rbac.User{},
			roles:     map[int64]rbac.Role{},
			perms:     map[int64]rbac.Permission{},
			bindings:  map[int64]map[int64]struct{}{},
			overrides: map[int64]map[int64]rbac.Effect{},
		},
		calls: map[string]int{},
		fail:  map[string]error{},
	}
}

// FailOn makes every later call to method return err. A nil err clears it.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, method)
		return
	}
	s.fail[method] = err
}

// Calls reports how often method ran.
func (s *Store) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Store) enter(method string) (*data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
	return s.d, s.fail[method]
}

// AddUser stores u as-is.
func (s *Store) AddUser(u rbac.User) rbac.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.users[u.ID] = u
	return u
}

// AddRole stores role, assigning an id when it has none.
func (s *Store) AddRole(role rbac.Role) rbac.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.insertRole(role)
}

// AddPermission stores p, assigning an id when it has none.
func (s *Store) AddPermission(p rbac.Permission) rbac.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.upsertPermission(p)
}

// AddRegistry stores every permission in reg and returns their ids by name.
func (s *Store) AddRegistry(reg *rbac.Registry) map[rbac.PermissionName]int64 {
	ids := make(map[rbac.PermissionName]int64)
	for _, def := range reg.Definitions() {
		ids[def.Name] = s.AddPermission(def.Permission()).ID
	}
	return ids
}

// Bind adds permissions to a role.
func (s *Store) Bind(roleID int64, permissionIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.bind(roleID, permissionIDs)
}

// SetOverride stores a single user override.
func (s *Store) SetOverride(userID, permissionID int64, effect rbac.Effect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.d.overrides[userID] == nil {
		s.d.overrides[userID] = map[int64]rbac.Effect{}
	}
	s.d.overrides[userID][permissionID] = effect
}

// Overrides returns the stored overrides of a user.
func (s *Store) Overrides(userID int64) map[int64]rbac.Effect {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int64]rbac.Effect{}
	for id, e := range s.d.overrides[userID] {
		out[id] = e
	}
	return out
}

// RoleCount returns the number of stored roles.
func (s *Store) RoleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.d.roles)
}

// WithTx implements rbac.Store.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, rbac.TxStore) error) error {
	if _, err := s.enter("WithTx"); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	work := s.d.clone()
	s.mu.Unlock()

	if err := fn(ctx, &tx{s: s, d: work}); err != nil {
		return err
	}
	s.mu.Lock()
	s.d = work
	s.mu.Unlock()
	return nil
}

// GetUser implements rbac.Store.
func (s *Store) GetUser(_ context.Context, id int64) (rbac.User, error) {
	d, err := s.enter("GetUser")
	if err != nil {
		return rbac.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return rbac.User{}, rbac.ErrNotFound
	}
	return u, nil
}

// CountUsers implements rbac.Store.
func (s *Store) CountUsers(context.Context) (int, error) {
	d, err := s.enter("CountUsers")
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(d.users), nil
}

// GetRole implements rbac.Store.
func (s *Store) GetRole(_ context.Context, id int64) (rbac.Role, error) {
	d, err := s.enter("GetRole")
	if err != nil {
		return rbac.Role{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return d.getRole(id)
}

// ListRoles implements rbac.Store.
func (s *Store) ListRoles(context.Context) ([]rbac.Role, error) {
	d, err := s.enter("ListRoles")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	roles := make([]rbac.Role, 0, len(d.roles))
	for id := range d.roles {
		role, _ := d.getRole(id)
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Priority != roles[j].Priority {
			return roles[i].Priority > roles[j].Priority
		}
		return roles[i].Name < roles[j].Name
	})
	return roles, nil
}

// ListPermissions implements rbac.Store.
func (s *Store) ListPermissions(context.Context) ([]rbac.Permission, error) {
	d, err := s.enter("ListPermissions")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	perms := make([]rbac.Permission, 0, len(d.perms))
	for _, p := range d.perms {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].Module != perms[j].Module {
			return perms[i].Module < perms[j].Module
		}
		return perms[i].Name < perms[j].Name
	})
	return perms, nil
}

// PermissionsByIDs implements rbac.Store.
func (s *Store) PermissionsByIDs(_ context.Context, ids []int64) ([]rbac.Permission, error) {
	d, err := s.enter("PermissionsByIDs")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []rbac.Permission
	for _, id := range ids {
		if p, ok := d.perms[id]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RolePermissionIDs implements rbac.Store.
func (s *Store) RolePermissionIDs(_ context.Context, roleID int64) ([]int64, error) {
	d, err := s.enter("RolePermissionIDs")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return d.boundIDs(roleID), nil
}

// RolePermissionNames implements rbac.Store.
func (s *Store) RolePermissionNames(_ context.Context, roleID int64) ([]string, error) {
	d, err := s.enter("RolePermissionNames")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, id := range d.boundIDs(roleID) {
		names = append(names, d.perms[id].Name)
	}
	return names, nil
}

// Bindings implements rbac.Store.
func (s *Store) Bindings(context.Context) (map[int64][]int64, error) {
	d, err := s.enter("Bindings")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64][]int64, len(d.bindings))
	for roleID := range d.bindings {
		if ids := d.boundIDs(roleID); len(ids) > 0 {
			out[roleID] = ids
		}
	}
	return out, nil
}

// UserOverrides implements rbac.Store.
func (s *Store) UserOverrides(_ context.Context, userID int64) ([]rbac.NamedOverride, error) {
	d, err := s.enter("UserOverrides")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []rbac.NamedOverride
	for id, effect := range d.overrides[userID] {
		if p, ok := d.perms[id]; ok {
			out = append(out, rbac.NamedOverride{Name: p.Name, Effect: effect})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type tx struct {
	s *Store
	d *data
}

func (t *tx) enter(method string) error {
	_, err := t.s.enter("Tx." + method)
	return err
}

func (t *tx) GetRole(_ context.Context, id int64) (rbac.Role, error) {
	if err := t.enter("GetRole"); err != nil {
		return rbac.Role{}, err
	}
	return t.d.getRole(id)
}

func (t *tx) CreateRole(_ context.Context, role rbac.Role) (rbac.Role, error) {
	if err := t.enter("CreateRole"); err != nil {
		return rbac.Role{}, err
	}
	for _, existing := range t.d.roles {
		if existing.Name == role.Name || existing.Slug == role.Slug {
			return rbac.Role{}, &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
		}
	}
	role.ID = 0
	return t.d.insertRole(role), nil
}

func (t *tx) UpdateRole(_ context.Context, role rbac.Role) (rbac.Role, error) {
	if err := t.enter("UpdateRole"); err != nil {
		return rbac.Role{}, err
	}
	current, ok := t.d.roles[role.ID]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	for id, existing := range t.d.roles {
		if id != role.ID && (existing.Name == role.Name || existing.Slug == role.Slug) {
			return rbac.Role{}, &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
		}
	}
	current.Name = role.Name
	current.Slug = role.Slug
	current.Description = role.Description
	current.ParentRoleID = role.ParentRoleID
	current.UpdatedAt = time.Now().UTC()
	t.d.roles[role.ID] = current
	return t.d.getRole(role.ID)
}

func (t *tx) UpsertSystemRole(_ context.Context, role rbac.Role) (rbac.Role, error) {
	if err := t.enter("UpsertSystemRole"); err != nil {
		return rbac.Role{}, err
	}
	role.IsSystem = true
	for id, existing := range t.d.roles {
		if existing.Slug == role.Slug {
			role.ID = id
			role.CreatedAt = existing.CreatedAt
			role.ParentRoleID = existing.ParentRoleID
			role.UpdatedAt = time.Now().UTC()
			t.d.roles[id] = role
			return t.d.getRole(id)
		}
	}
	role.ID = 0
	return t.d.insertRole(role), nil
}

func (t *tx) UpsertPermission(_ context.Context, p rbac.Permission) (rbac.Permission, error) {
	if err := t.enter("UpsertPermission"); err != nil {
		return rbac.Permission{}, err
	}
	return t.d.upsertPermission(p), nil
}

func (t *tx) DeleteRolePermissions(_ context.Context, roleID int64) error {
	if err := t.enter("DeleteRolePermissions"); err != nil {
		return err
	}
	delete(t.d.bindings, roleID)
	return nil
}

func (t *tx) InsertRolePermissions(_ context.Context, roleID int64, permissionIDs []int64) error {
	if err := t.enter("InsertRolePermissions"); err != nil {
		return err
	}
	t.d.bind(roleID, permissionIDs)
	return nil
}

func (t *tx) DeleteUserOverrides(_ context.Context, userID int64) error {
	if err := t.enter("DeleteUserOverrides"); err != nil {
		return err
	}
	delete(t.d.overrides, userID)
	return nil
}

func (t *tx) InsertUserOverrides(_ context.Context, userID int64, overrides []rbac.Override) error {
	if err := t.enter("InsertUserOverrides"); err != nil {
		return err
	}
	if len(overrides) == 0 {
		return nil
	}
	if t.d.overrides[userID] == nil {
		t.d.overrides[userID] = map[int64]rbac.Effect{}
	}
	for _, o := range overrides {
		t.d.overrides[userID][o.PermissionID] = o.Effect
	}
	return nil
}

func (t *tx) AssignUserRole(_ context.Context, userID, roleID int64, legacyRole string) error {
	if err := t.enter("AssignUserRole"); err != nil {
		return err
	}
	u, ok := t.d.users[userID]
	if !ok {
		return rbac.ErrNotFound
	}
	u.RoleID = &roleID
	u.LegacyRole = legacyRole
	t.d.users[userID] = u
	return nil
}

func (d *data) getRole(id int64) (rbac.Role, error) {
	role, ok := d.roles[id]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	role.MemberCount = 0
	for _, u := range d.users {
		if u.RoleID != nil && *u.RoleID == id {
			role.MemberCount++
		}
	}
	return role, nil
}

func (d *data) insertRole(role rbac.Role) rbac.Role {
	if role.ID == 0 {
		d.nextRole++
		role.ID = d.nextRole
	} else if role.ID > d.nextRole {
		d.nextRole = role.ID
	}
	now := time.Now().UTC()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = now
	role.MemberCount = 0
	d.roles[role.ID] = role
	return role
}

func (d *data) upsertPermission(p rbac.Permission) rbac.Permission {
	for id, existing := range d.perms {
		if existing.Name == p.Name {
			p.ID = id
			d.perms[id] = p
			return p
		}
	}
	if p.ID == 0 {
		d.nextPerm++
		p.ID = d.nextPerm
	} else if p.ID > d.nextPerm {
		d.nextPerm = p.ID
	}
	d.perms[p.ID] = p
	return p
}

func (d *data) bind(roleID int64, permissionIDs []int64) {
	if len(permissionIDs) == 0 {
		return
	}
	if d.bindings[roleID] == nil {
		d.bindings[roleID] = map[int64]struct{}{}
	}
	for _, id := range permissionIDs {
		d.bindings[roleID][id] = struct{}{}
	}
}

func (d *data) boundIDs(roleID int64) []int64 {
	ids := make([]int64, 0, len(d.bindings[roleID]))
	for id := range d.bindings[roleID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

var _ rbac.Store = (*Store)(nil)
