package rbac

import (
	"context"
	"fmt"
)

// SystemRole is a role created at deploy time.
type SystemRole struct {
	Name         string
	Description  string
	IsSuperAdmin bool
	Permissions  []PermissionName
}

// DefaultSystemRoles returns the roles every installation starts with.
func DefaultSystemRoles() []SystemRole {
	return []SystemRole{
		{Name: RoleSuperAdmin, Description: "Unrestricted access to every module", IsSuperAdmin: true},
		{Name: RoleSubSuperAdmin, Description: "Unrestricted access delegated by the super admin", IsSuperAdmin: true},
		{
			Name:        "Hospital Admin",
			Description: "Runs day-to-day administration",
			Permissions: []PermissionName{
				PermViewPatients, PermViewAppointments, PermViewBills,
				PermManageUsers, PermManageRoles, PermManageRolePermissions,
				PermManageUserRoles, PermManageUserPermissions,
				PermViewPermissionMatrix, PermViewActivityLogs, PermViewRBACDashboard,
			},
		},
		{
			Name:        "Doctor",
			Description: "Attending physician",
			Permissions: []PermissionName{
				PermViewPatients, PermEditPatients, PermViewAppointments, PermEditAppointments,
				PermViewLabTests, PermCreateLabTests, PermViewMedicalRecords, PermEditMedicalRecords,
				PermViewMedicines,
			},
		},
		{
			Name:        "Nurse",
			Description: "Ward nursing staff",
			Permissions: []PermissionName{
				PermViewPatients, PermViewAppointments, PermViewMedicalRecords, PermViewMedicines,
			},
		},
		{
			Name:        "Lab Technician",
			Description: "Runs laboratory tests",
			Permissions: []PermissionName{
				PermViewLabTests, PermEnterLabResults, PermEditLabMaterials,
			},
		},
		{
			Name:        "Pharmacist",
			Description: "Dispenses medicines",
			Permissions: []PermissionName{
				PermViewMedicines, PermDispenseMedicines, PermManagePharmacyStock,
			},
		},
		{
			Name:        "Receptionist",
			Description: "Front desk registration and scheduling",
			Permissions: []PermissionName{
				PermViewPatients, PermCreatePatients, PermViewAppointments,
				PermCreateAppointments, PermEditAppointments, PermCancelAppointments,
			},
		},
		{
			Name:        "Cashier",
			Description: "Billing desk",
			Permissions: []PermissionName{
				PermViewBills, PermCreateBills, PermProcessPayments,
			},
		},
	}
}

// SeedResult reports what Seed wrote.
type SeedResult struct {
	Permissions int
	RoleIDs     []int64
}

// Seed upserts the registry's permissions and the given system roles, and
// resets each system role's bindings to its defaults. Callers clear the role
// caches of RoleIDs afterwards.
func Seed(ctx context.Context, store Store, reg *Registry, rules DependencyRules, roles []SystemRole) (SeedResult, error) {
	if err := reg.Validate(); err != nil {
		return SeedResult{}, err
	}
	if err := rules.Validate(reg); err != nil {
		return SeedResult{}, err
	}
	for _, role := range roles {
		names := make([]string, len(role.Permissions))
		for i, p := range role.Permissions {
			if !reg.Has(p) {
				return SeedResult{}, fmt.Errorf("rbac: system role %q references unknown permission %q", role.Name, p)
			}
			names[i] = string(p)
		}
		if v := rules.Check(names); len(v) > 0 {
			return SeedResult{}, fmt.Errorf("rbac: system role %q: %s", role.Name, v[0].Message())
		}
	}

	var result SeedResult
	err := store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		ids := make(map[PermissionName]int64)
		for _, def := range reg.Definitions() {
			perm, err := tx.UpsertPermission(ctx, def.Permission())
			if err != nil {
				return err
			}
			ids[def.Name] = perm.ID
		}
		result.Permissions = len(ids)

		for _, sr := range roles {
			role, err := tx.UpsertSystemRole(ctx, Role{
				Name:         sr.Name,
				Slug:         Slugify(sr.Name),
				Description:  sr.Description,
				Priority:     CalculatePriority(sr.Name),
				IsSystem:     true,
				IsSuperAdmin: sr.IsSuperAdmin,
			})
			if err != nil {
				return fmt.Errorf("upsert role %s: %w", sr.Name, err)
			}
			bound := make([]int64, len(sr.Permissions))
			for i, p := range sr.Permissions {
				bound[i] = ids[p]
			}
			if err := tx.DeleteRolePermissions(ctx, role.ID); err != nil {
				return err
			}
			if err := tx.InsertRolePermissions(ctx, role.ID, bound); err != nil {
				return err
			}
			result.RoleIDs = append(result.RoleIDs, role.ID)
		}
		return nil
	})
	if err != nil {
		return SeedResult{}, err
	}
	return result, nil
}
