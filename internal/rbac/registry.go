package rbac

import (
	"fmt"
	"regexp"
	"sort"
)

// PermissionName identifies a permission. Code refers to permissions through
// the constants below; the registry is validated against seeded data at startup.
type PermissionName string

// Patients.
const (
	PermViewPatients   PermissionName = "view-patients"
	PermCreatePatients PermissionName = "create-patients"
	PermEditPatients   PermissionName = "edit-patients"
	PermDeletePatients PermissionName = "delete-patients"
)

// Appointments.
const (
	PermViewAppointments   PermissionName = "view-appointments"
	PermCreateAppointments PermissionName = "create-appointments"
	PermEditAppointments   PermissionName = "edit-appointments"
	PermCancelAppointments PermissionName = "cancel-appointments"
)

// Billing.
const (
	PermViewBills       PermissionName = "view-bills"
	PermCreateBills     PermissionName = "create-bills"
	PermEditBills       PermissionName = "edit-bills"
	PermVoidBills       PermissionName = "void-bills"
	PermProcessPayments PermissionName = "process-payments"
)

// Pharmacy.
const (
	PermViewMedicines       PermissionName = "view-medicines"
	PermDispenseMedicines   PermissionName = "dispense-medicines"
	PermManagePharmacyStock PermissionName = "manage-pharmacy-stock"
)

// Laboratory.
const (
	PermViewLabTests      PermissionName = "view-lab-tests"
	PermCreateLabTests    PermissionName = "create-lab-tests"
	PermEnterLabResults   PermissionName = "enter-lab-results"
	PermApproveLabResults PermissionName = "approve-lab-results"
	PermEditLabMaterials  PermissionName = "edit-lab-materials"
)

// Medical records.
const (
	PermViewMedicalRecords PermissionName = "view-medical-records"
	PermEditMedicalRecords PermissionName = "edit-medical-records"
)

// Administration.
const (
	PermManageUsers           PermissionName = "manage-users"
	PermManageRoles           PermissionName = "manage-roles"
	PermManageRolePermissions PermissionName = "manage-role-permissions"
	PermManageUserRoles       PermissionName = "manage-user-roles"
	PermManageUserPermissions PermissionName = "manage-user-permissions"
	PermViewPermissionMatrix  PermissionName = "view-permission-matrix"
	PermViewActivityLogs      PermissionName = "view-activity-logs"
	PermViewRBACDashboard     PermissionName = "view-rbac-dashboard"
)

// Definition describes a registered permission.
type Definition struct {
	Name             PermissionName
	Module           string
	Action           string
	Description      string
	Risk             RiskLevel
	RequiresApproval bool
}

// Permission converts the definition into a storable Permission.
func (d Definition) Permission() Permission {
	return Permission{
		Name:             string(d.Name),
		Description:      d.Description,
		Module:           d.Module,
		Action:           d.Action,
		Risk:             d.Risk,
		RequiresApproval: d.RequiresApproval,
	}
}

var catalog = []Definition{
	{PermViewPatients, "patients", "view", "View patient demographics and admissions", RiskMedium, false},
	{PermCreatePatients, "patients", "create", "Register new patients", RiskMedium, false},
	{PermEditPatients, "patients", "edit", "Edit patient records", RiskHigh, false},
	{PermDeletePatients, "patients", "delete", "Delete patient records", RiskCritical, true},

	{PermViewAppointments, "appointments", "view", "View appointment schedules", RiskLow, false},
	{PermCreateAppointments, "appointments", "create", "Book appointments", RiskLow, false},
	{PermEditAppointments, "appointments", "edit", "Reschedule appointments", RiskLow, false},
	{PermCancelAppointments, "appointments", "cancel", "Cancel appointments", RiskMedium, false},

	{PermViewBills, "billing", "view", "View invoices and receipts", RiskMedium, false},
	{PermCreateBills, "billing", "create", "Raise invoices", RiskMedium, false},
	{PermEditBills, "billing", "edit", "Edit unpaid invoices", RiskHigh, false},
	{PermVoidBills, "billing", "void", "Void issued invoices", RiskCritical, true},
	{PermProcessPayments, "billing", "pay", "Record payments against invoices", RiskHigh, false},

	{PermViewMedicines, "pharmacy", "view", "View the medicine catalogue", RiskLow, false},
	{PermDispenseMedicines, "pharmacy", "dispense", "Dispense prescribed medicines", RiskHigh, false},
	{PermManagePharmacyStock, "pharmacy", "stock", "Adjust pharmacy stock levels", RiskHigh, true},

	{PermViewLabTests, "laboratory", "view", "View laboratory orders", RiskLow, false},
	{PermCreateLabTests, "laboratory", "create", "Order laboratory tests", RiskMedium, false},
	{PermEnterLabResults, "laboratory", "enter", "Enter laboratory results", RiskHigh, false},
	{PermApproveLabResults, "laboratory", "approve", "Approve and release laboratory results", RiskHigh, true},
	{PermEditLabMaterials, "laboratory", "materials", "Edit laboratory materials and reagents", RiskMedium, false},

	{PermViewMedicalRecords, "medical-records", "view", "View clinical notes and histories", RiskHigh, false},
	{PermEditMedicalRecords, "medical-records", "edit", "Amend clinical notes", RiskCritical, true},

	{PermManageUsers, "administration", "users", "Manage staff accounts", RiskHigh, false},
	{PermManageRoles, "administration", "roles", "Create and edit roles", RiskCritical, false},
	{PermManageRolePermissions, "administration", "role-permissions", "Change the permissions bound to a role", RiskCritical, false},
	{PermManageUserRoles, "administration", "user-roles", "Change a user's role", RiskCritical, false},
	{PermManageUserPermissions, "administration", "user-permissions", "Grant or revoke permissions for a single user", RiskCritical, false},
	{PermViewPermissionMatrix, "administration", "matrix", "View the role and permission matrix", RiskMedium, false},
	{PermViewActivityLogs, "administration", "audit", "Search the activity log", RiskMedium, false},
	{PermViewRBACDashboard, "administration", "dashboard", "View access-control statistics", RiskLow, false},
}

var permissionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// Registry is the closed catalog of permissions known to the application.
type Registry struct {
	defs  []Definition
	index map[PermissionName]Definition
}

// DefaultRegistry returns the built-in permission catalog.
func DefaultRegistry() *Registry {
	return NewRegistry(catalog)
}

// NewRegistry builds a registry from definitions. Call Validate before use.
func NewRegistry(defs []Definition) *Registry {
	r := &Registry{defs: make([]Definition, len(defs)), index: make(map[PermissionName]Definition, len(defs))}
	copy(r.defs, defs)
	for _, d := range defs {
		r.index[d.Name] = d
	}
	return r
}

// Validate checks names are kebab-case and unique, and that every definition
// carries a module and a known risk level.
func (r *Registry) Validate() error {
	seen := make(map[PermissionName]struct{}, len(r.defs))
	for _, d := range r.defs {
		if !permissionNamePattern.MatchString(string(d.Name)) {
			return fmt.Errorf("rbac: permission %q is not kebab-case", d.Name)
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("rbac: permission %q registered twice", d.Name)
		}
		seen[d.Name] = struct{}{}
		if d.Module == "" {
			return fmt.Errorf("rbac: permission %q has no module", d.Name)
		}
		switch d.Risk {
		case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		default:
			return fmt.Errorf("rbac: permission %q has unknown risk level %q", d.Name, d.Risk)
		}
	}
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name PermissionName) bool {
	_, ok := r.index[name]
	return ok
}

// Lookup returns the definition for name.
func (r *Registry) Lookup(name PermissionName) (Definition, bool) {
	d, ok := r.index[name]
	return d, ok
}

// Definitions returns the definitions sorted by module then name.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Unregistered returns the names among stored that the registry does not know.
// Seeded rows with typos surface here at startup instead of silently failing closed.
func (r *Registry) Unregistered(stored []Permission) []string {
	var unknown []string
	for _, p := range stored {
		if !r.Has(PermissionName(p.Name)) {
			unknown = append(unknown, p.Name)
		}
	}
	sort.Strings(unknown)
	return unknown
}
