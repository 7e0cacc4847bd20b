package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// DependencyRules maps a permission to the permissions it requires. A role's
// permission set is rejected when it holds a permission without its requirements.
type DependencyRules map[PermissionName][]PermissionName

// Violation reports a permission granted without its requirements.
type Violation struct {
	Permission string   `json:"permission"`
	Missing    []string `json:"missing"`
}

// Message renders the violation for clients.
func (v Violation) Message() string {
	return fmt.Sprintf("%s requires %s.", v.Permission, strings.Join(v.Missing, ", "))
}

// DefaultDependencyRules returns the built-in dependency graph.
func DefaultDependencyRules() DependencyRules {
	return DependencyRules{
		PermCreatePatients: {PermViewPatients},
		PermEditPatients:   {PermViewPatients},
		PermDeletePatients: {PermViewPatients, PermEditPatients},

		PermCreateAppointments: {PermViewAppointments},
		PermEditAppointments:   {PermViewAppointments},
		PermCancelAppointments: {PermViewAppointments},

		PermCreateBills:     {PermViewBills},
		PermEditBills:       {PermViewBills},
		PermVoidBills:       {PermViewBills},
		PermProcessPayments: {PermViewBills},

		PermDispenseMedicines:   {PermViewMedicines},
		PermManagePharmacyStock: {PermViewMedicines},

		PermCreateLabTests:    {PermViewLabTests},
		PermEnterLabResults:   {PermViewLabTests},
		PermApproveLabResults: {PermEnterLabResults},
		PermEditLabMaterials:  {PermViewLabTests},

		PermEditMedicalRecords: {PermViewMedicalRecords},

		PermManageRolePermissions: {PermManageRoles},
		PermManageUserRoles:       {PermManageUsers},
		PermManageUserPermissions: {PermManageUsers},
	}
}

// Check returns every violation in the permission set, sorted by permission.
func (d DependencyRules) Check(names []string) []Violation {
	have := make(map[string]struct{}, len(names))
	for _, n := range names {
		have[n] = struct{}{}
	}
	var violations []Violation
	for _, n := range names {
		required, ok := d[PermissionName(n)]
		if !ok {
			continue
		}
		var missing []string
		for _, req := range required {
			if _, ok := have[string(req)]; !ok {
				missing = append(missing, string(req))
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			violations = append(violations, Violation{Permission: n, Missing: missing})
		}
	}
	sort.Slice(violations, func(i, j int) bool { return violations[i].Permission < violations[j].Permission })
	return violations
}

// Validate ensures every rule refers to registered permissions and that the
// graph has no cycles.
func (d DependencyRules) Validate(reg *Registry) error {
	for perm, reqs := range d {
		if !reg.Has(perm) {
			return fmt.Errorf("rbac: dependency rule for unknown permission %q", perm)
		}
		for _, req := range reqs {
			if !reg.Has(req) {
				return fmt.Errorf("rbac: %q depends on unknown permission %q", perm, req)
			}
		}
	}
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[PermissionName]int, len(d))
	var visit func(PermissionName) error
	visit = func(p PermissionName) error {
		switch state[p] {
		case visiting:
			return fmt.Errorf("rbac: dependency cycle through %q", p)
		case done:
			return nil
		}
		state[p] = visiting
		for _, req := range d[p] {
			if err := visit(req); err != nil {
				return err
			}
		}
		state[p] = done
		return nil
	}
	for p := range d {
		if err := visit(p); err != nil {
			return err
		}
	}
	return nil
}
