package rbac_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medicore/hms/internal/rbac"
)

func TestDefaultRegistryIsValid(t *testing.T) {
	reg := rbac.DefaultRegistry()
	require.NoError(t, reg.Validate())
	require.NoError(t, rbac.DefaultDependencyRules().Validate(reg))

	def, ok := reg.Lookup(rbac.PermEditLabMaterials)
	require.True(t, ok)
	assert.Equal(t, "laboratory", def.Module)
	assert.False(t, reg.Has("edit-lab-material"))
}

func TestRegistryValidateRejectsBadDefinitions(t *testing.T) {
	cases := map[string][]rbac.Definition{
		"not kebab": {{Name: "Edit_Patients", Module: "patients", Risk: rbac.RiskLow}},
		"duplicate": {
			{Name: "view-patients", Module: "patients", Risk: rbac.RiskLow},
			{Name: "view-patients", Module: "patients", Risk: rbac.RiskLow},
		},
		"no module":    {{Name: "view-patients", Risk: rbac.RiskLow}},
		"unknown risk": {{Name: "view-patients", Module: "patients", Risk: "extreme"}},
	}
	for name, defs := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, rbac.NewRegistry(defs).Validate())
		})
	}
}

func TestRegistryUnregistered(t *testing.T) {
	reg := rbac.DefaultRegistry()
	unknown := reg.Unregistered([]rbac.Permission{{Name: "view-patients"}, {Name: "veiw-bills"}, {Name: "adjust-stock"}})
	assert.Equal(t, []string{"adjust-stock", "veiw-bills"}, unknown)
}

func TestDependencyRulesValidate(t *testing.T) {
	reg := rbac.DefaultRegistry()
	assert.Error(t, rbac.DependencyRules{"unknown-permission": {rbac.PermViewPatients}}.Validate(reg))
	assert.Error(t, rbac.DependencyRules{rbac.PermEditPatients: {"unknown-permission"}}.Validate(reg))
	assert.Error(t, rbac.DependencyRules{
		rbac.PermEditPatients: {rbac.PermViewPatients},
		rbac.PermViewPatients: {rbac.PermEditPatients},
	}.Validate(reg))
}

func TestDependencyRulesCheck(t *testing.T) {
	rules := rbac.DefaultDependencyRules()
	assert.Empty(t, rules.Check([]string{"view-patients", "edit-patients"}))
	assert.Empty(t, rules.Check(nil))

	violations := rules.Check([]string{"delete-patients", "void-bills"})
	require.Len(t, violations, 2)
	assert.Equal(t, rbac.Violation{Permission: "delete-patients", Missing: []string{"edit-patients", "view-patients"}}, violations[0])
	assert.Equal(t, "void-bills requires view-bills.", violations[1].Message())
}

func TestCalculatePriority(t *testing.T) {
	cases := map[string]int{
		"Ward Manager":    80,
		"Lab Head":        60,
		"Team Lead":       60,
		"ICU Staff":       40,
		"Receptionist":    50,
		"Admin Assistant": 100,
		"Hospital ADMIN":  100,
	}
	for name, want := range cases {
		assert.Equal(t, want, rbac.CalculatePriority(name), name)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Ward Supervisor":    "ward-supervisor",
		"  ICU   Staff ":     "icu-staff",
		"Lab & Radiology":    "lab-radiology",
		"Head - Night Shift": "head-night-shift",
		"Nurse (Level 2)":    "nurse-level-2",
		"---":                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, rbac.Slugify(in), in)
	}
}

func TestIsProtectedRoleName(t *testing.T) {
	for _, name := range []string{"Super Admin", "super admin", "SUPER ADMIN", " Sub  Super  Admin", "sub super admin"} {
		assert.True(t, rbac.IsProtectedRoleName(name), name)
	}
	for _, name := range []string{"Super Administrator", "Admin", "super-admin", ""} {
		assert.False(t, rbac.IsProtectedRoleName(name), name)
	}
}

func TestEffectValid(t *testing.T) {
	assert.True(t, rbac.EffectGrant.Valid())
	assert.True(t, rbac.EffectRevoke.Valid())
	assert.False(t, rbac.Effect("").Valid())
}
