package auth

import (
	"slices"
	"testing"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role      Role
		should    []Permission
		shouldNot []Permission
	}{
		{
			role:      RoleMember,
			should:    []Permission{PermSessionRead},
			shouldNot: []Permission{PermSessionElevate, PermAuditRead, PermUserManage},
		},
		{
			role:      RoleStaff,
			should:    []Permission{PermSessionRead, PermSessionElevate},
			shouldNot: []Permission{PermAuditRead, PermUserManage},
		},
		{
			role:   RoleAdmin,
			should: []Permission{PermSessionRead, PermSessionElevate, PermAuditRead, PermUserManage},
		},
		{
			role:      Role("unknown"),
			shouldNot: []Permission{PermSessionRead},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			for _, p := range tt.should {
				if !HasPermission(tt.role, p) {
					t.Errorf("%s should have %s", tt.role, p)
				}
			}
			for _, p := range tt.shouldNot {
				if HasPermission(tt.role, p) {
					t.Errorf("%s should NOT have %s", tt.role, p)
				}
			}
		})
	}
}

func TestPermissionsForRole_ReturnsCopy(t *testing.T) {
	perms := PermissionsForRole(RoleStaff)
	perms[0] = "mutated"

	if !HasPermission(RoleStaff, PermSessionRead) {
		t.Error("mutating the returned slice changed the role map")
	}
	if PermissionsForRole("nobody") != nil {
		t.Error("unknown role should return nil")
	}
}

func TestRole_Implied(t *testing.T) {
	tests := []struct {
		role Role
		want []Role
	}{
		{RoleAdmin, []Role{RoleAdmin, RoleStaff, RoleMember}},
		{RoleStaff, []Role{RoleStaff, RoleMember}},
		{RoleMember, []Role{RoleMember}},
		{Role("ghost"), nil},
	}
	for _, tt := range tests {
		if got := tt.role.Implied(); !slices.Equal(got, tt.want) {
			t.Errorf("%s.Implied() = %v, want %v", tt.role, got, tt.want)
		}
	}
}

func TestIsValidUsername(t *testing.T) {
	for _, ok := range []string{"alice", "a.b-c_d", "A1"} {
		if !IsValidUsername(ok) {
			t.Errorf("IsValidUsername(%q) = false", ok)
		}
	}
	for _, bad := range []string{"", "has space", "slash/name", "plus+", string(make([]byte, 65))} {
		if IsValidUsername(bad) {
			t.Errorf("IsValidUsername(%q) = true", bad)
		}
	}
}
