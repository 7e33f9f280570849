package rbac

import (
	"testing"
)

func TestEffectiveRole(t *testing.T) {
	tests := []struct {
		name     string
		idpRole  Role
		assigned *Role
		want     Role
	}{
		{
			name:    "OWNER из IdP, без назначения",
			idpRole: RoleOwner,
			want:    RoleOwner,
		},
		{
			name:     "VIEWER из IdP, назначен MANAGER — повышение",
			idpRole:  RoleViewer,
			assigned: rolePtr(RoleManager),
			want:     RoleManager,
		},
		{
			name:     "MANAGER из IdP, назначен MEMBER — игнорируется (нельзя понизить)",
			idpRole:  RoleManager,
			assigned: rolePtr(RoleMember),
			want:     RoleManager,
		},
		{
			name:     "нет роли в IdP, назначен MEMBER",
			idpRole:  "",
			assigned: rolePtr(RoleMember),
			want:     RoleMember,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EffectiveRole(tt.idpRole, tt.assigned)
			if got != tt.want {
				t.Errorf("EffectiveRole(%q, ...) = %q, хотели %q", tt.idpRole, got, tt.want)
			}
		})
	}
}

func TestHighestRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []Role
		want  Role
	}{
		{name: "пустой набор", roles: nil, want: ""},
		{name: "один VIEWER", roles: []Role{RoleViewer}, want: RoleViewer},
		{name: "MEMBER + OWNER", roles: []Role{RoleMember, RoleOwner}, want: RoleOwner},
		{name: "MANAGER + VIEWER", roles: []Role{RoleManager, RoleViewer}, want: RoleManager},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HighestRole(tt.roles)
			if got != tt.want {
				t.Errorf("HighestRole(%v) = %q, хотели %q", tt.roles, got, tt.want)
			}
		})
	}
}

func TestMapGroupsToRole(t *testing.T) {
	mapping := GroupMapping{
		Owner:   []string{"fadex-owners"},
		Manager: []string{"fadex-managers"},
		Member:  []string{"fadex-members"},
		Viewer:  []string{"fadex-viewers"},
	}

	tests := []struct {
		name   string
		groups []string
		want   Role
	}{
		{name: "нет групп", groups: nil, want: ""},
		{name: "неизвестная группа", groups: []string{"outros"}, want: ""},
		{name: "viewer", groups: []string{"fadex-viewers"}, want: RoleViewer},
		{name: "member + manager", groups: []string{"fadex-members", "fadex-managers"}, want: RoleManager},
		{name: "owner побеждает", groups: []string{"fadex-viewers", "fadex-owners"}, want: RoleOwner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapGroupsToRole(tt.groups, mapping)
			if got != tt.want {
				t.Errorf("MapGroupsToRole(%v) = %q, хотели %q", tt.groups, got, tt.want)
			}
		})
	}
}

func TestRoleAllows(t *testing.T) {
	// OWNER и MANAGER получают всё
	for _, role := range []Role{RoleOwner, RoleManager} {
		for _, perm := range AllPermissions {
			if !RoleAllows(role, perm) {
				t.Errorf("RoleAllows(%s, %s) = false, хотели true", role, perm)
			}
		}
	}

	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleMember, PermissionCreateNotes, true},
		{RoleMember, PermissionViewAllNotes, false},
		{RoleMember, PermissionManageUsers, false},
		{RoleViewer, PermissionCreateNotes, false},
		{RoleViewer, PermissionDownloadAnyFile, false},
		{"", PermissionCreateNotes, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.perm), func(t *testing.T) {
			if got := RoleAllows(tt.role, tt.perm); got != tt.want {
				t.Errorf("RoleAllows(%q, %s) = %v, хотели %v", tt.role, tt.perm, got, tt.want)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	for _, s := range []string{"OWNER", "MANAGER", "MEMBER", "VIEWER"} {
		if _, ok := ParseRole(s); !ok {
			t.Errorf("ParseRole(%q) = false, хотели true", s)
		}
	}
	for _, s := range []string{"", "owner", "USER", "admin"} {
		if IsValidRole(s) {
			t.Errorf("IsValidRole(%q) = true, хотели false", s)
		}
	}
}

func TestParsePermission(t *testing.T) {
	p, ok := ParsePermission("EXPORT_REPORTS")
	if !ok || p != PermissionExportReports {
		t.Errorf("ParsePermission(EXPORT_REPORTS) = %q, %v", p, ok)
	}
	if _, ok := ParsePermission("DELETE_EVERYTHING"); ok {
		t.Error("ParsePermission(DELETE_EVERYTHING) = true, хотели false")
	}
}

func rolePtr(r Role) *Role {
	return &r
}
