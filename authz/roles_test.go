package authz

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newRoleResolverMock(t *testing.T) (*SimpleRoleResolver, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	resolver := NewSimpleRoleResolver(db, NewSimpleTenancy(db))
	return resolver, mock, func() { db.Close() }
}

func TestEffectiveRoles_PlatformAdminShortCircuit(t *testing.T) {
	resolver, mock, cleanup := newRoleResolverMock(t)
	defer cleanup()

	// No queries expected: platform admins bypass tenant-scoped resolution.
	roles, err := resolver.EffectiveRoles(context.Background(),
		Principal{ID: "pa-1", Kind: PrincipalPlatformAdmin},
		ResourceRef{Kind: ResourceProject, ID: "proj-1"})
	if err != nil {
		t.Fatalf("EffectiveRoles() unexpected error: %v", err)
	}
	if !roles.Has(RolePlatformAdmin) || len(roles) != 1 {
		t.Errorf("EffectiveRoles() = %v, want exactly {platform_admin}", roles)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEffectiveRoles_ProjectScope(t *testing.T) {
	tests := []struct {
		name      string
		memberRow *string // nil = no project_members row
		isAdmin   bool
		sameDept  bool
		want      []Role
		wantNot   []Role
	}{
		{
			name:      "lead with matching department",
			memberRow: strPtr("lead"),
			sameDept:  true,
			want:      []Role{RoleProjectLead, RoleDepartmentMember},
			wantNot:   []Role{RoleInstitutionAdmin, RoleProjectParticipant},
		},
		{
			name:      "participant outside the department",
			memberRow: strPtr("participant"),
			want:      []Role{RoleProjectParticipant},
			wantNot:   []Role{RoleDepartmentMember, RoleProjectLead},
		},
		{
			name:    "institution admin with no membership",
			isAdmin: true,
			want:    []Role{RoleInstitutionAdmin},
			wantNot: []Role{RoleProjectLead, RoleProjectParticipant, RoleDepartmentMember},
		},
		{
			name:    "stranger in the same tenant has no roles",
			wantNot: []Role{RoleInstitutionAdmin, RoleProjectLead, RoleProjectParticipant, RoleDepartmentMember},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver, mock, cleanup := newRoleResolverMock(t)
			defer cleanup()

			mock.ExpectQuery("SELECT institution_id FROM projects").
				WithArgs("proj-1").
				WillReturnRows(sqlmock.NewRows([]string{"institution_id"}).AddRow("inst-1"))

			adminQuery := mock.ExpectQuery("SELECT 1 FROM institution_admins").
				WithArgs("user-1", "inst-1")
			if tt.isAdmin {
				adminQuery.WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
			} else {
				adminQuery.WillReturnError(sql.ErrNoRows)
			}

			memberQuery := mock.ExpectQuery("SELECT role FROM project_members").
				WithArgs("proj-1", "user-1")
			if tt.memberRow != nil {
				memberQuery.WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow(*tt.memberRow))
			} else {
				memberQuery.WillReturnError(sql.ErrNoRows)
			}

			deptQuery := mock.ExpectQuery("SELECT 1 FROM projects p").
				WithArgs("proj-1", "user-1")
			if tt.sameDept {
				deptQuery.WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
			} else {
				deptQuery.WillReturnError(sql.ErrNoRows)
			}

			roles, err := resolver.EffectiveRoles(context.Background(),
				Principal{ID: "user-1", Kind: PrincipalUser},
				ResourceRef{Kind: ResourceProject, ID: "proj-1"})
			if err != nil {
				t.Fatalf("EffectiveRoles() unexpected error: %v", err)
			}
			for _, r := range tt.want {
				if !roles.Has(r) {
					t.Errorf("EffectiveRoles() missing role %s, got %v", r, roles)
				}
			}
			for _, r := range tt.wantNot {
				if roles.Has(r) {
					t.Errorf("EffectiveRoles() unexpectedly contains %s", r)
				}
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestEffectiveRoles_DepartmentScope(t *testing.T) {
	resolver, mock, cleanup := newRoleResolverMock(t)
	defer cleanup()

	mock.ExpectQuery("SELECT institution_id FROM departments").
		WithArgs("dept-bio").
		WillReturnRows(sqlmock.NewRows([]string{"institution_id"}).AddRow("inst-1"))
	mock.ExpectQuery("SELECT 1 FROM institution_admins").
		WithArgs("user-1", "inst-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT 1 FROM users").
		WithArgs("user-1", "dept-bio").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	roles, err := resolver.EffectiveRoles(context.Background(),
		Principal{ID: "user-1", Kind: PrincipalUser},
		ResourceRef{Kind: ResourceDepartment, ID: "dept-bio"})
	if err != nil {
		t.Fatalf("EffectiveRoles() unexpected error: %v", err)
	}
	if !roles.Has(RoleDepartmentMember) {
		t.Errorf("EffectiveRoles() = %v, want department_member", roles)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEffectiveRoles_MissingResource(t *testing.T) {
	resolver, mock, cleanup := newRoleResolverMock(t)
	defer cleanup()

	mock.ExpectQuery("SELECT institution_id FROM projects").
		WithArgs("proj-x").
		WillReturnError(sql.ErrNoRows)

	_, err := resolver.EffectiveRoles(context.Background(),
		Principal{ID: "user-1", Kind: PrincipalUser},
		ResourceRef{Kind: ResourceProject, ID: "proj-x"})
	if err != ErrNotFound {
		t.Errorf("EffectiveRoles() error = %v, want ErrNotFound", err)
	}
}

func strPtr(s string) *string { return &s }
