package authz

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSimpleTenancy_ResolveTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	tenancy := NewSimpleTenancy(db)
	ctx := context.Background()

	tests := []struct {
		name     string
		ref      ResourceRef
		mockFunc func()
		want     string
		wantErr  error
	}{
		{
			name: "project resolves to its institution",
			ref:  ResourceRef{Kind: ResourceProject, ID: "proj-1"},
			mockFunc: func() {
				mock.ExpectQuery("SELECT institution_id FROM projects").
					WithArgs("proj-1").
					WillReturnRows(sqlmock.NewRows([]string{"institution_id"}).AddRow("inst-1"))
			},
			want: "inst-1",
		},
		{
			name: "missing project is not found",
			ref:  ResourceRef{Kind: ResourceProject, ID: "proj-x"},
			mockFunc: func() {
				mock.ExpectQuery("SELECT institution_id FROM projects").
					WithArgs("proj-x").
					WillReturnError(sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
		{
			name: "institution resolves to itself",
			ref:  ResourceRef{Kind: ResourceInstitution, ID: "inst-1"},
			mockFunc: func() {
				mock.ExpectQuery("SELECT id FROM institutions").
					WithArgs("inst-1").
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("inst-1"))
			},
			want: "inst-1",
		},
		{
			name: "join request resolves through its project",
			ref:  ResourceRef{Kind: ResourceJoinRequest, ID: "jr-1"},
			mockFunc: func() {
				mock.ExpectQuery("SELECT p.institution_id FROM join_requests").
					WithArgs("jr-1").
					WillReturnRows(sqlmock.NewRows([]string{"institution_id"}).AddRow("inst-2"))
			},
			want: "inst-2",
		},
		{
			name: "pre-onboarding user resolves to empty tenant",
			ref:  ResourceRef{Kind: ResourceUser, ID: "user-1"},
			mockFunc: func() {
				mock.ExpectQuery(`COALESCE\(institution_id::text, ''\) FROM users`).
					WithArgs("user-1").
					WillReturnRows(sqlmock.NewRows([]string{"institution_id"}).AddRow(""))
			},
			want: "",
		},
		{
			name:     "platform scope has no tenant",
			ref:      ResourceRef{Kind: ResourcePlatform},
			mockFunc: func() {},
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockFunc()
			got, err := tenancy.ResolveTenant(ctx, tt.ref)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ResolveTenant() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveTenant() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveTenant() = %v, want %v", got, tt.want)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestSimpleTenancy_SameTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	tenancy := NewSimpleTenancy(db)
	ctx := context.Background()
	user := Principal{ID: "user-1", Kind: PrincipalUser}

	t.Run("same institution matches", func(t *testing.T) {
		mock.ExpectQuery("SELECT institution_id FROM projects").
			WithArgs("proj-1").
			WillReturnRows(sqlmock.NewRows([]string{"institution_id"}).AddRow("inst-1"))
		mock.ExpectQuery(`COALESCE\(institution_id::text, ''\) FROM users`).
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"institution_id"}).AddRow("inst-1"))

		same, err := tenancy.SameTenant(ctx, user, ResourceRef{Kind: ResourceProject, ID: "proj-1"})
		if err != nil {
			t.Fatalf("SameTenant() unexpected error: %v", err)
		}
		if !same {
			t.Error("SameTenant() = false, want true")
		}
	})

	t.Run("different institution does not match", func(t *testing.T) {
		mock.ExpectQuery("SELECT institution_id FROM projects").
			WithArgs("proj-2").
			WillReturnRows(sqlmock.NewRows([]string{"institution_id"}).AddRow("inst-2"))
		mock.ExpectQuery(`COALESCE\(institution_id::text, ''\) FROM users`).
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"institution_id"}).AddRow("inst-1"))

		same, err := tenancy.SameTenant(ctx, user, ResourceRef{Kind: ResourceProject, ID: "proj-2"})
		if err != nil {
			t.Fatalf("SameTenant() unexpected error: %v", err)
		}
		if same {
			t.Error("SameTenant() = true, want false")
		}
	})

	t.Run("tenantless principal never matches", func(t *testing.T) {
		mock.ExpectQuery("SELECT institution_id FROM projects").
			WithArgs("proj-1").
			WillReturnRows(sqlmock.NewRows([]string{"institution_id"}).AddRow("inst-1"))
		mock.ExpectQuery(`COALESCE\(institution_id::text, ''\) FROM users`).
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"institution_id"}).AddRow(""))

		same, err := tenancy.SameTenant(ctx, user, ResourceRef{Kind: ResourceProject, ID: "proj-1"})
		if err != nil {
			t.Fatalf("SameTenant() unexpected error: %v", err)
		}
		if same {
			t.Error("SameTenant() = true, want false")
		}
	})

	t.Run("platform admin never matches", func(t *testing.T) {
		mock.ExpectQuery("SELECT institution_id FROM projects").
			WithArgs("proj-1").
			WillReturnRows(sqlmock.NewRows([]string{"institution_id"}).AddRow("inst-1"))

		same, err := tenancy.SameTenant(ctx, Principal{ID: "pa-1", Kind: PrincipalPlatformAdmin}, ResourceRef{Kind: ResourceProject, ID: "proj-1"})
		if err != nil {
			t.Fatalf("SameTenant() unexpected error: %v", err)
		}
		if same {
			t.Error("SameTenant() = true, want false")
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
