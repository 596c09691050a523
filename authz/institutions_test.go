package authz

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInstitutionRepo struct {
	slugTaken bool
}

func (r *stubInstitutionRepo) Create(ctx context.Context, inst *Institution) error { return nil }
func (r *stubInstitutionRepo) Get(ctx context.Context, id string) (*Institution, error) {
	return nil, ErrNotFound
}
func (r *stubInstitutionRepo) GetBySlug(ctx context.Context, slug string) (*Institution, error) {
	return nil, ErrNotFound
}
func (r *stubInstitutionRepo) List(ctx context.Context, limit, offset int) ([]Institution, error) {
	return nil, nil
}
func (r *stubInstitutionRepo) UpdatePlan(ctx context.Context, id, planType string, maxUsers, maxProjects *int) error {
	return nil
}
func (r *stubInstitutionRepo) SlugExists(ctx context.Context, slug string) bool { return r.slugTaken }

type stubPlanCatalog struct{}

func (stubPlanCatalog) Limits(planType string) (*int, *int, error) {
	users, projects := 5, 3
	return &users, &projects, nil
}

func newInstitutionMock(t *testing.T, repo InstitutionRepository) (*InstitutionService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	svc := NewInstitutionService(db, nil, repo, stubPlanCatalog{})
	return svc, mock, func() { db.Close() }
}

func TestCreateInstitution_CreatorBecomesAdmin(t *testing.T) {
	svc, mock, cleanup := newInstitutionMock(t, &stubInstitutionRepo{})
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO institutions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO institution_admins").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inst, err := svc.CreateInstitution(context.Background(),
		Principal{ID: "user-1", Kind: PrincipalUser},
		CreateInstitutionInput{Name: "Quantum Lab", Slug: "quantum-lab"})
	require.NoError(t, err)
	assert.Equal(t, PlanFree, inst.PlanType)
	assert.Equal(t, 5, *inst.MaxUsers)
	assert.Equal(t, 3, *inst.MaxProjects)
	assert.True(t, inst.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInstitution_SlugTaken(t *testing.T) {
	svc, _, cleanup := newInstitutionMock(t, &stubInstitutionRepo{slugTaken: true})
	defer cleanup()

	_, err := svc.CreateInstitution(context.Background(),
		Principal{ID: "user-1", Kind: PrincipalUser},
		CreateInstitutionInput{Name: "Quantum Lab", Slug: "quantum-lab"})
	assert.ErrorIs(t, err, ErrConflict)
}

// Two signups racing on the same slug both pass the SlugExists pre-check;
// the loser hits the unique index and must still see Conflict, not an
// internal error.
func TestCreateInstitution_SlugRace(t *testing.T) {
	svc, mock, cleanup := newInstitutionMock(t, &stubInstitutionRepo{})
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO institutions").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := svc.CreateInstitution(context.Background(),
		Principal{ID: "user-1", Kind: PrincipalUser},
		CreateInstitutionInput{Name: "Quantum Lab", Slug: "quantum-lab"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInstitution_CreatorAlreadyOnboarded(t *testing.T) {
	svc, mock, cleanup := newInstitutionMock(t, &stubInstitutionRepo{})
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO institutions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := svc.CreateInstitution(context.Background(),
		Principal{ID: "user-1", Kind: PrincipalUser},
		CreateInstitutionInput{Name: "Quantum Lab", Slug: "quantum-lab"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCreateInstitution_PlatformAdminForbidden(t *testing.T) {
	svc, _, cleanup := newInstitutionMock(t, &stubInstitutionRepo{})
	defer cleanup()

	_, err := svc.CreateInstitution(context.Background(),
		Principal{ID: "pa-1", Kind: PrincipalPlatformAdmin},
		CreateInstitutionInput{Name: "Quantum Lab", Slug: "quantum-lab"})
	assert.ErrorIs(t, err, ErrForbidden)
}
