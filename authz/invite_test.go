package authz

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInviteMock(t *testing.T) (*InviteService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	svc := NewInviteService(db, NewSimpleQuotaGuard())
	return svc, mock, func() { db.Close() }
}

func inviteRow(maxUses interface{}, useCount int, expiresAt interface{}, active bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "institution_id", "label", "max_uses", "use_count", "expires_at", "is_active"}).
		AddRow("inv-1", "inst-1", "lab cohort", maxUses, useCount, expiresAt, active)
}

func expectTenantlessUser(mock sqlmock.Sqlmock, userID string) {
	mock.ExpectQuery("SELECT institution_id FROM users").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"institution_id"}).AddRow(nil))
}

func TestRedeem_Success(t *testing.T) {
	svc, mock, cleanup := newInviteMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM invite_codes").
		WithArgs("LABCODE123").
		WillReturnRows(inviteRow(5, 2, nil, true))
	expectTenantlessUser(mock, "user-1")
	mock.ExpectExec("UPDATE invite_codes").
		WithArgs("inv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Quota reservation inside the same transaction.
	mock.ExpectQuery("SELECT max_users, max_projects FROM institutions").
		WithArgs("inst-1").
		WillReturnRows(sqlmock.NewRows([]string{"max_users", "max_projects"}).AddRow(10, nil))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("inst-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectExec("UPDATE users").
		WithArgs("inst-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	invite, err := svc.Redeem(context.Background(), "user-1", "LABCODE123")
	require.NoError(t, err)
	assert.Equal(t, "inst-1", invite.InstitutionID)
	assert.Equal(t, 3, invite.UseCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The critical correctness property: when the tenant is at max_users the
// whole redemption rolls back, so use_count never moves.
func TestRedeem_QuotaFailureRollsBack(t *testing.T) {
	svc, mock, cleanup := newInviteMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM invite_codes").
		WithArgs("LABCODE123").
		WillReturnRows(inviteRow(nil, 7, nil, true))
	expectTenantlessUser(mock, "user-1")
	mock.ExpectExec("UPDATE invite_codes").
		WithArgs("inv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT max_users, max_projects FROM institutions").
		WithArgs("inst-1").
		WillReturnRows(sqlmock.NewRows([]string{"max_users", "max_projects"}).AddRow(3, nil))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("inst-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectRollback()

	_, err := svc.Redeem(context.Background(), "user-1", "LABCODE123")

	var quotaErr *QuotaExceededError
	require.True(t, errors.As(err, &quotaErr))
	assert.Equal(t, QuotaUsers, quotaErr.Kind)
	assert.Equal(t, 3, quotaErr.Limit)
	assert.Equal(t, 3, quotaErr.Current)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeem_InvalidReasons(t *testing.T) {
	tests := []struct {
		name string
		rows *sqlmock.Rows
		want InviteFailure
	}{
		{
			name: "inactive",
			rows: inviteRow(nil, 0, nil, false),
			want: InviteInactive,
		},
		{
			name: "expired",
			rows: inviteRow(nil, 0, time.Now().Add(-time.Hour), true),
			want: InviteExpired,
		},
		{
			name: "exhausted",
			rows: inviteRow(1, 1, nil, true),
			want: InviteExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mock, cleanup := newInviteMock(t)
			defer cleanup()

			mock.ExpectBegin()
			mock.ExpectQuery("FROM invite_codes").
				WithArgs("LABCODE123").
				WillReturnRows(tt.rows)
			expectTenantlessUser(mock, "user-1")
			mock.ExpectExec("UPDATE invite_codes").
				WithArgs("inv-1").
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectRollback()

			_, err := svc.Redeem(context.Background(), "user-1", "LABCODE123")

			var inviteErr *InviteInvalidError
			require.True(t, errors.As(err, &inviteErr), "got %v", err)
			assert.Equal(t, tt.want, inviteErr.Reason)
		})
	}
}

func TestRedeem_UnknownCode(t *testing.T) {
	svc, mock, cleanup := newInviteMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM invite_codes").
		WithArgs("NOPE").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.Redeem(context.Background(), "user-1", "NOPE")

	var inviteErr *InviteInvalidError
	require.True(t, errors.As(err, &inviteErr))
	assert.Equal(t, InviteNotFound, inviteErr.Reason)
}

func TestRedeem_UserAlreadyOnboarded(t *testing.T) {
	svc, mock, cleanup := newInviteMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM invite_codes").
		WithArgs("LABCODE123").
		WillReturnRows(inviteRow(nil, 0, nil, true))
	mock.ExpectQuery("SELECT institution_id FROM users").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"institution_id"}).AddRow("inst-9"))
	mock.ExpectRollback()

	_, err := svc.Redeem(context.Background(), "user-1", "LABCODE123")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestClassifyInvite_Precedence(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	one := 1

	// Inactive wins over expired, expired wins over exhausted.
	assert.Equal(t, InviteInactive, classifyInvite(&InviteCode{IsActive: false, ExpiresAt: &past}))
	assert.Equal(t, InviteExpired, classifyInvite(&InviteCode{IsActive: true, ExpiresAt: &past, MaxUses: &one, UseCount: 1}))
	assert.Equal(t, InviteExhausted, classifyInvite(&InviteCode{IsActive: true, MaxUses: &one, UseCount: 1}))
}

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		assert.Len(t, code, codeLength)
		assert.False(t, seen[code], "codes should not repeat")
		seen[code] = true
		for _, c := range code {
			assert.Contains(t, codeAlphabet, string(c))
		}
	}
}

// Every alphabet character must be equally likely. A plain modulo over the
// 256 byte values would overweight the first 256%31 characters by 9/8; the
// head-of-alphabet count catches that skew well outside sampling noise.
func TestGenerateCode_UniformDistribution(t *testing.T) {
	const samples = 2000
	counts := make(map[rune]int)
	for i := 0; i < samples; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		for _, c := range code {
			counts[c]++
		}
	}

	span := 256 % len(codeAlphabet)
	head := 0
	for _, c := range codeAlphabet[:span] {
		head += counts[c]
	}
	total := samples * codeLength
	expected := float64(total*span) / float64(len(codeAlphabet))
	assert.InDelta(t, expected, float64(head), float64(total)*0.015)
}

func TestDeactivate(t *testing.T) {
	svc, mock, cleanup := newInviteMock(t)
	defer cleanup()

	mock.ExpectExec("UPDATE invite_codes SET is_active = false").
		WithArgs("inv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, svc.Deactivate(context.Background(), "inv-1"))

	mock.ExpectExec("UPDATE invite_codes SET is_active = false").
		WithArgs("inv-x").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, svc.Deactivate(context.Background(), "inv-x"), ErrNotFound)
}
