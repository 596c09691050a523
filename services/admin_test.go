package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haiphandev/acadflow/authz"
)

func TestPlatformAdminService_PasswordHashing(t *testing.T) {
	svc := NewPlatformAdminService(nil)

	hash, err := svc.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery staple", hash)

	assert.True(t, svc.CheckPassword("correct horse battery staple", hash))
	assert.False(t, svc.CheckPassword("wrong password", hash))
}

func TestPlatformAdminService_ChangePassword(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPlatformAdminService(db)

	mock.ExpectExec("UPDATE platform_admins").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = svc.ChangePassword(context.Background(), "pa-1", "a long enough password")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlatformAdminService_ChangePasswordTooShort(t *testing.T) {
	svc := NewPlatformAdminService(nil)

	err := svc.ChangePassword(context.Background(), "pa-1", "short")
	assert.ErrorIs(t, err, authz.ErrConflict)
}

func TestPlatformAdminService_ChangePasswordUnknownAdmin(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPlatformAdminService(db)

	mock.ExpectExec("UPDATE platform_admins").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = svc.ChangePassword(context.Background(), "pa-x", "a long enough password")
	assert.ErrorIs(t, err, authz.ErrNotFound)
}
