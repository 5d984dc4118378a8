package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netman/internal/device"
	"github.com/anstrom/netman/internal/errors"
)

var credentialRowColumns = []string{"id", "username", "passkey", "scope", "created_at"}

func TestCredentialRepositoryScopes(t *testing.T) {
	db, mock, log := newMockDB(t)
	repo := NewCredentialRepository(db)
	ctx := context.Background()
	now := time.Now()

	scoped := uuid.New()
	global1, global2 := uuid.New(), uuid.New()

	mock.ExpectQuery(`FROM credentials WHERE scope = \$1 ORDER BY position`).
		WithArgs("cisco-ios").
		WillReturnRows(sqlmock.NewRows(credentialRowColumns).
			AddRow(scoped.String(), "netops", "s3cret", "cisco-ios", now))
	mock.ExpectQuery(`FROM credentials WHERE scope IS NULL ORDER BY position`).
		WillReturnRows(sqlmock.NewRows(credentialRowColumns).
			AddRow(global1.String(), "admin", "admin", "", now).
			AddRow(global2.String(), "cisco", "cisco", "", now))

	creds, err := repo.CredentialsForType(ctx, "cisco-ios")
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, scoped, creds[0].ID)
	assert.EqualValues(t, "cisco-ios", creds[0].Scope)
	assert.False(t, creds[0].IsGlobal())

	creds, err = repo.GlobalCredentials(ctx)
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, global1, creds[0].ID)
	assert.Equal(t, global2, creds[1].ID)
	assert.True(t, creds[1].IsGlobal())

	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, log.queries, 2)
	assert.Equal(t, "credentials_for_type", log.queries[0].operation)
	assert.Equal(t, "global_credentials", log.queries[1].operation)
}

func TestCredentialRepositoryByID(t *testing.T) {
	db, mock, _ := newMockDB(t)
	repo := NewCredentialRepository(db)
	ctx := context.Background()
	id := uuid.New()

	mock.ExpectQuery(`FROM credentials WHERE id = \$1`).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows(credentialRowColumns).
			AddRow(id.String(), "admin", "pw", "", time.Now()))
	mock.ExpectQuery(`FROM credentials WHERE id = \$1`).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows(credentialRowColumns))

	cred, err := repo.CredentialByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "admin", cred.Username)
	assert.Equal(t, "pw", cred.Passkey)

	cred, err = repo.CredentialByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, cred)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepositoryCreate(t *testing.T) {
	db, mock, _ := newMockDB(t)
	repo := NewCredentialRepository(db)
	created := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO credentials .* NULLIF\(\$4, ''\)`).
		WithArgs(sqlmock.AnyArg(), "admin", "pw", "").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	cred := &device.Credential{Username: "admin", Passkey: "pw"}
	require.NoError(t, repo.Create(context.Background(), cred))
	assert.NotEqual(t, uuid.Nil, cred.ID)
	assert.Equal(t, created, cred.CreatedAt)

	err := repo.Create(context.Background(), &device.Credential{Passkey: "pw"})
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepositoryListAndDelete(t *testing.T) {
	db, mock, _ := newMockDB(t)
	repo := NewCredentialRepository(db)
	ctx := context.Background()
	id := uuid.New()

	mock.ExpectQuery(`FROM credentials ORDER BY position`).
		WillReturnRows(sqlmock.NewRows(credentialRowColumns).
			AddRow(id.String(), "admin", "pw", "aruba", time.Now()))
	mock.ExpectExec(`DELETE FROM credentials WHERE id = \$1`).
		WithArgs(id.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM credentials WHERE id = \$1`).
		WithArgs(id.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	creds, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.EqualValues(t, "aruba", creds[0].Scope)

	require.NoError(t, repo.Delete(ctx, id))
	assert.True(t, errors.IsCode(repo.Delete(ctx, id), errors.CodeNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}
