package db

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/google/uuid"

	"github.com/anstrom/netman/internal/device"
	"github.com/anstrom/netman/internal/errors"
	"github.com/anstrom/netman/internal/registry"
)

// A NULL scope is read back as the empty (global) scope.
const credentialColumns = `id, username, passkey, COALESCE(scope, '') AS scope, created_at`

// CredentialRepository stores credentials in the credentials table. Listings
// return credentials in the order they were added.
type CredentialRepository struct {
	db *DB
}

// NewCredentialRepository creates a new credential repository.
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// CredentialsForType returns the credentials scoped to typeID.
func (r *CredentialRepository) CredentialsForType(
	ctx context.Context, typeID registry.TypeID,
) ([]device.Credential, error) {
	return r.selectCredentials(ctx, "credentials_for_type",
		`SELECT `+credentialColumns+` FROM credentials WHERE scope = $1 ORDER BY position`, string(typeID))
}

// GlobalCredentials returns the credentials without a scope.
func (r *CredentialRepository) GlobalCredentials(ctx context.Context) ([]device.Credential, error) {
	return r.selectCredentials(ctx, "global_credentials",
		`SELECT `+credentialColumns+` FROM credentials WHERE scope IS NULL ORDER BY position`)
}

// List returns every credential.
func (r *CredentialRepository) List(ctx context.Context) ([]device.Credential, error) {
	return r.selectCredentials(ctx, "list_credentials",
		`SELECT `+credentialColumns+` FROM credentials ORDER BY position`)
}

func (r *CredentialRepository) selectCredentials(
	ctx context.Context, operation, query string, args ...interface{},
) ([]device.Credential, error) {
	var creds []device.Credential
	err := r.db.timed(operation, func() error {
		return r.db.SelectContext(ctx, &creds, query, args...)
	})
	if err != nil {
		return nil, sanitizeDBError(operation, err)
	}
	return creds, nil
}

// CredentialByID returns the credential with id, or nil when none exists.
func (r *CredentialRepository) CredentialByID(ctx context.Context, id uuid.UUID) (*device.Credential, error) {
	var cred device.Credential
	err := r.db.timed("credential_by_id", func() error {
		return r.db.GetContext(ctx, &cred,
			`SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, id)
	})
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, sanitizeDBError("credential by id", err)
	}
	return &cred, nil
}

// Create stores cred, assigning its ID and creation time.
func (r *CredentialRepository) Create(ctx context.Context, cred *device.Credential) error {
	if cred.Username == "" {
		return errors.NewDatabaseError(errors.CodeValidation, "Credential username is required")
	}

	id := uuid.New()
	query := `
		INSERT INTO credentials (id, username, passkey, scope)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING created_at`

	err := r.db.timed("create_credential", func() error {
		return r.db.QueryRowxContext(ctx, query, id, cred.Username, cred.Passkey, string(cred.Scope)).
			Scan(&cred.CreatedAt)
	})
	if err != nil {
		return sanitizeDBError("create credential", err)
	}
	cred.ID = id
	return nil
}

// Delete removes the credential with id. Devices bound to it are unbound.
func (r *CredentialRepository) Delete(ctx context.Context, id uuid.UUID) error {
	var affected int64
	err := r.db.timed("delete_credential", func() error {
		result, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = $1`, id)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return sanitizeDBError("delete credential", err)
	}
	if affected == 0 {
		return errors.NewDatabaseError(errors.CodeNotFound, "Credential not found")
	}
	return nil
}
