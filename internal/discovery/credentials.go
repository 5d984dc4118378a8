package discovery

import (
	"context"

	"github.com/google/uuid"

	"github.com/anstrom/netman/internal/device"
	"github.com/anstrom/netman/internal/errors"
	"github.com/anstrom/netman/internal/registry"
)

// CredentialStore is the read side of credential storage the engine needs.
// Lists are returned in storage order.
type CredentialStore interface {
	CredentialsForType(ctx context.Context, typeID registry.TypeID) ([]device.Credential, error)
	GlobalCredentials(ctx context.Context) ([]device.Credential, error)
	// CredentialByID returns nil, nil when the credential does not exist.
	CredentialByID(ctx context.Context, id uuid.UUID) (*device.Credential, error)
}

// CredentialProvider decides which credentials to try against a device.
type CredentialProvider struct {
	store CredentialStore
}

// NewCredentialProvider creates a provider backed by store.
func NewCredentialProvider(store CredentialStore) *CredentialProvider {
	return &CredentialProvider{store: store}
}

// Candidates returns the credentials to try, in order. A device with a bound
// credential gets exactly that one. Otherwise credentials scoped to the
// device's type come first, then global ones. A bound credential that no
// longer exists falls back to enumeration.
func (p *CredentialProvider) Candidates(ctx context.Context, dev *device.Device) ([]device.Credential, error) {
	if dev.CredentialID != nil {
		cred, err := p.store.CredentialByID(ctx, *dev.CredentialID)
		if err != nil && !errors.IsCode(err, errors.CodeNotFound) {
			return nil, err
		}
		if cred != nil {
			return []device.Credential{*cred}, nil
		}
	}

	var candidates []device.Credential
	if dev.Type != "" {
		scoped, err := p.store.CredentialsForType(ctx, dev.Type)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, scoped...)
	}

	global, err := p.store.GlobalCredentials(ctx)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, global...)

	if len(candidates) == 0 {
		return nil, errors.ErrNoCredentials(dev.IP)
	}
	return candidates, nil
}
