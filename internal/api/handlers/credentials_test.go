package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netman/internal/device"
	"github.com/anstrom/netman/internal/errors"
	"github.com/anstrom/netman/internal/logging"
	"github.com/anstrom/netman/internal/registry"
)

type mockCredentialService struct {
	mock.Mock
}

func (m *mockCredentialService) AddCredential(ctx context.Context, cred *device.Credential) error {
	return m.Called(ctx, cred).Error(0)
}

func (m *mockCredentialService) ListCredentials(ctx context.Context) ([]device.Credential, error) {
	args := m.Called(ctx)
	creds, _ := args.Get(0).([]device.Credential)
	return creds, args.Error(1)
}

func (m *mockCredentialService) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func newCredentialHandler(t *testing.T, service CredentialService) *CredentialHandler {
	t.Helper()
	reg, err := registry.Default()
	require.NoError(t, err)
	return NewCredentialHandler(service, reg, logging.NewDiscard(), 0)
}

func TestListCredentialsHidesPasskeys(t *testing.T) {
	service := &mockCredentialService{}
	service.On("ListCredentials", mock.Anything).Return([]device.Credential{
		{ID: uuid.New(), Username: "admin", Passkey: "hunter2", CreatedAt: time.Now()},
		{ID: uuid.New(), Username: "ubnt", Passkey: "ubnt", Scope: "ubiquiti", CreatedAt: time.Now()},
	}, nil)

	rr := httptest.NewRecorder()
	newCredentialHandler(t, service).ListCredentials(rr, httptest.NewRequest(http.MethodGet, "/credentials", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "hunter2")
	assert.NotContains(t, rr.Body.String(), "passkey")

	var resp struct {
		Data []device.Credential `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.True(t, resp.Data[0].IsGlobal())
	assert.EqualValues(t, "ubiquiti", resp.Data[1].Scope)
}

func TestListCredentialsEmpty(t *testing.T) {
	service := &mockCredentialService{}
	service.On("ListCredentials", mock.Anything).Return(nil, nil)

	rr := httptest.NewRecorder()
	newCredentialHandler(t, service).ListCredentials(rr, httptest.NewRequest(http.MethodGet, "/credentials", nil))

	assert.JSONEq(t, `{"data":[]}`, rr.Body.String())
}

func TestCreateCredential(t *testing.T) {
	service := &mockCredentialService{}
	service.On("AddCredential", mock.Anything, mock.MatchedBy(func(c *device.Credential) bool {
		return c.Username == "netops" && c.Passkey == "s3cret" && c.Scope == "cisco"
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*device.Credential).ID = uuid.New()
	}).Return(nil)

	rr := httptest.NewRecorder()
	newCredentialHandler(t, service).CreateCredential(rr, jsonRequest(t, http.MethodPost, "/credentials",
		CredentialRequest{Username: "netops", Password: "s3cret", Scope: "cisco"}))

	require.Equal(t, http.StatusCreated, rr.Code)
	assert.NotContains(t, rr.Body.String(), "s3cret")
	service.AssertExpectations(t)
}

func TestCreateCredentialValidation(t *testing.T) {
	tests := []struct {
		name string
		req  CredentialRequest
	}{
		{"missing username", CredentialRequest{Password: "x"}},
		{"unknown scope", CredentialRequest{Username: "admin", Scope: "juniper"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &mockCredentialService{}
			rr := httptest.NewRecorder()
			newCredentialHandler(t, service).CreateCredential(rr, jsonRequest(t, http.MethodPost, "/credentials", tt.req))

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			service.AssertNotCalled(t, "AddCredential", mock.Anything, mock.Anything)
		})
	}
}

func TestDeleteCredential(t *testing.T) {
	id := uuid.New()

	t.Run("deleted", func(t *testing.T) {
		service := &mockCredentialService{}
		service.On("DeleteCredential", mock.Anything, id).Return(nil)

		rr := httptest.NewRecorder()
		req := mux.SetURLVars(httptest.NewRequest(http.MethodDelete, "/", nil), map[string]string{"id": id.String()})
		newCredentialHandler(t, service).DeleteCredential(rr, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("missing", func(t *testing.T) {
		service := &mockCredentialService{}
		service.On("DeleteCredential", mock.Anything, id).
			Return(errors.NewDatabaseError(errors.CodeNotFound, "Credential not found"))

		rr := httptest.NewRecorder()
		req := mux.SetURLVars(httptest.NewRequest(http.MethodDelete, "/", nil), map[string]string{"id": id.String()})
		newCredentialHandler(t, service).DeleteCredential(rr, req)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "credential not found", decodeError(t, rr).Message)
	})
}
