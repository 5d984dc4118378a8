package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/anstrom/netman/internal/device"
	"github.com/anstrom/netman/internal/logging"
	"github.com/anstrom/netman/internal/registry"
)

// CredentialService manages stored credentials.
type CredentialService interface {
	AddCredential(ctx context.Context, cred *device.Credential) error
	ListCredentials(ctx context.Context) ([]device.Credential, error)
	DeleteCredential(ctx context.Context, id uuid.UUID) error
}

// CredentialHandler handles credential endpoints. Passkeys are accepted but
// never returned.
type CredentialHandler struct {
	service        CredentialService
	registry       *registry.Registry
	validator      *validator.Validate
	logger         *logging.Logger
	maxRequestSize int64
}

// NewCredentialHandler creates a new credential handler. Scopes are checked
// against reg.
func NewCredentialHandler(
	service CredentialService,
	reg *registry.Registry,
	logger *logging.Logger,
	maxRequestSize int64,
) *CredentialHandler {
	return &CredentialHandler{
		service:        service,
		registry:       reg,
		validator:      validator.New(),
		logger:         logger.WithFields("handler", "credentials"),
		maxRequestSize: maxRequestSize,
	}
}

// CredentialRequest creates a credential. An empty scope makes it global.
type CredentialRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"max=1024"`
	Scope    string `json:"scope,omitempty" validate:"omitempty,max=255"`
}

// ListCredentials returns every credential in the order they are tried.
func (h *CredentialHandler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := h.service.ListCredentials(r.Context())
	if err != nil {
		handleServiceError(w, r, err, "list", "credentials", h.logger)
		return
	}
	if creds == nil {
		creds = []device.Credential{}
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"data": creds})
}

// CreateCredential stores a new credential.
func (h *CredentialHandler) CreateCredential(w http.ResponseWriter, r *http.Request) {
	var req CredentialRequest
	if err := parseJSON(w, r, &req, h.maxRequestSize); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationError(err))
		return
	}

	scope := registry.TypeID(req.Scope)
	if scope != "" && h.registry != nil {
		if _, ok := h.registry.Get(scope); !ok {
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("unknown device type: %s", req.Scope))
			return
		}
	}

	cred := &device.Credential{Username: req.Username, Passkey: req.Password, Scope: scope}
	if err := h.service.AddCredential(r.Context(), cred); err != nil {
		handleServiceError(w, r, err, "create", "credential", h.logger)
		return
	}
	writeJSON(w, r, http.StatusCreated, cred)
}

// DeleteCredential removes a credential.
func (h *CredentialHandler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, err := extractUUIDFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := h.service.DeleteCredential(r.Context(), id); err != nil {
		handleServiceError(w, r, err, "delete", "credential", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
