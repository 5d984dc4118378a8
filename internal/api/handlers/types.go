package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/anstrom/netman/internal/registry"
)

// TypeHandler exposes the device type registry.
type TypeHandler struct {
	registry *registry.Registry
}

// NewTypeHandler creates a new type handler.
func NewTypeHandler(reg *registry.Registry) *TypeHandler {
	return &TypeHandler{registry: reg}
}

// TypeResponse describes one device type.
type TypeResponse struct {
	ID               registry.TypeID   `json:"id"`
	Parent           registry.TypeID   `json:"parent,omitempty"`
	Path             []registry.TypeID `json:"path"`
	Children         []registry.TypeID `json:"children,omitempty"`
	Leaf             bool              `json:"leaf"`
	IdentifyCommands []string          `json:"identify_commands,omitempty"`
	ScanKeys         []string          `json:"scan_keys,omitempty"`
}

func (h *TypeHandler) toResponse(n *registry.TypeNode) TypeResponse {
	resp := TypeResponse{
		ID:               n.ID,
		Parent:           n.Parent,
		Path:             h.registry.Path(n.ID),
		Children:         n.Children,
		Leaf:             n.IsLeaf(),
		IdentifyCommands: n.IdentifyCommands,
	}
	for _, sc := range n.ScanCommands {
		resp.ScanKeys = append(resp.ScanKeys, sc.Key)
	}
	return resp
}

// ListTypes returns every type, parents before children.
func (h *TypeHandler) ListTypes(w http.ResponseWriter, r *http.Request) {
	nodes := h.registry.Types()
	types := make([]TypeResponse, 0, len(nodes))
	for _, n := range nodes {
		types = append(types, h.toResponse(n))
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"data": types})
}

// GetType returns one type.
func (h *TypeHandler) GetType(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	n, ok := h.registry.Get(registry.TypeID(id))
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Errorf("device type %s not found", id))
		return
	}
	writeJSON(w, r, http.StatusOK, h.toResponse(n))
}
