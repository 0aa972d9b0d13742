package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"tradstry/internal/domain/resolver"
	"tradstry/internal/domain/trade"
	"tradstry/internal/domain/unmatched"
)

// UnmatchedService is the manual-resolution surface the handler drives.
type UnmatchedService interface {
	List(ctx context.Context, userID int64) ([]*unmatched.Transaction, error)
	Suggest(ctx context.Context, userID int64, id string) ([]resolver.Suggestion, error)
	Resolve(ctx context.Context, userID int64, id string, req resolver.ResolveRequest) (*resolver.Resolution, error)
	Ignore(ctx context.Context, userID int64, id string) error
}

type UnmatchedHandler struct {
	service UnmatchedService
}

func NewUnmatchedHandler(service UnmatchedService) *UnmatchedHandler {
	return &UnmatchedHandler{service: service}
}

// HandleList handles GET /api/unmatched/
func (h *UnmatchedHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	items, err := h.service.List(r.Context(), userID)
	if err != nil {
		log.Printf("Error listing unmatched transactions for user %d: %v", userID, err)
		http.Error(w, "Failed to list unmatched transactions", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*unmatched.Transaction{}
	}
	writeJSON(w, http.StatusOK, items)
}

// HandleSuggestions handles GET /api/unmatched/{id}/suggestions
func (h *UnmatchedHandler) HandleSuggestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	suggestions, err := h.service.Suggest(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		h.writeError(w, userID, err)
		return
	}
	if suggestions == nil {
		suggestions = []resolver.Suggestion{}
	}
	writeJSON(w, http.StatusOK, suggestions)
}

// HandleResolve handles POST /api/unmatched/{id}/resolve
func (h *UnmatchedHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req resolver.ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resolution, err := h.service.Resolve(r.Context(), userID, r.PathValue("id"), req)
	if err != nil {
		h.writeError(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, resolution)
}

// HandleIgnore handles POST /api/unmatched/{id}/ignore
func (h *UnmatchedHandler) HandleIgnore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.service.Ignore(r.Context(), userID, r.PathValue("id")); err != nil {
		h.writeError(w, userID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UnmatchedHandler) writeError(w http.ResponseWriter, userID int64, err error) {
	switch {
	case errors.Is(err, unmatched.ErrNotFound):
		http.Error(w, "Unmatched transaction not found", http.StatusNotFound)
	case errors.Is(err, unmatched.ErrInvalidAction):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, trade.ErrDuplicate):
		http.Error(w, "An identical trade already exists", http.StatusConflict)
	default:
		log.Printf("Error resolving unmatched transaction for user %d: %v", userID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
