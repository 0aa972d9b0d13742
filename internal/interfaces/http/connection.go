package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"tradstry/internal/domain/account"
	"tradstry/internal/domain/connection"
)

// ConnectionService is the lifecycle surface the handler drives.
type ConnectionService interface {
	Initiate(ctx context.Context, userID int64, brokerageName string) (*connection.InitiateResult, error)
	PollStatus(ctx context.Context, userID int64, id string) (*connection.Connection, error)
	List(ctx context.Context, userID int64) ([]*connection.Connection, error)
	Get(ctx context.Context, userID int64, id string) (*connection.Connection, error)
	Delete(ctx context.Context, userID int64, id string) error
}

// SyncSubmitter queues a background sync of one connection. It returns
// false when the queue is full.
type SyncSubmitter interface {
	SubmitConnectionSync(userID int64, connectionID string) bool
}

// AccountLister returns the account snapshots of a connection.
type AccountLister interface {
	ListByConnection(ctx context.Context, connectionID string) ([]*account.Account, error)
}

type ConnectionHandler struct {
	connections ConnectionService
	syncs       SyncSubmitter
	accounts    AccountLister
}

func NewConnectionHandler(connections ConnectionService, syncs SyncSubmitter) *ConnectionHandler {
	return &ConnectionHandler{connections: connections, syncs: syncs}
}

// WithAccounts enables HandleAccounts.
func (h *ConnectionHandler) WithAccounts(accounts AccountLister) *ConnectionHandler {
	h.accounts = accounts
	return h
}

type InitiateConnectionRequest struct {
	Brokerage string `json:"brokerage"`
}

// HandleConnections handles GET (list) and POST (initiate) on /api/connections
func (h *ConnectionHandler) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		conns, err := h.connections.List(r.Context(), userID)
		if err != nil {
			log.Printf("Error listing connections for user %d: %v", userID, err)
			http.Error(w, "Failed to list connections", http.StatusInternalServerError)
			return
		}
		if conns == nil {
			conns = []*connection.Connection{}
		}
		writeJSON(w, http.StatusOK, conns)

	case http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		var req InitiateConnectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		result, err := h.connections.Initiate(r.Context(), userID, req.Brokerage)
		if err != nil {
			if errors.Is(err, connection.ErrInvalidBrokerage) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			log.Printf("Error initiating connection for user %d: %v", userID, err)
			http.Error(w, "Failed to initiate connection", http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusCreated, result)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleConnectionByID handles GET and DELETE on /api/connections/{id}
func (h *ConnectionHandler) HandleConnectionByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	switch r.Method {
	case http.MethodGet:
		conn, err := h.connections.Get(r.Context(), userID, id)
		if err != nil {
			h.writeError(w, userID, id, err)
			return
		}
		writeJSON(w, http.StatusOK, conn)

	case http.MethodDelete:
		if err := h.connections.Delete(r.Context(), userID, id); err != nil {
			h.writeError(w, userID, id, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleStatus handles GET /api/connections/{id}/status
func (h *ConnectionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	conn, err := h.connections.PollStatus(r.Context(), userID, id)
	if err != nil {
		h.writeError(w, userID, id, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

// HandleSync handles POST /api/connections/{id}/sync. The sync runs in the
// background; the response only acknowledges it.
func (h *ConnectionHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	conn, err := h.connections.Get(r.Context(), userID, id)
	if err != nil {
		h.writeError(w, userID, id, err)
		return
	}
	if !conn.Ready() {
		http.Error(w, connection.ErrConnectionNotReady.Error(), http.StatusConflict)
		return
	}

	if !h.syncs.SubmitConnectionSync(userID, conn.ID) {
		http.Error(w, "Sync queue is full, try again later", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "connectionId": conn.ID})
}

// HandleAccounts handles GET /api/connections/{id}/accounts
func (h *ConnectionHandler) HandleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if h.accounts == nil {
		http.NotFound(w, r)
		return
	}
	id := r.PathValue("id")

	// Ownership check; account rows carry no user id.
	if _, err := h.connections.Get(r.Context(), userID, id); err != nil {
		h.writeError(w, userID, id, err)
		return
	}

	accounts, err := h.accounts.ListByConnection(r.Context(), id)
	if err != nil {
		h.writeError(w, userID, id, err)
		return
	}
	if accounts == nil {
		accounts = []*account.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *ConnectionHandler) writeError(w http.ResponseWriter, userID int64, id string, err error) {
	switch {
	case errors.Is(err, connection.ErrConnectionNotFound):
		http.Error(w, "Connection not found", http.StatusNotFound)
	case errors.Is(err, connection.ErrConnectionNotReady):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Printf("Error handling connection %s for user %d: %v", id, userID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
