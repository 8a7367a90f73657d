package gateway

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/turflads/crazy-bids-sub000/go/internal/store"
)

// StateHandler serves the documents over plain HTTP. Clients that cannot
// hold a WebSocket open (or lost one) poll GET and write through POST.
type StateHandler struct {
	connectionManager *ConnectionManager
	store             Store
	clock             clockwork.Clock
}

// NewStateHandler creates a new state handler.
func NewStateHandler(cm *ConnectionManager, st Store, clock clockwork.Clock) *StateHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StateHandler{
		connectionManager: cm,
		store:             st,
		clock:             clock,
	}
}

// HandleAuctionState handles GET/POST /api/auction-state.
func (h *StateHandler) HandleAuctionState(w http.ResponseWriter, r *http.Request) {
	h.handleState(w, r, store.KindAuction)
}

// HandleTeamState handles GET/POST /api/team-state.
func (h *StateHandler) HandleTeamState(w http.ResponseWriter, r *http.Request) {
	h.handleState(w, r, store.KindTeams)
}

func (h *StateHandler) handleState(w http.ResponseWriter, r *http.Request, kind store.Kind) {
	switch r.Method {
	case http.MethodGet:
		h.getState(w, r, kind)
	case http.MethodPost:
		h.postState(w, r, kind)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// getState returns the current document, or an empty object when nothing
// has been written yet so pollers always get valid JSON.
func (h *StateHandler) getState(w http.ResponseWriter, r *http.Request, kind store.Kind) {
	doc, err := h.store.Get(r.Context(), kind)
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("failed to load document")
		http.Error(w, "Failed to load state", http.StatusInternalServerError)
		return
	}
	if doc == nil {
		doc = json.RawMessage("{}")
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(doc); err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("failed to write state response")
	}
}

// postState replaces the document and broadcasts the new state to every
// WebSocket client. The REST writer has no connection to exclude.
func (h *StateHandler) postState(w http.ResponseWriter, r *http.Request, kind store.Kind) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "Body must be valid JSON", http.StatusBadRequest)
		return
	}

	msg := Message{
		Type:      MessageTypeForKind(kind),
		Timestamp: h.clock.Now(),
		Data:      body,
	}
	if err := h.connectionManager.ApplyDocument(r.Context(), kind, msg, nil); err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("failed to apply REST document update")
		http.Error(w, "Failed to store state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// RegisterStateRoutes registers state-related HTTP routes.
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auction-state", h.HandleAuctionState)
	mux.HandleFunc("/api/team-state", h.HandleTeamState)
}
