// Package api exposes the engine over HTTP/JSON for the operator
// console. Expected business conditions (closed window, expired session,
// benign no-ops) are reported in the response envelope with status 200;
// HTTP error codes are reserved for malformed requests and infrastructure
// failures.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pvallone/chatdesk/internal/bus"
	"github.com/pvallone/chatdesk/internal/delivery"
	"github.com/pvallone/chatdesk/internal/errclass"
	"github.com/pvallone/chatdesk/internal/guard"
	"github.com/pvallone/chatdesk/internal/lifecycle"
	"github.com/pvallone/chatdesk/internal/send"
	"github.com/pvallone/chatdesk/internal/store"
	"go.uber.org/zap"
)

// Handlers bundles the engine components behind the HTTP surface.
type Handlers struct {
	db         *store.DB
	dispatcher *send.Dispatcher
	tracker    *delivery.Tracker
	guard      *guard.Guard
	lifecycle  *lifecycle.Manager
	bus        *bus.Bus
	logger     *zap.Logger

	inProgressWindow time.Duration
	startedAt        time.Time
}

// New creates the handler set.
func New(db *store.DB, d *send.Dispatcher, t *delivery.Tracker, g *guard.Guard, lm *lifecycle.Manager, b *bus.Bus, inProgressWindow time.Duration, logger *zap.Logger) *Handlers {
	return &Handlers{
		db:               db,
		dispatcher:       d,
		tracker:          t,
		guard:            g,
		lifecycle:        lm,
		bus:              b,
		logger:           logger,
		inProgressWindow: inProgressWindow,
		startedAt:        time.Now(),
	}
}

// Router builds the HTTP route table.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	r.HandleFunc("/conversations/{id}/inbound", h.inboundEvent).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/messages", h.sendMessage).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/messages", h.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/window", h.windowStatus).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/response-status", h.responseStatus).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/close", h.closeConversation).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/reopen", h.reopenConversation).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/participants", h.inviteParticipant).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/participants", h.listParticipants).Methods(http.MethodGet)
	r.HandleFunc("/participants/{id}/resolve", h.resolveParticipation).Methods(http.MethodPost)

	r.HandleFunc("/receipts", h.receipt).Methods(http.MethodPost)

	r.HandleFunc("/session", h.sessionStatus).Methods(http.MethodGet)
	r.HandleFunc("/session/reconnect", h.sessionReconnect).Methods(http.MethodPost)

	return r
}

// envelope is the uniform response body.
type envelope struct {
	OK    bool              `json:"ok"`
	Error *errclass.Details `json:"error,omitempty"`
	Data  any               `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: data})
}

func (h *Handlers) internalError(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error(op, zap.Error(err))
	}
	writeJSON(w, http.StatusInternalServerError, envelope{OK: false})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}
