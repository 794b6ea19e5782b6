package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pvallone/chatdesk/internal/guard"
)

type closeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) closeConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req closeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
	}

	res, err := h.lifecycle.Close(id, req.Reason)
	if err != nil {
		h.internalError(w, "close conversation", err)
		return
	}
	writeOK(w, res)
}

func (h *Handlers) reopenConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	res, err := h.lifecycle.Reopen(id)
	if err != nil {
		h.internalError(w, "reopen conversation", err)
		return
	}
	writeOK(w, res)
}

type inviteRequest struct {
	OperatorID string `json:"operatorId"`
	InvitedBy  string `json:"invitedBy"`
	Priority   int    `json:"priority"`
}

func (h *Handlers) inviteParticipant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.OperatorID == "" {
		badRequest(w, "operatorId is required")
		return
	}

	inv, err := h.lifecycle.Invite(id, req.OperatorID, req.InvitedBy, req.Priority)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	writeOK(w, map[string]string{"invitationId": inv.ID})
}

type participantView struct {
	InvitationID string    `json:"invitationId"`
	OperatorID   string    `json:"operatorId"`
	InvitedBy    string    `json:"invitedBy,omitempty"`
	Priority     int       `json:"priority"`
	InvitedAt    time.Time `json:"invitedAt"`
}

// listParticipants returns the conversation's unresolved invitations,
// highest priority first.
func (h *Handlers) listParticipants(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	invs, err := h.db.ActiveParticipants(id)
	if err != nil {
		h.internalError(w, "list participants", err)
		return
	}

	views := make([]participantView, 0, len(invs))
	for _, inv := range invs {
		views = append(views, participantView{
			InvitationID: inv.ID,
			OperatorID:   inv.OperatorID,
			InvitedBy:    inv.InvitedBy,
			Priority:     inv.Priority,
			InvitedAt:    time.UnixMilli(inv.InvitedAt),
		})
	}
	writeOK(w, map[string]any{"participants": views})
}

func (h *Handlers) resolveParticipation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	res, err := h.lifecycle.Resolve(id)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	writeOK(w, res)
}

func (h *Handlers) sessionStatus(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]string{"state": string(h.guard.Current())})
}

func (h *Handlers) sessionReconnect(w http.ResponseWriter, r *http.Request) {
	state, err := h.guard.Reconnect(r.Context())
	if err != nil {
		h.internalError(w, "session reconnect", err)
		return
	}
	writeOK(w, map[string]any{
		"state":       string(state),
		"reconnected": state == guard.Valid,
	})
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	convs, err := h.db.ConversationCount()
	if err != nil {
		h.internalError(w, "health check", err)
		return
	}
	msgs, _ := h.db.MessageCount()
	writeOK(w, map[string]any{
		"uptimeMs":      time.Since(h.startedAt).Milliseconds(),
		"conversations": convs,
		"messages":      msgs,
		"session":       string(h.guard.Current()),
	})
}
