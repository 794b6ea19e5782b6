package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pvallone/chatdesk/internal/bus"
	"github.com/pvallone/chatdesk/internal/delivery"
	"github.com/pvallone/chatdesk/internal/response"
	"github.com/pvallone/chatdesk/internal/send"
	"github.com/pvallone/chatdesk/internal/store"
	"github.com/pvallone/chatdesk/internal/window"
)

type inboundRequest struct {
	MessageID string `json:"messageId"`
	Contact   string `json:"contact"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"` // ISO-8601; empty = now
}

// inboundEvent ingests a contact's message: upsert the conversation,
// record the message, and advance the messaging window.
func (h *Handlers) inboundEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	at := time.Now()
	if req.CreatedAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.CreatedAt)
		if err != nil {
			badRequest(w, "createdAt must be RFC 3339")
			return
		}
		at = parsed
	}
	if req.MessageID == "" {
		req.MessageID = uuid.New().String()
	}

	conv := &store.Conversation{
		ID:            id,
		Contact:       req.Contact,
		Name:          req.Name,
		LastInboundAt: at.UnixMilli(),
	}
	if err := h.db.UpsertConversation(conv); err != nil {
		h.internalError(w, "upsert conversation", err)
		return
	}

	msg := &store.Message{
		ConversationID: id,
		MsgID:          req.MessageID,
		Direction:      store.DirectionInbound,
		Body:           req.Content,
		Status:         store.StatusDelivered,
		CreatedAt:      at.UnixMilli(),
	}
	if err := h.db.InsertMessage(msg); err != nil {
		h.internalError(w, "insert inbound message", err)
		return
	}
	h.bus.Emit(bus.KindMessageReceived, req.MessageID)

	writeOK(w, map[string]string{"messageId": req.MessageID})
}

// windowStatus derives the 24-hour window state for a conversation. The
// result is recomputed from the stored last inbound timestamp on every
// request, never cached.
func (h *Handlers) windowStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	conv, err := h.db.GetConversation(id)
	if err != nil {
		h.internalError(w, "load conversation", err)
		return
	}

	var lastInbound time.Time
	if conv != nil && conv.LastInboundAt > 0 {
		lastInbound = time.UnixMilli(conv.LastInboundAt)
	}
	writeOK(w, window.Compute(lastInbound, time.Now()))
}

// responseStatus derives the conversation's attention state from its
// full ordered history.
func (h *Handlers) responseStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	msgs, err := h.db.ConversationMessages(id)
	if err != nil {
		h.internalError(w, "load messages", err)
		return
	}

	turns := make([]response.Message, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, response.Message{
			Direction: response.Direction(m.Direction),
			At:        time.UnixMilli(m.CreatedAt),
		})
	}

	status := response.Classify(turns, time.Now(), h.inProgressWindow)
	writeOK(w, map[string]string{"status": string(status)})
}

type messageView struct {
	MessageID string            `json:"messageId"`
	Direction string            `json:"direction"`
	Body      string            `json:"body"`
	SentBy    string            `json:"sentBy,omitempty"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
	Error     *messageErrorView `json:"error,omitempty"`
}

type messageErrorView struct {
	Kind              string `json:"kind"`
	Message           string `json:"message"`
	CanRetry          bool   `json:"canRetry"`
	RequiresReconnect bool   `json:"requiresReconnect"`
}

// listMessages returns a keyset-paginated page of a conversation's
// history, newest first. The fetch generation guards against a stale
// refresh overwriting a newer one: callers echo the generation and drop
// responses that no longer match.
func (h *Handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	var beforeTs int64
	if s := r.URL.Query().Get("before"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			badRequest(w, "before must be a unix ms timestamp")
			return
		}
		beforeTs = n
	}

	generation := h.lifecycle.NextGeneration(id)
	msgs, err := h.db.ListMessages(id, beforeTs, limit)
	if err != nil {
		h.internalError(w, "list messages", err)
		return
	}

	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		v := messageView{
			MessageID: m.MsgID,
			Direction: m.Direction,
			Body:      m.Body,
			SentBy:    m.SentBy,
			Status:    m.Status,
			CreatedAt: time.UnixMilli(m.CreatedAt),
		}
		if m.Status == store.StatusFailed {
			v.Error = &messageErrorView{
				Kind:              m.ErrorKind,
				Message:           m.ErrorMessage,
				CanRetry:          m.ErrorCanRetry,
				RequiresReconnect: m.ErrorRequiresReconnect,
			}
		}
		views = append(views, v)
	}

	writeOK(w, map[string]any{
		"messages":   views,
		"generation": generation,
		"hasMore":    len(msgs) == limit,
	})
}

type sendRequest struct {
	Content string `json:"content"`
	SentBy  string `json:"sentBy"`
}

// sendMessage runs the dispatch path. Rejections for business reasons
// (expired session, failed provider call) come back in the envelope; a
// send racing an in-flight one gets 409.
func (h *Handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.Content == "" {
		badRequest(w, "content is required")
		return
	}
	if req.SentBy == "" {
		req.SentBy = store.SentByOperator
	}

	res, err := h.dispatcher.Send(r.Context(), id, req.Content, req.SentBy)
	if err == send.ErrSendInFlight {
		writeJSON(w, http.StatusConflict, envelope{OK: false})
		return
	}
	if err != nil {
		h.internalError(w, "send message", err)
		return
	}
	if !res.OK {
		writeJSON(w, http.StatusOK, envelope{OK: false, Error: res.Err, Data: map[string]string{"messageId": res.MessageID}})
		return
	}
	writeOK(w, map[string]string{"messageId": res.MessageID})
}

type receiptRequest struct {
	MessageID    string          `json:"messageId"`
	NewStatus    string          `json:"newStatus"`
	ErrorPayload json.RawMessage `json:"errorPayload,omitempty"`
}

// receipt applies a provider delivery receipt.
func (h *Handlers) receipt(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.MessageID == "" || req.NewStatus == "" {
		badRequest(w, "messageId and newStatus are required")
		return
	}

	rcpt := delivery.Receipt{
		MessageID: req.MessageID,
		NewStatus: req.NewStatus,
		At:        time.Now(),
	}
	if len(req.ErrorPayload) > 0 {
		rcpt.ErrorPayload = []byte(req.ErrorPayload)
	}
	if err := h.tracker.Apply(rcpt); err != nil {
		h.internalError(w, "apply receipt", err)
		return
	}
	writeOK(w, nil)
}
