package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/pvallone/chatdesk/internal/bus"
	"github.com/pvallone/chatdesk/internal/delivery"
	"github.com/pvallone/chatdesk/internal/guard"
	"github.com/pvallone/chatdesk/internal/lifecycle"
	"github.com/pvallone/chatdesk/internal/send"
	"github.com/pvallone/chatdesk/internal/store"
)

type stubProvider struct {
	err   error
	calls int
}

func (s *stubProvider) SendText(_ context.Context, _, _ string) error {
	s.calls++
	return s.err
}

type stubProber struct{ valid bool }

func (s *stubProber) Probe(context.Context) (bool, error) { return s.valid, nil }

type fixture struct {
	srv      *httptest.Server
	db       *store.DB
	guard    *guard.Guard
	provider *stubProvider
	prober   *stubProber
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	prober := &stubProber{valid: true}
	g := guard.New(prober, b, nil, time.Hour, time.Second)
	lm := lifecycle.NewManager(db, b, nil)
	provider := &stubProvider{}
	d := send.NewDispatcher(db, provider, g, lm, b, nil, time.Second)
	tr := delivery.NewTracker(db, b, nil)

	h := New(db, d, tr, g, lm, b, 10*time.Minute, nil)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, db: db, guard: g, provider: provider, prober: prober}
}

func (f *fixture) post(t *testing.T, path string, body any) (*http.Response, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := http.Post(f.srv.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	return resp, decodeEnvelope(t, resp)
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, envelope) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	return resp, decodeEnvelope(t, resp)
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func (f *fixture) inbound(t *testing.T, conv, msgID, at string) {
	t.Helper()
	resp, env := f.post(t, "/conversations/"+conv+"/inbound", map[string]string{
		"messageId": msgID,
		"contact":   "+5511999",
		"content":   "hi",
		"createdAt": at,
	})
	if resp.StatusCode != http.StatusOK || !env.OK {
		t.Fatalf("inbound event failed: status %d, env %+v", resp.StatusCode, env)
	}
}

func TestInboundOpensWindow(t *testing.T) {
	f := newFixture(t)
	f.inbound(t, "c1", "m1", time.Now().Format(time.RFC3339))

	_, env := f.get(t, "/conversations/c1/window")
	if !env.OK {
		t.Fatalf("window query failed: %+v", env)
	}
	data := env.Data.(map[string]any)
	if data["isOpen"] != true {
		t.Errorf("isOpen = %v, want true after fresh inbound", data["isOpen"])
	}
}

func TestWindowClosedWithoutInbound(t *testing.T) {
	f := newFixture(t)

	_, env := f.get(t, "/conversations/unknown/window")
	if !env.OK {
		t.Fatalf("window query failed: %+v", env)
	}
	data := env.Data.(map[string]any)
	if data["isOpen"] != false {
		t.Errorf("isOpen = %v, want false for unknown conversation", data["isOpen"])
	}
}

func TestWindowClosedAfterOldInbound(t *testing.T) {
	f := newFixture(t)
	old := time.Now().Add(-25 * time.Hour).Format(time.RFC3339)
	f.inbound(t, "c1", "m1", old)

	_, env := f.get(t, "/conversations/c1/window")
	data := env.Data.(map[string]any)
	if data["isOpen"] != false {
		t.Errorf("isOpen = %v, want false 25h after inbound", data["isOpen"])
	}
}

func TestResponseStatusFlow(t *testing.T) {
	f := newFixture(t)

	// No inbound ever: never.
	_, env := f.get(t, "/conversations/c1/response-status")
	if status := env.Data.(map[string]any)["status"]; status != "never" {
		t.Errorf("status = %v, want never for empty history", status)
	}

	// Back-date the inbound so the outbound below cannot tie its timestamp.
	f.inbound(t, "c1", "m1", time.Now().Add(-time.Minute).Format(time.RFC3339))
	_, env = f.get(t, "/conversations/c1/response-status")
	if status := env.Data.(map[string]any)["status"]; status != "replied" {
		t.Errorf("status = %v, want replied after inbound", status)
	}

	// Agent replies: recent outbound means in_progress.
	resp, sendEnv := f.post(t, "/conversations/c1/messages", map[string]string{"content": "hello"})
	if resp.StatusCode != http.StatusOK || !sendEnv.OK {
		t.Fatalf("send failed: %d %+v", resp.StatusCode, sendEnv)
	}
	_, env = f.get(t, "/conversations/c1/response-status")
	if status := env.Data.(map[string]any)["status"]; status != "in_progress" {
		t.Errorf("status = %v, want in_progress right after outbound", status)
	}
}

func TestSendAndHistory(t *testing.T) {
	f := newFixture(t)
	f.inbound(t, "c1", "m1", time.Now().Format(time.RFC3339))

	_, sendEnv := f.post(t, "/conversations/c1/messages", map[string]string{"content": "hello"})
	if !sendEnv.OK {
		t.Fatalf("send failed: %+v", sendEnv)
	}

	_, env := f.get(t, "/conversations/c1/messages")
	data := env.Data.(map[string]any)
	msgs := data["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("history length = %d, want 2", len(msgs))
	}
	newest := msgs[0].(map[string]any)
	if newest["direction"] != "outbound" || newest["status"] != "sent" {
		t.Errorf("newest = %+v, want outbound/sent", newest)
	}
	if data["generation"] == nil {
		t.Error("generation missing from history response")
	}
}

func TestSendFailureEnvelope(t *testing.T) {
	f := newFixture(t)
	f.inbound(t, "c1", "m1", time.Now().Format(time.RFC3339))
	f.provider.err = errors.New("470 window expired")

	resp, env := f.post(t, "/conversations/c1/messages", map[string]string{"content": "late"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 for business failure", resp.StatusCode)
	}
	if env.OK || env.Error == nil {
		t.Fatalf("envelope = %+v, want classified error", env)
	}
	if string(env.Error.Kind) != "window_expired" {
		t.Errorf("kind = %s, want window_expired", env.Error.Kind)
	}
}

func TestSendBlockedWhileSessionExpired(t *testing.T) {
	f := newFixture(t)
	f.inbound(t, "c1", "m1", time.Now().Format(time.RFC3339))
	f.guard.Invalidate()

	before := f.provider.calls
	_, env := f.post(t, "/conversations/c1/messages", map[string]string{"content": "nope"})
	if env.OK || env.Error == nil || string(env.Error.Kind) != "session_expired" {
		t.Fatalf("envelope = %+v, want session_expired", env)
	}
	if f.provider.calls != before {
		t.Error("provider was called while session expired")
	}

	// Explicit reconnect restores sending.
	_, reconnect := f.post(t, "/session/reconnect", nil)
	if !reconnect.OK {
		t.Fatalf("reconnect failed: %+v", reconnect)
	}
	_, env = f.post(t, "/conversations/c1/messages", map[string]string{"content": "works"})
	if !env.OK {
		t.Errorf("send after reconnect failed: %+v", env)
	}
}

func TestReceiptLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.inbound(t, "c1", "m1", time.Now().Format(time.RFC3339))

	_, sendEnv := f.post(t, "/conversations/c1/messages", map[string]string{"content": "hello"})
	msgID := sendEnv.Data.(map[string]any)["messageId"].(string)

	for _, status := range []string{"delivered", "read"} {
		resp, env := f.post(t, "/receipts", map[string]string{"messageId": msgID, "newStatus": status})
		if resp.StatusCode != http.StatusOK || !env.OK {
			t.Fatalf("receipt %s failed: %d %+v", status, resp.StatusCode, env)
		}
	}

	msg, err := f.db.GetMessageByMsgID(msgID)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != store.StatusRead {
		t.Errorf("status = %q, want read", msg.Status)
	}
}

func TestReceiptWithErrorPayload(t *testing.T) {
	f := newFixture(t)
	f.inbound(t, "c1", "m1", time.Now().Format(time.RFC3339))

	_, sendEnv := f.post(t, "/conversations/c1/messages", map[string]string{"content": "hello"})
	msgID := sendEnv.Data.(map[string]any)["messageId"].(string)

	_, env := f.post(t, "/receipts", map[string]any{
		"messageId":    msgID,
		"newStatus":    "failed",
		"errorPayload": map[string]any{"code": 429, "message": "rate limit exceeded"},
	})
	if !env.OK {
		t.Fatalf("receipt failed: %+v", env)
	}

	msg, _ := f.db.GetMessageByMsgID(msgID)
	if msg.Status != store.StatusFailed || msg.ErrorKind != "rate_limit" {
		t.Errorf("message = %+v, want failed/rate_limit", msg)
	}
}

func TestCloseReopenOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.inbound(t, "c1", "m1", time.Now().Format(time.RFC3339))

	_, env := f.post(t, "/conversations/c1/close", map[string]string{"reason": "done"})
	if !env.OK || env.Data.(map[string]any)["closed"] != true {
		t.Fatalf("close = %+v, want closed", env)
	}

	// Second close: benign no-op.
	_, env = f.post(t, "/conversations/c1/close", map[string]string{"reason": "again"})
	if !env.OK || env.Data.(map[string]any)["alreadyClosed"] != true {
		t.Fatalf("second close = %+v, want alreadyClosed", env)
	}

	_, env = f.post(t, "/conversations/c1/reopen", nil)
	if !env.OK || env.Data.(map[string]any)["reopened"] != true {
		t.Fatalf("reopen = %+v, want reopened", env)
	}

	// Reopen of an active conversation: benign no-op, not an error.
	resp, env := f.post(t, "/conversations/c1/reopen", nil)
	if resp.StatusCode != http.StatusOK || !env.OK || env.Data.(map[string]any)["alreadyActive"] != true {
		t.Fatalf("second reopen = %d %+v, want alreadyActive", resp.StatusCode, env)
	}
}

func TestParticipantsOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.inbound(t, "c1", "m1", time.Now().Format(time.RFC3339))

	_, env := f.post(t, "/conversations/c1/participants", map[string]any{
		"operatorId": "op7", "invitedBy": "op1", "priority": 3,
	})
	if !env.OK {
		t.Fatalf("invite failed: %+v", env)
	}
	invID := env.Data.(map[string]any)["invitationId"].(string)

	_, env = f.get(t, "/conversations/c1/participants")
	parts := env.Data.(map[string]any)["participants"].([]any)
	if len(parts) != 1 || parts[0].(map[string]any)["operatorId"] != "op7" {
		t.Fatalf("participants = %+v, want op7", parts)
	}

	_, env = f.post(t, fmt.Sprintf("/participants/%s/resolve", invID), nil)
	if !env.OK || env.Data.(map[string]any)["resolved"] != true {
		t.Fatalf("resolve = %+v, want resolved", env)
	}

	// Resolution removes the operator from the active list but keeps the
	// invitation record.
	_, env = f.get(t, "/conversations/c1/participants")
	if parts := env.Data.(map[string]any)["participants"].([]any); len(parts) != 0 {
		t.Errorf("participants after resolve = %+v, want empty", parts)
	}
}

func TestInvalidPriorityRejected(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.post(t, "/conversations/c1/participants", map[string]any{
		"operatorId": "op7", "priority": 9,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for out-of-range priority", resp.StatusCode)
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.srv.URL+"/conversations/c1/messages", "application/json",
		bytes.NewBufferString("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, env := f.get(t, "/healthz")
	if resp.StatusCode != http.StatusOK || !env.OK {
		t.Fatalf("health = %d %+v", resp.StatusCode, env)
	}
	if env.Data.(map[string]any)["session"] != "VALID" {
		t.Errorf("session = %v, want VALID", env.Data.(map[string]any)["session"])
	}
}
