package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUpsertConversationIdempotent(t *testing.T) {
	db := testDB(t)

	c := &Conversation{ID: "c1", Contact: "+5511999", Name: "Ana", LastInboundAt: 1000}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}

	n, err := db.ConversationCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("got %d conversations, want 1", n)
	}
}

func TestLastInboundNeverShrinks(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ID: "c1", Contact: "x", LastInboundAt: 5000}); err != nil {
		t.Fatal(err)
	}
	// Replay of an older event must not move the window back.
	if err := db.UpsertConversation(&Conversation{ID: "c1", Contact: "x", LastInboundAt: 1000}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastInboundAt != 5000 {
		t.Errorf("LastInboundAt = %d, want 5000", c.LastInboundAt)
	}

	if err := db.TouchLastInbound("c1", 2000); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetConversation("c1")
	if c.LastInboundAt != 5000 {
		t.Errorf("after stale touch: LastInboundAt = %d, want 5000", c.LastInboundAt)
	}

	if err := db.TouchLastInbound("c1", 9000); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetConversation("c1")
	if c.LastInboundAt != 9000 {
		t.Errorf("after newer touch: LastInboundAt = %d, want 9000", c.LastInboundAt)
	}
}

func TestGetConversationMissing(t *testing.T) {
	db := testDB(t)
	c, err := db.GetConversation("nope")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("got %+v, want nil for unknown conversation", c)
	}
}

func TestInsertMessageIdempotent(t *testing.T) {
	db := testDB(t)
	mustConversation(t, db, "c1")

	m := &Message{ConversationID: "c1", MsgID: "m1", Direction: DirectionInbound, Body: "v1", Status: StatusDelivered, CreatedAt: 1000}
	if err := db.InsertMessage(m); err != nil {
		t.Fatal(err)
	}
	m.Body = "v2"
	if err := db.InsertMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ConversationMessages("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent)", len(msgs))
	}
	if msgs[0].Body != "v2" {
		t.Errorf("body = %q, want v2", msgs[0].Body)
	}
}

func TestListMessagesKeysetPagination(t *testing.T) {
	db := testDB(t)
	mustConversation(t, db, "c1")

	for i, ts := range []int64{1000, 2000, 3000, 4000} {
		m := &Message{ConversationID: "c1", MsgID: msgID(i), Direction: DirectionInbound, Status: StatusDelivered, CreatedAt: ts}
		if err := db.InsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	page, err := db.ListMessages("c1", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].CreatedAt != 4000 || page[1].CreatedAt != 3000 {
		t.Fatalf("first page = %+v, want ts 4000,3000", page)
	}

	next, err := db.ListMessages("c1", page[1].CreatedAt, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(next) != 2 || next[0].CreatedAt != 2000 || next[1].CreatedAt != 1000 {
		t.Fatalf("second page = %+v, want ts 2000,1000", next)
	}
}

func TestMarkMessageFailedStoresErrorColumns(t *testing.T) {
	db := testDB(t)
	mustConversation(t, db, "c1")

	m := &Message{ConversationID: "c1", MsgID: "m1", Direction: DirectionOutbound, Status: StatusQueued, CreatedAt: 1000}
	if err := db.InsertMessage(m); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkMessageFailed("m1", "rate_limit", "slow down", true, false); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetMessageByMsgID("m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.ErrorKind != "rate_limit" || !got.ErrorCanRetry || got.ErrorRequiresReconnect {
		t.Errorf("error columns = %+v, want rate_limit/retryable", got)
	}
}

func TestClosureLifecycle(t *testing.T) {
	db := testDB(t)
	mustConversation(t, db, "c1")

	active, err := db.ActiveClosure("c1")
	if err != nil {
		t.Fatal(err)
	}
	if active != nil {
		t.Fatalf("active closure on fresh conversation: %+v", active)
	}

	cl, err := db.InsertClosure("c1", "resolved by agent")
	if err != nil {
		t.Fatal(err)
	}

	active, _ = db.ActiveClosure("c1")
	if active == nil || active.ID != cl.ID {
		t.Fatalf("ActiveClosure = %+v, want id %d", active, cl.ID)
	}

	if err := db.MarkReopened(cl.ID); err != nil {
		t.Fatal(err)
	}
	active, _ = db.ActiveClosure("c1")
	if active != nil {
		t.Errorf("still active after reopen: %+v", active)
	}

	// The closure history keeps the reopened record.
	history, err := db.ListClosures("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].ReopenedAt == 0 {
		t.Errorf("history = %+v, want one reopened record", history)
	}
}

func TestInvitationResolution(t *testing.T) {
	db := testDB(t)
	mustConversation(t, db, "c1")

	inv := &Invitation{ID: "i1", ConversationID: "c1", OperatorID: "op7", InvitedBy: "op1", Priority: 3}
	if err := db.InsertInvitation(inv); err != nil {
		t.Fatal(err)
	}

	active, err := db.ActiveParticipants("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].OperatorID != "op7" {
		t.Fatalf("active = %+v, want op7", active)
	}

	if err := db.MarkInvitationResolved("i1"); err != nil {
		t.Fatal(err)
	}
	active, _ = db.ActiveParticipants("c1")
	if len(active) != 0 {
		t.Errorf("got %d active participants after resolve, want 0", len(active))
	}

	// Record persists for audit.
	got, err := db.GetInvitation("i1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ResolvedAt == 0 {
		t.Errorf("invitation = %+v, want resolved record kept", got)
	}
}

func TestActiveParticipantsPriorityOrder(t *testing.T) {
	db := testDB(t)
	mustConversation(t, db, "c1")

	for _, inv := range []*Invitation{
		{ID: "low", ConversationID: "c1", OperatorID: "a", Priority: 1, InvitedAt: 100},
		{ID: "high", ConversationID: "c1", OperatorID: "b", Priority: 5, InvitedAt: 200},
	} {
		if err := db.InsertInvitation(inv); err != nil {
			t.Fatal(err)
		}
	}

	active, err := db.ActiveParticipants("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 || active[0].ID != "high" {
		t.Errorf("order = %+v, want highest priority first", active)
	}
}

func mustConversation(t *testing.T, db *DB, id string) {
	t.Helper()
	if err := db.UpsertConversation(&Conversation{ID: id, Contact: "contact"}); err != nil {
		t.Fatal(err)
	}
}

func msgID(i int) string {
	return string(rune('a' + i))
}
