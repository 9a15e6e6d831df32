package store

import (
	"errors"
	"testing"
	"time"
)

func TestCreateAndGetSession(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UnixMilli()

	sess, err := s.CreateSession("ns-a", "tag-1", "meta", nil, now)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.ID == "" || sess.Namespace != "ns-a" || sess.Tag != "tag-1" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if sess.MetadataVersion != 1 {
		t.Fatalf("expected metadata version 1, got %d", sess.MetadataVersion)
	}
	if sess.AgentStateVersion != 0 {
		t.Fatalf("expected agent state version 0, got %d", sess.AgentStateVersion)
	}

	got, ok, err := s.GetSession(sess.ID, "ns-a")
	if err != nil || !ok {
		t.Fatalf("GetSession: ok=%v err=%v", ok, err)
	}
	if got.ID != sess.ID || got.Metadata != "meta" {
		t.Fatalf("unexpected session: %+v", got)
	}

	byTag, ok, err := s.GetSessionByTag("ns-a", "tag-1")
	if err != nil || !ok {
		t.Fatalf("GetSessionByTag: ok=%v err=%v", ok, err)
	}
	if byTag.ID != sess.ID {
		t.Fatalf("tag lookup returned %q, want %q", byTag.ID, sess.ID)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UnixMilli()

	if _, err := s.CreateSession("", "tag", "", nil, now); !errors.Is(err, ErrInvalidNamespace) {
		t.Fatalf("expected ErrInvalidNamespace, got %v", err)
	}
	if _, err := s.CreateSession("   ", "tag", "", nil, now); !errors.Is(err, ErrInvalidNamespace) {
		t.Fatalf("expected ErrInvalidNamespace for whitespace, got %v", err)
	}
	if _, err := s.CreateSession("ns-a", "", "", nil, now); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestCreateSessionDuplicateTag(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UnixMilli()

	if _, err := s.CreateSession("ns-a", "tag-1", "", nil, now); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := s.CreateSession("ns-a", "tag-1", "", nil, now); !errors.Is(err, ErrDuplicateTag) {
		t.Fatalf("expected ErrDuplicateTag, got %v", err)
	}
	// Same tag under a different namespace is a different session.
	if _, err := s.CreateSession("ns-b", "tag-1", "", nil, now); err != nil {
		t.Fatalf("CreateSession(ns-b): %v", err)
	}
}

func TestSessionNamespaceIsolation(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UnixMilli()

	sess, err := s.CreateSession("ns-a", "tag-1", "meta", nil, now)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Reads from another namespace see nothing; absent and foreign rows are
	// indistinguishable.
	if _, ok, err := s.GetSession(sess.ID, "ns-b"); err != nil || ok {
		t.Fatalf("foreign GetSession: ok=%v err=%v", ok, err)
	}
	list, err := s.GetSessions("ns-b")
	if err != nil {
		t.Fatalf("GetSessions: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("foreign namespace sees %d sessions", len(list))
	}

	// Foreign writes silently hit zero rows.
	sess.Metadata = "hijacked"
	if ok, err := s.UpdateSession("ns-b", sess); err != nil || ok {
		t.Fatalf("foreign UpdateSession: ok=%v err=%v", ok, err)
	}
	if ok, err := s.DeleteSession(sess.ID, "ns-b"); err != nil || ok {
		t.Fatalf("foreign DeleteSession: ok=%v err=%v", ok, err)
	}

	got, ok, err := s.GetSession(sess.ID, "ns-a")
	if err != nil || !ok {
		t.Fatalf("owner GetSession: ok=%v err=%v", ok, err)
	}
	if got.Metadata != "meta" {
		t.Fatalf("foreign write leaked: %q", got.Metadata)
	}
}

func TestUpdateSessionPersistsFields(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UnixMilli()

	sess, err := s.CreateSession("ns-a", "tag-1", "", nil, now)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	state := `{"status":"thinking"}`
	todos := `[{"id":1}]`
	machineID := "mach-1"
	sess.Metadata = "updated"
	sess.MetadataVersion = 1
	sess.AgentState = &state
	sess.AgentStateVersion = 1
	sess.Todos = &todos
	sess.TodosUpdatedAt = now + 1
	sess.MachineID = &machineID
	sess.Active = true
	sess.ActiveAt = now + 2
	sess.UpdatedAt = now + 2

	ok, err := s.UpdateSession("ns-a", sess)
	if err != nil || !ok {
		t.Fatalf("UpdateSession: ok=%v err=%v", ok, err)
	}

	got, ok, err := s.GetSession(sess.ID, "ns-a")
	if err != nil || !ok {
		t.Fatalf("GetSession: ok=%v err=%v", ok, err)
	}
	if got.Metadata != "updated" || got.MetadataVersion != 1 {
		t.Fatalf("metadata not persisted: %+v", got)
	}
	if got.AgentState == nil || *got.AgentState != state {
		t.Fatalf("agent state not persisted: %+v", got.AgentState)
	}
	if got.Todos == nil || *got.Todos != todos || got.TodosUpdatedAt != now+1 {
		t.Fatalf("todos not persisted: %+v", got)
	}
	if got.MachineID == nil || *got.MachineID != machineID {
		t.Fatalf("machine id not persisted: %+v", got.MachineID)
	}
	if !got.Active || got.ActiveAt != now+2 {
		t.Fatalf("active flags not persisted: %+v", got)
	}
}

func TestGetSessionsOrderedByUpdatedAt(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UnixMilli()

	older, err := s.CreateSession("ns-a", "tag-old", "", nil, base)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	newer, err := s.CreateSession("ns-a", "tag-new", "", nil, base+10)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	list, err := s.GetSessions("ns-a")
	if err != nil {
		t.Fatalf("GetSessions: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].ID != newer.ID || list[1].ID != older.ID {
		t.Fatalf("wrong order: %q, %q", list[0].Tag, list[1].Tag)
	}
}

func TestDeleteSessionCascadesMessages(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UnixMilli()

	sess, err := s.CreateSession("ns-a", "tag-1", "", nil, now)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := s.CreateMessage(sess.ID, "hello", "ns-a", now); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	ok, err := s.DeleteSession(sess.ID, "ns-a")
	if err != nil || !ok {
		t.Fatalf("DeleteSession: ok=%v err=%v", ok, err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sess.ID).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected cascade delete, %d messages remain", count)
	}
}
