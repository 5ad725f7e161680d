package sqlite

import (
	"context"
	"testing"
	"time"

	"lair-chat/internal/model"
	"lair-chat/internal/repo"
)

func TestSessionCreateAndGetByToken(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	users := newUserRepo(s)
	sessions := NewSessionRepo(s)

	u := mustCreateUser(t, users, "alice")
	sess, err := sessions.Create(ctx, model.Session{
		UserID: u.ID, Token: "tok-123", ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := sessions.Get(ctx, "tok-123")
	if err != nil {
		t.Fatalf("Get by token: %v", err)
	}
	if got.ID != sess.ID {
		t.Fatalf("got %q, want %q", got.ID, sess.ID)
	}

	gotByID, err := sessions.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get by id: %v", err)
	}
	if gotByID.Token != "tok-123" {
		t.Fatalf("Token = %q", gotByID.Token)
	}
}

func TestSessionDeactivateIsIrreversible(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	users := newUserRepo(s)
	sessions := NewSessionRepo(s)

	u := mustCreateUser(t, users, "bob")
	sess, err := sessions.Create(ctx, model.Session{UserID: u.ID, Token: "tok-456", ExpiresAt: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := sessions.Deactivate(ctx, sess.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if err := sessions.Deactivate(ctx, sess.ID); err != repo.ErrNotFound {
		t.Fatalf("second Deactivate err = %v, want ErrNotFound (already inactive)", err)
	}
}

func TestSessionDeactivateUserSessionsExcept(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	users := newUserRepo(s)
	sessions := NewSessionRepo(s)

	u := mustCreateUser(t, users, "carol")
	keep, err := sessions.Create(ctx, model.Session{UserID: u.ID, Token: "keep", ExpiresAt: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("Create keep: %v", err)
	}
	if _, err := sessions.Create(ctx, model.Session{UserID: u.ID, Token: "drop", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Create drop: %v", err)
	}

	if err := sessions.DeactivateUserSessionsExcept(ctx, u.ID, keep.ID); err != nil {
		t.Fatalf("DeactivateUserSessionsExcept: %v", err)
	}

	active, err := sessions.ListActiveForUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListActiveForUser: %v", err)
	}
	if len(active) != 1 || active[0].ID != keep.ID {
		t.Fatalf("active = %+v, want only %q", active, keep.ID)
	}
}

func TestSessionExpireOld(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	users := newUserRepo(s)
	sessions := NewSessionRepo(s)

	u := mustCreateUser(t, users, "dave")
	if _, err := sessions.Create(ctx, model.Session{UserID: u.ID, Token: "expired", ExpiresAt: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, err := sessions.ExpireOld(ctx)
	if err != nil {
		t.Fatalf("ExpireOld: %v", err)
	}
	if n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}

	active, err := sessions.ListActiveForUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListActiveForUser: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active sessions after expiry, got %d", len(active))
	}
}

func TestSessionStatistics(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	users := newUserRepo(s)
	sessions := NewSessionRepo(s)

	u := mustCreateUser(t, users, "erin")
	if _, err := sessions.Create(ctx, model.Session{UserID: u.ID, Token: "a", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	sess2, err := sessions.Create(ctx, model.Session{UserID: u.ID, Token: "b", ExpiresAt: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := sessions.Deactivate(ctx, sess2.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	stats, err := sessions.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.TotalCount != 2 || stats.ActiveCount != 1 {
		t.Fatalf("stats = %+v, want total=2 active=1", stats)
	}
}
