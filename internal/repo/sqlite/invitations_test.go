package sqlite

import (
	"context"
	"testing"
	"time"

	"lair-chat/internal/model"
	"lair-chat/internal/repo"
)

func TestInvitationCreateAndFindPending(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	users := newUserRepo(s)
	rooms := NewRoomRepo(s)
	invitations := NewInvitationRepo(s)

	owner := mustCreateUser(t, users, "owner")
	bob := mustCreateUser(t, users, "bob")
	room, err := rooms.Create(ctx, model.Room{Name: "private-room", OwnerUserID: owner.ID})
	if err != nil {
		t.Fatalf("Create room: %v", err)
	}

	inv, err := invitations.Create(ctx, model.Invitation{
		RoomID: room.ID, InviterUserID: owner.ID, InviteeUserID: bob.ID,
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if inv.Status != model.InvitationPending {
		t.Fatalf("Status = %q, want pending", inv.Status)
	}

	got, err := invitations.FindPending(ctx, room.ID, bob.ID)
	if err != nil {
		t.Fatalf("FindPending: %v", err)
	}
	if got.ID != inv.ID {
		t.Fatalf("got %q, want %q", got.ID, inv.ID)
	}
}

func TestInvitationDuplicatePendingRejected(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	users := newUserRepo(s)
	rooms := NewRoomRepo(s)
	invitations := NewInvitationRepo(s)

	owner := mustCreateUser(t, users, "owner")
	bob := mustCreateUser(t, users, "bob")
	room, err := rooms.Create(ctx, model.Room{Name: "dup-room", OwnerUserID: owner.ID})
	if err != nil {
		t.Fatalf("Create room: %v", err)
	}

	if _, err := invitations.Create(ctx, model.Invitation{
		RoomID: room.ID, InviterUserID: owner.ID, InviteeUserID: bob.ID,
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("first Create: %v", err)
	}

	_, err = invitations.Create(ctx, model.Invitation{
		RoomID: room.ID, InviterUserID: owner.ID, InviteeUserID: bob.ID,
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != repo.ErrInvitationExists {
		t.Fatalf("err = %v, want ErrInvitationExists", err)
	}
}

func TestInvitationUpdateStatusSetsRespondedAt(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	users := newUserRepo(s)
	rooms := NewRoomRepo(s)
	invitations := NewInvitationRepo(s)

	owner := mustCreateUser(t, users, "owner")
	bob := mustCreateUser(t, users, "bob")
	room, err := rooms.Create(ctx, model.Room{Name: "accept-room", OwnerUserID: owner.ID})
	if err != nil {
		t.Fatalf("Create room: %v", err)
	}
	inv, err := invitations.Create(ctx, model.Invitation{
		RoomID: room.ID, InviterUserID: owner.ID, InviteeUserID: bob.ID,
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := invitations.UpdateStatus(ctx, inv.ID, model.InvitationAccepted); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, err := invitations.FindByID(ctx, inv.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Status != model.InvitationAccepted {
		t.Fatalf("Status = %q, want accepted", got.Status)
	}
	if got.RespondedAt == nil {
		t.Fatalf("expected RespondedAt to be set")
	}
}

func TestInvitationExpireOld(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	users := newUserRepo(s)
	rooms := NewRoomRepo(s)
	invitations := NewInvitationRepo(s)

	owner := mustCreateUser(t, users, "owner")
	bob := mustCreateUser(t, users, "bob")
	room, err := rooms.Create(ctx, model.Room{Name: "expire-room", OwnerUserID: owner.ID})
	if err != nil {
		t.Fatalf("Create room: %v", err)
	}
	if _, err := invitations.Create(ctx, model.Invitation{
		RoomID: room.ID, InviterUserID: owner.ID, InviteeUserID: bob.ID,
		ExpiresAt: time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, err := invitations.ExpireOld(ctx)
	if err != nil {
		t.Fatalf("ExpireOld: %v", err)
	}
	if n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}

	// A second sweep transitions nothing further.
	n, err = invitations.ExpireOld(ctx)
	if err != nil {
		t.Fatalf("ExpireOld second pass: %v", err)
	}
	if n != 0 {
		t.Fatalf("n = %d, want 0", n)
	}
}
