package sqlite

import (
	"context"
	"testing"

	"lair-chat/internal/model"
)

func TestMessageCreateAndFindByTarget(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	users := newUserRepo(s)
	rooms := NewRoomRepo(s)
	messages := NewMessageRepo(s)

	owner := mustCreateUser(t, users, "owner")
	room, err := rooms.Create(ctx, model.Room{Name: "chat", OwnerUserID: owner.ID})
	if err != nil {
		t.Fatalf("Create room: %v", err)
	}

	msg, err := messages.Create(ctx, model.Message{AuthorUserID: owner.ID, Target: model.RoomTarget(room.ID), Content: "hello"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := messages.FindByTarget(ctx, model.RoomTarget(room.ID), model.NewPagination(0, 50))
	if err != nil {
		t.Fatalf("FindByTarget: %v", err)
	}
	if len(got) != 1 || got[0].ID != msg.ID {
		t.Fatalf("got %+v", got)
	}

	// FindByRoom is a thin wrapper over FindByTarget.
	viaRoom, err := messages.FindByRoom(ctx, room.ID, model.NewPagination(0, 50))
	if err != nil {
		t.Fatalf("FindByRoom: %v", err)
	}
	if len(viaRoom) != 1 || viaRoom[0].ID != msg.ID {
		t.Fatalf("FindByRoom got %+v", viaRoom)
	}
}

func TestMessageEditSetsIsEditedPreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	users := newUserRepo(s)
	rooms := NewRoomRepo(s)
	messages := NewMessageRepo(s)

	owner := mustCreateUser(t, users, "owner")
	room, err := rooms.Create(ctx, model.Room{Name: "edit-room", OwnerUserID: owner.ID})
	if err != nil {
		t.Fatalf("Create room: %v", err)
	}
	msg, err := messages.Create(ctx, model.Message{AuthorUserID: owner.ID, Target: model.RoomTarget(room.ID), Content: "v1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	msg.Content = "v2"
	if err := messages.Update(ctx, msg); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := messages.FindByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Content != "v2" {
		t.Fatalf("Content = %q, want v2", got.Content)
	}
	if !got.IsEdited {
		t.Fatalf("expected IsEdited = true")
	}
	if !got.CreatedAt.Equal(msg.CreatedAt) {
		t.Fatalf("CreatedAt changed: got %v, want %v", got.CreatedAt, msg.CreatedAt)
	}
}

func TestMessageDeleteOmitsFromHistory(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	users := newUserRepo(s)
	rooms := NewRoomRepo(s)
	messages := NewMessageRepo(s)

	owner := mustCreateUser(t, users, "owner")
	room, err := rooms.Create(ctx, model.Room{Name: "del-room", OwnerUserID: owner.ID})
	if err != nil {
		t.Fatalf("Create room: %v", err)
	}
	msg, err := messages.Create(ctx, model.Message{AuthorUserID: owner.ID, Target: model.RoomTarget(room.ID), Content: "bye"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := messages.Delete(ctx, msg.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	history, err := messages.FindByRoom(ctx, room.ID, model.NewPagination(0, 50))
	if err != nil {
		t.Fatalf("FindByRoom: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected deleted message omitted, got %d", len(history))
	}
}

func TestMessageFindDirectMessagesUnorderedPair(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	users := newUserRepo(s)
	messages := NewMessageRepo(s)

	alice := mustCreateUser(t, users, "alice")
	bob := mustCreateUser(t, users, "bob")

	if _, err := messages.Create(ctx, model.Message{AuthorUserID: alice.ID, Target: model.DMTarget(bob.ID), Content: "hi bob"}); err != nil {
		t.Fatalf("Create (alice->bob): %v", err)
	}
	if _, err := messages.Create(ctx, model.Message{AuthorUserID: bob.ID, Target: model.DMTarget(alice.ID), Content: "hi alice"}); err != nil {
		t.Fatalf("Create (bob->alice): %v", err)
	}

	dms, err := messages.FindDirectMessages(ctx, alice.ID, bob.ID, model.NewPagination(0, 50))
	if err != nil {
		t.Fatalf("FindDirectMessages: %v", err)
	}
	if len(dms) != 2 {
		t.Fatalf("len = %d, want 2", len(dms))
	}

	// Order shouldn't matter.
	dmsReversed, err := messages.FindDirectMessages(ctx, bob.ID, alice.ID, model.NewPagination(0, 50))
	if err != nil {
		t.Fatalf("FindDirectMessages (reversed): %v", err)
	}
	if len(dmsReversed) != 2 {
		t.Fatalf("len = %d, want 2", len(dmsReversed))
	}
}

func TestMessageGetLatestInRoom(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	users := newUserRepo(s)
	rooms := NewRoomRepo(s)
	messages := NewMessageRepo(s)

	owner := mustCreateUser(t, users, "owner")
	room, err := rooms.Create(ctx, model.Room{Name: "latest-room", OwnerUserID: owner.ID})
	if err != nil {
		t.Fatalf("Create room: %v", err)
	}
	if _, err := messages.Create(ctx, model.Message{AuthorUserID: owner.ID, Target: model.RoomTarget(room.ID), Content: "first"}); err != nil {
		t.Fatalf("Create first: %v", err)
	}
	second, err := messages.Create(ctx, model.Message{AuthorUserID: owner.ID, Target: model.RoomTarget(room.ID), Content: "second"})
	if err != nil {
		t.Fatalf("Create second: %v", err)
	}

	latest, err := messages.GetLatestInRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("GetLatestInRoom: %v", err)
	}
	if latest.ID != second.ID {
		t.Fatalf("latest.ID = %q, want %q", latest.ID, second.ID)
	}
}
