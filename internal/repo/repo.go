// Package repo defines the storage-layer contract: one capability
// interface per aggregate (spec.md §4.5). Implementations live under
// repo/sqlite; callers depend only on these interfaces so a transport
// or service can be tested against an in-memory fake.
package repo

import (
	"context"

	"lair-chat/internal/model"
)

// ErrUserExists is returned by UserRepository.Create when username
// already exists under case-insensitive collation.
var ErrUserExists = newRepoErr("user already exists")

// ErrRoomNameExists is returned by RoomRepository.Create for a duplicate
// case-insensitive room name.
var ErrRoomNameExists = newRepoErr("room name already exists")

// ErrNotFound is returned by any find-by-id-style lookup that matches no
// row.
var ErrNotFound = newRepoErr("not found")

// ErrInvitationExists is returned by InvitationRepository.Create when a
// non-expired Pending invitation already exists for (room, invitee).
var ErrInvitationExists = newRepoErr("pending invitation already exists")

type repoErr string

func newRepoErr(s string) error { return repoErr(s) }
func (e repoErr) Error() string { return string(e) }

// UserRepository is the capability interface over the users aggregate
// (spec.md §4.5).
type UserRepository interface {
	Create(ctx context.Context, user model.User, passwordHash, salt string) (model.User, error)
	FindByID(ctx context.Context, id string) (model.User, error)
	FindByUsername(ctx context.Context, username string) (model.User, error)
	List(ctx context.Context, page model.Pagination) ([]model.User, error)
	Update(ctx context.Context, user model.User) error
	Delete(ctx context.Context, id string) error
	VerifyPassword(ctx context.Context, usernameOrID, password string) (bool, error)
}

// RoomRepository is the capability interface over the rooms aggregate.
type RoomRepository interface {
	Create(ctx context.Context, room model.Room) (model.Room, error)
	FindByID(ctx context.Context, id string) (model.Room, error)
	FindByName(ctx context.Context, name string) (model.Room, error)
	Update(ctx context.Context, room model.Room) error
	Delete(ctx context.Context, id string) error
	ListPublic(ctx context.Context, page model.Pagination) ([]model.Room, error)
	ListForUser(ctx context.Context, userID string) ([]model.Room, error)
	Count(ctx context.Context) (int64, error)
	NameExists(ctx context.Context, name string) (bool, error)
}

// MemberWithUser pairs a Membership with the user it denotes, for
// list_members_with_users.
type MemberWithUser struct {
	Membership model.Membership
	User       model.User
}

// MembershipRepository is the capability interface over room membership.
type MembershipRepository interface {
	AddMember(ctx context.Context, roomID, userID string, role model.MemberRole) (model.Membership, error)
	RemoveMember(ctx context.Context, roomID, userID string) error
	GetMembership(ctx context.Context, roomID, userID string) (model.Membership, error)
	UpdateRole(ctx context.Context, roomID, userID string, role model.MemberRole) error
	ListMembers(ctx context.Context, roomID string) ([]model.Membership, error)
	ListMembersWithUsers(ctx context.Context, roomID string) ([]MemberWithUser, error)
	CountMembers(ctx context.Context, roomID string) (int64, error)
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
}

// MessageRepository is the capability interface over messages, both
// room-scoped and direct. FindByRoom is a thin wrapper over FindByTarget
// (spec.md §9, Open Question 3); the other read methods have their own
// queries.
type MessageRepository interface {
	Create(ctx context.Context, msg model.Message) (model.Message, error)
	FindByID(ctx context.Context, id string) (model.Message, error)
	Update(ctx context.Context, msg model.Message) error
	Delete(ctx context.Context, id string) error
	FindByTarget(ctx context.Context, target model.MessageTarget, page model.Pagination) ([]model.Message, error)
	FindByRoom(ctx context.Context, roomID string, page model.Pagination) ([]model.Message, error)
	FindDirectMessages(ctx context.Context, u1, u2 string, page model.Pagination) ([]model.Message, error)
	CountByTarget(ctx context.Context, target model.MessageTarget) (int64, error)
	GetLatestInRoom(ctx context.Context, roomID string) (model.Message, error)
	DeleteByRoom(ctx context.Context, roomID string) error
	DeleteByAuthor(ctx context.Context, authorID string) error
}

// InvitationRepository is the capability interface over room invitations.
type InvitationRepository interface {
	Create(ctx context.Context, inv model.Invitation) (model.Invitation, error)
	FindByID(ctx context.Context, id string) (model.Invitation, error)
	FindPending(ctx context.Context, roomID, inviteeID string) (model.Invitation, error)
	ListPendingForUser(ctx context.Context, userID string) ([]model.Invitation, error)
	ListSentByUser(ctx context.Context, userID string) ([]model.Invitation, error)
	ListForRoom(ctx context.Context, roomID string) ([]model.Invitation, error)
	UpdateStatus(ctx context.Context, id string, status model.InvitationStatus) error
	DeleteByRoom(ctx context.Context, roomID string) error
	ExpireOld(ctx context.Context) (int64, error)
}

// SessionStats summarizes session activity for the operator surface
// (spec.md §7).
type SessionStats struct {
	ActiveCount int64
	TotalCount  int64
}

// SessionRepository is the capability interface over authentication
// sessions.
type SessionRepository interface {
	Create(ctx context.Context, sess model.Session) (model.Session, error)
	Get(ctx context.Context, idOrToken string) (model.Session, error)
	UpdateActivity(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) error
	DeactivateUserSessions(ctx context.Context, userID string) error
	DeactivateUserSessionsExcept(ctx context.Context, userID, exceptSessionID string) error
	ListActiveForUser(ctx context.Context, userID string) ([]model.Session, error)
	CountForUser(ctx context.Context, userID string) (int64, error)
	Statistics(ctx context.Context) (SessionStats, error)
	ExpireOld(ctx context.Context) (int64, error)
}
