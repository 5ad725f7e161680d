package chat

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"lair-chat/internal/errs"
	"lair-chat/internal/model"
	"lair-chat/internal/repo"
)

// Config tunes the chat service's time-bound behaviors.
type Config struct {
	// InviteTTL is added to time.Now() to compute a new invitation's
	// expires_at (spec.md §4.9: "expires_at = now + invite_ttl").
	InviteTTL time.Duration
}

// DefaultConfig returns operator-reasonable defaults.
func DefaultConfig() Config {
	return Config{InviteTTL: 72 * time.Hour}
}

// Service routes validated, authenticated commands to the repository
// layer and fans out notifications through a Hub (spec.md §4.9). One
// Service is constructed per server process and threaded to every
// connection's command loop -- there is no package-level state here,
// following spec.md §9's REDESIGN FLAG on global mutable state.
type Service struct {
	repos    Repos
	hub      *Hub
	cfg      Config
	breakers *errs.Registry
}

// New constructs a Service. breakers may be nil, in which case repository
// calls are not circuit-broken (useful for tests).
func New(repos Repos, hub *Hub, cfg Config, breakers *errs.Registry) *Service {
	return &Service{repos: repos, hub: hub, cfg: cfg, breakers: breakers}
}

// guard wraps a repository call with the per-operation circuit breaker
// named by key (spec.md §4.8/§4.9), when a Registry was supplied.
func (s *Service) guard(key string, fn func() error) error {
	if s.breakers == nil {
		return fn()
	}
	b := s.breakers.For(key)
	if !b.Allow() {
		return errs.ResourceExhausted("this operation is temporarily unavailable")
	}
	err := fn()
	if err != nil {
		b.Failure()
	} else {
		b.Success()
	}
	return err
}

// Dispatch routes one validated command to its handler. userID is the
// caller's authenticated user id; command is already uppercased by
// internal/validate. Arguments follow an IRC-style trailing-parameter
// convention: fixed leading arguments are positional, and any remaining
// arguments are rejoined with single spaces to reconstruct free-form text
// (message content, room settings JSON) that internal/validate's
// whitespace-collapsing tokenizer would otherwise have split apart.
func (s *Service) Dispatch(ctx context.Context, userID, command string, args []string) (Envelope, *errs.Error) {
	switch command {
	case "SEND_MESSAGE", "MESSAGE":
		return s.sendRoomMessage(ctx, userID, args)
	case "SEND_DM":
		return s.sendDirectMessage(ctx, userID, args)
	case "EDIT_MESSAGE":
		return s.editMessage(ctx, userID, args)
	case "DELETE_MESSAGE":
		return s.deleteMessage(ctx, userID, args)
	case "JOIN_ROOM":
		return s.joinRoom(ctx, userID, args)
	case "CREATE_ROOM":
		return s.createRoom(ctx, userID, args)
	case "INVITE_USER":
		return s.inviteUser(ctx, userID, args)
	case "ACCEPT_INVITE":
		return s.respondInvite(ctx, userID, args, model.InvitationAccepted)
	case "DECLINE_INVITE":
		return s.respondInvite(ctx, userID, args, model.InvitationDeclined)
	case "LIST_ROOMS":
		return s.listRooms(ctx, args)
	case "LIST_MEMBERS":
		return s.listMembers(ctx, userID, args)
	case "LIST_INVITES":
		return s.listInvites(ctx, userID)
	case "FETCH_HISTORY":
		return s.fetchHistory(ctx, userID, args)
	default:
		return Envelope{}, &errs.Error{
			ErrorCode: "UnknownCommand", Kind: errs.KindValidation, Severity: errs.SeverityInfo,
			UserMessage: "unrecognized command", Recovery: errs.Recovery{Kind: errs.RecoveryNone},
		}
	}
}

func joinRest(args []string, from int) string {
	if from >= len(args) {
		return ""
	}
	return strings.Join(args[from:], " ")
}

func repoErrToErrs(err error, notFoundMsg string) *errs.Error {
	if ee, ok := err.(*errs.Error); ok {
		return ee
	}
	switch err {
	case repo.ErrNotFound:
		return errs.NotFound(notFoundMsg)
	case repo.ErrUserExists:
		return errs.Conflict("username already taken")
	case repo.ErrRoomNameExists:
		return errs.Conflict("room name already taken")
	case repo.ErrInvitationExists:
		return errs.Conflict("a pending invitation already exists")
	default:
		return errs.DatabaseQuery(err)
	}
}

func (s *Service) sendRoomMessage(ctx context.Context, userID string, args []string) (Envelope, *errs.Error) {
	if len(args) < 2 {
		return Envelope{}, errs.InvalidFormat("usage: SEND_MESSAGE room_id content")
	}
	roomID, content := args[0], joinRest(args, 1)
	if content == "" || len(content) > model.MaxMessageContent {
		return Envelope{}, errs.InvalidLength("message content out of bounds")
	}

	isMember, err := s.repos.Memberships.IsMember(ctx, roomID, userID)
	if err != nil {
		return Envelope{}, repoErrToErrs(err, "room")
	}
	if !isMember {
		return Envelope{}, errs.Forbidden()
	}

	var msg model.Message
	err = s.guard("repo.message.create", func() error {
		var createErr error
		msg, createErr = s.repos.Messages.Create(ctx, model.Message{
			AuthorUserID: userID, Target: model.RoomTarget(roomID), Content: content,
		})
		return createErr
	})
	if err != nil {
		return Envelope{}, repoErrToErrs(err, "room")
	}

	s.fanOutToRoom(ctx, roomID, msg)
	return Envelope{Type: EnvOk, Message: viewPtr(toMessageView(msg))}, nil
}

func (s *Service) sendDirectMessage(ctx context.Context, userID string, args []string) (Envelope, *errs.Error) {
	if len(args) < 2 {
		return Envelope{}, errs.InvalidFormat("usage: SEND_DM recipient_id content")
	}
	recipientID, content := args[0], joinRest(args, 1)
	if recipientID == userID {
		return Envelope{}, errs.InvalidFormat("cannot send a direct message to yourself")
	}
	if content == "" || len(content) > model.MaxMessageContent {
		return Envelope{}, errs.InvalidLength("message content out of bounds")
	}

	if _, err := s.repos.Users.FindByID(ctx, recipientID); err != nil {
		return Envelope{}, repoErrToErrs(err, "recipient")
	}

	var msg model.Message
	err := s.guard("repo.message.create", func() error {
		var createErr error
		msg, createErr = s.repos.Messages.Create(ctx, model.Message{
			AuthorUserID: userID, Target: model.DMTarget(recipientID), Content: content,
		})
		return createErr
	})
	if err != nil {
		return Envelope{}, repoErrToErrs(err, "message")
	}

	line, encErr := Envelope{Type: EnvMessage, Message: viewPtr(toMessageView(msg))}.Encode()
	if encErr == nil {
		s.hub.SendToUser(recipientID, line)
	}
	return Envelope{Type: EnvOk, Message: viewPtr(toMessageView(msg))}, nil
}

func (s *Service) editMessage(ctx context.Context, userID string, args []string) (Envelope, *errs.Error) {
	if len(args) < 2 {
		return Envelope{}, errs.InvalidFormat("usage: EDIT_MESSAGE message_id content")
	}
	id, content := args[0], joinRest(args, 1)
	if content == "" || len(content) > model.MaxMessageContent {
		return Envelope{}, errs.InvalidLength("message content out of bounds")
	}

	msg, err := s.repos.Messages.FindByID(ctx, id)
	if err != nil {
		return Envelope{}, repoErrToErrs(err, "message")
	}
	if msg.AuthorUserID != userID {
		return Envelope{}, errs.Forbidden()
	}

	msg.Content = content
	msg.IsEdited = true
	if err := s.repos.Messages.Update(ctx, msg); err != nil {
		return Envelope{}, repoErrToErrs(err, "message")
	}
	msg, _ = s.repos.Messages.FindByID(ctx, id)

	if msg.Target.Kind == model.TargetRoom {
		s.fanOutToRoom(ctx, msg.Target.RoomID, msg)
	} else {
		line, encErr := Envelope{Type: EnvMessage, Message: viewPtr(toMessageView(msg))}.Encode()
		if encErr == nil {
			s.hub.SendToUser(msg.Target.RecipientID, line)
		}
	}
	return Envelope{Type: EnvOk, Message: viewPtr(toMessageView(msg))}, nil
}

func (s *Service) deleteMessage(ctx context.Context, userID string, args []string) (Envelope, *errs.Error) {
	if len(args) < 1 {
		return Envelope{}, errs.InvalidFormat("usage: DELETE_MESSAGE message_id")
	}
	id := args[0]
	msg, err := s.repos.Messages.FindByID(ctx, id)
	if err != nil {
		return Envelope{}, repoErrToErrs(err, "message")
	}
	if msg.AuthorUserID != userID {
		return Envelope{}, errs.Forbidden()
	}
	if err := s.repos.Messages.Delete(ctx, id); err != nil {
		return Envelope{}, repoErrToErrs(err, "message")
	}
	return Envelope{Type: EnvOk, RoomID: msg.Target.RoomID}, nil
}

func (s *Service) joinRoom(ctx context.Context, userID string, args []string) (Envelope, *errs.Error) {
	if len(args) < 1 {
		return Envelope{}, errs.InvalidFormat("usage: JOIN_ROOM room_id")
	}
	roomID := args[0]
	room, err := s.repos.Rooms.FindByID(ctx, roomID)
	if err != nil {
		return Envelope{}, repoErrToErrs(err, "room")
	}

	if room.Settings.IsPrivate {
		accepted, err := s.hasAcceptedInvite(ctx, roomID, userID)
		if err != nil {
			return Envelope{}, repoErrToErrs(err, "room")
		}
		if !accepted {
			return Envelope{}, errs.Forbidden()
		}
	}

	if already, err := s.repos.Memberships.IsMember(ctx, roomID, userID); err == nil && already {
		return Envelope{Type: EnvJoined, RoomID: roomID}, nil
	}

	if _, err := s.repos.Memberships.AddMember(ctx, roomID, userID, model.MemberMember); err != nil {
		return Envelope{}, errs.DatabaseQuery(err)
	}
	return Envelope{Type: EnvJoined, RoomID: roomID}, nil
}

func (s *Service) hasAcceptedInvite(ctx context.Context, roomID, userID string) (bool, error) {
	invites, err := s.repos.Invitations.ListForRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	for _, inv := range invites {
		if inv.InviteeUserID == userID && inv.Status == model.InvitationAccepted {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) createRoom(ctx context.Context, userID string, args []string) (Envelope, *errs.Error) {
	if len(args) < 1 {
		return Envelope{}, errs.InvalidFormat("usage: CREATE_ROOM name [settings_json]")
	}
	name := args[0]
	var settings model.RoomSettings
	if raw := joinRest(args, 1); raw != "" {
		if err := json.Unmarshal([]byte(raw), &settings); err != nil {
			return Envelope{}, errs.InvalidFormat("settings must be a JSON object")
		}
	}

	var room model.Room
	err := s.guard("repo.room.create", func() error {
		var createErr error
		room, createErr = s.repos.Rooms.Create(ctx, model.Room{
			Name: name, OwnerUserID: userID, Settings: settings,
		})
		return createErr
	})
	if err != nil {
		return Envelope{}, repoErrToErrs(err, "room")
	}
	return Envelope{Type: EnvRoomCreated, Rooms: []RoomView{toRoomView(room)}}, nil
}

func (s *Service) inviteUser(ctx context.Context, userID string, args []string) (Envelope, *errs.Error) {
	if len(args) < 2 {
		return Envelope{}, errs.InvalidFormat("usage: INVITE_USER room_id invitee_id")
	}
	roomID, inviteeID := args[0], args[1]

	membership, err := s.repos.Memberships.GetMembership(ctx, roomID, userID)
	if err != nil {
		return Envelope{}, repoErrToErrs(err, "membership")
	}
	if membership.Role != model.MemberOwner && membership.Role != model.MemberModerator {
		return Envelope{}, errs.Forbidden()
	}
	if _, err := s.repos.Users.FindByID(ctx, inviteeID); err != nil {
		return Envelope{}, repoErrToErrs(err, "invitee")
	}

	inv, createErr := s.repos.Invitations.Create(ctx, model.Invitation{
		RoomID: roomID, InviterUserID: userID, InviteeUserID: inviteeID,
		ExpiresAt: time.Now().Add(s.cfg.InviteTTL),
	})
	if createErr != nil {
		return Envelope{}, repoErrToErrs(createErr, "invitation")
	}

	line, encErr := Envelope{Type: EnvInvite, Invite: viewPtr(toInviteView(inv))}.Encode()
	if encErr == nil {
		s.hub.SendToUser(inviteeID, line)
	}
	return Envelope{Type: EnvOk, Invite: viewPtr(toInviteView(inv))}, nil
}

func (s *Service) respondInvite(ctx context.Context, userID string, args []string, status model.InvitationStatus) (Envelope, *errs.Error) {
	if len(args) < 1 {
		return Envelope{}, errs.InvalidFormat("usage: ACCEPT_INVITE|DECLINE_INVITE invitation_id")
	}
	id := args[0]
	inv, err := s.repos.Invitations.FindByID(ctx, id)
	if err != nil {
		return Envelope{}, repoErrToErrs(err, "invitation")
	}
	if inv.InviteeUserID != userID {
		return Envelope{}, errs.Forbidden()
	}
	if inv.Status != model.InvitationPending || !time.Now().Before(inv.ExpiresAt) {
		return Envelope{}, errs.Conflict("invitation is no longer pending")
	}

	if status == model.InvitationAccepted {
		if _, err := s.repos.Memberships.AddMember(ctx, inv.RoomID, userID, model.MemberMember); err != nil {
			return Envelope{}, errs.DatabaseQuery(err)
		}
	}
	if err := s.repos.Invitations.UpdateStatus(ctx, id, status); err != nil {
		return Envelope{}, errs.DatabaseQuery(err)
	}
	inv.Status = status
	return Envelope{Type: EnvOk, Invite: viewPtr(toInviteView(inv))}, nil
}

func (s *Service) listRooms(ctx context.Context, args []string) (Envelope, *errs.Error) {
	page := parsePagination(args, 0)
	rooms, err := s.repos.Rooms.ListPublic(ctx, page)
	if err != nil {
		return Envelope{}, errs.DatabaseQuery(err)
	}
	views := make([]RoomView, len(rooms))
	for i, r := range rooms {
		views[i] = toRoomView(r)
	}
	return Envelope{Type: EnvRoomList, Rooms: views}, nil
}

func (s *Service) listMembers(ctx context.Context, userID string, args []string) (Envelope, *errs.Error) {
	if len(args) < 1 {
		return Envelope{}, errs.InvalidFormat("usage: LIST_MEMBERS room_id")
	}
	roomID := args[0]
	if isMember, err := s.repos.Memberships.IsMember(ctx, roomID, userID); err != nil {
		return Envelope{}, errs.DatabaseQuery(err)
	} else if !isMember {
		return Envelope{}, errs.Forbidden()
	}

	members, err := s.repos.Memberships.ListMembersWithUsers(ctx, roomID)
	if err != nil {
		return Envelope{}, errs.DatabaseQuery(err)
	}
	views := make([]MemberView, len(members))
	for i, m := range members {
		views[i] = toMemberView(m)
	}
	return Envelope{Type: EnvMemberList, Members: views}, nil
}

func (s *Service) listInvites(ctx context.Context, userID string) (Envelope, *errs.Error) {
	invites, err := s.repos.Invitations.ListPendingForUser(ctx, userID)
	if err != nil {
		return Envelope{}, errs.DatabaseQuery(err)
	}
	views := make([]InviteView, len(invites))
	for i, inv := range invites {
		views[i] = toInviteView(inv)
	}
	return Envelope{Type: EnvInviteList, Invites: views}, nil
}

func (s *Service) fetchHistory(ctx context.Context, userID string, args []string) (Envelope, *errs.Error) {
	if len(args) < 2 {
		return Envelope{}, errs.InvalidFormat("usage: FETCH_HISTORY ROOM room_id [offset limit] | FETCH_HISTORY DM recipient_id [offset limit]")
	}
	kind, target := strings.ToUpper(args[0]), args[1]
	page := parsePagination(args, 2)

	var msgs []model.Message
	var err error
	switch kind {
	case "ROOM":
		isMember, memErr := s.repos.Memberships.IsMember(ctx, target, userID)
		if memErr != nil {
			return Envelope{}, errs.DatabaseQuery(memErr)
		}
		if !isMember {
			return Envelope{}, errs.Forbidden()
		}
		msgs, err = s.repos.Messages.FindByRoom(ctx, target, page)
	case "DM":
		msgs, err = s.repos.Messages.FindDirectMessages(ctx, userID, target, page)
	default:
		return Envelope{}, errs.InvalidFormat("unknown history kind")
	}
	if err != nil {
		return Envelope{}, errs.DatabaseQuery(err)
	}

	views := make([]MessageView, len(msgs))
	for i, m := range msgs {
		views[i] = toMessageView(m)
	}
	return Envelope{Type: EnvHistory, Messages: views}, nil
}

// fanOutToRoom delivers msg to every current member of roomID. Fan-out
// runs after the message is already persisted, so a delivery failure (a
// full mailbox) never loses data -- only live-push timeliness (spec.md
// §4.9).
func (s *Service) fanOutToRoom(ctx context.Context, roomID string, msg model.Message) {
	members, err := s.repos.Memberships.ListMembers(ctx, roomID)
	if err != nil {
		return
	}
	line, encErr := Envelope{Type: EnvMessage, Message: viewPtr(toMessageView(msg))}.Encode()
	if encErr != nil {
		return
	}
	for _, m := range members {
		s.hub.SendToUser(m.UserID, line)
	}
}

func parsePagination(args []string, offset int) model.Pagination {
	var o, l int = 0, 50
	if len(args) > offset {
		if v, err := strconv.Atoi(args[offset]); err == nil {
			o = v
		}
	}
	if len(args) > offset+1 {
		if v, err := strconv.Atoi(args[offset+1]); err == nil {
			l = v
		}
	}
	return model.NewPagination(o, l)
}

func viewPtr[T any](v T) *T { return &v }
