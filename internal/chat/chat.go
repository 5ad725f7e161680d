// Package chat implements the chat service (spec.md §4.9): it routes
// validated commands to the repository layer, authorizes each one against
// the caller's session, and fans encrypted-at-the-transport-layer
// notifications out to the room or direct-message participants affected.
//
// Fan-out follows the teacher's presence/broadcast design
// (rustyguts-bken/server/internal/core/channel_state.go): one buffered
// mailbox channel per connected user, drained by that connection's writer
// goroutine. Unlike the teacher (one voice session per user), this system
// lets a user hold several simultaneous connections, so a Hub tracks a set
// of mailboxes per user rather than a single channel.
package chat

import (
	"encoding/json"
	"sync"

	"lair-chat/internal/model"
	"lair-chat/internal/repo"
)

// Repos bundles the six capability interfaces the chat service authorizes
// commands against and persists through (spec.md §4.5).
type Repos struct {
	Users       repo.UserRepository
	Rooms       repo.RoomRepository
	Memberships repo.MembershipRepository
	Messages    repo.MessageRepository
	Invitations repo.InvitationRepository
	Sessions    repo.SessionRepository
}

// DefaultMailboxCapacity bounds each user's pending-notification queue
// before fan-out starts dropping (spec.md §4.9/§5: "Fan-out mailboxes are
// bounded").
const DefaultMailboxCapacity = 64

// Mailbox is one connection's inbound queue of server-pushed envelopes.
// It is not safe for concurrent push from multiple goroutines other
// than the Hub that owns it.
type Mailbox struct {
	ch       chan string
	userID   string
	overflow func(userID string)
}

// C returns the channel a connection's writer goroutine should range over.
func (m *Mailbox) C() <-chan string { return m.ch }

// push delivers one already-encoded wire line, never blocking the caller.
// When the mailbox is full, the oldest queued message is dropped to make
// room and the overflow callback fires (spec.md §4.9: "when a mailbox is
// full, the oldest non-essential message is dropped and a QueueOverflow
// notice is sent"). Persisted data is never at risk here -- push only ever
// carries notifications about state that is already durable.
func (m *Mailbox) push(line string) {
	select {
	case m.ch <- line:
		return
	default:
	}
	select {
	case <-m.ch:
	default:
	}
	select {
	case m.ch <- line:
	default:
		return
	}
	if m.overflow != nil {
		m.overflow(m.userID)
	}
}

// Hub tracks the live mailboxes for every connected user. A user may hold
// more than one simultaneous connection, so each maps to a set of
// mailboxes rather than one.
type Hub struct {
	mu       sync.RWMutex
	byUser   map[string]map[*Mailbox]struct{}
	capacity int
}

// NewHub constructs an empty Hub. capacity <= 0 selects
// DefaultMailboxCapacity.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	return &Hub{byUser: make(map[string]map[*Mailbox]struct{}), capacity: capacity}
}

// Register creates and tracks a new mailbox for userID, typically called
// once a connection reaches sessionfsm.StateAuthenticated.
func (h *Hub) Register(userID string) *Mailbox {
	mb := &Mailbox{
		ch:       make(chan string, h.capacity),
		userID:   userID,
		overflow: h.notifyOverflow,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byUser[userID]
	if !ok {
		set = make(map[*Mailbox]struct{})
		h.byUser[userID] = set
	}
	set[mb] = struct{}{}
	return mb
}

// Unregister removes mb, typically called when its connection closes.
func (h *Hub) Unregister(userID string, mb *Mailbox) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byUser[userID]
	if !ok {
		return
	}
	delete(set, mb)
	if len(set) == 0 {
		delete(h.byUser, userID)
	}
}

// SendToUser pushes line to every live mailbox registered for userID. It
// is a no-op if the user has no active connection; the message itself is
// already durable (the caller persists before fanning out), so a missed
// live delivery is recovered on reconnect via FETCH_HISTORY (spec.md §4.9).
func (h *Hub) SendToUser(userID, line string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for mb := range h.byUser[userID] {
		mb.push(line)
	}
}

func (h *Hub) notifyOverflow(userID string) {
	line, err := json.Marshal(Envelope{Type: EnvQueueOverflow})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for mb := range h.byUser[userID] {
		select {
		case mb.ch <- string(line):
		default:
		}
	}
}

// EnvelopeType tags the variant of a server -> client chat envelope
// (mirrors authproto.Response's single-tagged-struct shape, generalized
// from auth replies to chat notifications).
type EnvelopeType string

const (
	EnvMessage       EnvelopeType = "message"
	EnvRoomCreated   EnvelopeType = "room_created"
	EnvRoomList      EnvelopeType = "room_list"
	EnvMemberList    EnvelopeType = "member_list"
	EnvInvite        EnvelopeType = "invite"
	EnvInviteList    EnvelopeType = "invite_list"
	EnvHistory       EnvelopeType = "history"
	EnvJoined        EnvelopeType = "joined"
	EnvOk            EnvelopeType = "ok"
	EnvError         EnvelopeType = "error"
	EnvQueueOverflow EnvelopeType = "queue_overflow"
)

// MessageView is the wire projection of a model.Message.
type MessageView struct {
	ID          string `json:"id"`
	AuthorID    string `json:"author_id"`
	RoomID      string `json:"room_id,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
	Content     string `json:"content"`
	IsEdited    bool   `json:"is_edited"`
	CreatedAt   int64  `json:"created_at"`
}

func toMessageView(m model.Message) MessageView {
	v := MessageView{
		ID:        m.ID,
		AuthorID:  m.AuthorUserID,
		Content:   m.Content,
		IsEdited:  m.IsEdited,
		CreatedAt: m.CreatedAt.Unix(),
	}
	switch m.Target.Kind {
	case model.TargetRoom:
		v.RoomID = m.Target.RoomID
	case model.TargetDirectMessage:
		v.RecipientID = m.Target.RecipientID
	}
	return v
}

// RoomView is the wire projection of a model.Room.
type RoomView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	OwnerID     string `json:"owner_id"`
	IsPrivate   bool   `json:"is_private"`
	Description string `json:"description,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

func toRoomView(r model.Room) RoomView {
	return RoomView{
		ID: r.ID, Name: r.Name, OwnerID: r.OwnerUserID,
		IsPrivate: r.Settings.IsPrivate, Description: r.Settings.Description,
		CreatedAt: r.CreatedAt.Unix(),
	}
}

// MemberView is the wire projection of a membership joined with its user.
type MemberView struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	JoinedAt int64  `json:"joined_at"`
}

func toMemberView(mw repo.MemberWithUser) MemberView {
	return MemberView{
		UserID: mw.Membership.UserID, Username: mw.User.Username,
		Role: string(mw.Membership.Role), JoinedAt: mw.Membership.JoinedAt.Unix(),
	}
}

// InviteView is the wire projection of a model.Invitation.
type InviteView struct {
	ID         string `json:"id"`
	RoomID     string `json:"room_id"`
	InviterID  string `json:"inviter_id"`
	InviteeID  string `json:"invitee_id"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	ExpiresAt  int64  `json:"expires_at"`
}

func toInviteView(inv model.Invitation) InviteView {
	return InviteView{
		ID: inv.ID, RoomID: inv.RoomID, InviterID: inv.InviterUserID, InviteeID: inv.InviteeUserID,
		Status: string(inv.Status), Message: inv.Message,
		CreatedAt: inv.CreatedAt.Unix(), ExpiresAt: inv.ExpiresAt.Unix(),
	}
}

// Envelope is the single wire shape for every chat response and
// notification. Exactly the fields relevant to Type are populated.
type Envelope struct {
	Type     EnvelopeType  `json:"type"`
	Message  *MessageView  `json:"message,omitempty"`
	Rooms    []RoomView    `json:"rooms,omitempty"`
	Members  []MemberView  `json:"members,omitempty"`
	Invite   *InviteView   `json:"invite,omitempty"`
	Invites  []InviteView  `json:"invites,omitempty"`
	Messages []MessageView `json:"messages,omitempty"`
	RoomID   string        `json:"room_id,omitempty"`
	Code     string        `json:"code,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// Encode marshals e as one wire line. Callers write the returned string
// through transport.Session.Send, which supplies the AEAD envelope.
func (e Envelope) Encode() (string, error) {
	b, err := json.Marshal(e)
	return string(b), err
}
