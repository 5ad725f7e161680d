package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lair-chat/internal/model"
	"lair-chat/internal/repo"
)

// InvitationRepo implements repo.InvitationRepository over a Store.
type InvitationRepo struct{ s *Store }

// NewInvitationRepo constructs an InvitationRepo backed by s.
func NewInvitationRepo(s *Store) *InvitationRepo { return &InvitationRepo{s: s} }

// Create enforces "at most one Pending invitation per (room_id,
// invitee_id) with expires_at > now" (spec.md §3) by checking for a live
// pending row inside the same transaction as the insert.
func (r *InvitationRepo) Create(ctx context.Context, inv model.Invitation) (model.Invitation, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.CreatedAt = time.Now().UTC()
	if inv.Status == "" {
		inv.Status = model.InvitationPending
	}

	err := r.s.txFunc(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM invitations
			WHERE room_id = ? AND invitee_id = ? AND status = ? AND expires_at > ?`,
			inv.RoomID, inv.InviteeUserID, string(model.InvitationPending), inv.CreatedAt.Unix(),
		).Scan(&n); err != nil {
			return fmt.Errorf("check existing invitation: %w", err)
		}
		if n > 0 {
			return repo.ErrInvitationExists
		}

		_, err := tx.ExecContext(ctx, `INSERT INTO invitations(id, room_id, inviter_id, invitee_id,
			status, message, created_at, expires_at) VALUES (?,?,?,?,?,?,?,?)`,
			inv.ID, inv.RoomID, inv.InviterUserID, inv.InviteeUserID, string(inv.Status),
			inv.Message, inv.CreatedAt.Unix(), inv.ExpiresAt.Unix(),
		)
		return err
	})
	if err != nil {
		return model.Invitation{}, err
	}
	return inv, nil
}

func scanInvitation(row rowScanner) (model.Invitation, error) {
	var inv model.Invitation
	var status, message string
	var createdAt, expiresAt int64
	var respondedAt sql.NullInt64

	if err := row.Scan(&inv.ID, &inv.RoomID, &inv.InviterUserID, &inv.InviteeUserID, &status,
		&message, &createdAt, &respondedAt, &expiresAt); err != nil {
		return model.Invitation{}, err
	}
	inv.Status = model.InvitationStatus(status)
	inv.Message = message
	inv.CreatedAt = time.Unix(createdAt, 0).UTC()
	inv.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	if respondedAt.Valid {
		t := time.Unix(respondedAt.Int64, 0).UTC()
		inv.RespondedAt = &t
	}
	return inv, nil
}

const invitationSelectCols = `id, room_id, inviter_id, invitee_id, status, message, created_at, responded_at, expires_at`

func (r *InvitationRepo) FindByID(ctx context.Context, id string) (model.Invitation, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT `+invitationSelectCols+` FROM invitations WHERE id = ?`, id)
	inv, err := scanInvitation(row)
	if err == sql.ErrNoRows {
		return model.Invitation{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Invitation{}, fmt.Errorf("scan invitation: %w", err)
	}
	return inv, nil
}

// FindPending returns only a non-expired Pending invitation, per spec.md
// §4.5.
func (r *InvitationRepo) FindPending(ctx context.Context, roomID, inviteeID string) (model.Invitation, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT `+invitationSelectCols+` FROM invitations
		WHERE room_id = ? AND invitee_id = ? AND status = ? AND expires_at > ?
		ORDER BY created_at DESC LIMIT 1`,
		roomID, inviteeID, string(model.InvitationPending), time.Now().UTC().Unix())
	inv, err := scanInvitation(row)
	if err == sql.ErrNoRows {
		return model.Invitation{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Invitation{}, fmt.Errorf("scan pending invitation: %w", err)
	}
	return inv, nil
}

func (r *InvitationRepo) ListPendingForUser(ctx context.Context, userID string) ([]model.Invitation, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT `+invitationSelectCols+` FROM invitations
		WHERE invitee_id = ? AND status = ? AND expires_at > ? ORDER BY created_at DESC`,
		userID, string(model.InvitationPending), time.Now().UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("list pending for user: %w", err)
	}
	defer rows.Close()
	return collectInvitations(rows)
}

func (r *InvitationRepo) ListSentByUser(ctx context.Context, userID string) ([]model.Invitation, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT `+invitationSelectCols+` FROM invitations
		WHERE inviter_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sent by user: %w", err)
	}
	defer rows.Close()
	return collectInvitations(rows)
}

func (r *InvitationRepo) ListForRoom(ctx context.Context, roomID string) ([]model.Invitation, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT `+invitationSelectCols+` FROM invitations
		WHERE room_id = ? ORDER BY created_at DESC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list for room: %w", err)
	}
	defer rows.Close()
	return collectInvitations(rows)
}

func collectInvitations(rows *sql.Rows) ([]model.Invitation, error) {
	var out []model.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invitation row: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// UpdateStatus sets responded_at when status transitions into any
// non-Pending status (spec.md §3).
func (r *InvitationRepo) UpdateStatus(ctx context.Context, id string, status model.InvitationStatus) error {
	var respondedAt sql.NullInt64
	if status != model.InvitationPending {
		respondedAt = sql.NullInt64{Int64: time.Now().UTC().Unix(), Valid: true}
	}
	res, err := r.s.db.ExecContext(ctx, `UPDATE invitations SET status = ?, responded_at = ?
		WHERE id = ?`, string(status), respondedAt, id)
	if err != nil {
		return fmt.Errorf("update invitation status: %w", err)
	}
	return mustAffect(res)
}

func (r *InvitationRepo) DeleteByRoom(ctx context.Context, roomID string) error {
	_, err := r.s.db.ExecContext(ctx, `DELETE FROM invitations WHERE room_id = ?`, roomID)
	if err != nil {
		return fmt.Errorf("delete invitations by room: %w", err)
	}
	return nil
}

// ExpireOld transitions every Pending invitation whose expires_at has
// passed to Expired, and returns the count transitioned (spec.md §3).
func (r *InvitationRepo) ExpireOld(ctx context.Context) (int64, error) {
	res, err := r.s.db.ExecContext(ctx, `UPDATE invitations SET status = ?, responded_at = ?
		WHERE status = ? AND expires_at <= ?`,
		string(model.InvitationExpired), time.Now().UTC().Unix(), string(model.InvitationPending),
		time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("expire old invitations: %w", err)
	}
	return res.RowsAffected()
}
