package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"lair-chat/internal/model"
	"lair-chat/internal/repo"
)

// MembershipRepo implements repo.MembershipRepository over a Store.
type MembershipRepo struct{ s *Store }

// NewMembershipRepo constructs a MembershipRepo backed by s.
func NewMembershipRepo(s *Store) *MembershipRepo { return &MembershipRepo{s: s} }

func (r *MembershipRepo) AddMember(ctx context.Context, roomID, userID string, role model.MemberRole) (model.Membership, error) {
	now := time.Now().UTC()
	_, err := r.s.db.ExecContext(ctx, `INSERT INTO memberships(room_id, user_id, role, joined_at)
		VALUES (?,?,?,?)`, roomID, userID, string(role), now.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return model.Membership{}, fmt.Errorf("already a member: %w", err)
		}
		return model.Membership{}, fmt.Errorf("add member: %w", err)
	}
	return model.Membership{RoomID: roomID, UserID: userID, Role: role, JoinedAt: now}, nil
}

func (r *MembershipRepo) RemoveMember(ctx context.Context, roomID, userID string) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM memberships WHERE room_id = ? AND user_id = ?`,
		roomID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return mustAffect(res)
}

func scanMembership(row rowScanner) (model.Membership, error) {
	var m model.Membership
	var role string
	var joinedAt int64
	if err := row.Scan(&m.RoomID, &m.UserID, &role, &joinedAt); err != nil {
		return model.Membership{}, err
	}
	m.Role = model.MemberRole(role)
	m.JoinedAt = time.Unix(joinedAt, 0).UTC()
	return m, nil
}

func (r *MembershipRepo) GetMembership(ctx context.Context, roomID, userID string) (model.Membership, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT room_id, user_id, role, joined_at FROM memberships
		WHERE room_id = ? AND user_id = ?`, roomID, userID)
	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return model.Membership{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Membership{}, fmt.Errorf("scan membership: %w", err)
	}
	return m, nil
}

func (r *MembershipRepo) UpdateRole(ctx context.Context, roomID, userID string, role model.MemberRole) error {
	res, err := r.s.db.ExecContext(ctx, `UPDATE memberships SET role = ? WHERE room_id = ? AND user_id = ?`,
		string(role), roomID, userID)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return mustAffect(res)
}

func (r *MembershipRepo) ListMembers(ctx context.Context, roomID string) ([]model.Membership, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT room_id, user_id, role, joined_at FROM memberships
		WHERE room_id = ? ORDER BY joined_at ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []model.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MembershipRepo) ListMembersWithUsers(ctx context.Context, roomID string) ([]repo.MemberWithUser, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT m.room_id, m.user_id, m.role, m.joined_at,
		u.id, u.username, u.email, u.password_hash, u.salt, u.role, u.created_at, u.updated_at,
		u.last_seen_at, u.is_active, u.profile_json, u.settings_json
		FROM memberships m JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ? ORDER BY m.joined_at ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list members with users: %w", err)
	}
	defer rows.Close()

	var out []repo.MemberWithUser
	for rows.Next() {
		var roomID, userID, mRole string
		var joinedAt int64
		var email, profileJSON, settingsJSON sql.NullString
		var lastSeen sql.NullInt64
		var uRole string
		var createdAt, updatedAt int64
		var isActive int
		var u model.User

		if err := rows.Scan(&roomID, &userID, &mRole, &joinedAt, &u.ID, &u.Username, &email,
			&u.PasswordHash, &u.Salt, &uRole, &createdAt, &updatedAt, &lastSeen, &isActive,
			&profileJSON, &settingsJSON); err != nil {
			return nil, fmt.Errorf("scan member-with-user row: %w", err)
		}

		u.Email = email.String
		u.Role = model.Role(uRole)
		u.CreatedAt = time.Unix(createdAt, 0).UTC()
		u.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		u.IsActive = isActive != 0
		if lastSeen.Valid {
			t := time.Unix(lastSeen.Int64, 0).UTC()
			u.LastSeenAt = &t
		}

		out = append(out, repo.MemberWithUser{
			Membership: model.Membership{
				RoomID: roomID, UserID: userID, Role: model.MemberRole(mRole),
				JoinedAt: time.Unix(joinedAt, 0).UTC(),
			},
			User: u,
		})
	}
	return out, rows.Err()
}

func (r *MembershipRepo) CountMembers(ctx context.Context, roomID string) (int64, error) {
	var n int64
	err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memberships WHERE room_id = ?`,
		roomID).Scan(&n)
	return n, err
}

func (r *MembershipRepo) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var n int
	err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memberships WHERE room_id = ? AND user_id = ?`,
		roomID, userID).Scan(&n)
	return n > 0, err
}
