package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"lair-chat/internal/model"
	"lair-chat/internal/repo"
)

// RoomRepo implements repo.RoomRepository over a Store.
type RoomRepo struct{ s *Store }

// NewRoomRepo constructs a RoomRepo backed by s.
func NewRoomRepo(s *Store) *RoomRepo { return &RoomRepo{s: s} }

// Create inserts room and adds its owner as an Owner member in the same
// transaction (spec.md §4.6: "the creator becomes Owner via a single
// atomic repository transaction").
func (r *RoomRepo) Create(ctx context.Context, room model.Room) (model.Room, error) {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	room.CreatedAt = time.Now().UTC()

	var maxMembers sql.NullInt64
	if room.Settings.MaxMembers != nil {
		maxMembers = sql.NullInt64{Int64: int64(*room.Settings.MaxMembers), Valid: true}
	}

	err := r.s.txFunc(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO rooms(id, name, name_lower, owner_id,
			description, is_private, max_members, created_at) VALUES (?,?,?,?,?,?,?,?)`,
			room.ID, room.Name, strings.ToLower(room.Name), room.OwnerUserID,
			room.Settings.Description, boolToInt(room.Settings.IsPrivate), maxMembers, room.CreatedAt.Unix(),
		)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO memberships(room_id, user_id, role, joined_at)
			VALUES (?,?,?,?)`, room.ID, room.OwnerUserID, string(model.MemberOwner), room.CreatedAt.Unix())
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return model.Room{}, repo.ErrRoomNameExists
		}
		return model.Room{}, fmt.Errorf("create room: %w", err)
	}
	return room, nil
}

func scanRoom(row rowScanner) (model.Room, error) {
	var rm model.Room
	var description string
	var isPrivate int
	var maxMembers sql.NullInt64
	var createdAt int64

	if err := row.Scan(&rm.ID, &rm.Name, &rm.OwnerUserID, &description, &isPrivate,
		&maxMembers, &createdAt); err != nil {
		return model.Room{}, err
	}
	rm.Settings.Description = description
	rm.Settings.IsPrivate = isPrivate != 0
	if maxMembers.Valid {
		n := int(maxMembers.Int64)
		rm.Settings.MaxMembers = &n
	}
	rm.CreatedAt = time.Unix(createdAt, 0).UTC()
	return rm, nil
}

const roomSelectCols = `id, name, owner_id, description, is_private, max_members, created_at`

func (r *RoomRepo) FindByID(ctx context.Context, id string) (model.Room, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT `+roomSelectCols+` FROM rooms WHERE id = ?`, id)
	rm, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return model.Room{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Room{}, fmt.Errorf("scan room: %w", err)
	}
	return rm, nil
}

func (r *RoomRepo) FindByName(ctx context.Context, name string) (model.Room, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT `+roomSelectCols+` FROM rooms WHERE name_lower = ?`,
		strings.ToLower(name))
	rm, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return model.Room{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Room{}, fmt.Errorf("scan room: %w", err)
	}
	return rm, nil
}

func (r *RoomRepo) Update(ctx context.Context, room model.Room) error {
	var maxMembers sql.NullInt64
	if room.Settings.MaxMembers != nil {
		maxMembers = sql.NullInt64{Int64: int64(*room.Settings.MaxMembers), Valid: true}
	}
	res, err := r.s.db.ExecContext(ctx, `UPDATE rooms SET name=?, name_lower=?, description=?,
		is_private=?, max_members=? WHERE id=?`,
		room.Name, strings.ToLower(room.Name), room.Settings.Description,
		boolToInt(room.Settings.IsPrivate), maxMembers, room.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repo.ErrRoomNameExists
		}
		return fmt.Errorf("update room: %w", err)
	}
	return mustAffect(res)
}

// Delete cascades to memberships, messages targeting this room, and
// invitations for this room (spec.md §3).
func (r *RoomRepo) Delete(ctx context.Context, id string) error {
	return r.s.txFunc(ctx, func(tx *sql.Tx) error {
		stmts := []struct {
			query string
			args  []any
		}{
			{`DELETE FROM memberships WHERE room_id = ?`, []any{id}},
			{`DELETE FROM messages WHERE target_type = 'room' AND target_id = ?`, []any{id}},
			{`DELETE FROM invitations WHERE room_id = ?`, []any{id}},
			{`DELETE FROM rooms WHERE id = ?`, []any{id}},
		}
		for _, st := range stmts {
			if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
				return fmt.Errorf("cascade delete room: %w", err)
			}
		}
		return nil
	})
}

func (r *RoomRepo) ListPublic(ctx context.Context, page model.Pagination) ([]model.Room, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT `+roomSelectCols+` FROM rooms
		WHERE is_private = 0 ORDER BY name_lower ASC LIMIT ? OFFSET ?`, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("list public rooms: %w", err)
	}
	defer rows.Close()
	return collectRooms(rows)
}

func (r *RoomRepo) ListForUser(ctx context.Context, userID string) ([]model.Room, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT r.id, r.name, r.owner_id, r.description,
		r.is_private, r.max_members, r.created_at
		FROM rooms r JOIN memberships m ON m.room_id = r.id
		WHERE m.user_id = ? ORDER BY r.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list rooms for user: %w", err)
	}
	defer rows.Close()
	return collectRooms(rows)
}

func collectRooms(rows *sql.Rows) ([]model.Room, error) {
	var out []model.Room
	for rows.Next() {
		rm, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room row: %w", err)
		}
		out = append(out, rm)
	}
	return out, rows.Err()
}

func (r *RoomRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&n)
	return n, err
}

func (r *RoomRepo) NameExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms WHERE name_lower = ?`,
		strings.ToLower(name)).Scan(&n)
	return n > 0, err
}
