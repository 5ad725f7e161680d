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

// MessageRepo implements repo.MessageRepository over a Store.
type MessageRepo struct{ s *Store }

// NewMessageRepo constructs a MessageRepo backed by s.
func NewMessageRepo(s *Store) *MessageRepo { return &MessageRepo{s: s} }

func (r *MessageRepo) Create(ctx context.Context, msg model.Message) (model.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	msg.CreatedAt, msg.UpdatedAt = now, now

	targetType, targetID := targetColumns(msg.Target)
	_, err := r.s.db.ExecContext(ctx, `INSERT INTO messages(id, author_id, target_type, target_id,
		content, is_edited, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		msg.ID, msg.AuthorUserID, targetType, targetID, msg.Content, boolToInt(msg.IsEdited),
		now.Unix(), now.Unix(),
	)
	if err != nil {
		return model.Message{}, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

func targetColumns(t model.MessageTarget) (string, string) {
	if t.Kind == model.TargetDirectMessage {
		return string(model.TargetDirectMessage), t.RecipientID
	}
	return string(model.TargetRoom), t.RoomID
}

func scanMessage(row rowScanner) (model.Message, error) {
	var m model.Message
	var targetType, targetID string
	var isEdited int
	var createdAt, updatedAt int64

	if err := row.Scan(&m.ID, &m.AuthorUserID, &targetType, &targetID, &m.Content, &isEdited,
		&createdAt, &updatedAt); err != nil {
		return model.Message{}, err
	}
	if targetType == string(model.TargetDirectMessage) {
		m.Target = model.DMTarget(targetID)
	} else {
		m.Target = model.RoomTarget(targetID)
	}
	m.IsEdited = isEdited != 0
	m.CreatedAt = time.Unix(createdAt, 0).UTC()
	m.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return m, nil
}

const messageSelectCols = `id, author_id, target_type, target_id, content, is_edited, created_at, updated_at`

func (r *MessageRepo) FindByID(ctx context.Context, id string) (model.Message, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT `+messageSelectCols+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return model.Message{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("scan message: %w", err)
	}
	return m, nil
}

// Update sets content and is_edited=true (spec.md §3: "editing sets
// is_edited = true and updates updated_at"); created_at never changes.
func (r *MessageRepo) Update(ctx context.Context, msg model.Message) error {
	res, err := r.s.db.ExecContext(ctx, `UPDATE messages SET content = ?, is_edited = 1,
		updated_at = ? WHERE id = ?`, msg.Content, time.Now().UTC().Unix(), msg.ID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return mustAffect(res)
}

func (r *MessageRepo) Delete(ctx context.Context, id string) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return mustAffect(res)
}

// FindByTarget holds the by-target filtering query, and FindByRoom is a
// thin wrapper around it (spec.md §9, Open Question 3). FindDirectMessages,
// CountByTarget and GetLatestInRoom run their own queries.
func (r *MessageRepo) FindByTarget(ctx context.Context, target model.MessageTarget, page model.Pagination) ([]model.Message, error) {
	targetType, targetID := targetColumns(target)
	rows, err := r.s.db.QueryContext(ctx, `SELECT `+messageSelectCols+` FROM messages
		WHERE target_type = ? AND target_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		targetType, targetID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("find by target: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// FindByRoom delegates to FindByTarget with a room-addressed target.
func (r *MessageRepo) FindByRoom(ctx context.Context, roomID string, page model.Pagination) ([]model.Message, error) {
	return r.FindByTarget(ctx, model.RoomTarget(roomID), page)
}

// FindDirectMessages returns the DM history between u1 and u2 regardless
// of which of them is the recorded recipient (spec.md §4.5:
// "unordered pair").
func (r *MessageRepo) FindDirectMessages(ctx context.Context, u1, u2 string, page model.Pagination) ([]model.Message, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT `+messageSelectCols+` FROM messages
		WHERE target_type = 'dm' AND (
			(author_id = ? AND target_id = ?) OR (author_id = ? AND target_id = ?)
		) ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		u1, u2, u2, u1, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("find direct messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]model.Message, error) {
	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MessageRepo) CountByTarget(ctx context.Context, target model.MessageTarget) (int64, error) {
	targetType, targetID := targetColumns(target)
	var n int64
	err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages
		WHERE target_type = ? AND target_id = ?`, targetType, targetID).Scan(&n)
	return n, err
}

func (r *MessageRepo) GetLatestInRoom(ctx context.Context, roomID string) (model.Message, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT `+messageSelectCols+` FROM messages
		WHERE target_type = 'room' AND target_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, roomID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return model.Message{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("scan latest message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) DeleteByRoom(ctx context.Context, roomID string) error {
	_, err := r.s.db.ExecContext(ctx, `DELETE FROM messages WHERE target_type = 'room' AND target_id = ?`,
		roomID)
	if err != nil {
		return fmt.Errorf("delete messages by room: %w", err)
	}
	return nil
}

func (r *MessageRepo) DeleteByAuthor(ctx context.Context, authorID string) error {
	_, err := r.s.db.ExecContext(ctx, `DELETE FROM messages WHERE author_id = ?`, authorID)
	if err != nil {
		return fmt.Errorf("delete messages by author: %w", err)
	}
	return nil
}
