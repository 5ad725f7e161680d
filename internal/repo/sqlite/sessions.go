package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lair-chat/internal/model"
	"lair-chat/internal/repo"
)

// SessionRepo implements repo.SessionRepository over a Store.
type SessionRepo struct{ s *Store }

// NewSessionRepo constructs a SessionRepo backed by s.
func NewSessionRepo(s *Store) *SessionRepo { return &SessionRepo{s: s} }

func (r *SessionRepo) Create(ctx context.Context, sess model.Session) (model.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	sess.CreatedAt = time.Now().UTC()
	if sess.LastActivityAt.IsZero() {
		sess.LastActivityAt = sess.CreatedAt
	}
	sess.IsActive = true

	metaJSON, err := json.Marshal(sess.ClientMeta)
	if err != nil {
		return model.Session{}, fmt.Errorf("marshal client metadata: %w", err)
	}

	_, err = r.s.db.ExecContext(ctx, `INSERT INTO sessions(id, user_id, token, created_at,
		expires_at, last_activity_at, metadata_json, is_active) VALUES (?,?,?,?,?,?,?,1)`,
		sess.ID, sess.UserID, sess.Token, sess.CreatedAt.Unix(), sess.ExpiresAt.Unix(),
		sess.LastActivityAt.Unix(), string(metaJSON),
	)
	if err != nil {
		return model.Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func scanSession(row rowScanner) (model.Session, error) {
	var s model.Session
	var metaJSON string
	var createdAt, expiresAt, lastActivity int64
	var isActive int

	if err := row.Scan(&s.ID, &s.UserID, &s.Token, &createdAt, &expiresAt, &lastActivity,
		&metaJSON, &isActive); err != nil {
		return model.Session{}, err
	}
	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	s.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	s.LastActivityAt = time.Unix(lastActivity, 0).UTC()
	s.IsActive = isActive != 0
	if metaJSON != "" {
		json.Unmarshal([]byte(metaJSON), &s.ClientMeta)
	}
	return s, nil
}

const sessionSelectCols = `id, user_id, token, created_at, expires_at, last_activity_at, metadata_json, is_active`

// Get resolves idOrToken as either the session id or its token, since
// transport code typically holds the token while admin/cleanup code
// holds the id.
func (r *SessionRepo) Get(ctx context.Context, idOrToken string) (model.Session, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT `+sessionSelectCols+` FROM sessions
		WHERE id = ? OR token = ? LIMIT 1`, idOrToken, idOrToken)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return model.Session{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("scan session: %w", err)
	}
	return s, nil
}

func (r *SessionRepo) UpdateActivity(ctx context.Context, id string) error {
	res, err := r.s.db.ExecContext(ctx, `UPDATE sessions SET last_activity_at = ? WHERE id = ?`,
		time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("update activity: %w", err)
	}
	return mustAffect(res)
}

// Deactivate is irreversible for the affected record (spec.md §3).
func (r *SessionRepo) Deactivate(ctx context.Context, id string) error {
	res, err := r.s.db.ExecContext(ctx, `UPDATE sessions SET is_active = 0 WHERE id = ? AND is_active = 1`, id)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return mustAffect(res)
}

func (r *SessionRepo) DeactivateUserSessions(ctx context.Context, userID string) error {
	_, err := r.s.db.ExecContext(ctx, `UPDATE sessions SET is_active = 0 WHERE user_id = ? AND is_active = 1`,
		userID)
	if err != nil {
		return fmt.Errorf("deactivate user sessions: %w", err)
	}
	return nil
}

func (r *SessionRepo) DeactivateUserSessionsExcept(ctx context.Context, userID, exceptSessionID string) error {
	_, err := r.s.db.ExecContext(ctx, `UPDATE sessions SET is_active = 0
		WHERE user_id = ? AND id != ? AND is_active = 1`, userID, exceptSessionID)
	if err != nil {
		return fmt.Errorf("deactivate user sessions except: %w", err)
	}
	return nil
}

func (r *SessionRepo) ListActiveForUser(ctx context.Context, userID string) ([]model.Session, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT `+sessionSelectCols+` FROM sessions
		WHERE user_id = ? AND is_active = 1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SessionRepo) CountForUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE user_id = ?`,
		userID).Scan(&n)
	return n, err
}

func (r *SessionRepo) Statistics(ctx context.Context) (repo.SessionStats, error) {
	var stats repo.SessionStats
	if err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&stats.TotalCount); err != nil {
		return repo.SessionStats{}, fmt.Errorf("count total sessions: %w", err)
	}
	if err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE is_active = 1`).
		Scan(&stats.ActiveCount); err != nil {
		return repo.SessionStats{}, fmt.Errorf("count active sessions: %w", err)
	}
	return stats, nil
}

func (r *SessionRepo) ExpireOld(ctx context.Context) (int64, error) {
	res, err := r.s.db.ExecContext(ctx, `UPDATE sessions SET is_active = 0
		WHERE is_active = 1 AND expires_at <= ?`, time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("expire old sessions: %w", err)
	}
	return res.RowsAffected()
}
