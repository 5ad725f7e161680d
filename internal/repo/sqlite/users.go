package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"lair-chat/internal/crypto"
	"lair-chat/internal/model"
	"lair-chat/internal/repo"
)

// UserRepo implements repo.UserRepository over a Store.
type UserRepo struct {
	s     *Store
	argon crypto.Argon2Params
}

// NewUserRepo constructs a UserRepo backed by s. argon must be the same
// deployment-configured parameters HashPassword was called with at
// registration time (cmd/server builds both from cfg.Security.Argon2:
// main.go for this repo, newAuthHandler for HashPassword) -- VerifyPassword re-derives a hash with these
// parameters and compares it to what's stored, so a mismatch here fails
// every login for a deployment that overrides the Argon2 defaults.
func NewUserRepo(s *Store, argon crypto.Argon2Params) *UserRepo {
	return &UserRepo{s: s, argon: argon}
}

func (r *UserRepo) Create(ctx context.Context, user model.User, passwordHash, salt string) (model.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	if !user.IsActive {
		user.IsActive = true
	}

	profileJSON, err := json.Marshal(user.Profile)
	if err != nil {
		return model.User{}, fmt.Errorf("marshal profile: %w", err)
	}
	settingsJSON, err := json.Marshal(user.Settings)
	if err != nil {
		return model.User{}, fmt.Errorf("marshal settings: %w", err)
	}

	var emailLower, email sql.NullString
	if user.Email != "" {
		email = sql.NullString{String: user.Email, Valid: true}
		emailLower = sql.NullString{String: strings.ToLower(user.Email), Valid: true}
	}

	_, err = r.s.db.ExecContext(ctx, `
		INSERT INTO users(id, username, username_lower, email, email_lower, password_hash, salt,
			role, created_at, updated_at, is_active, profile_json, settings_json)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		user.ID, user.Username, strings.ToLower(user.Username), email, emailLower,
		passwordHash, salt, string(user.Role), now.Unix(), now.Unix(), boolToInt(user.IsActive),
		string(profileJSON), string(settingsJSON),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, repo.ErrUserExists
		}
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}

	user.PasswordHash, user.Salt = passwordHash, salt
	return user, nil
}

func (r *UserRepo) FindByID(ctx context.Context, id string) (model.User, error) {
	return r.scanOne(ctx, `SELECT id, username, email, password_hash, salt, role, created_at,
		updated_at, last_seen_at, is_active, profile_json, settings_json FROM users WHERE id = ?`, id)
}

func (r *UserRepo) FindByUsername(ctx context.Context, username string) (model.User, error) {
	return r.scanOne(ctx, `SELECT id, username, email, password_hash, salt, role, created_at,
		updated_at, last_seen_at, is_active, profile_json, settings_json FROM users WHERE username_lower = ?`,
		strings.ToLower(username))
}

func (r *UserRepo) scanOne(ctx context.Context, query string, arg any) (model.User, error) {
	row := r.s.db.QueryRowContext(ctx, query, arg)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return model.User{}, repo.ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var u model.User
	var email, profileJSON, settingsJSON sql.NullString
	var lastSeen sql.NullInt64
	var role string
	var createdAt, updatedAt int64
	var isActive int

	if err := row.Scan(&u.ID, &u.Username, &email, &u.PasswordHash, &u.Salt, &role,
		&createdAt, &updatedAt, &lastSeen, &isActive, &profileJSON, &settingsJSON); err != nil {
		return model.User{}, err
	}

	u.Email = email.String
	u.Role = model.Role(role)
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	u.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	u.IsActive = isActive != 0
	if lastSeen.Valid {
		t := time.Unix(lastSeen.Int64, 0).UTC()
		u.LastSeenAt = &t
	}
	if profileJSON.String != "" {
		json.Unmarshal([]byte(profileJSON.String), &u.Profile)
	}
	if settingsJSON.String != "" {
		json.Unmarshal([]byte(settingsJSON.String), &u.Settings)
	}
	return u, nil
}

func (r *UserRepo) List(ctx context.Context, page model.Pagination) ([]model.User, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT id, username, email, password_hash, salt, role,
		created_at, updated_at, last_seen_at, is_active, profile_json, settings_json
		FROM users ORDER BY created_at DESC LIMIT ? OFFSET ?`, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *UserRepo) Update(ctx context.Context, user model.User) error {
	profileJSON, err := json.Marshal(user.Profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	settingsJSON, err := json.Marshal(user.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	var email, emailLower sql.NullString
	if user.Email != "" {
		email = sql.NullString{String: user.Email, Valid: true}
		emailLower = sql.NullString{String: strings.ToLower(user.Email), Valid: true}
	}
	var lastSeen sql.NullInt64
	if user.LastSeenAt != nil {
		lastSeen = sql.NullInt64{Int64: user.LastSeenAt.Unix(), Valid: true}
	}

	res, err := r.s.db.ExecContext(ctx, `UPDATE users SET username=?, username_lower=?, email=?,
		email_lower=?, role=?, updated_at=?, last_seen_at=?, is_active=?, profile_json=?, settings_json=?
		WHERE id=?`,
		user.Username, strings.ToLower(user.Username), email, emailLower, string(user.Role),
		time.Now().UTC().Unix(), lastSeen, boolToInt(user.IsActive), string(profileJSON),
		string(settingsJSON), user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repo.ErrUserExists
		}
		return fmt.Errorf("update user: %w", err)
	}
	return mustAffect(res)
}

// Delete removes the user and cascades to Session, Membership, Message
// (authored by user), and Invitation (as inviter or invitee) per spec.md
// §3's delete invariant.
func (r *UserRepo) Delete(ctx context.Context, id string) error {
	return r.s.txFunc(ctx, func(tx *sql.Tx) error {
		stmts := []struct {
			query string
			args  []any
		}{
			{`DELETE FROM sessions WHERE user_id = ?`, []any{id}},
			{`DELETE FROM memberships WHERE user_id = ?`, []any{id}},
			{`DELETE FROM messages WHERE author_id = ?`, []any{id}},
			{`DELETE FROM invitations WHERE inviter_id = ? OR invitee_id = ?`, []any{id, id}},
			{`DELETE FROM users WHERE id = ?`, []any{id}},
		}
		for _, st := range stmts {
			if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
				return fmt.Errorf("cascade delete user: %w", err)
			}
		}
		return nil
	})
}

// VerifyPassword resolves usernameOrID to a stored user and runs a
// constant-time Argon2id comparison (spec.md §4.4: "constant-time
// password verification"). usernameOrID is tried as a username first,
// then as a raw user id, so callers need not know which form they hold.
func (r *UserRepo) VerifyPassword(ctx context.Context, usernameOrID, password string) (bool, error) {
	u, err := r.FindByUsername(ctx, usernameOrID)
	if err == repo.ErrNotFound {
		u, err = r.FindByID(ctx, usernameOrID)
	}
	if err != nil {
		return false, err
	}
	return crypto.VerifyPassword(password, u.PasswordHash, u.Salt, r.argon)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
