package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users() UserStore                 { return &userStore{db: s.db} }
func (s *PGStore) Organizations() OrganizationStore { return &orgStore{db: s.db} }
func (s *PGStore) Memberships() MembershipStore     { return &membershipStore{db: s.db} }
func (s *PGStore) RefreshTokens() RefreshTokenStore { return &refreshTokenStore{db: s.db} }

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, email, name, password_hash, global_role, created_at from users where id=$1`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, email, name, password_hash, global_role, created_at from users where email=$1`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.GlobalRole, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Organization store -------------------------------------------------------
type orgStore struct{ db *sql.DB }

func (s *orgStore) Find(ctx context.Context, id string) (*Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, created_by, created_at from organizations where id=$1`, id)
	var org Organization
	if err := row.Scan(&org.ID, &org.Name, &org.CreatedByID, &org.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &org, nil
}

// Membership store ---------------------------------------------------------
type membershipStore struct{ db *sql.DB }

func (s *membershipStore) Find(ctx context.Context, orgID, userID string) (*Membership, error) {
	row := s.db.QueryRowContext(ctx,
		`select organization_id, user_id, role, created_at from organization_members where organization_id=$1 and user_id=$2`,
		orgID, userID)
	var m Membership
	if err := row.Scan(&m.OrganizationID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// Refresh token store ------------------------------------------------------
type refreshTokenStore struct{ db *sql.DB }

const refreshTokenColumns = `id, user_id, device_info, ip_address, expires_at, created_at, last_used_at`

func (s *refreshTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, token_hash, device_info, ip_address, expires_at, created_at, last_used_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		tok.ID, tok.UserID, tok.TokenHash, tok.DeviceInfo, tok.IPAddress,
		tok.ExpiresAt, tok.CreatedAt, tok.LastUsedAt,
	)
	return err
}

func (s *refreshTokenStore) Touch(ctx context.Context, tokenHash string, now time.Time) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`update refresh_tokens set last_used_at=$2
		 where token_hash=$1 and revoked_at is null and expires_at > $2
		 returning `+refreshTokenColumns,
		tokenHash, now)
	return scanRefreshToken(row)
}

func (s *refreshTokenStore) Consume(ctx context.Context, tokenHash string, now time.Time) (*RefreshToken, error) {
	// Conditional flip of revoked_at: only one caller can win the row, which
	// closes the concurrent-rotation replay window.
	row := s.db.QueryRowContext(ctx,
		`update refresh_tokens set revoked_at=$2
		 where token_hash=$1 and revoked_at is null and expires_at > $2
		 returning `+refreshTokenColumns,
		tokenHash, now)
	return scanRefreshToken(row)
}

func (s *refreshTokenStore) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at=$2
		 where user_id=$1 and revoked_at is null and expires_at > $2`,
		userID, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *refreshTokenStore) RevokeOthersForUser(ctx context.Context, userID, keepHash string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at=$3
		 where user_id=$1 and token_hash<>$2 and revoked_at is null and expires_at > $3`,
		userID, keepHash, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *refreshTokenStore) ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+refreshTokenColumns+` from refresh_tokens
		 where user_id=$1 and revoked_at is null and expires_at > $2
		 order by last_used_at desc`,
		userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var rec RefreshToken
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.DeviceInfo, &rec.IPAddress,
			&rec.ExpiresAt, &rec.CreatedAt, &rec.LastUsedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, *sessionFromRecord(&rec))
	}
	return sessions, rows.Err()
}

func (s *refreshTokenStore) DeleteStale(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where expires_at <= $1 or (revoked_at is not null and revoked_at <= $2)`,
		now, now.Add(-retention))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRefreshToken(row *sql.Row) (*RefreshToken, error) {
	var rec RefreshToken
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.DeviceInfo, &rec.IPAddress,
		&rec.ExpiresAt, &rec.CreatedAt, &rec.LastUsedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}
