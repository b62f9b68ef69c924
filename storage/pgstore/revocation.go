package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pantrychef/authcore/revocation"
)

// RevocationStore is a PostgreSQL-backed revocation.Store over the
// revoked_tokens table.
type RevocationStore struct {
	db DBTX
}

// NewRevocationStore returns a RevocationStore on db.
func NewRevocationStore(db DBTX) *RevocationStore {
	return &RevocationStore{db: db}
}

// Revoke inserts every entry in one statement. Existing ids keep their
// original entry.
func (s *RevocationStore) Revoke(ctx context.Context, entries ...revocation.Entry) error {
	var (
		values []string
		args   []any
	)
	for _, e := range entries {
		if e.TokenID == "" {
			continue
		}
		n := len(args)
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4))
		args = append(args, e.TokenID, e.RevokedAt, string(e.Reason), nullTime(e.ExpiresAt))
	}
	if len(values) == 0 {
		return nil
	}

	query := `
		INSERT INTO revoked_tokens (token_id, revoked_at, reason, expires_at)
		VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (token_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %v", revocation.ErrUnavailable, err)
	}
	return nil
}

func (s *RevocationStore) IsRevoked(ctx context.Context, ids ...string) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	var revoked bool
	query := `SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE token_id IN (` + strings.Join(placeholders, ", ") + `))`
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&revoked); err != nil {
		return false, fmt.Errorf("%w: %v", revocation.ErrUnavailable, err)
	}
	return revoked, nil
}

func (s *RevocationStore) Get(ctx context.Context, id string) (revocation.Entry, error) {
	var (
		e         revocation.Entry
		reason    string
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT token_id, revoked_at, reason, expires_at
		FROM revoked_tokens
		WHERE token_id = $1
	`, id).Scan(&e.TokenID, &e.RevokedAt, &reason, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return revocation.Entry{}, revocation.ErrNotFound
		}
		return revocation.Entry{}, fmt.Errorf("%w: %v", revocation.ErrUnavailable, err)
	}
	e.Reason = revocation.Reason(reason)
	e.ExpiresAt = expiresAt.Time
	return e, nil
}

// Prune deletes entries whose credential expired before cutoff. Entries
// without an expiry are kept.
func (s *RevocationStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM revoked_tokens
		WHERE expires_at IS NOT NULL AND expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", revocation.ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", revocation.ErrUnavailable, err)
	}
	return n, nil
}
