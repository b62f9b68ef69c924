package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pantrychef/authcore/session"
)

const recordColumns = `token_id, chain_id, subject_id, parent_token_id, state, issued_at, expires_at,
		access_token_id, access_expires_at, client_ip, user_agent, consumed_at, revoked_at`

// SessionStore is a PostgreSQL-backed session.Store. Rotation and chain
// revocation both lock the session_chains row, so they serialize per chain.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore returns a SessionStore on db. Run [Migrate] first.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Create(ctx context.Context, rec session.Record) error {
	err := withTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_chains (chain_id, subject_id, created_at)
			VALUES ($1, $2, $3)
		`, rec.ChainID, rec.SubjectID, rec.IssuedAt); err != nil {
			return err
		}
		rec.ParentTokenID = ""
		rec.State = session.StateActive
		return insertRecord(ctx, tx, rec)
	})
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return session.ErrDuplicate
		}
		return unavailable(err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, tokenID string) (session.Record, error) {
	rec, err := getRecord(ctx, s.db, tokenID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Record{}, session.ErrNotFound
		}
		return session.Record{}, unavailable(err)
	}
	return rec, nil
}

// Rotate locks the parent's chain row, checks the chain and parent, then runs
// the conditional ACTIVE to ROTATED update and inserts the child. The UNIQUE
// constraint on parent_token_id backs the conditional update.
func (s *SessionStore) Rotate(ctx context.Context, parentTokenID string, child session.Record, now time.Time) (session.Record, error) {
	var before session.Record
	err := withTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		parent, err := getRecord(ctx, tx, parentTokenID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return session.ErrNotFound
			}
			return err
		}
		before = parent

		var revokedAt sql.NullTime
		err = tx.QueryRowContext(ctx, `
			SELECT revoked_at
			FROM session_chains
			WHERE chain_id = $1
			FOR UPDATE
		`, parent.ChainID).Scan(&revokedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: chain missing", session.ErrNotActive)
			}
			return err
		}
		if revokedAt.Valid {
			return fmt.Errorf("%w: chain revoked", session.ErrNotActive)
		}
		if parent.State != session.StateActive {
			return fmt.Errorf("%w: state %s", session.ErrNotActive, parent.State)
		}
		if parent.Expired(now) {
			return session.ErrExpired
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE refresh_tokens
			SET state = 'ROTATED', consumed_at = $2
			WHERE token_id = $1 AND state = 'ACTIVE'
		`, parentTokenID, now)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("%w: lost conditional update", session.ErrNotActive)
		}

		child.ParentTokenID = parentTokenID
		child.ChainID = parent.ChainID
		child.SubjectID = parent.SubjectID
		child.State = session.StateActive
		if err := insertRecord(ctx, tx, child); err != nil {
			if pgErr, ok := isUniqueViolation(err); ok {
				if strings.Contains(pgErr.ConstraintName, "parent_token_id") {
					return fmt.Errorf("%w: parent already has a child", session.ErrNotActive)
				}
				return session.ErrDuplicate
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return session.Record{}, err
		}
		if isLogical(err) {
			return before, err
		}
		return session.Record{}, unavailable(err)
	}
	return before, nil
}

func (s *SessionStore) RevokeChain(ctx context.Context, chainID string, now time.Time) ([]session.Record, error) {
	var out []session.Record
	err := withTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		var revokedAt sql.NullTime
		err := tx.QueryRowContext(ctx, `
			SELECT revoked_at
			FROM session_chains
			WHERE chain_id = $1
			FOR UPDATE
		`, chainID).Scan(&revokedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return session.ErrNotFound
			}
			return err
		}
		if !revokedAt.Valid {
			if _, err := tx.ExecContext(ctx, `
				UPDATE session_chains
				SET revoked_at = $2
				WHERE chain_id = $1
			`, chainID, now); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE refresh_tokens
			SET state = 'REVOKED', revoked_at = $2
			WHERE chain_id = $1 AND state <> 'REVOKED'
		`, chainID, now); err != nil {
			return err
		}
		out, err = chainRecords(ctx, tx, chainID)
		return err
	})
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *SessionStore) Chain(ctx context.Context, chainID string) ([]session.Record, error) {
	out, err := chainRecords(ctx, s.db, chainID)
	if err != nil {
		return nil, unavailable(err)
	}
	if len(out) == 0 {
		return nil, session.ErrNotFound
	}
	return out, nil
}

func (s *SessionStore) ChainsForSubject(ctx context.Context, subjectID string) ([]session.Chain, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chain_id, c.created_at, c.revoked_at,
		       (SELECT COUNT(*) FROM refresh_tokens n WHERE n.chain_id = c.chain_id),
		       t.token_id, t.chain_id, t.subject_id, t.parent_token_id, t.state, t.issued_at, t.expires_at,
		       t.access_token_id, t.access_expires_at, t.client_ip, t.user_agent, t.consumed_at, t.revoked_at
		FROM session_chains c
		JOIN LATERAL (
			SELECT * FROM refresh_tokens r
			WHERE r.chain_id = c.chain_id
			ORDER BY r.seq DESC
			LIMIT 1
		) t ON true
		WHERE c.subject_id = $1
		ORDER BY c.created_at
	`, subjectID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	chains := make([]session.Chain, 0)
	for rows.Next() {
		var (
			c         session.Chain
			revokedAt sql.NullTime
			count     int
		)
		tip, err := scanRecord(rows, &c.ChainID, &c.CreatedAt, &revokedAt, &count)
		if err != nil {
			return nil, unavailable(err)
		}
		c.SubjectID = subjectID
		c.Revoked = revokedAt.Valid
		c.RevokedAt = revokedAt.Time
		c.RecordsCount = count
		c.Tip = tip
		chains = append(chains, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return chains, nil
}

// Prune deletes chains none of whose records expire at or after cutoff.
// It reports the number of refresh-token rows removed.
func (s *SessionStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := withTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM refresh_tokens
			WHERE chain_id IN (
				SELECT c.chain_id FROM session_chains c
				WHERE NOT EXISTS (
					SELECT 1 FROM refresh_tokens r
					WHERE r.chain_id = c.chain_id AND r.expires_at >= $1
				)
			)
		`, cutoff)
		if err != nil {
			return err
		}
		if removed, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM session_chains c
			WHERE NOT EXISTS (SELECT 1 FROM refresh_tokens r WHERE r.chain_id = c.chain_id)
		`)
		return err
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return removed, nil
}

// Ping reports database availability and round-trip latency.
func (s *SessionStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.db.PingContext(ctx); err != nil {
		return time.Since(start), unavailable(err)
	}
	return time.Since(start), nil
}

func insertRecord(ctx context.Context, tx DBTX, rec session.Record) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token_id, chain_id, subject_id, parent_token_id, state, issued_at, expires_at,
			access_token_id, access_expires_at, client_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rec.TokenID,
		rec.ChainID,
		rec.SubjectID,
		nullString(rec.ParentTokenID),
		string(rec.State),
		rec.IssuedAt,
		rec.ExpiresAt,
		rec.AccessTokenID,
		rec.AccessExpiresAt,
		rec.Client.IP,
		rec.Client.UserAgent,
	)
	return err
}

func getRecord(ctx context.Context, db DBTX, tokenID string) (session.Record, error) {
	return scanRecord(db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM refresh_tokens WHERE token_id = $1`, tokenID))
}

func chainRecords(ctx context.Context, db DBTX, chainID string) ([]session.Record, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+recordColumns+` FROM refresh_tokens WHERE chain_id = $1 ORDER BY seq`, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans recordColumns after any leading destinations.
func scanRecord(row rowScanner, leading ...any) (session.Record, error) {
	var (
		rec        session.Record
		parent     sql.NullString
		state      string
		consumedAt sql.NullTime
		revokedAt  sql.NullTime
	)
	dest := append(leading,
		&rec.TokenID,
		&rec.ChainID,
		&rec.SubjectID,
		&parent,
		&state,
		&rec.IssuedAt,
		&rec.ExpiresAt,
		&rec.AccessTokenID,
		&rec.AccessExpiresAt,
		&rec.Client.IP,
		&rec.Client.UserAgent,
		&consumedAt,
		&revokedAt,
	)
	if err := row.Scan(dest...); err != nil {
		return session.Record{}, err
	}
	rec.ParentTokenID = parent.String
	rec.State = session.State(state)
	if !rec.State.Valid() {
		return session.Record{}, fmt.Errorf("unknown record state %q", state)
	}
	rec.ConsumedAt = consumedAt.Time
	rec.RevokedAt = revokedAt.Time
	return rec, nil
}

func isLogical(err error) bool {
	return errors.Is(err, session.ErrNotActive) ||
		errors.Is(err, session.ErrExpired) ||
		errors.Is(err, session.ErrDuplicate)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", session.ErrUnavailable, err)
}
