package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pantrychef/authcore/session"
)

const (
	defaultPrefix    = "ac"
	defaultRetention = 30 * 24 * time.Hour
	minKeyTTL        = time.Second
)

// Options configures key naming and retention for the Redis stores.
type Options struct {
	// Prefix namespaces every key. Defaults to "ac".
	Prefix string
	// Retention is how long records outlive their natural expiry before Redis
	// evicts them. Defaults to 30 days.
	Retention time.Duration
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = defaultPrefix
	}
	if o.Retention <= 0 {
		o.Retention = defaultRetention
	}
	return o
}

// SessionStore is a Redis-backed session.Store. Records are hashes, each chain
// keeps an ordered token list, and every state transition runs as a single Lua
// script so rotation and chain revocation never interleave.
//
// The scripts derive chain keys from record contents, so the store targets a
// single Redis primary (standalone or sentinel), not a sharded cluster.
type SessionStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewSessionStore creates a SessionStore on the given client.
func NewSessionStore(client redis.UniversalClient, opts Options) *SessionStore {
	opts = opts.withDefaults()
	return &SessionStore{redis: client, prefix: opts.Prefix, retention: opts.Retention}
}

func (s *SessionStore) recordKey(tokenID string) string {
	return s.prefix + ":rt:" + tokenID
}

func (s *SessionStore) chainKey(chainID string) string {
	return s.prefix + ":ch:" + chainID
}

func (s *SessionStore) listKey(chainID string) string {
	return s.prefix + ":cht:" + chainID
}

func (s *SessionStore) subjectKey(subjectID string) string {
	return s.prefix + ":sub:" + subjectID
}

// ttlFor returns how long a chain's keys should live when exp is its tip
// expiry, measured from now.
func (s *SessionStore) ttlFor(exp, now time.Time) int64 {
	ttl := exp.Sub(now) + s.retention
	if ttl < minKeyTTL {
		ttl = minKeyTTL
	}
	return ttl.Milliseconds()
}

// Create persists the root record of a new chain.
//
//	Performance: 1 Lua EVALSHA.
func (s *SessionStore) Create(ctx context.Context, rec session.Record) error {
	fields := []interface{}{
		"tid", rec.TokenID,
		"cid", rec.ChainID,
		"sub", rec.SubjectID,
		"parent", "",
		"state", string(session.StateActive),
	}
	fields = append(fields, issuanceFields(rec)...)

	args := []interface{}{
		rec.TokenID,
		rec.ChainID,
		rec.SubjectID,
		msString(rec.IssuedAt),
		s.ttlFor(rec.ExpiresAt, rec.IssuedAt),
	}
	args = append(args, fields...)

	created, err := createChainLua.Run(
		ctx,
		s.redis,
		[]string{s.recordKey(rec.TokenID), s.chainKey(rec.ChainID), s.listKey(rec.ChainID), s.subjectKey(rec.SubjectID)},
		args...,
	).Int64()
	if err != nil {
		return unavailable(err)
	}
	if created == 0 {
		return session.ErrDuplicate
	}
	return nil
}

// Get returns the record for tokenID.
func (s *SessionStore) Get(ctx context.Context, tokenID string) (session.Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.recordKey(tokenID)).Result()
	if err != nil {
		return session.Record{}, unavailable(err)
	}
	if len(fields) == 0 {
		return session.Record{}, session.ErrNotFound
	}
	return recordFromHash(fields)
}

// Rotate runs the conditional ACTIVE to ROTATED transition and child insert as
// one script.
//
//	Performance: 1 Lua EVALSHA.
//	Security: the script is the only writer of the ACTIVE state, so at most one
//	caller per parent observes rotateStatusRotated.
func (s *SessionStore) Rotate(ctx context.Context, parentTokenID string, child session.Record, now time.Time) (session.Record, error) {
	args := []interface{}{
		s.prefix,
		parentTokenID,
		child.TokenID,
		msString(now),
		s.ttlFor(child.ExpiresAt, now),
	}
	args = append(args, issuanceFields(child)...)

	result, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.recordKey(parentTokenID), s.recordKey(child.TokenID)},
		args...,
	).Result()
	if err != nil {
		return session.Record{}, unavailable(err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return session.Record{}, fmt.Errorf("%w: invalid rotate script response", session.ErrUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return session.Record{}, fmt.Errorf("%w: invalid rotate script status", session.ErrUnavailable)
	}
	if code == rotateStatusNotFound {
		return session.Record{}, session.ErrNotFound
	}
	if len(parts) < 2 {
		return session.Record{}, fmt.Errorf("%w: missing parent payload", session.ErrUnavailable)
	}
	parent, err := recordFromReply(parts[1])
	if err != nil {
		return session.Record{}, err
	}

	switch code {
	case rotateStatusRotated:
		return parent, nil
	case rotateStatusNotActive:
		return parent, fmt.Errorf("%w: state %s", session.ErrNotActive, parent.State)
	case rotateStatusExpired:
		return parent, session.ErrExpired
	case rotateStatusDuplicate:
		return parent, session.ErrDuplicate
	default:
		return session.Record{}, fmt.Errorf("%w: unknown rotate script status %d", session.ErrUnavailable, code)
	}
}

// RevokeChain marks every record of chainID REVOKED.
func (s *SessionStore) RevokeChain(ctx context.Context, chainID string, now time.Time) ([]session.Record, error) {
	result, err := revokeChainLua.Run(
		ctx,
		s.redis,
		[]string{s.chainKey(chainID), s.listKey(chainID)},
		s.prefix,
		msString(now),
	).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid revoke script response", session.ErrUnavailable)
	}
	if code, _ := parts[0].(int64); code == 0 {
		return nil, session.ErrNotFound
	}

	out := make([]session.Record, 0, len(parts)-1)
	for _, raw := range parts[1:] {
		rec, err := recordFromReply(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Chain returns the records of chainID in issuance order.
//
//	Performance: 1 LRANGE plus one pipelined HGETALL per record.
func (s *SessionStore) Chain(ctx context.Context, chainID string) ([]session.Record, error) {
	ids, err := s.redis.LRange(ctx, s.listKey(chainID), 0, -1).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(ids) == 0 {
		return nil, session.ErrNotFound
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.recordKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable(err)
	}

	out := make([]session.Record, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := recordFromHash(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ChainsForSubject lists the chains indexed under subjectID. Index entries
// whose chain has been evicted are removed as a side effect.
func (s *SessionStore) ChainsForSubject(ctx context.Context, subjectID string) ([]session.Chain, error) {
	subjectKey := s.subjectKey(subjectID)
	chainIDs, err := s.redis.SMembers(ctx, subjectKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []session.Chain{}, nil
		}
		return nil, unavailable(err)
	}
	if len(chainIDs) == 0 {
		return []session.Chain{}, nil
	}

	pipe := s.redis.Pipeline()
	metaCmds := make([]*redis.MapStringStringCmd, len(chainIDs))
	lenCmds := make([]*redis.IntCmd, len(chainIDs))
	for i, id := range chainIDs {
		metaCmds[i] = pipe.HGetAll(ctx, s.chainKey(id))
		lenCmds[i] = pipe.LLen(ctx, s.listKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable(err)
	}

	chains := make([]session.Chain, 0, len(chainIDs))
	var stale []interface{}
	tipPipe := s.redis.Pipeline()
	tipCmds := make([]*redis.MapStringStringCmd, 0, len(chainIDs))
	for i, id := range chainIDs {
		meta := metaCmds[i].Val()
		if len(meta) == 0 {
			stale = append(stale, id)
			continue
		}
		revokedAt := parseMs(meta["revoked"])
		chains = append(chains, session.Chain{
			ChainID:      id,
			SubjectID:    meta["sub"],
			CreatedAt:    parseMs(meta["created"]),
			Revoked:      !revokedAt.IsZero(),
			RevokedAt:    revokedAt,
			RecordsCount: int(lenCmds[i].Val()),
		})
		tipCmds = append(tipCmds, tipPipe.HGetAll(ctx, s.recordKey(meta["tip"])))
	}

	if len(tipCmds) > 0 {
		if _, err := tipPipe.Exec(ctx); err != nil {
			return nil, unavailable(err)
		}
		for i, cmd := range tipCmds {
			fields := cmd.Val()
			if len(fields) == 0 {
				continue
			}
			tip, err := recordFromHash(fields)
			if err != nil {
				return nil, err
			}
			chains[i].Tip = tip
		}
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, subjectKey, stale...).Err(); err != nil {
			return nil, unavailable(err)
		}
	}

	sort.Slice(chains, func(i, j int) bool { return chains[i].CreatedAt.Before(chains[j].CreatedAt) })
	return chains, nil
}

// Prune is a no-op: every key already carries a TTL of expiry plus retention.
func (s *SessionStore) Prune(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// Ping reports Redis availability and round-trip latency.
func (s *SessionStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), unavailable(err)
	}
	return time.Since(start), nil
}

func issuanceFields(rec session.Record) []interface{} {
	return []interface{}{
		"iat", msString(rec.IssuedAt),
		"exp", msString(rec.ExpiresAt),
		"ajti", rec.AccessTokenID,
		"aexp", msString(rec.AccessExpiresAt),
		"ip", rec.Client.IP,
		"ua", rec.Client.UserAgent,
	}
}

func recordFromReply(raw interface{}) (session.Record, error) {
	flat, ok := raw.([]interface{})
	if !ok || len(flat)%2 != 0 {
		return session.Record{}, fmt.Errorf("%w: invalid record payload", session.ErrUnavailable)
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}
	return recordFromHash(fields)
}

func recordFromHash(fields map[string]string) (session.Record, error) {
	state := session.State(fields["state"])
	if fields["tid"] == "" || !state.Valid() {
		return session.Record{}, fmt.Errorf("%w: corrupt record", session.ErrUnavailable)
	}
	return session.Record{
		TokenID:         fields["tid"],
		ChainID:         fields["cid"],
		SubjectID:       fields["sub"],
		ParentTokenID:   fields["parent"],
		IssuedAt:        parseMs(fields["iat"]),
		ExpiresAt:       parseMs(fields["exp"]),
		State:           state,
		AccessTokenID:   fields["ajti"],
		AccessExpiresAt: parseMs(fields["aexp"]),
		Client: session.ClientContext{
			IP:        fields["ip"],
			UserAgent: fields["ua"],
		},
		ConsumedAt: parseMs(fields["consumed"]),
		RevokedAt:  parseMs(fields["revoked"]),
	}, nil
}

func msString(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMs(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", session.ErrUnavailable, err)
}
