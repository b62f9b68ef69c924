package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memoryChain struct {
	subjectID string
	createdAt time.Time
	revokedAt time.Time
	tokens    []string
}

// MemoryStore is an in-process Store guarded by a single mutex. It is intended
// for tests, demos and single-instance deployments.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]Record
	children map[string]string
	chains   map[string]*memoryChain
	subjects map[string][]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]Record),
		children: make(map[string]string),
		chains:   make(map[string]*memoryChain),
		subjects: make(map[string][]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.TokenID]; exists {
		return ErrDuplicate
	}
	if _, exists := s.chains[rec.ChainID]; exists {
		return ErrDuplicate
	}

	rec.State = StateActive
	s.records[rec.TokenID] = rec
	s.chains[rec.ChainID] = &memoryChain{
		subjectID: rec.SubjectID,
		createdAt: rec.IssuedAt,
		tokens:    []string{rec.TokenID},
	}
	s.subjects[rec.SubjectID] = append(s.subjects[rec.SubjectID], rec.ChainID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, tokenID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[tokenID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Rotate(ctx context.Context, parentTokenID string, child Record, now time.Time) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.records[parentTokenID]
	if !ok {
		return Record{}, ErrNotFound
	}
	chain := s.chains[parent.ChainID]
	if chain == nil || !chain.revokedAt.IsZero() {
		return parent, fmt.Errorf("%w: chain revoked", ErrNotActive)
	}
	if parent.State != StateActive {
		return parent, fmt.Errorf("%w: state %s", ErrNotActive, parent.State)
	}
	if parent.Expired(now) {
		return parent, ErrExpired
	}
	if _, taken := s.children[parentTokenID]; taken {
		return parent, fmt.Errorf("%w: parent already has a child", ErrNotActive)
	}
	if _, exists := s.records[child.TokenID]; exists {
		return parent, ErrDuplicate
	}

	before := parent
	parent.State = StateRotated
	parent.ConsumedAt = now
	s.records[parentTokenID] = parent

	child.ParentTokenID = parentTokenID
	child.ChainID = parent.ChainID
	child.SubjectID = parent.SubjectID
	child.State = StateActive
	s.records[child.TokenID] = child
	s.children[parentTokenID] = child.TokenID
	chain.tokens = append(chain.tokens, child.TokenID)

	return before, nil
}

func (s *MemoryStore) RevokeChain(ctx context.Context, chainID string, now time.Time) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[chainID]
	if chain == nil {
		return nil, ErrNotFound
	}
	if chain.revokedAt.IsZero() {
		chain.revokedAt = now
	}

	out := make([]Record, 0, len(chain.tokens))
	for _, id := range chain.tokens {
		rec := s.records[id]
		if rec.State != StateRevoked {
			rec.State = StateRevoked
			rec.RevokedAt = now
			s.records[id] = rec
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *MemoryStore) Chain(ctx context.Context, chainID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[chainID]
	if chain == nil {
		return nil, ErrNotFound
	}
	out := make([]Record, 0, len(chain.tokens))
	for _, id := range chain.tokens {
		out = append(out, s.records[id])
	}
	return out, nil
}

func (s *MemoryStore) ChainsForSubject(ctx context.Context, subjectID string) ([]Chain, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.subjects[subjectID]
	out := make([]Chain, 0, len(ids))
	for _, chainID := range ids {
		chain := s.chains[chainID]
		if chain == nil || len(chain.tokens) == 0 {
			continue
		}
		out = append(out, Chain{
			ChainID:      chainID,
			SubjectID:    chain.subjectID,
			CreatedAt:    chain.createdAt,
			Revoked:      !chain.revokedAt.IsZero(),
			RevokedAt:    chain.revokedAt,
			Tip:          s.records[chain.tokens[len(chain.tokens)-1]],
			RecordsCount: len(chain.tokens),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Prune removes whole chains whose newest record expired before cutoff.
// Chains are pruned as a unit so that a surviving token never loses its lineage.
func (s *MemoryStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for chainID, chain := range s.chains {
		tip := s.records[chain.tokens[len(chain.tokens)-1]]
		if !tip.ExpiresAt.Before(cutoff) {
			continue
		}
		for _, id := range chain.tokens {
			delete(s.records, id)
			delete(s.children, id)
			removed++
		}
		delete(s.chains, chainID)
		s.subjects[chain.subjectID] = removeString(s.subjects[chain.subjectID], chainID)
		if len(s.subjects[chain.subjectID]) == 0 {
			delete(s.subjects, chain.subjectID)
		}
	}
	return removed, nil
}

func removeString(in []string, target string) []string {
	out := in[:0]
	for _, v := range in {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}
