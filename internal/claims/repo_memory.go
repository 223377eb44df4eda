package claims

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory claims backend for tests and local runs.
type MemoryRepo struct {
	mu     sync.Mutex
	claims map[string]Claim
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{claims: make(map[string]Claim)}
}

// Seed inserts a claim directly, bypassing validation. Tests only.
func (r *MemoryRepo) Seed(c Claim) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims[c.ClaimID] = copyClaim(c)
}

func (r *MemoryRepo) Get(ctx context.Context, claimID string) (Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.claims[claimID]
	if !ok {
		return Claim{}, ErrNotFound
	}
	return copyClaim(c), nil
}

func (r *MemoryRepo) Update(ctx context.Context, c Claim) (Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.claims[c.ClaimID]; !ok {
		return Claim{}, ErrNotFound
	}
	r.claims[c.ClaimID] = copyClaim(c)
	return copyClaim(c), nil
}

func copyClaim(c Claim) Claim {
	out := c
	out.Fields = make(map[string]string, len(c.Fields))
	for k, v := range c.Fields {
		out.Fields[k] = v
	}
	return out
}
