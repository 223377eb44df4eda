package claims

import (
	"context"
	"errors"
	"regexp"
)

// Claim is the structured record the agent reads and fills during a call.
// Field contents are business configuration; the core only enforces shape.
type Claim struct {
	ClaimID string            `json:"claim_id"`
	Status  string            `json:"status"`
	Fields  map[string]string `json:"fields,omitempty"`
}

var (
	ErrNotFound        = errors.New("claims: not found")
	ErrInvalidClaimID  = errors.New("claims: invalid claim id")
	ErrInvalidStatus   = errors.New("claims: invalid status")
	ErrInvalidArgument = errors.New("claims: invalid argument")
)

// claimIDPattern is the canonical claim-number shape (CLM- followed by six digits).
var claimIDPattern = regexp.MustCompile(`^CLM-\d{6}$`)

// ValidClaimID reports whether id matches the canonical claim-number shape.
func ValidClaimID(id string) bool { return claimIDPattern.MatchString(id) }

var validStatuses = map[string]struct{}{
	"filed":        {},
	"under_review": {},
	"approved":     {},
	"denied":       {},
	"paid":         {},
}

// ValidStatus reports whether s is an allowed claim status.
func ValidStatus(s string) bool {
	_, ok := validStatuses[s]
	return ok
}

// Repository is the external claims backend contract.
type Repository interface {
	Get(ctx context.Context, claimID string) (Claim, error)
	Update(ctx context.Context, c Claim) (Claim, error)
}

// Service validates claim shapes before touching the backend.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) Get(ctx context.Context, claimID string) (Claim, error) {
	if !ValidClaimID(claimID) {
		return Claim{}, ErrInvalidClaimID
	}
	return s.repo.Get(ctx, claimID)
}

// Update merges the provided status and fields into the stored claim.
func (s *Service) Update(ctx context.Context, claimID, status string, fields map[string]string) (Claim, error) {
	if !ValidClaimID(claimID) {
		return Claim{}, ErrInvalidClaimID
	}
	if status != "" && !ValidStatus(status) {
		return Claim{}, ErrInvalidStatus
	}

	cur, err := s.repo.Get(ctx, claimID)
	if err != nil {
		return Claim{}, err
	}
	if status != "" {
		cur.Status = status
	}
	if cur.Fields == nil {
		cur.Fields = map[string]string{}
	}
	for k, v := range fields {
		if k == "" {
			return Claim{}, ErrInvalidArgument
		}
		cur.Fields[k] = v
	}
	return s.repo.Update(ctx, cur)
}
