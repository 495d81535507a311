package duplicates

import (
	"context"

	"civreg/internal/registry/models"
	id "civreg/pkg/domain"
)

//go:generate mockgen -source=search.go -destination=mocks/mocks.go -package=mocks

// SearchQuery is the projection handed to the search collaborator: the
// checked attribute subset, per-key comparison modes, and the identity to
// exclude from the candidate set.
type SearchQuery struct {
	Attributes map[models.AttributeKey]string
	MatchTypes map[models.AttributeKey]models.MatchType
	// ExcludeCustomerID keeps the identity under evaluation out of its own
	// candidate list.
	ExcludeCustomerID id.CustomerID
}

// SearchIndex is the opaque matching collaborator. Approximate and exact
// matching semantics live entirely behind this interface; the evaluator only
// consumes ranked candidates.
type SearchIndex interface {
	FindCandidates(ctx context.Context, query SearchQuery) ([]models.Candidate, error)
}

// ExclusionChecker answers whether a pair of identities was explicitly
// excluded from duplicate reporting. Implementations must match the pair in
// either order.
type ExclusionChecker interface {
	IsExcluded(ctx context.Context, a, b id.CustomerID) (bool, error)
}
