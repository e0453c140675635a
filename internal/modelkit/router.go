package modelkit

import (
	"errors"
	"sort"
)

// ErrNoModelMatchesConstraints is returned when no ModelRecord in the
// candidate set satisfies the resolution request's constraints.
var ErrNoModelMatchesConstraints = errors.New("no model matches the requested constraints")

// Constraints bounds which models a resolution may pick.
type Constraints struct {
	RequireTools  bool
	RequireVision bool
	MaxCostUSD    float64 // 0 means unconstrained.
}

// ResolutionRequest asks the Router to pick one model from records.
type ResolutionRequest struct {
	Constraints      Constraints
	PreferredModels  []string
}

// Resolution is the router's answer: a primary model plus any runners-up
// that also satisfied the constraints, most-preferred first.
type Resolution struct {
	Primary ModelRecord
	Runners []ModelRecord
}

// Router picks a ModelRecord from a candidate set according to a policy's
// constraints and preferred-model ordering.
type Router struct{}

// NewRouter returns a Router. It carries no state: resolution is a pure
// function of the candidate records and the request.
func NewRouter() *Router { return &Router{} }

// Resolve filters records by req.Constraints, then orders survivors by
// whether they appear in req.PreferredModels (in that order), breaking ties
// by declaration order. It returns ErrNoModelMatchesConstraints if nothing
// survives the filter.
func (r *Router) Resolve(records []ModelRecord, req ResolutionRequest) (Resolution, error) {
	var candidates []ModelRecord
	for _, rec := range records {
		if req.Constraints.RequireTools && !rec.SupportsTools {
			continue
		}
		if req.Constraints.RequireVision && !rec.SupportsVision {
			continue
		}
		if req.Constraints.MaxCostUSD > 0 && rec.CostPerMTokIn > req.Constraints.MaxCostUSD {
			continue
		}
		candidates = append(candidates, rec)
	}
	if len(candidates) == 0 {
		return Resolution{}, ErrNoModelMatchesConstraints
	}

	preference := make(map[string]int, len(req.PreferredModels))
	for i, id := range req.PreferredModels {
		preference[id] = i
	}
	rank := func(rec ModelRecord) int {
		if idx, ok := preference[rec.ModelID]; ok {
			return idx
		}
		return len(preference)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return rank(candidates[i]) < rank(candidates[j])
	})

	return Resolution{Primary: candidates[0], Runners: candidates[1:]}, nil
}
