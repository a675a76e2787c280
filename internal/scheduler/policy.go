package scheduler

import (
	"fmt"

	"meshplane/internal/nodes"
)

// Speed policies a job can request.
const (
	PolicyFast     = "fast"
	PolicyBalanced = "balanced"
	PolicyCheap    = "cheap"
)

// CheapOrder sets the reputation direction the cheap policy ranks by.
type CheapOrder string

const (
	// CheapReputationAsc prefers low-reputation nodes, treating them as the lower-priced tier.
	CheapReputationAsc CheapOrder = "reputation_asc"
	// CheapReputationDesc prefers high-reputation nodes among the cheap tier.
	CheapReputationDesc CheapOrder = "reputation_desc"
)

// ParseCheapOrder validates a configured ordering. Empty selects CheapReputationAsc.
func ParseCheapOrder(s string) (CheapOrder, error) {
	switch CheapOrder(s) {
	case "", CheapReputationAsc:
		return CheapReputationAsc, nil
	case CheapReputationDesc:
		return CheapReputationDesc, nil
	default:
		return "", fmt.Errorf("unknown cheap order %q", s)
	}
}

// ValidPolicy reports whether p names a known speed policy.
func ValidPolicy(p string) bool {
	return p == PolicyFast || p == PolicyBalanced || p == PolicyCheap
}

// comparator picks the ranking for a speed policy. Unknown policies rank like balanced.
func comparator(policy string, order CheapOrder) nodes.Less {
	if policy == PolicyCheap {
		return nodes.ByReputation(order != CheapReputationDesc)
	}
	return nodes.ByCapability
}
