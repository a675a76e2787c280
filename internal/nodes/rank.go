package nodes

import (
	"sort"

	"meshplane/internal/store"
)

// Less orders two nodes. Every comparator falls back to node_id so that
// rankings are reproducible.
type Less func(a, b *store.Node) bool

// ByCapability prefers higher compute score, then higher reputation.
func ByCapability(a, b *store.Node) bool {
	if a.ComputeScore != b.ComputeScore {
		return a.ComputeScore > b.ComputeScore
	}
	if a.Reputation != b.Reputation {
		return a.Reputation > b.Reputation
	}
	return a.NodeID < b.NodeID
}

// ByReputation orders by reputation in the given direction, then by
// compute score descending.
func ByReputation(ascending bool) Less {
	return func(a, b *store.Node) bool {
		if a.Reputation != b.Reputation {
			if ascending {
				return a.Reputation < b.Reputation
			}
			return a.Reputation > b.Reputation
		}
		if a.ComputeScore != b.ComputeScore {
			return a.ComputeScore > b.ComputeScore
		}
		return a.NodeID < b.NodeID
	}
}

// Rank returns a sorted copy of nodes truncated to limit. A limit <= 0 keeps everything.
func Rank(nodes []store.Node, less Less, limit int) []store.Node {
	ranked := make([]store.Node, len(nodes))
	copy(ranked, nodes)
	sort.SliceStable(ranked, func(i, j int) bool {
		return less(&ranked[i], &ranked[j])
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
