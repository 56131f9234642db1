package coordination

import (
	"sort"

	"github.com/meshweave/meshweave/mesh"
)

// Scoring weights for participant selection.
const (
	weightCapacity     = 0.4
	weightCoverage     = 0.3
	weightConnectivity = 0.2
	bonusPrimary       = 0.1
	bonusSpecialist    = 0.05

	// connectivityCap bounds the connection-count contribution: connections
	// beyond this many add nothing.
	connectivityCap = 5
)

type scoredNode struct {
	state *mesh.State
	score float64
}

// scoreNode computes the selection score: available capacity, required
// capability coverage, a bounded connectivity term, and a node-type bonus.
func scoreNode(state *mesh.State, required []string) float64 {
	score := weightCapacity * state.Load.AvailableCapacity
	score += weightCoverage * coverageFraction(state.Identity, required)

	conns := len(state.Connections)
	if conns > connectivityCap {
		conns = connectivityCap
	}
	score += weightConnectivity * float64(conns) / connectivityCap

	switch state.Identity.Type {
	case mesh.NodeTypePrimary:
		score += bonusPrimary
	case mesh.NodeTypeSpecialist:
		score += bonusSpecialist
	}
	return score
}

// coverageFraction is the fraction of required tags the identity covers.
// With no requirements every node trivially covers everything.
func coverageFraction(id mesh.Identity, required []string) float64 {
	if len(required) == 0 {
		return 1
	}
	covered := 0
	for _, tag := range required {
		if id.HasCapability(tag) {
			covered++
		}
	}
	return float64(covered) / float64(len(required))
}

// selectParticipants picks participants from the eligible nodes in two greedy
// passes over the score-ordered candidates: the first pass admits nodes that
// still contribute uncovered required capabilities (or while below the
// minimum), the second fills remaining slots by pure score. Capability
// coverage is thereby prioritized over raw score while participant bounds are
// respected. Full coverage is not mandated: when the eligible set cannot
// cover every required capability, the maximum achievable coverage is
// selected.
func selectParticipants(eligible []*mesh.State, meta Meta) []Participant {
	maxParticipants := meta.MaxParticipants
	if maxParticipants <= 0 || maxParticipants > len(eligible) {
		maxParticipants = len(eligible)
	}

	candidates := make([]scoredNode, 0, len(eligible))
	for _, state := range eligible {
		candidates = append(candidates, scoredNode{state: state, score: scoreNode(state, meta.RequiredCapabilities)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].state.Identity.ID < candidates[j].state.Identity.ID
	})

	uncovered := make(map[string]bool, len(meta.RequiredCapabilities))
	for _, tag := range meta.RequiredCapabilities {
		uncovered[tag] = true
	}

	selected := make([]scoredNode, 0, maxParticipants)
	taken := make(map[string]bool, maxParticipants)

	// Pass 1: coverage first.
	for _, cand := range candidates {
		if len(selected) >= maxParticipants {
			break
		}
		contributes := false
		for tag := range uncovered {
			if cand.state.Identity.HasCapability(tag) {
				contributes = true
				break
			}
		}
		if !contributes && len(selected) >= meta.MinParticipants {
			continue
		}
		selected = append(selected, cand)
		taken[cand.state.Identity.ID] = true
		for tag := range uncovered {
			if cand.state.Identity.HasCapability(tag) {
				delete(uncovered, tag)
			}
		}
	}

	// Pass 2: fill remaining slots by score.
	for _, cand := range candidates {
		if len(selected) >= maxParticipants {
			break
		}
		if taken[cand.state.Identity.ID] {
			continue
		}
		selected = append(selected, cand)
		taken[cand.state.Identity.ID] = true
	}

	return assignRoles(selected, meta.RequiredCapabilities)
}

// assignRoles maps selected nodes to roles: the top scorer coordinates,
// observer-type nodes observe, specialist-type nodes validate, everyone else
// contributes.
func assignRoles(selected []scoredNode, required []string) []Participant {
	participants := make([]Participant, 0, len(selected))
	for i, cand := range selected {
		role := RoleContributor
		switch {
		case i == 0:
			role = RoleCoordinator
		case cand.state.Identity.Type == mesh.NodeTypeObserver:
			role = RoleObserver
		case cand.state.Identity.Type == mesh.NodeTypeSpecialist:
			role = RoleValidator
		}
		participants = append(participants, Participant{
			NodeID:            cand.state.Identity.ID,
			Role:              role,
			CommittedCapacity: cand.state.Load.AvailableCapacity,
			Expertise:         expertiseTags(cand.state.Identity, required),
		})
	}
	return participants
}

// expertiseTags returns the required tags the identity covers; with no
// requirements, the node's own capabilities stand in.
func expertiseTags(id mesh.Identity, required []string) []string {
	if len(required) == 0 {
		return append([]string(nil), id.Capabilities...)
	}
	var tags []string
	for _, tag := range required {
		if id.HasCapability(tag) {
			tags = append(tags, tag)
		}
	}
	return tags
}
