package coordination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmergentInsights_SharedMentions(t *testing.T) {
	results := []IntermediateResult{
		{NodeID: "node-a", Payload: TextPayload("x", "queue backlog", "disk pressure")},
		{NodeID: "node-b", Payload: TextPayload("y", "queue backlog")},
		{NodeID: "node-c", Payload: TextPayload("z", "")},
	}

	got := emergentInsights(nil, results)
	assert.Equal(t, []string{"queue backlog"}, got,
		"only insights named by more than one node are emergent")
}

func TestEmergentInsights_NovelCapabilityFieldPairs(t *testing.T) {
	participants := []Participant{
		{NodeID: "node-a", Expertise: []string{"analysis"}},
		{NodeID: "node-b", Expertise: []string{"storage"}},
	}
	results := []IntermediateResult{
		{NodeID: "node-a", Payload: StructuredPayload(map[string]any{"trend": "up"})},
		{NodeID: "node-b", Payload: StructuredPayload(map[string]any{"capacity": 0.4})},
	}

	// Each capability pairs with the other node's field only in the merged
	// outcome, never inside one contribution.
	got := emergentInsights(participants, results)
	assert.Equal(t, []string{"analysis+capacity", "storage+trend"}, got)
}

func TestEmergentInsights_PairWithinOneContributionIsNotNovel(t *testing.T) {
	participants := []Participant{
		{NodeID: "node-a", Expertise: []string{"analysis"}},
		{NodeID: "node-b"},
	}
	results := []IntermediateResult{
		{NodeID: "node-a", Payload: StructuredPayload(map[string]any{"trend": "up"})},
		{NodeID: "node-b", Payload: StructuredPayload(map[string]any{"trend": "up"})},
	}

	assert.Empty(t, emergentInsights(participants, results))
}

func TestEmergentInsights_UnreportedExpertiseDoesNotPair(t *testing.T) {
	// node-b holds a capability but never reports; its expertise is not part
	// of the synthesis and must not generate pairs.
	participants := []Participant{
		{NodeID: "node-a", Expertise: []string{"analysis"}},
		{NodeID: "node-b", Expertise: []string{"storage"}},
	}
	results := []IntermediateResult{
		{NodeID: "node-a", Payload: StructuredPayload(map[string]any{"trend": "up"})},
	}

	assert.Empty(t, emergentInsights(participants, results))
}
