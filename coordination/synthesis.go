package coordination

import (
	"sort"
)

// synthesize produces the final result from an operation's intermediate
// results. partial marks a best-effort synthesis after a timeout, which
// applies the configured confidence penalty.
func (c *Coordinator) synthesize(op *Operation, partial bool) Result {
	confidence := op.ConsensusLevel
	if partial {
		confidence *= c.config.TimeoutPenalty
	}
	return Result{
		Outcome:           synthesizeOutcome(op.Meta.Type, latestPerNode(op.Results)),
		Confidence:        confidence,
		ParticipantCount:  len(op.Participants),
		ConsensusAchieved: op.ConsensusLevel >= c.config.AgreementThreshold,
		Insights:          emergentInsights(op.Participants, op.Results),
		Partial:           partial,
	}
}

// synthesizeOutcome builds the outcome payload using the strategy keyed by
// operation type, falling back to a generic merge for unrecognized types.
func synthesizeOutcome(opType string, latest []IntermediateResult) Payload {
	if len(latest) == 0 {
		return Payload{Kind: KindGeneric}
	}

	switch opType {
	case OpAnalysis:
		// Narrative outcome: the highest-confidence text carries the result.
		best := bestResult(latest)
		return Payload{Kind: KindText, Text: best.Payload.Text}

	case OpAggregation:
		// Structured outcome: merge field maps, higher confidence wins
		// conflicting keys.
		return Payload{Kind: KindStructured, Fields: mergeFields(latest)}

	default:
		best := bestResult(latest)
		return Payload{
			Kind:   KindGeneric,
			Text:   best.Payload.Text,
			Fields: mergeFields(latest),
		}
	}
}

// bestResult returns the highest-confidence result, preferring earlier
// arrival on ties.
func bestResult(latest []IntermediateResult) IntermediateResult {
	best := latest[0]
	for _, r := range latest[1:] {
		if r.Confidence > best.Confidence {
			best = r
		}
	}
	return best
}

// mergeFields merges structured fields across results. Results are applied in
// ascending confidence order so higher-confidence contributions overwrite
// conflicting keys.
func mergeFields(latest []IntermediateResult) map[string]any {
	ordered := append([]IntermediateResult(nil), latest...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Confidence < ordered[j].Confidence
	})

	merged := make(map[string]any)
	for _, r := range ordered {
		for k, v := range r.Payload.Fields {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

// emergentInsights returns what only exists across contributions: insights
// reported independently by more than one participant, plus expertise/field
// pairings the synthesis creates that no single contribution carried on its
// own. Sorted for determinism.
func emergentInsights(participants []Participant, results []IntermediateResult) []string {
	expertise := make(map[string][]string, len(participants))
	for _, p := range participants {
		expertise[p.NodeID] = p.Expertise
	}

	mentions := make(map[string]map[string]bool)
	fieldsByNode := make(map[string]map[string]bool)
	for _, r := range results {
		for _, insight := range r.Payload.Insights {
			if insight == "" {
				continue
			}
			if mentions[insight] == nil {
				mentions[insight] = make(map[string]bool)
			}
			mentions[insight][r.NodeID] = true
		}
		for k := range r.Payload.Fields {
			if fieldsByNode[r.NodeID] == nil {
				fieldsByNode[r.NodeID] = make(map[string]bool)
			}
			fieldsByNode[r.NodeID][k] = true
		}
	}

	var emergent []string
	for insight, nodes := range mentions {
		if len(nodes) > 1 {
			emergent = append(emergent, insight)
		}
	}
	emergent = append(emergent, novelPairs(expertise, fieldsByNode, results)...)
	sort.Strings(emergent)
	return emergent
}

// novelPairs finds capability/field combinations present in the merged
// outcome but absent from every individual contribution: some reporting
// participant holds the capability, some other reports the field, and no
// single participant does both.
func novelPairs(expertise map[string][]string, fieldsByNode map[string]map[string]bool, results []IntermediateResult) []string {
	caps := make(map[string]bool)
	fields := make(map[string]bool)
	single := make(map[string]bool)
	reported := make(map[string]bool, len(results))

	for _, r := range results {
		reported[r.NodeID] = true
	}
	for node := range reported {
		for _, c := range expertise[node] {
			caps[c] = true
			for k := range fieldsByNode[node] {
				single[c+"+"+k] = true
			}
		}
	}
	for _, fs := range fieldsByNode {
		for k := range fs {
			fields[k] = true
		}
	}

	var pairs []string
	for c := range caps {
		for k := range fields {
			if pair := c + "+" + k; !single[pair] {
				pairs = append(pairs, pair)
			}
		}
	}
	return pairs
}
