package coordination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestTextSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, textSimilarity("same text", "same text"))
	assert.Equal(t, 1.0, textSimilarity("Mixed CASE", "mixed case"), "case-insensitive")
	assert.Equal(t, 0.0, textSimilarity("something", ""))
	assert.Equal(t, 1.0, textSimilarity("", ""))

	// One edit in a five-rune string.
	assert.InDelta(t, 0.8, textSimilarity("abcde", "abxde"), 1e-9)

	// Unrelated strings score low but stay within bounds.
	s := textSimilarity("alpha", "zzzzz")
	assert.GreaterOrEqual(t, s, 0.0)
	assert.Less(t, s, 0.5)
}

func TestStructuredSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, structuredSimilarity(nil, nil))
	assert.Equal(t, 0.0, structuredSimilarity(map[string]any{"k": 1}, nil))

	same := map[string]any{"a": 1, "b": "x"}
	assert.Equal(t, 1.0, structuredSimilarity(same, map[string]any{"a": 1, "b": "x"}))

	// Same keys, one disagreeing value: jaccard 1, agreement 0.5.
	disagree := structuredSimilarity(
		map[string]any{"a": 1, "b": "x"},
		map[string]any{"a": 1, "b": "y"},
	)
	assert.InDelta(t, 0.75, disagree, 1e-9)

	// Disjoint keys: jaccard 0, no shared values.
	assert.Equal(t, 0.0, structuredSimilarity(
		map[string]any{"a": 1},
		map[string]any{"b": 2},
	))
}

func TestDefaultSimilarity_MixedKinds(t *testing.T) {
	sim := DefaultSimilarity{}

	assert.Equal(t, 1.0, sim.Compare(Payload{Kind: KindGeneric}, Payload{Kind: KindGeneric}),
		"two empty payloads agree vacuously")

	// Text on one side only: the text component scores 0.
	got := sim.Compare(TextPayload("findings"), Payload{Kind: KindGeneric})
	assert.Equal(t, 0.0, got)

	// Text and fields both present blend the two components.
	a := Payload{Kind: KindGeneric, Text: "same", Fields: map[string]any{"k": 1}}
	b := Payload{Kind: KindGeneric, Text: "same", Fields: map[string]any{"k": 1}}
	assert.Equal(t, 1.0, sim.Compare(a, b))
}

func TestProperty_SimilarityContract(t *testing.T) {
	genPayload := func(t *rapid.T, label string) Payload {
		kind := rapid.SampledFrom([]PayloadKind{KindText, KindStructured, KindGeneric}).Draw(t, label+"-kind")
		p := Payload{Kind: kind}
		if kind != KindStructured {
			p.Text = rapid.StringN(0, 12, 24).Draw(t, label+"-text")
		}
		if kind != KindText {
			n := rapid.IntRange(0, 4).Draw(t, label+"-fields")
			if n > 0 {
				p.Fields = make(map[string]any, n)
				for i := 0; i < n; i++ {
					key := rapid.StringMatching(`[a-d]`).Draw(t, label+"-key")
					p.Fields[key] = rapid.IntRange(0, 3).Draw(t, label+"-val")
				}
			}
		}
		return p
	}

	rapid.Check(t, func(t *rapid.T) {
		sim := DefaultSimilarity{}
		a := genPayload(t, "a")
		b := genPayload(t, "b")

		ab := sim.Compare(a, b)
		if ab < 0 || ab > 1 {
			t.Fatalf("similarity %v outside [0,1]", ab)
		}
		if ba := sim.Compare(b, a); ab != ba {
			t.Fatalf("similarity not symmetric: %v vs %v", ab, ba)
		}
		if self := sim.Compare(a, a); self != 1 {
			t.Fatalf("self-similarity %v, want 1", self)
		}
	})
}
