package rank

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	imagevault "github.com/wolfeidau/image-vault"
)

func img(id string, keywords []string, tags []imagevault.ImageTag, title string, usage int) *imagevault.ImageRecord {
	return &imagevault.ImageRecord{
		ID:         id,
		Title:      title,
		Keywords:   keywords,
		Tags:       tags,
		UsageCount: usage,
	}
}

func TestRankOrdersByRelevance(t *testing.T) {
	e := New()

	sunset := img("sunset", []string{"sunset", "beach", "orange"}, []imagevault.ImageTag{
		{Name: "sunset", Confidence: 0.9},
		{Name: "sky", Confidence: 0.6},
	}, "Sunset over the beach", 0)
	mountain := img("mountain", []string{"mountain", "snow"}, []imagevault.ImageTag{
		{Name: "mountain", Confidence: 0.8},
	}, "Snowy mountain range", 0)
	office := img("office", []string{"office", "desk"}, nil, "Office desk", 0)

	ranked := e.Rank("sunset beach", []*imagevault.ImageRecord{office, mountain, sunset})

	require.Len(t, ranked, 3)
	assert.Equal(t, "sunset", ranked[0].ID)
	// Input must not be reordered in place.
	assert.Equal(t, "office", ranked[len(ranked)-1].ID)
}

func TestRankDeterministic(t *testing.T) {
	e := New()

	images := []*imagevault.ImageRecord{
		img("a", []string{"city"}, nil, "", 0),
		img("b", []string{"city"}, nil, "", 0),
		img("c", []string{"city"}, nil, "", 0),
	}

	first := e.Rank("city", images)
	second := e.Rank("city", images)

	require.Equal(t, first, second)
	// Equal scores keep fan-out order (stable sort).
	assert.Equal(t, "a", first[0].ID)
	assert.Equal(t, "b", first[1].ID)
	assert.Equal(t, "c", first[2].ID)
}

func TestRankEmptyQueryKeepsOrder(t *testing.T) {
	e := New()

	images := []*imagevault.ImageRecord{
		img("z", []string{"zebra"}, nil, "", 5),
		img("y", []string{"yak"}, nil, "", 50),
	}

	ranked := e.Rank("  ", images)
	require.Equal(t, "z", ranked[0].ID)
	require.Equal(t, "y", ranked[1].ID)
}

func TestScoreKeywordOverlap(t *testing.T) {
	e := New(WithWeights(Weights{Keyword: 1}))

	full := img("full", []string{"sunset", "beach"}, nil, "", 0)
	half := img("half", []string{"sunset", "city"}, nil, "", 0)
	none := img("none", []string{"office"}, nil, "", 0)

	assert.InDelta(t, 1.0, e.Score("sunset beach", full), 1e-9)
	assert.InDelta(t, 0.5, e.Score("sunset beach", half), 1e-9)
	assert.InDelta(t, 0.0, e.Score("sunset beach", none), 1e-9)
}

func TestScoreTagOverlap(t *testing.T) {
	e := New(WithWeights(Weights{Tag: 1}))

	exact := img("exact", nil, []imagevault.ImageTag{{Name: "sunset", Confidence: 1.0}}, "", 0)
	assert.InDelta(t, 1.0, e.Score("sunset", exact), 1e-9)

	// "sunser" is one edit from "sunset" (similarity 5/6) and not a
	// substring in either direction, so it matches fuzzily at 0.8.
	fuzzy := img("fuzzy", nil, []imagevault.ImageTag{{Name: "sunser", Confidence: 1.0}}, "", 0)
	assert.InDelta(t, 0.8, e.Score("sunset", fuzzy), 1e-9)

	miss := img("miss", nil, []imagevault.ImageTag{{Name: "airplane", Confidence: 1.0}}, "", 0)
	assert.InDelta(t, 0.0, e.Score("sunset", miss), 1e-9)
}

func TestScoreTagConfidenceWeighting(t *testing.T) {
	e := New(WithWeights(Weights{Tag: 1}))

	// Matching tag carries 0.9 of the 1.2 total confidence.
	mixed := img("mixed", nil, []imagevault.ImageTag{
		{Name: "sunset", Confidence: 0.9},
		{Name: "airplane", Confidence: 0.3},
	}, "", 0)

	assert.InDelta(t, 0.9/1.2, e.Score("sunset", mixed), 1e-9)
}

func TestScoreDescriptionOverlap(t *testing.T) {
	e := New(WithWeights(Weights{Description: 1}))

	described := img("d", nil, nil, "Golden sunset over calm water", 0)
	assert.InDelta(t, 1.0, e.Score("sunset water", described), 1e-9)

	unrelated := img("u", nil, nil, "Quarterly revenue chart", 0)
	assert.InDelta(t, 0.0, e.Score("sunset water", unrelated), 1e-9)
}

func TestScoreDescriptionOverlapBounded(t *testing.T) {
	e := New(WithWeights(Weights{Description: 1}))

	none := &imagevault.ImageRecord{ID: "none", Description: "quiet forest trail"}
	once := &imagevault.ImageRecord{ID: "once", Description: "sunset over the bay"}
	spam := &imagevault.ImageRecord{ID: "spam", Description: strings.Repeat("sunset beach ", 40)}

	assert.InDelta(t, 0.0, e.Score("sunset beach", none), 1e-9)
	assert.InDelta(t, 1.0, e.Score("sunset beach", once), 1e-9)

	// Repeating the query terms in a long description cannot push the
	// component past its cap.
	assert.InDelta(t, 1.0, e.Score("sunset beach", spam), 1e-9)
}

func TestScorePopularityDampening(t *testing.T) {
	e := New(WithWeights(Weights{Popularity: 1}))

	fresh := img("fresh", []string{"x"}, nil, "", 0)
	used := img("used", []string{"x"}, nil, "", 10)
	heavy := img("heavy", []string{"x"}, nil, "", 1_000_000)

	assert.InDelta(t, 0.0, e.Score("anything", fresh), 1e-9)

	mid := e.Score("anything", used)
	assert.Greater(t, mid, 0.0)
	assert.Less(t, mid, 1.0)

	// Capped at 1.0 no matter how heavily used.
	assert.InDelta(t, 1.0, e.Score("anything", heavy), 1e-9)
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"sunset", "sunset", 1.0},
		{"", "", 1.0},
		{"abc", "", 0.0},
		{"kitten", "sitten", 1.0 - 1.0/6.0},
		{"abc", "xyz", 0.0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 1e-9, "Similarity(%q, %q)", tt.a, tt.b)
	}
}

func TestExtractKeywords(t *testing.T) {
	got := ExtractKeywords("The quick brown fox, and THE lazy dog!")
	assert.Equal(t, []string{"quick", "brown", "fox", "lazy", "dog"}, got)
}

func TestExtractKeywordsKeepsDuplicates(t *testing.T) {
	got := ExtractKeywords("data data everywhere")
	assert.Equal(t, []string{"data", "data", "everywhere"}, got)

	freq := TermFrequencies(got)
	assert.Equal(t, 2, freq["data"])
	assert.Equal(t, 1, freq["everywhere"])
}

func TestUniqueKeywords(t *testing.T) {
	got := UniqueKeywords("growth growth market growth")
	assert.Equal(t, []string{"growth", "market"}, got)
}
