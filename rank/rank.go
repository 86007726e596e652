package rank

import (
	"math"
	"sort"
	"strings"

	imagevault "github.com/wolfeidau/image-vault"
)

// Weights controls the blend of relevance signals. They should sum to 1.0
// but the engine does not enforce it.
type Weights struct {
	Keyword     float64
	Tag         float64
	Description float64
	Popularity  float64
}

// DefaultWeights returns the standard signal blend.
func DefaultWeights() Weights {
	return Weights{
		Keyword:     0.4,
		Tag:         0.3,
		Description: 0.2,
		Popularity:  0.1,
	}
}

const (
	// fuzzyThreshold is the minimum Similarity for a tag to count as a
	// fuzzy match against a query keyword.
	fuzzyThreshold = 0.7

	// fuzzyTagValue is the contribution of a fuzzy tag match relative to
	// an exact match's 1.0.
	fuzzyTagValue = 0.8
)

// Engine ranks images against query text.
type Engine struct {
	weights Weights
}

// Option configures an Engine.
type Option func(*Engine)

// WithWeights overrides the default signal weights.
func WithWeights(w Weights) Option {
	return func(e *Engine) {
		e.weights = w
	}
}

// New creates a ranking engine.
func New(opts ...Option) *Engine {
	e := &Engine{weights: DefaultWeights()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rank orders images by descending relevance to the query text. The sort
// is stable: images with equal scores keep their relative input order, so
// repeated calls with the same inputs are deterministic. The input slice
// is not modified.
func (e *Engine) Rank(query string, images []*imagevault.ImageRecord) []*imagevault.ImageRecord {
	ranked := make([]*imagevault.ImageRecord, len(images))
	copy(ranked, images)

	if strings.TrimSpace(query) == "" {
		return ranked
	}

	queryKeywords := ExtractKeywords(query)
	queryFreq := TermFrequencies(queryKeywords)

	scores := make(map[*imagevault.ImageRecord]float64, len(ranked))
	for _, img := range ranked {
		scores[img] = e.score(queryKeywords, queryFreq, img)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i]] > scores[ranked[j]]
	})
	return ranked
}

// Score computes the relevance of a single image to the query text.
func (e *Engine) Score(query string, img *imagevault.ImageRecord) float64 {
	keywords := ExtractKeywords(query)
	return e.score(keywords, TermFrequencies(keywords), img)
}

func (e *Engine) score(queryKeywords []string, queryFreq map[string]int, img *imagevault.ImageRecord) float64 {
	return e.weights.Keyword*keywordScore(queryKeywords, img.Keywords) +
		e.weights.Tag*tagScore(queryKeywords, img.Tags) +
		e.weights.Description*descriptionScore(queryFreq, img) +
		e.weights.Popularity*popularityScore(img.UsageCount)
}

// keywordScore is the fraction of query keywords that match at least one
// of the image's free-form keywords. A match is a substring containment in
// either direction.
func keywordScore(queryKeywords []string, imageKeywords []string) float64 {
	if len(queryKeywords) == 0 || len(imageKeywords) == 0 {
		return 0
	}

	matched := 0
	for _, qk := range queryKeywords {
		for _, ik := range imageKeywords {
			ik = strings.ToLower(ik)
			if strings.Contains(ik, qk) || strings.Contains(qk, ik) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(queryKeywords))
}

// tagScore matches each tag against the query keywords, weighted by the
// tag's confidence and normalized by the total confidence. An exact or
// substring match contributes 1.0, a fuzzy match above the threshold 0.8.
func tagScore(queryKeywords []string, tags []imagevault.ImageTag) float64 {
	if len(queryKeywords) == 0 || len(tags) == 0 {
		return 0
	}

	var total, matched float64
	for _, tag := range tags {
		confidence := tag.Confidence
		if confidence <= 0 {
			confidence = 1.0
		}
		total += confidence

		name := strings.ToLower(tag.Name)
		best := 0.0
		for _, qk := range queryKeywords {
			switch {
			case name == qk || strings.Contains(name, qk) || strings.Contains(qk, name):
				best = 1.0
			case best < fuzzyTagValue && Similarity(name, qk) > fuzzyThreshold:
				best = fuzzyTagValue
			}
			if best == 1.0 {
				break
			}
		}
		matched += best * confidence
	}
	if total == 0 {
		return 0
	}
	return matched / total
}

// descriptionScore is a term-frequency overlap between the query and the
// concatenated title, description and alt text: for each keyword present
// in both, queryTF x docTF is added. The sum is capped at 1.0 so one long
// description cannot dominate the blend.
func descriptionScore(queryFreq map[string]int, img *imagevault.ImageRecord) float64 {
	doc := img.Title + " " + img.Description + " " + img.AltText
	docFreq := TermFrequencies(ExtractKeywords(doc))
	if len(docFreq) == 0 {
		return 0
	}

	var score float64
	for kw, qf := range queryFreq {
		if df, ok := docFreq[kw]; ok {
			score += float64(qf * df)
		}
	}
	return math.Min(1.0, score)
}

// popularityScore dampens usage counts logarithmically so heavily reused
// images do not dominate indefinitely: min(1, ln(usage+1)/ln(100)).
func popularityScore(usageCount int) float64 {
	if usageCount <= 0 {
		return 0
	}
	return math.Min(1.0, math.Log(float64(usageCount)+1)/math.Log(100))
}
