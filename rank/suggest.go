package rank

import (
	"sort"
	"strings"

	imagevault "github.com/wolfeidau/image-vault"
)

// ContentType is a coarse classification of a piece of text content.
type ContentType string

const (
	ContentData       ContentType = "data"
	ContentTechnology ContentType = "technology"
	ContentBusiness   ContentType = "business"
	ContentEducation  ContentType = "education"
	ContentGeneral    ContentType = "general"
)

// Theme is a coarse thematic classification of a piece of text content.
type Theme string

const (
	ThemeSuccess    Theme = "success"
	ThemeGrowth     Theme = "growth"
	ThemeTeamwork   Theme = "teamwork"
	ThemeInnovation Theme = "innovation"
	ThemeChallenge  Theme = "challenge"
	ThemeFuture     Theme = "future"
	ThemeNeutral    Theme = "neutral"
)

var contentTypeKeywords = map[ContentType][]string{
	ContentData: {
		"data", "chart", "graph", "statistics", "metric", "metrics",
		"analysis", "analytics", "percentage", "trend", "report", "numbers",
	},
	ContentTechnology: {
		"technology", "software", "digital", "computer", "code", "system",
		"platform", "cloud", "network", "ai", "automation", "api",
	},
	ContentBusiness: {
		"business", "market", "revenue", "sales", "customer", "strategy",
		"finance", "profit", "investment", "company", "product", "brand",
	},
	ContentEducation: {
		"education", "learning", "training", "course", "student", "teach",
		"knowledge", "skill", "study", "lesson", "school", "university",
	},
}

var themeKeywords = map[Theme][]string{
	ThemeSuccess: {
		"success", "achievement", "win", "winning", "award", "goal",
		"accomplish", "victory", "milestone",
	},
	ThemeGrowth: {
		"growth", "increase", "expand", "scale", "improve", "rising",
		"progress", "development",
	},
	ThemeTeamwork: {
		"team", "teamwork", "collaboration", "together", "partnership",
		"cooperation", "community", "group",
	},
	ThemeInnovation: {
		"innovation", "new", "creative", "invention", "breakthrough",
		"disrupt", "modern", "novel",
	},
	ThemeChallenge: {
		"challenge", "problem", "risk", "obstacle", "difficult",
		"competition", "crisis", "pressure",
	},
	ThemeFuture: {
		"future", "tomorrow", "vision", "roadmap", "forecast", "next",
		"upcoming", "horizon",
	},
}

// ClassifyContentType picks the content type whose keyword set overlaps
// the text the most, defaulting to general.
func ClassifyContentType(text string) ContentType {
	keywords := keywordSet(text)

	best := ContentGeneral
	bestHits := 0
	// Iterate in a fixed order so ties resolve deterministically.
	for _, ct := range []ContentType{ContentData, ContentTechnology, ContentBusiness, ContentEducation} {
		hits := countHits(keywords, contentTypeKeywords[ct])
		if hits > bestHits {
			best, bestHits = ct, hits
		}
	}
	return best
}

// ClassifyTheme picks the theme whose keyword set overlaps the text the
// most, defaulting to neutral.
func ClassifyTheme(text string) Theme {
	keywords := keywordSet(text)

	best := ThemeNeutral
	bestHits := 0
	for _, th := range []Theme{ThemeSuccess, ThemeGrowth, ThemeTeamwork, ThemeInnovation, ThemeChallenge, ThemeFuture} {
		hits := countHits(keywords, themeKeywords[th])
		if hits > bestHits {
			best, bestHits = th, hits
		}
	}
	return best
}

func keywordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, kw := range ExtractKeywords(text) {
		set[kw] = struct{}{}
	}
	return set
}

func countHits(keywords map[string]struct{}, vocabulary []string) int {
	hits := 0
	for _, word := range vocabulary {
		if _, ok := keywords[word]; ok {
			hits++
		}
	}
	return hits
}

// Suggestion weights: keyword overlap dominates, then tag overlap, then
// the coarse content-type and theme matches.
const (
	suggestKeywordWeight = 0.4
	suggestTagWeight     = 0.3
	suggestTypeWeight    = 0.2
	suggestThemeWeight   = 0.1

	// minSuggestionScore is the relevance floor below which a candidate
	// is dropped rather than suggested.
	minSuggestionScore = 0.1
)

// Suggest recommends up to maxSuggestions candidate images for a piece of
// text content, ordered by descending relevance. Candidates scoring below
// the relevance floor are dropped.
func (e *Engine) Suggest(text string, candidates []*imagevault.ImageRecord, maxSuggestions int) []*imagevault.ImageRecord {
	if maxSuggestions <= 0 || len(candidates) == 0 {
		return nil
	}

	textKeywords := UniqueKeywords(text)
	contentType := ClassifyContentType(text)
	theme := ClassifyTheme(text)

	type scored struct {
		img   *imagevault.ImageRecord
		score float64
	}

	kept := make([]scored, 0, len(candidates))
	for _, img := range candidates {
		s := scoreSuggestion(textKeywords, contentType, theme, img)
		if s >= minSuggestionScore {
			kept = append(kept, scored{img: img, score: s})
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].score > kept[j].score
	})

	if len(kept) > maxSuggestions {
		kept = kept[:maxSuggestions]
	}

	out := make([]*imagevault.ImageRecord, len(kept))
	for i, s := range kept {
		out[i] = s.img
	}
	return out
}

// ScoreSuggestion scores one candidate against a piece of text content
// using the suggestion weights.
func (e *Engine) ScoreSuggestion(text string, img *imagevault.ImageRecord) float64 {
	return scoreSuggestion(UniqueKeywords(text), ClassifyContentType(text), ClassifyTheme(text), img)
}

// scoreSuggestion blends keyword overlap, tag overlap and the coarse
// content-type and theme matches.
func scoreSuggestion(textKeywords []string, contentType ContentType, theme Theme, img *imagevault.ImageRecord) float64 {
	score := suggestKeywordWeight * keywordScore(textKeywords, img.Keywords)

	score += suggestTagWeight * tagOverlap(textKeywords, img.Tags)

	imgText := imageText(img)
	if ClassifyContentType(imgText) == contentType {
		score += suggestTypeWeight
	}
	if ClassifyTheme(imgText) == theme {
		score += suggestThemeWeight
	}
	return score
}

// tagOverlap is the fraction of image tags matching at least one text
// keyword by substring containment.
func tagOverlap(textKeywords []string, tags []imagevault.ImageTag) float64 {
	if len(tags) == 0 || len(textKeywords) == 0 {
		return 0
	}

	matched := 0
	for _, tag := range tags {
		name := strings.ToLower(tag.Name)
		for _, kw := range textKeywords {
			if strings.Contains(name, kw) || strings.Contains(kw, name) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(tags))
}

func imageText(img *imagevault.ImageRecord) string {
	var sb strings.Builder
	sb.WriteString(img.Title)
	sb.WriteByte(' ')
	sb.WriteString(img.Description)
	sb.WriteByte(' ')
	sb.WriteString(img.AltText)
	for _, kw := range img.Keywords {
		sb.WriteByte(' ')
		sb.WriteString(kw)
	}
	for _, tag := range img.Tags {
		sb.WriteByte(' ')
		sb.WriteString(tag.Name)
	}
	return sb.String()
}
