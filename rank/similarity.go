package rank

import "github.com/agnivade/levenshtein"

// Similarity returns the normalized edit-distance similarity of two
// strings: 1 - levenshtein(a,b) / max(len(a), len(b)). The result is in
// [0, 1], where 1 means equal strings.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}
