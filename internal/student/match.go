package student

import "strings"

// FuzzyThreshold is the minimum similarity for a fuzzy match.
const FuzzyThreshold = 0.7

// EditDistance returns the Levenshtein distance between a and b, counted in runes.
func EditDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// Similarity is 1 - distance/len(longer). Two empty strings are identical.
func Similarity(a, b string) float64 {
	longer := max(len([]rune(a)), len([]rune(b)))
	if longer == 0 {
		return 1
	}
	return float64(longer-EditDistance(a, b)) / float64(longer)
}

// Matches reports whether the record matches query by case-insensitive substring
// on name, registration number, course or email. With fuzzy set and a query longer
// than two characters, a field also matches when its similarity reaches FuzzyThreshold.
func (r Record) Matches(query string, fuzzy bool) bool {
	q := strings.ToLower(query)
	useFuzzy := fuzzy && len([]rune(query)) > 2
	for _, field := range []string{r.Name, r.RegistrationNumber, r.Course, r.Email} {
		f := strings.ToLower(field)
		if strings.Contains(f, q) {
			return true
		}
		if useFuzzy && f != "" && Similarity(f, q) >= FuzzyThreshold {
			return true
		}
	}
	return false
}

// Filter keeps the records that match query.
func Filter(records []Record, query string, fuzzy bool) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Matches(query, fuzzy) {
			out = append(out, r)
		}
	}
	return out
}
