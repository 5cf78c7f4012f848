package track

// Matching thresholds and tolerances. Strict mode requires normalized
// equality within a tight duration window; fuzzy mode accepts close edit
// similarity within a wider window.
const (
	// StrictDurationTolerance is the duration window for strict matching.
	StrictDurationTolerance = 5
	// FuzzyDurationTolerance is the duration window for fuzzy matching.
	FuzzyDurationTolerance = 10
	// FuzzyTitleThreshold is the minimum title similarity for fuzzy matching.
	FuzzyTitleThreshold = 0.8
	// FuzzyArtistThreshold is the minimum artist similarity for fuzzy matching.
	FuzzyArtistThreshold = 0.7
)

// MatchMode selects the candidate acceptance rule.
type MatchMode int

// Available match modes.
const (
	// MatchFuzzy accepts candidates by edit similarity.
	MatchFuzzy MatchMode = iota
	// MatchStrict requires normalized equality.
	MatchStrict
)

// DurationWithinTolerance reports whether two durations differ by no more
// than tolerance seconds.
func DurationWithinTolerance(target, candidate, tolerance int) bool {
	diff := target - candidate
	if diff < 0 {
		diff = -diff
	}

	return diff <= tolerance
}

// levenshteinDistance computes the edit distance between two strings using a
// rolling single-row table.
func levenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}

	if len(rb) == 0 {
		return len(ra)
	}

	previous := make([]int, len(rb)+1)
	for i := range previous {
		previous[i] = i
	}

	for i, ca := range ra {
		current := make([]int, 0, len(rb)+1)
		current = append(current, i+1)

		for j, cb := range rb {
			insertions := previous[j+1] + 1
			deletions := current[j] + 1

			substitutions := previous[j]
			if ca != cb {
				substitutions++
			}

			current = append(current, minOf(insertions, deletions, substitutions))
		}

		previous = current
	}

	return previous[len(rb)]
}

func minOf(values ...int) int {
	result := values[0]
	for _, v := range values[1:] {
		if v < result {
			result = v
		}
	}

	return result
}

// Similarity returns the normalized Levenshtein similarity of two strings
// in [0, 1], where 1 means equal.
func Similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}

	if a == "" || b == "" {
		return 0.0
	}

	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}

	return 1.0 - float64(levenshteinDistance(a, b))/float64(maxLen)
}

// Matches reports whether candidate is an acceptable realization of target
// under the given mode.
func Matches(candidate *Candidate, target *Track, mode MatchMode) bool {
	if mode == MatchStrict {
		return matchStrict(candidate, target)
	}

	return matchFuzzy(candidate, target)
}

func matchStrict(candidate *Candidate, target *Track) bool {
	if Normalize(candidate.Artist) != Normalize(target.Artist) {
		return false
	}

	if Normalize(candidate.Title) != Normalize(target.Title) {
		return false
	}

	return DurationWithinTolerance(target.Duration, candidate.Duration, StrictDurationTolerance)
}

func matchFuzzy(candidate *Candidate, target *Track) bool {
	titleSimilarity := Similarity(Normalize(candidate.Title), Normalize(target.Title))
	if titleSimilarity < FuzzyTitleThreshold {
		return false
	}

	artistSimilarity := Similarity(Normalize(candidate.Artist), Normalize(target.Artist))
	if artistSimilarity < FuzzyArtistThreshold {
		return false
	}

	return DurationWithinTolerance(target.Duration, candidate.Duration, FuzzyDurationTolerance)
}
