// Package similarity scores how alike two display names are.
//
// Names are compared after trimming surrounding whitespace and Unicode case
// folding. The score is 0 when either side is empty, 1 for equal names, a
// fixed SubstringScore when one name contains the other, and otherwise one
// minus the rune-level Levenshtein distance over the longer length.
//
// Every function is pure and safe for concurrent use.
package similarity

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/agentstation/catsync/pkg/constants"
)

// DuplicateThreshold is the score at or above which two different names are
// reported as a potential duplicate.
const DuplicateThreshold = constants.DuplicateThreshold

// SubstringScore is returned when one normalized name contains the other.
const SubstringScore = constants.SubstringScore

// Normalize trims surrounding whitespace and case folds s. Internal
// whitespace is left alone.
func Normalize(s string) string {
	// A Caser keeps state between calls and must not be shared.
	return cases.Fold().String(strings.TrimSpace(s))
}

// Equal reports whether a and b are the same name after normalization.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Score returns the similarity of a and b in [0, 1].
func Score(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	switch {
	case na == "" || nb == "":
		return 0
	case na == nb:
		return 1
	case strings.Contains(na, nb) || strings.Contains(nb, na):
		return SubstringScore
	}

	ra, rb := []rune(na), []rune(nb)
	longest := max(len(ra), len(rb))
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

// IsDuplicate reports whether a score reaches DuplicateThreshold.
func IsDuplicate(score float64) bool {
	return score >= DuplicateThreshold
}

// Distance returns the Levenshtein distance between the normalized forms of
// a and b, counted in runes.
func Distance(a, b string) int {
	return levenshtein([]rune(Normalize(a)), []rune(Normalize(b)))
}

// levenshtein computes edit distance with unit-cost insert, delete and
// substitute using two rolling rows.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
