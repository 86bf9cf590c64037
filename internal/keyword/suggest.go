package keyword

import (
	"sort"
	"strings"
)

// Suggester proposes corrections for query terms that are not in the index.
type Suggester struct {
	index       RecordIndex
	maxDistance int
}

// NewSuggester returns a Suggester over idx. maxDistance <= 0 means 2.
func NewSuggester(idx RecordIndex, maxDistance int) *Suggester {
	if maxDistance <= 0 {
		maxDistance = 2
	}
	return &Suggester{index: idx, maxDistance: maxDistance}
}

// Suggest returns query with each unknown term replaced by its closest indexed
// term, or "" when no term needed correcting. Closer terms win, then more
// frequent ones, then alphabetical order.
func (s *Suggester) Suggest(query string) (string, error) {
	dict, err := s.index.Terms()
	if err != nil {
		return "", err
	}
	terms := tokenizeQuery(query)
	changed := false
	for i, term := range terms {
		if _, ok := dict[term]; ok {
			continue
		}
		if best := s.closest(term, dict); best != "" {
			terms[i] = best
			changed = true
		}
	}
	if !changed {
		return "", nil
	}
	return strings.Join(terms, " "), nil
}

func (s *Suggester) closest(term string, dict map[string]int) string {
	type candidate struct {
		term string
		dist int
		freq int
	}
	var cands []candidate
	runes := []rune(term)
	for t, freq := range dict {
		// Length difference is a lower bound on the distance.
		if abs(len([]rune(t))-len(runes)) > s.maxDistance {
			continue
		}
		if d := damerauLevenshtein(term, t); d <= s.maxDistance {
			cands = append(cands, candidate{t, d, freq})
		}
	}
	if len(cands) == 0 {
		return ""
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		if cands[i].freq != cands[j].freq {
			return cands[i].freq > cands[j].freq
		}
		return cands[i].term < cands[j].term
	})
	return cands[0].term
}

// damerauLevenshtein is the optimal string alignment distance over runes:
// insertions, deletions, substitutions and adjacent transpositions cost 1.
func damerauLevenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	d := make([][]int, len(ra)+1)
	for i := range d {
		d[i] = make([]int, len(rb)+1)
		d[i][0] = i
	}
	for j := range d[0] {
		d[0][j] = j
	}
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			d[i][j] = min(d[i-1][j]+1, d[i][j-1]+1, d[i-1][j-1]+cost)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				d[i][j] = min(d[i][j], d[i-2][j-2]+cost)
			}
		}
	}
	return d[len(ra)][len(rb)]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
