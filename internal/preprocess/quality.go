package preprocess

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/MLenaBleile/sandy/pkg/utils"
)

var sentenceSplit = regexp.MustCompile(`[.!?]+`)

// asciiPunctuation is the ASCII punctuation set counted for density.
const asciiPunctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// QualityParts are the four equally weighted components of the quality score.
type QualityParts struct {
	SentenceVariance float64
	UniqueWords      float64
	Punctuation      float64
	Paragraphs       float64
}

// Score is the mean of the parts.
func (q QualityParts) Score() float64 {
	return (q.SentenceVariance + q.UniqueWords + q.Punctuation + q.Paragraphs) / 4
}

// Quality computes the heuristic quality score of text in [0,1].
func Quality(text string) float64 {
	return QualityComponents(text).Score()
}

// QualityComponents returns each part of the quality score.
func QualityComponents(text string) QualityParts {
	return QualityParts{
		SentenceVariance: sentenceVarianceScore(text),
		UniqueWords:      uniqueWordScore(text),
		Punctuation:      punctuationScore(text),
		Paragraphs:       paragraphScore(text),
	}
}

// sentenceVarianceScore rewards varied sentence lengths; a population variance
// of 50 words squared or more scores 1.
func sentenceVarianceScore(text string) float64 {
	var lengths []float64
	for _, s := range sentenceSplit.Split(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			lengths = append(lengths, float64(len(strings.Fields(s))))
		}
	}
	if len(lengths) < 2 {
		return 0
	}
	var mean float64
	for _, l := range lengths {
		mean += l
	}
	mean /= float64(len(lengths))
	var variance float64
	for _, l := range lengths {
		variance += (l - mean) * (l - mean)
	}
	variance /= float64(len(lengths))
	return min(variance/50, 1)
}

// uniqueWordScore maps the unique-word ratio from [0.3, 0.7] onto [0, 1].
func uniqueWordScore(text string) float64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[w] = struct{}{}
	}
	ratio := float64(len(seen)) / float64(len(words))
	return utils.Clamp01((ratio - 0.3) / 0.4)
}

// punctuationScore peaks at 1 for densities in [0.02, 0.08].
func punctuationScore(text string) float64 {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	count := 0
	for _, r := range text {
		if r < utf8.RuneSelf && strings.ContainsRune(asciiPunctuation, r) {
			count++
		}
	}
	d := float64(count) / float64(n)
	switch {
	case d >= 0.02 && d <= 0.08:
		return 1
	case d < 0.02:
		return d / 0.02
	default:
		return max(0, 1-(d-0.08)/0.08)
	}
}

func paragraphScore(text string) float64 {
	count := 0
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) != "" {
			count++
		}
	}
	if count > 1 {
		return 1
	}
	return 0
}
