package preprocess

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// UnknownLanguage is reported when detection is not confident.
const UnknownLanguage = "unknown"

// LanguageDetector returns the lowercase ISO 639-1 code of the dominant
// language of text, or UnknownLanguage.
type LanguageDetector interface {
	Detect(text string) string
}

// DetectorFunc adapts a function to LanguageDetector.
type DetectorFunc func(text string) string

// Detect implements LanguageDetector.
func (f DetectorFunc) Detect(text string) string { return f(text) }

// DefaultLanguages is the candidate set for the lingua detector. A smaller set
// keeps model memory bounded; anything outside it maps to its nearest member,
// which is never English for unrelated scripts.
var DefaultLanguages = []lingua.Language{
	lingua.English, lingua.French, lingua.German, lingua.Spanish, lingua.Italian,
	lingua.Portuguese, lingua.Dutch, lingua.Swedish, lingua.Polish, lingua.Russian,
	lingua.Chinese, lingua.Japanese, lingua.Korean, lingua.Arabic,
}

// LinguaDetector detects language with lingua-go. It is safe for concurrent
// use; construct it once per process.
type LinguaDetector struct {
	detector lingua.LanguageDetector
}

// NewLinguaDetector builds a detector over languages, or DefaultLanguages if none are given.
func NewLinguaDetector(languages ...lingua.Language) *LinguaDetector {
	if len(languages) < 2 {
		languages = DefaultLanguages
	}
	return &LinguaDetector{
		detector: lingua.NewLanguageDetectorBuilder().
			FromLanguages(languages...).
			WithMinimumRelativeDistance(0.1).
			Build(),
	}
}

// Detect implements LanguageDetector.
func (d *LinguaDetector) Detect(text string) string {
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return UnknownLanguage
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}
