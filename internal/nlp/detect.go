package nlp

import (
	"strings"
	"unicode/utf8"

	"github.com/pemistahl/lingua-go"
)

// minDetectChars: inputs shorter than this cannot be detected reliably
// and default to English.
const minDetectChars = 3

// supportedLanguages is the fixed detector whitelist; it mirrors the
// language set the translator knows codes for.
var supportedLanguages = []lingua.Language{
	lingua.English,
	lingua.Spanish,
	lingua.French,
	lingua.German,
	lingua.Italian,
	lingua.Portuguese,
	lingua.Russian,
	lingua.Japanese,
	lingua.Korean,
	lingua.Chinese,
	lingua.Arabic,
	lingua.Hindi,
	lingua.Thai,
	lingua.Vietnamese,
	lingua.Indonesian,
}

// Detector identifies the language of short traveler tips.
type Detector struct {
	inner lingua.LanguageDetector
}

// NewDetector builds the detector with all language models preloaded,
// so detection latency is paid at process start rather than on the
// first request.
func NewDetector() *Detector {
	d := lingua.NewLanguageDetectorBuilder().
		FromLanguages(supportedLanguages...).
		WithPreloadedLanguageModels().
		Build()
	return &Detector{inner: d}
}

// Detect returns the ISO 639-1 code for text. Very short or
// undecidable inputs default to "en".
func (d *Detector) Detect(text string) string {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < minDetectChars {
		return "en"
	}
	lang, ok := d.inner.DetectLanguageOf(text)
	if !ok {
		return "en"
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}
