package nlp

// isoToNLLB maps ISO 639-1 codes to the NLLB-style codes the pipeline
// stores in configuration (e.g. TARGET_LANGUAGE=eng_Latn).
var isoToNLLB = map[string]string{
	"en": "eng_Latn",
	"es": "spa_Latn",
	"fr": "fra_Latn",
	"de": "deu_Latn",
	"it": "ita_Latn",
	"pt": "por_Latn",
	"ru": "rus_Cyrl",
	"ja": "jpn_Jpan",
	"ko": "kor_Hang",
	"zh": "zho_Hans",
	"ar": "arb_Arab",
	"hi": "hin_Deva",
	"th": "tha_Thai",
	"vi": "vie_Latn",
	"id": "ind_Latn",
}

var nllbToISO = func() map[string]string {
	m := make(map[string]string, len(isoToNLLB))
	for iso, code := range isoToNLLB {
		m[code] = iso
	}
	return m
}()

// NLLBCode returns the NLLB-style code for an ISO 639-1 code. Unknown
// codes pass through unchanged.
func NLLBCode(iso string) string {
	if c, ok := isoToNLLB[iso]; ok {
		return c
	}
	return iso
}

// ISOCode normalizes a language identifier (ISO 639-1 or NLLB-style)
// to ISO 639-1. Unknown two-letter codes pass through; anything else
// returns the empty string.
func ISOCode(lang string) string {
	if _, ok := isoToNLLB[lang]; ok {
		return lang
	}
	if iso, ok := nllbToISO[lang]; ok {
		return iso
	}
	if len(lang) == 2 {
		return lang
	}
	return ""
}
