package nlp

import (
	"bufio"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"unicode"
)

//go:embed lexicon/*.tsv
var lexiconFS embed.FS

// Translator renders supported source languages into English using
// embedded phrase lexicons (longest phrase match wins, unknown tokens
// are retained). Languages without a lexicon pass through verbatim, as
// does text already in the target language.
type Translator struct {
	targetISO string
	lexicons  map[string]map[string]string
	maxPhrase map[string]int
}

// NewTranslator loads every embedded lexicon. This is the translation
// model load: it happens once per process.
func NewTranslator(targetISO string) (*Translator, error) {
	t := &Translator{
		targetISO: targetISO,
		lexicons:  make(map[string]map[string]string),
		maxPhrase: make(map[string]int),
	}
	entries, err := fs.ReadDir(lexiconFS, "lexicon")
	if err != nil {
		return nil, fmt.Errorf("op=nlp.NewTranslator: %w", err)
	}
	for _, e := range entries {
		lang := strings.TrimSuffix(e.Name(), ".tsv")
		lex, maxLen, err := parseLexicon(path.Join("lexicon", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("op=nlp.NewTranslator lang=%s: %w", lang, err)
		}
		t.lexicons[lang] = lex
		t.maxPhrase[lang] = maxLen
	}
	return t, nil
}

func parseLexicon(name string) (map[string]string, int, error) {
	f, err := lexiconFS.Open(name)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = f.Close() }()

	lex := make(map[string]string)
	maxLen := 1
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\n")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		src := strings.ToLower(strings.TrimSpace(parts[0]))
		if src == "" {
			continue
		}
		dst := ""
		if len(parts) == 2 {
			dst = strings.ToLower(strings.TrimSpace(parts[1]))
		}
		lex[src] = dst
		if n := len(strings.Fields(src)); n > maxLen {
			maxLen = n
		}
	}
	if err := sc.Err(); err != nil {
		return nil, 0, err
	}
	return lex, maxLen, nil
}

// Languages lists the source languages a lexicon exists for.
func (t *Translator) Languages() []string {
	out := make([]string, 0, len(t.lexicons))
	for lang := range t.lexicons {
		out = append(out, lang)
	}
	return out
}

// Translate renders text from sourceISO into the target language.
// Pass-through cases return text unchanged.
func (t *Translator) Translate(text, sourceISO string) string {
	if sourceISO == t.targetISO {
		return text
	}
	lex, ok := t.lexicons[sourceISO]
	if !ok {
		return text
	}
	cores := tokenCores(text)
	if len(cores) == 0 {
		return text
	}
	maxLen := t.maxPhrase[sourceISO]
	out := make([]string, 0, len(cores))
	i := 0
	for i < len(cores) {
		matched := false
		limit := maxLen
		if rem := len(cores) - i; rem < limit {
			limit = rem
		}
		for k := limit; k >= 1; k-- {
			key := strings.Join(cores[i:i+k], " ")
			repl, ok := lex[key]
			if !ok {
				continue
			}
			if repl != "" {
				out = append(out, strings.Fields(repl)...)
			}
			i += k
			matched = true
			break
		}
		if !matched {
			out = append(out, cores[i])
			i++
		}
	}
	return strings.Join(out, " ")
}

// tokenCores lowercases text and strips edge punctuation from each
// whitespace-separated token. Inner punctuation (l'hôtel) is kept so
// lexicon entries can target it.
func tokenCores(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	cores := make([]string, 0, len(fields))
	for _, w := range fields {
		core := strings.TrimFunc(w, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if core != "" {
			cores = append(cores, core)
		}
	}
	return cores
}
