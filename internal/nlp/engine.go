// Package nlp holds the worker's language models: detection,
// lexicon translation and deterministic embedding. Models are loaded
// once per process; inference is serialized so a worker process handles
// one request at a time (parallelism comes from the process pool).
package nlp

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fieldnotes-io/tipline/internal/domain"
)

// ItemOutput is the full per-tip processing result.
type ItemOutput struct {
	DetectedLanguage string
	TranslatedText   string
	Vector           []float32
}

// Engine bundles the loaded models.
type Engine struct {
	mu         sync.Mutex
	detector   *Detector
	translator *Translator
	embedder   *Embedder
	targetISO  string
	target     string
}

// LoadEngine builds all models. targetLanguage accepts an NLLB-style
// code (eng_Latn) or a bare ISO 639-1 code.
func LoadEngine(targetLanguage string) (*Engine, error) {
	iso := ISOCode(targetLanguage)
	if iso == "" {
		return nil, fmt.Errorf("op=nlp.LoadEngine: %w: target language %q", domain.ErrInvalidArgument, targetLanguage)
	}
	tr, err := NewTranslator(iso)
	if err != nil {
		return nil, err
	}
	return &Engine{
		detector:   NewDetector(),
		translator: tr,
		embedder:   NewEmbedder(),
		targetISO:  iso,
		target:     NLLBCode(iso),
	}, nil
}

// TargetLanguage returns the NLLB-style code translations aim for.
func (e *Engine) TargetLanguage() string { return e.target }

// Ready reports whether all models are loaded.
func (e *Engine) Ready() bool {
	return e != nil && e.detector != nil && e.translator != nil && e.embedder != nil
}

// DetectLanguage returns the ISO 639-1 code of text.
func (e *Engine) DetectLanguage(text string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("op=nlp.DetectLanguage: %w: empty text", domain.ErrInvalidArgument)
	}
	return e.detector.Detect(text), nil
}

// Translate renders text into the target language. When sourceLanguage
// is empty the language is detected first. Returns the translation and
// the source language actually used.
func (e *Engine) Translate(text, sourceLanguage string) (string, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.translateLocked(text, sourceLanguage)
}

// Embed encodes text into a 384-dim vector.
func (e *Engine) Embed(text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.embedLocked(text)
}

// ProcessOne runs the full detect/translate/embed chain for one tip
// under a single inference slot.
func (e *Engine) ProcessOne(text, sourceLanguage string) (ItemOutput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	translated, src, err := e.translateLocked(text, sourceLanguage)
	if err != nil {
		return ItemOutput{}, err
	}
	vec, err := e.embedLocked(translated)
	if err != nil {
		return ItemOutput{}, err
	}
	return ItemOutput{DetectedLanguage: src, TranslatedText: translated, Vector: vec}, nil
}

func (e *Engine) translateLocked(text, sourceLanguage string) (string, string, error) {
	if strings.TrimSpace(text) == "" {
		return "", "", fmt.Errorf("op=nlp.Translate: %w: empty text", domain.ErrInvalidArgument)
	}
	src := ""
	if sourceLanguage != "" {
		src = ISOCode(sourceLanguage)
		if src == "" {
			return "", "", fmt.Errorf("op=nlp.Translate: %w: source language %q", domain.ErrInvalidArgument, sourceLanguage)
		}
	} else {
		src = e.detector.Detect(text)
	}
	return e.translator.Translate(text, src), src, nil
}

func (e *Engine) embedLocked(text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("op=nlp.Embed: %w: empty text", domain.ErrInvalidArgument)
	}
	return e.embedder.Embed(text), nil
}
