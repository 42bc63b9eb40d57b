// Package procworker implements the NLP processing worker: the HTTP
// service exposed by cmd/worker and the client the coordinator uses to
// reach it. Both sides share the wire DTOs so the JSON contract lives
// in one place.
package procworker

// DetectRequest asks for the language of a text.
type DetectRequest struct {
	Text string `json:"text" validate:"required,max=5000"`
}

// DetectResponse carries the detected ISO 639-1 code.
type DetectResponse struct {
	Language string `json:"language"`
}

// TranslateRequest asks for a translation into the canonical language.
type TranslateRequest struct {
	Text           string `json:"text" validate:"required,max=5000"`
	SourceLanguage string `json:"source_language,omitempty" validate:"omitempty,max=16"`
}

// TranslateResponse carries the translation and the source language used.
type TranslateResponse struct {
	TranslatedText string `json:"translated_text"`
	SourceLanguage string `json:"source_language"`
}

// EmbedRequest asks for a sentence embedding.
type EmbedRequest struct {
	Text string `json:"text" validate:"required,max=5000"`
}

// EmbedResponse carries the 384-dim vector.
type EmbedResponse struct {
	Vector []float32 `json:"vector"`
}

// BatchItem is one tip in a batch request.
type BatchItem struct {
	ID             int64  `json:"id" validate:"required"`
	Text           string `json:"text" validate:"required,max=5000"`
	SourceLanguage string `json:"source_language,omitempty" validate:"omitempty,max=16"`
}

// BatchRequest is the steady-state coordinator call.
type BatchRequest struct {
	Items []BatchItem `json:"items" validate:"required,min=1,max=200,dive"`
}

// BatchResult is one slot in a batch response. Either the three result
// fields are set or Error is non-empty; ID always echoes the input.
type BatchResult struct {
	ID               int64     `json:"id"`
	DetectedLanguage string    `json:"detected_language,omitempty"`
	TranslatedText   string    `json:"translated_text,omitempty"`
	Vector           []float32 `json:"vector,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// BatchResponse carries results in input order.
type BatchResponse struct {
	Results []BatchResult `json:"results"`
}

// HealthResponse reports worker readiness. Cheap: no model inference.
type HealthResponse struct {
	Status       string `json:"status"`
	ModelsLoaded bool   `json:"models_loaded"`
}

// ErrorResponse is the catastrophic-failure envelope (4xx/5xx).
type ErrorResponse struct {
	Error string `json:"error"`
}
