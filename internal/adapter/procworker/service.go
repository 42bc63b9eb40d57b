package procworker

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fieldnotes-io/tipline/internal/adapter/httpserver"
	"github.com/fieldnotes-io/tipline/internal/adapter/observability"
	"github.com/fieldnotes-io/tipline/internal/domain"
	"github.com/fieldnotes-io/tipline/internal/nlp"
)

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// Service serves the worker HTTP API over a loaded NLP engine.
type Service struct {
	Engine *nlp.Engine
}

// NewService constructs a Service. The engine must already be loaded;
// handlers only reject requests when it is missing (catastrophic).
func NewService(engine *nlp.Engine) *Service { return &Service{Engine: engine} }

// Router builds the worker HTTP handler. The service is stateless;
// within one process requests serialize on the engine's inference lock,
// parallelism comes from the process pool sharing the listen port.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	// Health answers GET too so shell probes and load balancers work.
	r.Get("/health", s.HealthHandler())
	r.Post("/health", s.HealthHandler())
	r.Post("/detect-language", s.DetectHandler())
	r.Post("/translate", s.TranslateHandler())
	r.Post("/embed", s.EmbedHandler())
	r.Post("/process-batch", s.BatchHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeFailure emits the worker's flat error envelope. The worker has
// no per-field error detail; the coordinator only branches on the
// status class.
func writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, domain.ErrInvalidArgument) {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func decode[T any](r *http.Request, dst *T) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid json: %v", domain.ErrInvalidArgument, err)
	}
	if err := getValidator().Struct(dst); err != nil {
		fields := []string{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field()))
			}
		}
		return fmt.Errorf("%w: validation failed: %s", domain.ErrInvalidArgument, strings.Join(fields, ","))
	}
	return nil
}

// HealthHandler reports readiness without touching the models.
func (s *Service) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		loaded := s.Engine.Ready()
		status := "healthy"
		code := http.StatusOK
		if !loaded {
			status = "loading"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, HealthResponse{Status: status, ModelsLoaded: loaded})
	}
}

// DetectHandler returns the language of a single text.
func (s *Service) DetectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DetectRequest
		if err := decode(r, &req); err != nil {
			writeFailure(w, err)
			return
		}
		lang, err := s.Engine.DetectLanguage(req.Text)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, DetectResponse{Language: lang})
	}
}

// TranslateHandler renders a single text into the canonical language.
func (s *Service) TranslateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TranslateRequest
		if err := decode(r, &req); err != nil {
			writeFailure(w, err)
			return
		}
		translated, src, err := s.Engine.Translate(req.Text, req.SourceLanguage)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, TranslateResponse{TranslatedText: translated, SourceLanguage: src})
	}
}

// EmbedHandler encodes a single text.
func (s *Service) EmbedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EmbedRequest
		if err := decode(r, &req); err != nil {
			writeFailure(w, err)
			return
		}
		vec, err := s.Engine.Embed(req.Text)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, EmbedResponse{Vector: vec})
	}
}

// BatchHandler is the steady-state endpoint. Item failures stay inside
// their result slot and the batch still answers 200; only a malformed
// request or a missing engine fails the call as a whole.
func (s *Service) BatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("worker.batch")
		_, span := tracer.Start(r.Context(), "worker.ProcessBatch")
		defer span.End()

		var req BatchRequest
		if err := decode(r, &req); err != nil {
			writeFailure(w, err)
			return
		}
		if !s.Engine.Ready() {
			writeFailure(w, errors.New("engine not loaded"))
			return
		}
		span.SetAttributes(attribute.Int("batch.items", len(req.Items)))

		results := make([]BatchResult, len(req.Items))
		for i, item := range req.Items {
			start := time.Now()
			out, err := s.Engine.ProcessOne(item.Text, item.SourceLanguage)
			observability.WorkerItemDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				observability.WorkerItemsTotal.WithLabelValues("error").Inc()
				results[i] = BatchResult{ID: item.ID, Error: err.Error()}
				continue
			}
			observability.WorkerItemsTotal.WithLabelValues("ok").Inc()
			results[i] = BatchResult{
				ID:               item.ID,
				DetectedLanguage: out.DetectedLanguage,
				TranslatedText:   out.TranslatedText,
				Vector:           out.Vector,
			}
		}
		writeJSON(w, http.StatusOK, BatchResponse{Results: results})
	}
}
