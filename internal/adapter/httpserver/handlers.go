package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fieldnotes-io/tipline/internal/config"
	"github.com/fieldnotes-io/tipline/internal/domain"
	"github.com/fieldnotes-io/tipline/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg       config.Config
	Tips      *usecase.TipService
	Pipeline  *usecase.PipelineService
	Promotion *usecase.PromotionService

	DBCheck     func(ctx context.Context) error
	RedisCheck  func(ctx context.Context) error
	WorkerCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, tips *usecase.TipService, pipeline *usecase.PipelineService, promotion *usecase.PromotionService, dbCheck, redisCheck, workerCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Tips: tips, Pipeline: pipeline, Promotion: promotion, DBCheck: dbCheck, RedisCheck: redisCheck, WorkerCheck: workerCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type submitTipRequest struct {
	Text            string   `json:"text" validate:"required,max=2000"`
	LocationName    string   `json:"location_name" validate:"required,max=200"`
	LocationCountry string   `json:"location_country" validate:"required,max=100"`
	Latitude        *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude       *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
}

type tipResponse struct {
	ID               int64      `json:"id"`
	Text             string     `json:"text"`
	DetectedLanguage *string    `json:"detected_language,omitempty"`
	TranslatedText   *string    `json:"translated_text,omitempty"`
	LocationID       int64      `json:"location_id"`
	SubmittedAt      time.Time  `json:"submitted_at"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
	Status           string     `json:"status"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
}

func toTipResponse(t domain.Tip) tipResponse {
	return tipResponse{
		ID:               t.ID,
		Text:             t.RawText,
		DetectedLanguage: t.DetectedLanguage,
		TranslatedText:   t.TranslatedText,
		LocationID:       t.LocationID,
		SubmittedAt:      t.SubmittedAt,
		ProcessedAt:      t.ProcessedAt,
		Status:           string(t.Status),
		FailureReason:    t.FailureReason,
	}
}

type locationResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Country   string    `json:"country"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toLocationResponse(l domain.Location) locationResponse {
	return locationResponse{ID: l.ID, Name: l.Name, Country: l.Country, Latitude: l.Latitude, Longitude: l.Longitude, CreatedAt: l.CreatedAt}
}

type promotionResponse struct {
	ID              int64     `json:"id"`
	LocationID      int64     `json:"location_id"`
	TipText         string    `json:"tip_text"`
	MentionCount    int       `json:"mention_count"`
	SimilarityScore float64   `json:"similarity_score"`
	PromotedAt      time.Time `json:"promoted_at"`
}

// SubmitTipHandler accepts a new traveler tip.
func (s *Server) SubmitTipHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var req submitTipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}
		tip, err := s.Tips.SubmitTip(r.Context(), usecase.SubmitTipInput{
			Text:            req.Text,
			LocationName:    req.LocationName,
			LocationCountry: req.LocationCountry,
			Latitude:        req.Latitude,
			Longitude:       req.Longitude,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, toTipResponse(tip))
	}
}

// GetTipHandler returns one tip by id.
func (s *Server) GetTipHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		tip, err := s.Tips.GetTip(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toTipResponse(tip))
	}
}

// ListLocationsHandler returns all locations.
func (s *Server) ListLocationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locs, err := s.Tips.ListLocations(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]locationResponse, 0, len(locs))
		for _, l := range locs {
			out = append(out, toLocationResponse(l))
		}
		writeJSON(w, http.StatusOK, map[string]any{"locations": out})
	}
}

// GetLocationHandler returns one location by id.
func (s *Server) GetLocationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		loc, err := s.Tips.GetLocation(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toLocationResponse(loc))
	}
}

// LocationTipsHandler pages a location's tips with an optional status
// filter.
func (s *Server) LocationTipsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		limit, offset, err := parsePaging(r.URL.Query().Get("limit"), r.URL.Query().Get("offset"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		status, err := parseStatus(r.URL.Query().Get("status"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		tips, err := s.Tips.ListLocationTips(r.Context(), id, status, limit, offset)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]tipResponse, 0, len(tips))
		for _, t := range tips {
			out = append(out, toTipResponse(t))
		}
		writeJSON(w, http.StatusOK, map[string]any{"tips": out})
	}
}

// PromotionsHandler returns the promoted tips of a location.
func (s *Server) PromotionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		promos, err := s.Tips.GetPromotions(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]promotionResponse, 0, len(promos))
		for _, p := range promos {
			out = append(out, promotionResponse{
				ID:              p.ID,
				LocationID:      p.LocationID,
				TipText:         p.TipText,
				MentionCount:    p.MentionCount,
				SimilarityScore: p.SimilarityScore,
				PromotedAt:      p.PromotedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"promotions": out})
	}
}

type processJobRequest struct {
	Wake    *bool `json:"wake"`
	Promote *bool `json:"promote"`
}

// ProcessJobHandler kicks off a background pipeline run. 409 when one
// is already in flight.
func (s *Server) ProcessJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := usecase.RunOptions{Wake: s.Cfg.WakeEnabled, Promote: true}
		if r.ContentLength != 0 {
			var req processJobRequest
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
				writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
				return
			}
			if req.Wake != nil {
				opts.Wake = *req.Wake
			}
			if req.Promote != nil {
				opts.Promote = *req.Promote
			}
		}
		// The run outlives the request; detach it from the request context.
		runID, err := s.Pipeline.StartAsync(context.WithoutCancel(r.Context()), opts, func(stats usecase.RunStats, err error) {
			if err != nil {
				slog.Error("background run failed",
					slog.String("run_id", stats.RunID.String()), slog.Any("error", err))
			}
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID.String()})
	}
}

// PromoteJobHandler rebuilds promotions for every location
// synchronously and reports per-location counts.
func (s *Server) PromoteJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := s.Promotion.RebuildAll(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		total := 0
		for _, lr := range results {
			total += lr.Promotions
		}
		writeJSON(w, http.StatusOK, map[string]any{"locations": results, "total_promotions": total})
	}
}

// HealthzHandler reports process liveness.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler probes the DB, Redis and the worker.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 3)
		probe := func(name string, fn func(context.Context) error) {
			if fn == nil {
				return
			}
			if err := fn(ctx); err != nil {
				checks = append(checks, check{Name: name, OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: name, OK: true})
			}
		}
		probe("db", s.DBCheck)
		probe("redis", s.RedisCheck)
		probe("worker", s.WorkerCheck)

		st := http.StatusOK
		for _, c := range checks {
			if !c.OK {
				st = http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
