package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrWorkerUnavailable = errors.New("worker unavailable")
	ErrPipelineAborted   = errors.New("pipeline aborted")
	ErrRunActive         = errors.New("run already active")
	// ErrTransient marks persistence failures worth a short local retry
	// (connection loss, deadlock, serialization, statement timeout).
	ErrTransient = errors.New("transient persistence failure")
	ErrInternal  = errors.New("internal error")
)

// EmbeddingDim is the dimensionality of every stored tip embedding.
const EmbeddingDim = 384

// Vector is a dense sentence embedding, stored as REAL[] in Postgres.
type Vector = []float32

// Failure reasons recorded on tips that could not be processed.
const (
	ReasonBatchExhausted = "batch_exhausted"
	ReasonResultMissing  = "result_missing"
)

type TipStatus string

const (
	TipPending    TipStatus = "pending"
	TipProcessing TipStatus = "processing"
	TipProcessed  TipStatus = "processed"
	TipFailed     TipStatus = "failed"
)

// Terminal reports whether a tip has reached a final state for its
// current processing cycle.
func (s TipStatus) Terminal() bool {
	return s == TipProcessed || s == TipFailed
}

// Location identifies a place tips are attached to. (Name, Country) is
// unique case-insensitively after trimming.
type Location struct {
	ID        int64
	Name      string
	Country   string
	Latitude  *float64
	Longitude *float64
	CreatedAt time.Time
}

// Tip is a traveler-submitted note tied to a location.
// Invariants: Status in {pending, processing, processed, failed};
// terminal statuses carry a non-nil ProcessedAt; a processed tip has
// exactly one stored embedding of EmbeddingDim floats.
//
//go:generate mockery --name=TipRepository --with-expecter --filename=tip_repository_mock.go
//go:generate mockery --name=LocationRepository --with-expecter --filename=location_repository_mock.go
//go:generate mockery --name=PromotionRepository --with-expecter --filename=promotion_repository_mock.go
//go:generate mockery --name=BatchProcessor --with-expecter --filename=batch_processor_mock.go
//go:generate mockery --name=Waker --with-expecter --filename=waker_mock.go

type Tip struct {
	ID               int64
	RawText          string
	DetectedLanguage *string
	TranslatedText   *string
	LocationID       int64
	SubmittedAt      time.Time
	ProcessedAt      *time.Time
	Status           TipStatus
	FailureReason    *string
}

// ProcessResult is the worker output recorded for one successfully
// processed tip.
type ProcessResult struct {
	TipID            int64
	DetectedLanguage string
	TranslatedText   string
	Vector           Vector
}

// ProcessedTip is the promotion-engine view of a processed tip.
type ProcessedTip struct {
	TipID          int64
	TranslatedText string
	Vector         Vector
}

// Promotion is one clustered, promoted tip for a location.
type Promotion struct {
	ID              int64
	LocationID      int64
	TipText         string
	MentionCount    int
	SimilarityScore float64
	PromotedAt      time.Time
}

// BatchItem is one tip sent to the worker for processing.
type BatchItem struct {
	ID             int64
	Text           string
	SourceLanguage string // optional ISO 639-1 hint; empty means detect
}

// BatchResult is the worker outcome for one batch item. Err non-empty
// marks an item-level failure; the other fields are then unset.
type BatchResult struct {
	ID               int64
	DetectedLanguage string
	TranslatedText   string
	Vector           Vector
	Err              string
}

// Repositories (ports)

type TipRepository interface {
	Create(ctx Context, t Tip) (int64, error)
	Get(ctx Context, id int64) (Tip, error)
	ListByLocation(ctx Context, locationID int64, status *TipStatus, limit, offset int) ([]Tip, error)
	// ClaimPending atomically moves up to limit pending tips to
	// processing, oldest submitted first. Concurrent callers receive
	// disjoint sets.
	ClaimPending(ctx Context, limit int) ([]Tip, error)
	// RecordResult stores the embedding and marks the tip processed in
	// one transaction. Replays converge to the same terminal state.
	RecordResult(ctx Context, r ProcessResult) error
	RecordFailure(ctx Context, tipID int64, reason string) error
	// Release returns still-processing tips to pending (compensation).
	Release(ctx Context, ids []int64) (int64, error)
	ReleaseStale(ctx Context, olderThan time.Duration) (int64, error)
	ListProcessed(ctx Context, locationID int64) ([]ProcessedTip, error)
}

type LocationRepository interface {
	GetOrCreate(ctx Context, name, country string, lat, lon *float64) (Location, error)
	Get(ctx Context, id int64) (Location, error)
	List(ctx Context) ([]Location, error)
}

type PromotionRepository interface {
	// Replace swaps the stored promotion set for a location atomically;
	// readers never observe a partial set.
	Replace(ctx Context, locationID int64, promos []Promotion) error
	ListByLocation(ctx Context, locationID int64) ([]Promotion, error)
}

// BatchProcessor (port) — the NLP worker seen from the coordinator.

type BatchProcessor interface {
	Health(ctx Context) error
	// ProcessBatch returns one result per item, order preserved.
	ProcessBatch(ctx Context, items []BatchItem) ([]BatchResult, error)
}

// Waker (port) — brings the worker machine to a ready state.
// When wake is false only a single probe is performed.

type Waker interface {
	EnsureReady(ctx Context, wake bool) error
}

// PromotionCache (port) — optional read cache for promoted tips.

type PromotionCache interface {
	Get(ctx Context, locationID int64) ([]Promotion, bool, error)
	Set(ctx Context, locationID int64, promos []Promotion) error
	Invalidate(ctx Context, locationID int64) error
}

// Context is an alias to allow decoupling from std context in domain
// Adapters and usecases should pass context.Context through

type Context = context.Context
