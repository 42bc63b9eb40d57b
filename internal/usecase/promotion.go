package usecase

import (
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fieldnotes-io/tipline/internal/adapter/observability"
	"github.com/fieldnotes-io/tipline/internal/domain"
	"github.com/fieldnotes-io/tipline/pkg/vecx"
)

// Clustering defaults; overridden from config at wiring time.
const (
	DefaultSimilarityThreshold = 0.85
	DefaultMinMentions         = 3
)

// BuildPromotions clusters processed tips of one location greedily:
// pop the oldest unclustered tip as representative, absorb every
// remaining tip whose cosine similarity clears the threshold, repeat.
// Deterministic for identical input, so nightly reruns over an
// unchanged corpus replace promotions with byte-identical rows.
func BuildPromotions(tips []domain.ProcessedTip, threshold float64, minMentions int) []domain.Promotion {
	if minMentions < 1 {
		minMentions = DefaultMinMentions
	}
	if len(tips) == 0 {
		return nil
	}

	type member struct {
		tipID int64
		text  string
		vec   []float32
	}
	pool := make([]member, len(tips))
	for i, t := range tips {
		// Normalize defensively; stored vectors are unit length already
		// but the clustering must not depend on that.
		pool[i] = member{tipID: t.TipID, text: t.TranslatedText, vec: vecx.Normalize(t.Vector)}
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].tipID < pool[j].tipID })

	var promos []domain.Promotion
	for len(pool) > 0 {
		head := pool[0]
		rest := pool[1:]
		cluster := []member{head}
		var sims []float64
		remaining := rest[:0]
		for _, cand := range rest {
			sim := vecx.Dot(head.vec, cand.vec)
			if sim >= threshold {
				cluster = append(cluster, cand)
				sims = append(sims, sim)
			} else {
				remaining = append(remaining, cand)
			}
		}
		pool = remaining

		if len(cluster) < minMentions {
			continue
		}
		score := 1.0
		if len(sims) > 0 {
			var sum float64
			for _, s := range sims {
				sum += s
			}
			score = sum / float64(len(sims))
		}
		if score > 1 {
			score = 1
		} else if score < 0 {
			score = 0
		}
		promos = append(promos, domain.Promotion{
			TipText:         head.text,
			MentionCount:    len(cluster),
			SimilarityScore: score,
		})
	}

	sort.SliceStable(promos, func(i, j int) bool {
		if promos[i].MentionCount != promos[j].MentionCount {
			return promos[i].MentionCount > promos[j].MentionCount
		}
		return promos[i].SimilarityScore > promos[j].SimilarityScore
	})
	return promos
}

// PromotionService rebuilds the stored promotion projection per
// location from the processed corpus.
type PromotionService struct {
	Tips      domain.TipRepository
	Promos    domain.PromotionRepository
	Cache     domain.PromotionCache     // optional
	Locations domain.LocationRepository // required for RebuildAll only

	SimilarityThreshold float64
	MinMentions         int
}

// NewPromotionService constructs a PromotionService, applying defaults
// for unset clustering parameters.
func NewPromotionService(tips domain.TipRepository, promos domain.PromotionRepository, cache domain.PromotionCache, threshold float64, minMentions int) *PromotionService {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	if minMentions < 1 {
		minMentions = DefaultMinMentions
	}
	return &PromotionService{Tips: tips, Promos: promos, Cache: cache, SimilarityThreshold: threshold, MinMentions: minMentions}
}

// Rebuild replaces the promotion set of one location. A location with
// no processed tips is a silent no-op: its existing promotions stay.
// With processed tips but no qualifying cluster, the set is replaced
// by the empty set, clearing stale rows. Returns the number written.
func (s *PromotionService) Rebuild(ctx domain.Context, locationID int64) (int, error) {
	tracer := otel.Tracer("usecase.promotion")
	ctx, span := tracer.Start(ctx, "promotion.Rebuild")
	defer span.End()
	span.SetAttributes(attribute.Int64("location.id", locationID))

	tips, err := s.Tips.ListProcessed(ctx, locationID)
	if err != nil {
		return 0, fmt.Errorf("op=promotion.rebuild: %w", err)
	}
	if len(tips) == 0 {
		span.SetAttributes(attribute.Bool("promotion.input_empty", true))
		return 0, nil
	}

	promos := BuildPromotions(tips, s.SimilarityThreshold, s.MinMentions)
	for i := range promos {
		promos[i].LocationID = locationID
	}
	if err := s.Promos.Replace(ctx, locationID, promos); err != nil {
		return 0, fmt.Errorf("op=promotion.rebuild: %w", err)
	}
	observability.PromotionsReplacedTotal.Inc()
	observability.PromotionsWritten.Observe(float64(len(promos)))

	if s.Cache != nil {
		if err := s.Cache.Invalidate(ctx, locationID); err != nil {
			// Stale cache self-heals at TTL; not worth failing the run.
			span.RecordError(err)
		}
	}
	return len(promos), nil
}

// LocationRebuild reports one location's rebuild outcome.
type LocationRebuild struct {
	LocationID int64 `json:"location_id"`
	Promotions int   `json:"promotions"`
}

// RebuildAll rebuilds promotions for every known location, ascending
// by id. Requires Locations to be set.
func (s *PromotionService) RebuildAll(ctx domain.Context) ([]LocationRebuild, error) {
	if s.Locations == nil {
		return nil, fmt.Errorf("op=promotion.rebuild_all: location repository not configured: %w", domain.ErrInternal)
	}
	locs, err := s.Locations.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("op=promotion.rebuild_all: %w", err)
	}
	sort.Slice(locs, func(i, j int) bool { return locs[i].ID < locs[j].ID })

	out := make([]LocationRebuild, 0, len(locs))
	for _, loc := range locs {
		n, err := s.Rebuild(ctx, loc.ID)
		if err != nil {
			return out, err
		}
		out = append(out, LocationRebuild{LocationID: loc.ID, Promotions: n})
	}
	return out, nil
}
