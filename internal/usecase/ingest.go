package usecase

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fieldnotes-io/tipline/internal/domain"
	"github.com/fieldnotes-io/tipline/pkg/textx"
)

// MaxTipLength bounds the sanitized tip text in runes.
const MaxTipLength = 2000

// SubmitTipInput carries one traveler submission.
type SubmitTipInput struct {
	Text            string
	LocationName    string
	LocationCountry string
	Latitude        *float64
	Longitude       *float64
}

// TipService handles tip ingestion and the read side of the API.
type TipService struct {
	Tips      domain.TipRepository
	Locations domain.LocationRepository
	Promos    domain.PromotionRepository
	Cache     domain.PromotionCache // optional
}

// NewTipService constructs a TipService.
func NewTipService(tips domain.TipRepository, locations domain.LocationRepository, promos domain.PromotionRepository, cache domain.PromotionCache) *TipService {
	return &TipService{Tips: tips, Locations: locations, Promos: promos, Cache: cache}
}

// SubmitTip sanitizes the text, resolves the location and stores a
// pending tip.
func (s *TipService) SubmitTip(ctx domain.Context, in SubmitTipInput) (domain.Tip, error) {
	tracer := otel.Tracer("usecase.tips")
	ctx, span := tracer.Start(ctx, "tips.Submit")
	defer span.End()

	text := textx.CollapseSpaces(textx.SanitizeText(in.Text))
	if text == "" {
		return domain.Tip{}, fmt.Errorf("op=tips.submit: empty text after sanitation: %w", domain.ErrInvalidArgument)
	}
	if utf8.RuneCountInString(text) > MaxTipLength {
		return domain.Tip{}, fmt.Errorf("op=tips.submit: text exceeds %d characters: %w", MaxTipLength, domain.ErrInvalidArgument)
	}
	name := strings.TrimSpace(in.LocationName)
	country := strings.TrimSpace(in.LocationCountry)
	if name == "" || country == "" {
		return domain.Tip{}, fmt.Errorf("op=tips.submit: location name and country required: %w", domain.ErrInvalidArgument)
	}

	loc, err := s.Locations.GetOrCreate(ctx, name, country, in.Latitude, in.Longitude)
	if err != nil {
		return domain.Tip{}, fmt.Errorf("op=tips.submit: %w", err)
	}
	span.SetAttributes(attribute.Int64("location.id", loc.ID))

	id, err := s.Tips.Create(ctx, domain.Tip{
		RawText:    text,
		LocationID: loc.ID,
		Status:     domain.TipPending,
	})
	if err != nil {
		return domain.Tip{}, fmt.Errorf("op=tips.submit: %w", err)
	}
	tip, err := s.Tips.Get(ctx, id)
	if err != nil {
		return domain.Tip{}, fmt.Errorf("op=tips.submit: %w", err)
	}
	return tip, nil
}

// GetTip returns one tip by id.
func (s *TipService) GetTip(ctx domain.Context, id int64) (domain.Tip, error) {
	tip, err := s.Tips.Get(ctx, id)
	if err != nil {
		return domain.Tip{}, fmt.Errorf("op=tips.get: %w", err)
	}
	return tip, nil
}

// ListLocations returns all known locations.
func (s *TipService) ListLocations(ctx domain.Context) ([]domain.Location, error) {
	locs, err := s.Locations.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("op=locations.list: %w", err)
	}
	return locs, nil
}

// GetLocation returns one location by id.
func (s *TipService) GetLocation(ctx domain.Context, id int64) (domain.Location, error) {
	loc, err := s.Locations.Get(ctx, id)
	if err != nil {
		return domain.Location{}, fmt.Errorf("op=locations.get: %w", err)
	}
	return loc, nil
}

// ListLocationTips pages through a location's tips, optionally
// filtered by status. Limit is clamped to [1,100], offset to >= 0.
func (s *TipService) ListLocationTips(ctx domain.Context, locationID int64, status *domain.TipStatus, limit, offset int) ([]domain.Tip, error) {
	if _, err := s.Locations.Get(ctx, locationID); err != nil {
		return nil, fmt.Errorf("op=locations.tips: %w", err)
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	tips, err := s.Tips.ListByLocation(ctx, locationID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("op=locations.tips: %w", err)
	}
	return tips, nil
}

// GetPromotions returns the promoted tips of a location, reading
// through the cache when one is configured. Cache failures fall back
// to the database.
func (s *TipService) GetPromotions(ctx domain.Context, locationID int64) ([]domain.Promotion, error) {
	if _, err := s.Locations.Get(ctx, locationID); err != nil {
		return nil, fmt.Errorf("op=promotions.list: %w", err)
	}
	if s.Cache != nil {
		if promos, ok, err := s.Cache.Get(ctx, locationID); err == nil && ok {
			return promos, nil
		}
	}
	promos, err := s.Promos.ListByLocation(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("op=promotions.list: %w", err)
	}
	if s.Cache != nil {
		_ = s.Cache.Set(ctx, locationID, promos)
	}
	return promos, nil
}
