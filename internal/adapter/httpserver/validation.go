package httpserver

import (
	"fmt"
	"strconv"

	"github.com/fieldnotes-io/tipline/internal/domain"
)

func parseID(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id must be a positive integer", domain.ErrInvalidArgument)
	}
	return id, nil
}

// parsePaging validates limit/offset query params. Empty values fall
// back to limit 100, offset 0.
func parsePaging(rawLimit, rawOffset string) (limit, offset int, err error) {
	limit = 100
	if rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil || limit < 1 || limit > 100 {
			return 0, 0, fmt.Errorf("%w: limit must be between 1 and 100", domain.ErrInvalidArgument)
		}
	}
	if rawOffset != "" {
		offset, err = strconv.Atoi(rawOffset)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("%w: offset must be a non-negative integer", domain.ErrInvalidArgument)
		}
	}
	return limit, offset, nil
}

// parseStatus validates the optional status filter. Empty means no
// filter.
func parseStatus(raw string) (*domain.TipStatus, error) {
	if raw == "" {
		return nil, nil
	}
	switch st := domain.TipStatus(raw); st {
	case domain.TipPending, domain.TipProcessing, domain.TipProcessed, domain.TipFailed:
		return &st, nil
	default:
		return nil, fmt.Errorf("%w: status must be one of: pending, processing, processed, failed", domain.ErrInvalidArgument)
	}
}
