package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fieldnotes-io/tipline/internal/domain"
)

// PromotionRepo persists the derived promotion projection.
type PromotionRepo struct{ Pool PgxPool }

// NewPromotionRepo constructs a PromotionRepo with the given pool.
func NewPromotionRepo(p PgxPool) *PromotionRepo { return &PromotionRepo{Pool: p} }

// Replace swaps the promotion set of a location in one transaction.
// Delete plus insert under a single commit means readers either see the
// old set or the new one, never a mix and never an empty window.
func (r *PromotionRepo) Replace(ctx domain.Context, locationID int64, promos []domain.Promotion) error {
	tracer := otel.Tracer("repo.promotions")
	ctx, span := tracer.Start(ctx, "promotions.Replace")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("location.id", locationID),
		attribute.Int("promotions.count", len(promos)),
	)
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=promotion.replace: %w", pgError(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM promotions WHERE location_id=$1`, locationID); err != nil {
		return fmt.Errorf("op=promotion.replace: %w", pgError(err))
	}
	now := time.Now().UTC()
	q := `INSERT INTO promotions (location_id, tip_text, mention_count, similarity_score, promoted_at) VALUES ($1,$2,$3,$4,$5)`
	for _, p := range promos {
		if _, err := tx.Exec(ctx, q, locationID, p.TipText, p.MentionCount, p.SimilarityScore, now); err != nil {
			return fmt.Errorf("op=promotion.replace: %w", pgError(err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=promotion.replace: %w", pgError(err))
	}
	return nil
}

// ListByLocation returns the promotions of a location in rank order.
func (r *PromotionRepo) ListByLocation(ctx domain.Context, locationID int64) ([]domain.Promotion, error) {
	tracer := otel.Tracer("repo.promotions")
	ctx, span := tracer.Start(ctx, "promotions.ListByLocation")
	defer span.End()
	q := `SELECT id, location_id, tip_text, mention_count, similarity_score, promoted_at
	FROM promotions WHERE location_id=$1
	ORDER BY mention_count DESC, similarity_score DESC, id ASC`
	rows, err := r.Pool.Query(ctx, q, locationID)
	if err != nil {
		return nil, fmt.Errorf("op=promotion.list_by_location: %w", pgError(err))
	}
	defer rows.Close()
	var out []domain.Promotion
	for rows.Next() {
		var p domain.Promotion
		if err := rows.Scan(&p.ID, &p.LocationID, &p.TipText, &p.MentionCount, &p.SimilarityScore, &p.PromotedAt); err != nil {
			return nil, fmt.Errorf("op=promotion.list_by_location: %w", pgError(err))
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=promotion.list_by_location: %w", pgError(err))
	}
	return out, nil
}
