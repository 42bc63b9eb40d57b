package postgres

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fieldnotes-io/tipline/internal/domain"
)

// TipRepo persists and loads tips using a minimal pgx pool.
type TipRepo struct{ Pool PgxPool }

// NewTipRepo constructs a TipRepo with the given pool.
func NewTipRepo(p PgxPool) *TipRepo { return &TipRepo{Pool: p} }

const tipColumns = `id, raw_text, detected_language, translated_text, location_id, submitted_at, processed_at, status, failure_reason`

func scanTip(row pgx.Row) (domain.Tip, error) {
	var t domain.Tip
	err := row.Scan(&t.ID, &t.RawText, &t.DetectedLanguage, &t.TranslatedText,
		&t.LocationID, &t.SubmittedAt, &t.ProcessedAt, &t.Status, &t.FailureReason)
	return t, err
}

// Create inserts a new pending tip and returns its id.
func (r *TipRepo) Create(ctx domain.Context, t domain.Tip) (int64, error) {
	tracer := otel.Tracer("repo.tips")
	ctx, span := tracer.Start(ctx, "tips.Create")
	defer span.End()
	status := t.Status
	if status == "" {
		status = domain.TipPending
	}
	submitted := t.SubmittedAt
	if submitted.IsZero() {
		submitted = time.Now().UTC()
	}
	q := `INSERT INTO tips (raw_text, detected_language, location_id, submitted_at, status) VALUES ($1,$2,$3,$4,$5) RETURNING id`
	var id int64
	if err := r.Pool.QueryRow(ctx, q, t.RawText, t.DetectedLanguage, t.LocationID, submitted, status).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=tip.create: %w", pgError(err))
	}
	return id, nil
}

// Get loads a tip by id.
func (r *TipRepo) Get(ctx domain.Context, id int64) (domain.Tip, error) {
	tracer := otel.Tracer("repo.tips")
	ctx, span := tracer.Start(ctx, "tips.Get")
	defer span.End()
	q := `SELECT ` + tipColumns + ` FROM tips WHERE id=$1`
	t, err := scanTip(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Tip{}, fmt.Errorf("op=tip.get: %w", domain.ErrNotFound)
		}
		return domain.Tip{}, fmt.Errorf("op=tip.get: %w", pgError(err))
	}
	return t, nil
}

// ListByLocation returns a page of tips for a location, newest first.
// A non-nil status narrows the listing.
func (r *TipRepo) ListByLocation(ctx domain.Context, locationID int64, status *domain.TipStatus, limit, offset int) ([]domain.Tip, error) {
	tracer := otel.Tracer("repo.tips")
	ctx, span := tracer.Start(ctx, "tips.ListByLocation")
	defer span.End()
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var (
		rows pgx.Rows
		err  error
	)
	if status != nil {
		q := `SELECT ` + tipColumns + ` FROM tips WHERE location_id=$1 AND status=$2 ORDER BY submitted_at DESC, id DESC LIMIT $3 OFFSET $4`
		rows, err = r.Pool.Query(ctx, q, locationID, *status, limit, offset)
	} else {
		q := `SELECT ` + tipColumns + ` FROM tips WHERE location_id=$1 ORDER BY submitted_at DESC, id DESC LIMIT $2 OFFSET $3`
		rows, err = r.Pool.Query(ctx, q, locationID, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("op=tip.list_by_location: %w", pgError(err))
	}
	defer rows.Close()
	var out []domain.Tip
	for rows.Next() {
		t, err := scanTip(rows)
		if err != nil {
			return nil, fmt.Errorf("op=tip.list_by_location: %w", pgError(err))
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=tip.list_by_location: %w", pgError(err))
	}
	return out, nil
}

// ClaimPending atomically transitions up to limit pending tips to
// processing and returns them oldest submitted first. FOR UPDATE SKIP
// LOCKED keeps concurrent coordinators on disjoint sets: a row claimed
// inside another transaction is skipped, never double-claimed.
func (r *TipRepo) ClaimPending(ctx domain.Context, limit int) ([]domain.Tip, error) {
	tracer := otel.Tracer("repo.tips")
	ctx, span := tracer.Start(ctx, "tips.ClaimPending")
	defer span.End()
	span.SetAttributes(attribute.Int("tips.claim_limit", limit))
	if limit <= 0 {
		return nil, nil
	}
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("op=tip.claim_pending: %w", pgError(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `UPDATE tips SET status='processing', updated_at=now()
	WHERE id IN (
		SELECT id FROM tips WHERE status='pending'
		ORDER BY submitted_at ASC, id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	)
	RETURNING ` + tipColumns
	rows, err := tx.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=tip.claim_pending: %w", pgError(err))
	}
	var claimed []domain.Tip
	for rows.Next() {
		t, err := scanTip(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("op=tip.claim_pending: %w", pgError(err))
		}
		claimed = append(claimed, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=tip.claim_pending: %w", pgError(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("op=tip.claim_pending: %w", pgError(err))
	}
	// RETURNING order is not defined for UPDATE; restore claim order.
	sortTipsBySubmission(claimed)
	span.SetAttributes(attribute.Int("tips.claimed", len(claimed)))
	return claimed, nil
}

func sortTipsBySubmission(tips []domain.Tip) {
	sort.Slice(tips, func(i, j int) bool {
		if tips[i].SubmittedAt.Equal(tips[j].SubmittedAt) {
			return tips[i].ID < tips[j].ID
		}
		return tips[i].SubmittedAt.Before(tips[j].SubmittedAt)
	})
}

// RecordResult stores the embedding and marks the tip processed in one
// transaction. The embedding upsert makes replays idempotent: a second
// call converges to the same terminal state instead of conflicting.
func (r *TipRepo) RecordResult(ctx domain.Context, res domain.ProcessResult) error {
	tracer := otel.Tracer("repo.tips")
	ctx, span := tracer.Start(ctx, "tips.RecordResult")
	defer span.End()
	span.SetAttributes(attribute.Int64("tip.id", res.TipID))
	if len(res.Vector) != domain.EmbeddingDim {
		return fmt.Errorf("op=tip.record_result: %w: vector length %d, want %d",
			domain.ErrInvalidArgument, len(res.Vector), domain.EmbeddingDim)
	}
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=tip.record_result: %w", pgError(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	qEmb := `INSERT INTO embeddings (tip_id, vector, created_at) VALUES ($1,$2,$3)
	ON CONFLICT (tip_id) DO UPDATE SET vector=EXCLUDED.vector`
	if _, err := tx.Exec(ctx, qEmb, res.TipID, res.Vector, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=tip.record_result: %w", pgError(err))
	}
	qTip := `UPDATE tips SET detected_language=$2, translated_text=$3, status='processed',
	processed_at=now(), failure_reason=NULL, updated_at=now() WHERE id=$1`
	tag, err := tx.Exec(ctx, qTip, res.TipID, res.DetectedLanguage, res.TranslatedText)
	if err != nil {
		return fmt.Errorf("op=tip.record_result: %w", pgError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=tip.record_result: %w: tip %d", domain.ErrNotFound, res.TipID)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=tip.record_result: %w", pgError(err))
	}
	return nil
}

// RecordFailure marks the tip failed with a short opaque reason.
func (r *TipRepo) RecordFailure(ctx domain.Context, tipID int64, reason string) error {
	tracer := otel.Tracer("repo.tips")
	ctx, span := tracer.Start(ctx, "tips.RecordFailure")
	defer span.End()
	span.SetAttributes(attribute.Int64("tip.id", tipID))
	q := `UPDATE tips SET status='failed', processed_at=now(), failure_reason=$2, updated_at=now() WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, tipID, reason)
	if err != nil {
		return fmt.Errorf("op=tip.record_failure: %w", pgError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=tip.record_failure: %w: tip %d", domain.ErrNotFound, tipID)
	}
	return nil
}

// Release compensates claimed tips back to pending. Only rows still in
// processing are touched, so a tip that reached a terminal state during
// the run keeps it.
func (r *TipRepo) Release(ctx domain.Context, ids []int64) (int64, error) {
	tracer := otel.Tracer("repo.tips")
	ctx, span := tracer.Start(ctx, "tips.Release")
	defer span.End()
	if len(ids) == 0 {
		return 0, nil
	}
	q := `UPDATE tips SET status='pending', processed_at=NULL, updated_at=now()
	WHERE id = ANY($1) AND status='processing'`
	tag, err := r.Pool.Exec(ctx, q, ids)
	if err != nil {
		return 0, fmt.Errorf("op=tip.release: %w", pgError(err))
	}
	span.SetAttributes(attribute.Int64("tips.released", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

// ReleaseStale reverts processing tips untouched for longer than
// olderThan. Safety net for coordinator crashes that skipped
// compensation.
func (r *TipRepo) ReleaseStale(ctx domain.Context, olderThan time.Duration) (int64, error) {
	tracer := otel.Tracer("repo.tips")
	ctx, span := tracer.Start(ctx, "tips.ReleaseStale")
	defer span.End()
	cutoff := time.Now().UTC().Add(-olderThan)
	q := `UPDATE tips SET status='pending', processed_at=NULL, updated_at=now()
	WHERE status='processing' AND updated_at < $1`
	tag, err := r.Pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=tip.release_stale: %w", pgError(err))
	}
	span.SetAttributes(attribute.Int64("tips.released", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

// ListProcessed returns all processed tips of a location joined with
// their embeddings, tip id ascending. Stable input for the promotion
// engine.
func (r *TipRepo) ListProcessed(ctx domain.Context, locationID int64) ([]domain.ProcessedTip, error) {
	tracer := otel.Tracer("repo.tips")
	ctx, span := tracer.Start(ctx, "tips.ListProcessed")
	defer span.End()
	q := `SELECT t.id, t.translated_text, e.vector
	FROM tips t JOIN embeddings e ON e.tip_id = t.id
	WHERE t.location_id=$1 AND t.status='processed'
	ORDER BY t.id ASC`
	rows, err := r.Pool.Query(ctx, q, locationID)
	if err != nil {
		return nil, fmt.Errorf("op=tip.list_processed: %w", pgError(err))
	}
	defer rows.Close()
	var out []domain.ProcessedTip
	for rows.Next() {
		var pt domain.ProcessedTip
		if err := rows.Scan(&pt.TipID, &pt.TranslatedText, &pt.Vector); err != nil {
			return nil, fmt.Errorf("op=tip.list_processed: %w", pgError(err))
		}
		out = append(out, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=tip.list_processed: %w", pgError(err))
	}
	span.SetAttributes(attribute.Int("tips.processed", len(out)))
	return out, nil
}
