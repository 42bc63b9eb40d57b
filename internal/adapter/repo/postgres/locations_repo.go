package postgres

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fieldnotes-io/tipline/internal/domain"
)

// LocationRepo persists and loads locations using a minimal pgx pool.
type LocationRepo struct{ Pool PgxPool }

// NewLocationRepo constructs a LocationRepo with the given pool.
func NewLocationRepo(p PgxPool) *LocationRepo { return &LocationRepo{Pool: p} }

const locationColumns = `id, name, country, latitude, longitude, created_at`

func scanLocation(row pgx.Row) (domain.Location, error) {
	var l domain.Location
	err := row.Scan(&l.ID, &l.Name, &l.Country, &l.Latitude, &l.Longitude, &l.CreatedAt)
	return l, err
}

// GetOrCreate returns the location identified by (name, country),
// creating it on first reference. Identity is case-insensitive after
// trimming; the stored spelling is whichever submission arrived first.
func (r *LocationRepo) GetOrCreate(ctx domain.Context, name, country string, lat, lon *float64) (domain.Location, error) {
	tracer := otel.Tracer("repo.locations")
	ctx, span := tracer.Start(ctx, "locations.GetOrCreate")
	defer span.End()
	name = strings.TrimSpace(name)
	country = strings.TrimSpace(country)
	if name == "" || country == "" {
		return domain.Location{}, fmt.Errorf("op=location.get_or_create: %w: name and country required", domain.ErrInvalidArgument)
	}
	// The insert races against concurrent first references; the unique
	// index on (lower(btrim(name)), lower(btrim(country))) decides the
	// winner and ON CONFLICT turns losers into readers.
	q := `INSERT INTO locations (name, country, latitude, longitude, created_at)
	VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT ((lower(btrim(name))), (lower(btrim(country)))) DO NOTHING
	RETURNING ` + locationColumns
	l, err := scanLocation(r.Pool.QueryRow(ctx, q, name, country, lat, lon, time.Now().UTC()))
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Location{}, fmt.Errorf("op=location.get_or_create: %w", pgError(err))
	}
	qSel := `SELECT ` + locationColumns + ` FROM locations
	WHERE lower(btrim(name))=lower(btrim($1)) AND lower(btrim(country))=lower(btrim($2))`
	l, err = scanLocation(r.Pool.QueryRow(ctx, qSel, name, country))
	if err != nil {
		return domain.Location{}, fmt.Errorf("op=location.get_or_create: %w", pgError(err))
	}
	return l, nil
}

// Get loads a location by id.
func (r *LocationRepo) Get(ctx domain.Context, id int64) (domain.Location, error) {
	tracer := otel.Tracer("repo.locations")
	ctx, span := tracer.Start(ctx, "locations.Get")
	defer span.End()
	q := `SELECT ` + locationColumns + ` FROM locations WHERE id=$1`
	l, err := scanLocation(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Location{}, fmt.Errorf("op=location.get: %w", domain.ErrNotFound)
		}
		return domain.Location{}, fmt.Errorf("op=location.get: %w", pgError(err))
	}
	return l, nil
}

// List returns all locations ordered by country then name.
func (r *LocationRepo) List(ctx domain.Context) ([]domain.Location, error) {
	tracer := otel.Tracer("repo.locations")
	ctx, span := tracer.Start(ctx, "locations.List")
	defer span.End()
	q := `SELECT ` + locationColumns + ` FROM locations ORDER BY country ASC, name ASC`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=location.list: %w", pgError(err))
	}
	defer rows.Close()
	var out []domain.Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("op=location.list: %w", pgError(err))
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=location.list: %w", pgError(err))
	}
	return out, nil
}
