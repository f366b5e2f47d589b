package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bikebuddy/server/internal/core/domain"
)

const poiColumns = `id, source, source_id, category, name,
	       ST_Y(location::geometry) AS lat,
	       ST_X(location::geometry) AS lon,
	       COALESCE(tags, '{}'::jsonb), created_at, updated_at`

// POIRepo implements ports.POIRepository with pgx.
type POIRepo struct {
	db *DB
}

// NewPOIRepo creates a new POIRepo.
func NewPOIRepo(db *DB) *POIRepo {
	return &POIRepo{db: db}
}

// UpsertBatch inserts or refreshes records keyed by (source, source_id)
// using pgx.Batch. It returns the number of rows written.
func (r *POIRepo) UpsertBatch(ctx context.Context, pois []domain.POI) (int, error) {
	if len(pois) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, p := range pois {
		tags, err := json.Marshal(p.Tags)
		if err != nil {
			return 0, fmt.Errorf("encode tags for %s: %w", p.Key(), err)
		}
		batch.Queue(`
			INSERT INTO pois (source, source_id, category, name, location, tags)
			VALUES ($1, $2, $3, $4, ST_SetSRID(ST_MakePoint($5, $6), 4326)::geography, $7)
			ON CONFLICT (source, source_id) DO UPDATE
			SET category = EXCLUDED.category, name = EXCLUDED.name,
			    location = EXCLUDED.location, tags = EXCLUDED.tags,
			    updated_at = now()
		`, string(p.Source), p.SourceID, string(p.Category), p.Name,
			p.Location.Lon, p.Location.Lat, tags)
	}

	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()

	written := 0
	for range pois {
		tag, err := br.Exec()
		if err != nil {
			return written, fmt.Errorf("batch exec: %w", err)
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}

// GetByID returns a record by UUID.
func (r *POIRepo) GetByID(ctx context.Context, id string) (*domain.POI, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+poiColumns+` FROM pois WHERE id = $1`, id)
	p, err := scanPOI(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("poi %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FindInBounds returns records inside box ordered by id. PostGIS envelopes
// take (xmin, ymin, xmax, ymax), so longitude comes first.
func (r *POIRepo) FindInBounds(ctx context.Context, box domain.BoundingBox, categories []domain.Category, limit int) ([]domain.POI, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+poiColumns+`
		FROM pois
		WHERE location && ST_MakeEnvelope($1, $2, $3, $4, 4326)::geography
		  AND (cardinality($5::text[]) = 0 OR category = ANY($5))
		ORDER BY id
		LIMIT $6
	`, box.West, box.South, box.East, box.North, categoryStrings(categories), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPOIs(rows)
}

// FindNearby returns records within radiusMeters using PostGIS ST_DWithin,
// closest first.
func (r *POIRepo) FindNearby(ctx context.Context, lat, lon, radiusMeters float64, categories []domain.Category, limit int) ([]domain.POI, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+poiColumns+`
		FROM pois
		WHERE ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		  AND (cardinality($4::text[]) = 0 OR category = ANY($4))
		ORDER BY ST_Distance(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography)
		LIMIT $5
	`, lon, lat, radiusMeters, categoryStrings(categories), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPOIs(rows)
}

// CountByCategory returns the number of records per category.
func (r *POIRepo) CountByCategory(ctx context.Context) ([]domain.CategoryCount, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT category, count(*) FROM pois GROUP BY category ORDER BY category
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []domain.CategoryCount
	for rows.Next() {
		var (
			category string
			n        int64
		)
		if err := rows.Scan(&category, &n); err != nil {
			return nil, err
		}
		counts = append(counts, domain.CategoryCount{Category: domain.Category(category), Count: int(n)})
	}
	return counts, rows.Err()
}

// Ping checks connectivity.
func (r *POIRepo) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func scanPOI(row pgx.Row) (*domain.POI, error) {
	var (
		p                domain.POI
		source, category string
		tags             []byte
	)
	if err := row.Scan(
		&p.ID, &source, &p.SourceID, &category, &p.Name,
		&p.Location.Lat, &p.Location.Lon,
		&tags, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Source = domain.Source(source)
	p.Category = domain.Category(category)
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &p.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

func collectPOIs(rows pgx.Rows) ([]domain.POI, error) {
	pois := []domain.POI{}
	for rows.Next() {
		p, err := scanPOI(rows)
		if err != nil {
			return nil, err
		}
		pois = append(pois, *p)
	}
	return pois, rows.Err()
}

func categoryStrings(cs []domain.Category) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}
