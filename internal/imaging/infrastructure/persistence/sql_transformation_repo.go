package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	sharedApplication "github.com/felixgeelhaar/imagery/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/imagery/internal/shared/domain"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/database"
)

// SQLTransformationRepository implements gallery.TransformationRepository.
// Every variant shares one table: the type column is the discriminant and
// the kind-specific columns are NULL when they do not apply.
type SQLTransformationRepository struct {
	exec    database.Executor
	tracker sharedApplication.Tracker
}

// NewSQLTransformationRepository creates a transformation repository.
func NewSQLTransformationRepository(exec database.Executor, tracker sharedApplication.Tracker) *SQLTransformationRepository {
	return &SQLTransformationRepository{exec: exec, tracker: tracker}
}

// Get loads a transformation record by id.
func (r *SQLTransformationRepository) Get(ctx context.Context, id int64) (*gallery.TransformationRecord, error) {
	var (
		imageID              int64
		kind                 string
		angle, width, height sql.NullInt64
		createdAt            time.Time
	)
	err := r.exec.QueryRow(ctx,
		`SELECT image_id, type, angle, width, height, created_at FROM transformations WHERE id = ?`, id,
	).Scan(&imageID, &kind, &angle, &width, &height, &createdAt)
	if database.IsNoRows(err) {
		return nil, fmt.Errorf("transformation %d: %w", id, sharedDomain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transformation %d: %w", id, err)
	}

	t, err := gallery.TransformationFromColumns(gallery.Kind(kind), intPtr(angle), intPtr(width), intPtr(height))
	if err != nil {
		return nil, err
	}

	rec := gallery.RehydrateTransformationRecord(id, imageID, t, createdAt)
	r.tracker.Track(rec)
	return rec, nil
}

// Add inserts a transformation record and assigns its id.
func (r *SQLTransformationRepository) Add(ctx context.Context, rec *gallery.TransformationRecord) error {
	angle, width, height := rec.Columns()

	var id int64
	err := r.exec.QueryRow(ctx, `
		INSERT INTO transformations (image_id, type, angle, width, height, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`,
		rec.ImageID(), string(rec.Kind()), nullInt(angle), nullInt(width), nullInt(height), rec.CreatedAt().UTC(),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to insert transformation: %w", err)
	}

	rec.AssignID(id)
	r.tracker.Track(rec)
	return nil
}

// CountByType counts applied transformations per kind, most frequent first.
func (r *SQLTransformationRepository) CountByType(ctx context.Context) ([]gallery.TransformationByType, error) {
	rows, err := r.exec.Query(ctx, `
		SELECT type, COUNT(id) AS total
		FROM transformations
		GROUP BY type
		ORDER BY total DESC, type ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to count transformations: %w", err)
	}
	defer rows.Close()

	counts := make([]gallery.TransformationByType, 0)
	for rows.Next() {
		var (
			kind  string
			total int64
		)
		if err := rows.Scan(&kind, &total); err != nil {
			return nil, err
		}
		counts = append(counts, gallery.TransformationByType{Type: gallery.Kind(kind), Count: int(total)})
	}
	return counts, rows.Err()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
