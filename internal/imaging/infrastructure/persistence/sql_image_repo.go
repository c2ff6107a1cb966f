package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	sharedApplication "github.com/felixgeelhaar/imagery/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/imagery/internal/shared/domain"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/database"
)

// LocationChecker reports whether a stored file exists.
type LocationChecker interface {
	Exists(ctx context.Context, location string) (bool, error)
}

// SQLImageRepository implements gallery.ImageRepository over an executor
// that accepts "?" placeholders.
type SQLImageRepository struct {
	exec    database.Executor
	driver  database.Driver
	tracker sharedApplication.Tracker
	files   LocationChecker
}

// NewSQLImageRepository creates an image repository. Loaded and staged
// images are reported to tracker.
func NewSQLImageRepository(exec database.Executor, driver database.Driver, tracker sharedApplication.Tracker, files LocationChecker) *SQLImageRepository {
	return &SQLImageRepository{exec: exec, driver: driver, tracker: tracker, files: files}
}

// Get loads an image by id.
func (r *SQLImageRepository) Get(ctx context.Context, id int64) (*gallery.Image, error) {
	var (
		name, location string
		count          int
		createdAt      time.Time
	)
	err := r.exec.QueryRow(ctx,
		`SELECT name, location, transformation_count, created_at FROM images WHERE id = ?`, id,
	).Scan(&name, &location, &count, &createdAt)
	if database.IsNoRows(err) {
		return nil, fmt.Errorf("image %d: %w", id, sharedDomain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load image %d: %w", id, err)
	}

	img := gallery.RehydrateImage(id, name, location, count, createdAt)
	r.tracker.Track(img)
	return img, nil
}

// Add inserts a new image and assigns its id. The image's file must already
// exist in the file store.
func (r *SQLImageRepository) Add(ctx context.Context, img *gallery.Image) error {
	if err := r.checkLocation(ctx, img); err != nil {
		return err
	}

	var id int64
	err := r.exec.QueryRow(ctx, `
		INSERT INTO images (name, location, transformation_count, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id`,
		img.Name(), img.Location(), img.TransformationCount(), img.CreatedAt().UTC(),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to insert image: %w", err)
	}

	img.Stored(id)
	r.tracker.Track(img)
	return nil
}

// Update writes the image's state. The same file precondition as Add applies.
func (r *SQLImageRepository) Update(ctx context.Context, img *gallery.Image) error {
	if img.IsNew() {
		return fmt.Errorf("image has not been added: %w", sharedDomain.ErrNotFound)
	}
	if err := r.checkLocation(ctx, img); err != nil {
		return err
	}

	res, err := r.exec.Exec(ctx,
		`UPDATE images SET name = ?, location = ?, transformation_count = ? WHERE id = ?`,
		img.Name(), img.Location(), img.TransformationCount(), img.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update image %d: %w", img.ID(), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("image %d: %w", img.ID(), sharedDomain.ErrNotFound)
	}

	r.tracker.Track(img)
	return nil
}

func (r *SQLImageRepository) checkLocation(ctx context.Context, img *gallery.Image) error {
	if img.Location() == "" {
		return gallery.ErrEmptyLocation
	}
	if r.files == nil {
		return nil
	}
	ok, err := r.files.Exists(ctx, img.Location())
	if err != nil {
		return fmt.Errorf("failed to check image location: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", gallery.ErrLocationMissing, img.Location())
	}
	return nil
}

// RankImages ranks every image by transformation count, highest first.
func (r *SQLImageRepository) RankImages(ctx context.Context) ([]gallery.RankedImage, error) {
	rows, err := r.exec.Query(ctx, `
		SELECT id, name, RANK() OVER (ORDER BY transformation_count DESC) AS image_rank
		FROM images
		ORDER BY image_rank ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to rank images: %w", err)
	}
	defer rows.Close()

	ranked := make([]gallery.RankedImage, 0)
	for rows.Next() {
		var ri gallery.RankedImage
		if err := rows.Scan(&ri.ID, &ri.OriginalFilename, &ri.Rank); err != nil {
			return nil, err
		}
		ranked = append(ranked, ri)
	}
	return ranked, rows.Err()
}

// SyncTransformationCounts recomputes transformation_count from the
// transformations table for ids, or for every image when ids is empty.
func (r *SQLImageRepository) SyncTransformationCounts(ctx context.Context, ids ...int64) error {
	query := `
		UPDATE images
		SET transformation_count = (
			SELECT COUNT(*) FROM transformations t WHERE t.image_id = images.id
		)`
	var args []any

	switch {
	case len(ids) == 0:
	case r.driver == database.DriverPostgres:
		query += ` WHERE id = ANY(?)`
		args = append(args, pq.Array(ids))
	default:
		query += ` WHERE id IN (` + database.Placeholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}

	if _, err := r.exec.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to sync transformation counts: %w", err)
	}
	return nil
}

// LatestTransformations lists every image with its most recent
// transformation. Images never transformed come last.
func (r *SQLImageRepository) LatestTransformations(ctx context.Context) ([]gallery.TransformedImage, error) {
	rows, err := r.exec.Query(ctx, `
		SELECT i.id, i.name, t.type, t.created_at
		FROM images i
		LEFT JOIN (
			SELECT image_id, MAX(id) AS latest_id
			FROM transformations
			GROUP BY image_id
		) l ON l.image_id = i.id
		LEFT JOIN transformations t ON t.id = l.latest_id
		ORDER BY CASE WHEN t.id IS NULL THEN 1 ELSE 0 END, t.created_at DESC, i.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest transformations: %w", err)
	}
	defer rows.Close()

	images := make([]gallery.TransformedImage, 0)
	for rows.Next() {
		var (
			ti   gallery.TransformedImage
			kind sql.NullString
			at   sql.NullTime
		)
		if err := rows.Scan(&ti.ID, &ti.OriginalFilename, &kind, &at); err != nil {
			return nil, err
		}
		if kind.Valid {
			k := gallery.Kind(kind.String)
			ti.TransformationType = &k
		}
		if at.Valid {
			ts := at.Time.UTC()
			ti.TransformationTimestamp = &ts
		}
		images = append(images, ti)
	}
	return images, rows.Err()
}
