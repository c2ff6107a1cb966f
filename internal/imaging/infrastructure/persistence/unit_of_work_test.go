package persistence

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	sharedDomain "github.com/felixgeelhaar/imagery/internal/shared/domain"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/filestore"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/outbox"
)

func newTestDB(t *testing.T) database.Connection {
	t.Helper()
	ctx := context.Background()

	conn, err := sqlite.Open(ctx, database.Config{
		Driver:     database.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "imagery.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, migrations.Run(ctx, conn))
	return conn
}

// storeImage writes a file and adds an image row for it inside uow.
func storeImage(t *testing.T, ctx context.Context, uow *UnitOfWork, name, location string) *gallery.Image {
	t.Helper()
	require.NoError(t, uow.Files().Add(ctx, location, strings.NewReader("bytes")))
	img, err := gallery.NewImage(name, location, nil)
	require.NoError(t, err)
	require.NoError(t, uow.Images().Add(ctx, img))
	return img
}

func addTransformations(t *testing.T, ctx context.Context, uow *UnitOfWork, imageID int64, ts ...gallery.Transformation) {
	t.Helper()
	for _, tr := range ts {
		rec, err := gallery.NewTransformationRecord(imageID, tr)
		require.NoError(t, err)
		require.NoError(t, uow.Transformations().Add(ctx, rec))
	}
}

func TestImageRepository_RoundTripWithinScope(t *testing.T) {
	ctx := context.Background()
	uow := NewUnitOfWork(newTestDB(t), filestore.NewMemory(), nil)
	defer uow.Rollback(ctx)

	added := storeImage(t, ctx, uow, "cat.png", "uploads/cat.png")
	require.False(t, added.IsNew(), "id is assigned by the insert")

	got, err := uow.Images().Get(ctx, added.ID())
	require.NoError(t, err)
	assert.Equal(t, added.ID(), got.ID())
	assert.Equal(t, added.Name(), got.Name())
	assert.Equal(t, added.Location(), got.Location())
	assert.Equal(t, added.TransformationCount(), got.TransformationCount())
	assert.WithinDuration(t, added.CreatedAt(), got.CreatedAt(), time.Millisecond)
}

func TestImageRepository_GetMissing(t *testing.T) {
	ctx := context.Background()
	uow := NewUnitOfWork(newTestDB(t), filestore.NewMemory(), nil)
	defer uow.Rollback(ctx)

	_, err := uow.Images().Get(ctx, 404)
	assert.ErrorIs(t, err, sharedDomain.ErrNotFound)
}

func TestImageRepository_RequiresStoredFile(t *testing.T) {
	ctx := context.Background()
	uow := NewUnitOfWork(newTestDB(t), filestore.NewMemory(), nil)
	defer uow.Rollback(ctx)

	img, err := gallery.NewImage("ghost.png", "uploads/ghost.png", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, uow.Images().Add(ctx, img), gallery.ErrLocationMissing)

	stored := storeImage(t, ctx, uow, "cat.png", "uploads/cat.png")
	_, err = stored.Relocate("uploads/missing.png")
	require.NoError(t, err)
	assert.ErrorIs(t, uow.Images().Update(ctx, stored), gallery.ErrLocationMissing)
}

func TestUnitOfWork_CollectNewEventsOnce(t *testing.T) {
	ctx := context.Background()
	uow := NewUnitOfWork(newTestDB(t), filestore.NewMemory(), nil)
	defer uow.Rollback(ctx)

	img := storeImage(t, ctx, uow, "cat.png", "uploads/cat.png")
	extra := gallery.NewTransformationCountsSynced(nil)
	uow.Emit(extra)

	first := slices.Collect(uow.CollectNewEvents())
	require.Len(t, first, 2)
	uploaded, ok := first[0].(gallery.ImageUploaded)
	require.True(t, ok)
	assert.Equal(t, img.ID(), uploaded.ImageID)
	assert.Equal(t, extra, first[1])

	assert.Empty(t, slices.Collect(uow.CollectNewEvents()))
}

func TestUnitOfWork_RollbackRemovesStagedFiles(t *testing.T) {
	ctx := context.Background()
	conn := newTestDB(t)
	fs := filestore.NewMemory()
	uow := NewUnitOfWork(conn, fs, nil)

	img := storeImage(t, ctx, uow, "cat.png", "uploads/cat.png")

	// The foreign key on transformations.image_id rejects an unknown image.
	rec, err := gallery.NewTransformationRecord(img.ID()+100, gallery.GrayScale{})
	require.NoError(t, err)
	require.Error(t, uow.Transformations().Add(ctx, rec))

	require.NoError(t, uow.Rollback(ctx))

	exists, err := fs.Exists(ctx, "uploads/cat.png")
	require.NoError(t, err)
	assert.False(t, exists)

	check := NewUnitOfWork(conn, fs, nil)
	defer check.Rollback(ctx)
	_, err = check.Images().Get(ctx, img.ID())
	assert.ErrorIs(t, err, sharedDomain.ErrNotFound)
}

func TestUnitOfWork_CommitKeepsFilesAndRows(t *testing.T) {
	ctx := context.Background()
	conn := newTestDB(t)
	fs := filestore.NewMemory()
	uow := NewUnitOfWork(conn, fs, nil)

	img := storeImage(t, ctx, uow, "cat.png", "uploads/cat.png")
	require.NoError(t, uow.Commit(ctx))
	require.NoError(t, uow.Rollback(ctx), "nothing is left to roll back")

	exists, err := fs.Exists(ctx, "uploads/cat.png")
	require.NoError(t, err)
	assert.True(t, exists)

	check := NewUnitOfWork(conn, fs, nil)
	defer check.Rollback(ctx)
	got, err := check.Images().Get(ctx, img.ID())
	require.NoError(t, err)
	assert.Equal(t, "cat.png", got.Name())
}

func TestUnitOfWork_CommitTwice(t *testing.T) {
	ctx := context.Background()
	conn := newTestDB(t)
	fs := filestore.NewMemory()
	uow := NewUnitOfWork(conn, fs, nil)

	img := storeImage(t, ctx, uow, "cat.png", "uploads/cat.png")
	addTransformations(t, ctx, uow, img.ID(), gallery.Rotate{Angle: 90}, gallery.GrayScale{})
	require.NoError(t, uow.Commit(ctx))
	assert.False(t, uow.Session().Active())

	require.NoError(t, uow.Images().SyncTransformationCounts(ctx, img.ID()))
	assert.True(t, uow.Session().Active(), "a new transaction begins after commit")
	require.NoError(t, uow.Commit(ctx))

	check := NewUnitOfWork(conn, fs, nil)
	defer check.Rollback(ctx)
	got, err := check.Images().Get(ctx, img.ID())
	require.NoError(t, err)
	assert.Equal(t, 2, got.TransformationCount())
}

func TestUnitOfWork_OutboxSharesTransaction(t *testing.T) {
	ctx := context.Background()
	conn := newTestDB(t)
	uow := NewUnitOfWork(conn, filestore.NewMemory(), nil)

	msg, err := outbox.NewMessage(gallery.NewImageUploaded(1, "cat.png", "uploads/cat.png"))
	require.NoError(t, err)
	require.NoError(t, uow.Outbox().Save(ctx, msg))
	require.NoError(t, uow.Rollback(ctx))

	pending, err := outbox.NewSQLRepository(conn).GetUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFactory(t *testing.T) {
	factory := Factory(newTestDB(t), filestore.NewMemory(), nil)

	uow, err := factory(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &UnitOfWork{}, uow)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = factory(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
