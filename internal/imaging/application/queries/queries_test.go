package queries_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/imagery/internal/imaging/application/queries"
	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	"github.com/felixgeelhaar/imagery/internal/imaging/infrastructure/cache"
	"github.com/felixgeelhaar/imagery/internal/imaging/infrastructure/persistence"
	sharedApplication "github.com/felixgeelhaar/imagery/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/imagery/internal/shared/domain"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/filestore"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/imagery/pkg/observability"
)

type fixture struct {
	conn    database.Connection
	fs      *filestore.Memory
	factory sharedApplication.UnitOfWorkFactory
	cache   *cache.RedisStatsCache
	redis   *miniredis.Miniredis
	metrics *observability.InMemoryMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	conn, err := sqlite.Open(ctx, database.Config{
		Driver:     database.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "imagery.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, migrations.Run(ctx, conn))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fs := filestore.NewMemory()
	return &fixture{
		conn:    conn,
		fs:      fs,
		factory: persistence.Factory(conn, fs, nil),
		cache:   cache.NewRedisStatsCache(client, "", time.Minute),
		redis:   mr,
		metrics: observability.NewInMemoryMetrics(),
	}
}

// seed stores images with the given number of grayscale transformations and
// commits.
func (f *fixture) seed(t *testing.T, counts map[string]int) map[string]int64 {
	t.Helper()
	ctx := context.Background()
	uow := persistence.NewUnitOfWork(f.conn, f.fs, nil)
	defer uow.Rollback(ctx)

	ids := make(map[string]int64)
	for name, n := range counts {
		location := "uploads/" + name
		require.NoError(t, uow.Files().Add(ctx, location, strings.NewReader("x")))
		img, err := gallery.NewImage(name, location, nil)
		require.NoError(t, err)
		require.NoError(t, uow.Images().Add(ctx, img))
		for i := 0; i < n; i++ {
			rec, err := gallery.NewTransformationRecord(img.ID(), gallery.GrayScale{})
			require.NoError(t, err)
			require.NoError(t, uow.Transformations().Add(ctx, rec))
		}
		ids[name] = img.ID()
	}
	require.NoError(t, uow.Images().SyncTransformationCounts(ctx))
	require.NoError(t, uow.Commit(ctx))
	return ids
}

func TestRankImagesHandler_CachesResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ids := f.seed(t, map[string]int{"a.png": 1, "b.png": 3})

	h := queries.NewRankImagesHandler(f.factory, f.cache, nil, f.metrics)

	first, err := h.Handle(ctx, queries.RankImagesQuery{})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, ids["b.png"], first[0].ID)
	assert.Equal(t, 1, first[0].Rank)
	assert.Equal(t, 2, first[1].Rank)
	assert.Equal(t, int64(1), f.metrics.GetCounter(observability.MetricCacheMisses, observability.T("key", queries.KeyRankedImages)))

	second, err := h.Handle(ctx, queries.RankImagesQuery{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), f.metrics.GetCounter(observability.MetricCacheHits, observability.T("key", queries.KeyRankedImages)))
}

func TestRankImagesHandler_WithoutCache(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]int{"a.png": 0})

	h := queries.NewRankImagesHandler(f.factory, nil, nil, nil)
	ranked, err := h.Handle(context.Background(), queries.RankImagesQuery{})
	require.NoError(t, err)
	assert.Len(t, ranked, 1)
}

func TestStatsHandlers_ServeStaleUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, map[string]int{"a.png": 2})

	h := queries.NewCountTransformationsByTypeHandler(f.factory, f.cache, nil, f.metrics)
	counts, err := h.Handle(ctx, queries.CountTransformationsByTypeQuery{})
	require.NoError(t, err)
	assert.Equal(t, []gallery.TransformationByType{{Type: gallery.KindGrayScale, Count: 2}}, counts)

	f.seed(t, map[string]int{"b.png": 1})
	counts, err = h.Handle(ctx, queries.CountTransformationsByTypeQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, counts[0].Count, "served from cache")

	require.NoError(t, f.cache.Invalidate(ctx))
	counts, err = h.Handle(ctx, queries.CountTransformationsByTypeQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, counts[0].Count)
}

func TestLatestTransformationsHandler(t *testing.T) {
	f := newFixture(t)
	ids := f.seed(t, map[string]int{"a.png": 1})

	h := queries.NewLatestTransformationsHandler(f.factory, f.cache, nil, nil)
	latest, err := h.Handle(context.Background(), queries.LatestTransformationsQuery{})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, ids["a.png"], latest[0].ID)
	require.NotNil(t, latest[0].TransformationType)
	assert.Equal(t, gallery.KindGrayScale, *latest[0].TransformationType)
}

func TestStatsHandlers_CacheDownFallsBack(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]int{"a.png": 1})
	f.redis.SetError("LOADING")

	h := queries.NewRankImagesHandler(f.factory, f.cache, nil, nil)
	ranked, err := h.Handle(context.Background(), queries.RankImagesQuery{})
	require.NoError(t, err)
	assert.Len(t, ranked, 1)
}

type stubSigner struct{}

func (stubSigner) Sign(method, location string) (string, error) {
	return "https://files.test/" + location + "?m=" + method, nil
}

func TestGetImageURLHandler(t *testing.T) {
	f := newFixture(t)
	ids := f.seed(t, map[string]int{"a.png": 0})

	h := queries.NewGetImageURLHandler(f.factory, stubSigner{}, nil, nil)
	got, err := h.Handle(context.Background(), queries.GetImageURLQuery{ImageID: ids["a.png"]})
	require.NoError(t, err)
	assert.Equal(t, queries.ImageURL{ID: ids["a.png"], URL: "https://files.test/uploads/a.png?m=GET"}, got)

	_, err = h.Handle(context.Background(), queries.GetImageURLQuery{ImageID: 404})
	assert.ErrorIs(t, err, sharedDomain.ErrNotFound)
}

func TestReader_FactoryError(t *testing.T) {
	boom := errors.New("no connection")
	factory := func(context.Context) (sharedApplication.UnitOfWork, error) { return nil, boom }

	h := queries.NewRankImagesHandler(factory, nil, nil, nil)
	_, err := h.Handle(context.Background(), queries.RankImagesQuery{})
	assert.ErrorIs(t, err, boom)
}
