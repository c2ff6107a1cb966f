package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/imagery/internal/app"
	"github.com/felixgeelhaar/imagery/internal/imaging/application/commands"
	"github.com/felixgeelhaar/imagery/internal/imaging/application/queries"
	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	sharedApplication "github.com/felixgeelhaar/imagery/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/imagery/internal/shared/domain"
	"github.com/felixgeelhaar/imagery/pkg/config"
	"github.com/felixgeelhaar/imagery/pkg/observability"
)

type testAPI struct {
	srv       *httptest.Server
	container *app.Container
	metrics   *observability.InMemoryMetrics
}

func newTestAPI(t *testing.T, maxUpload int64) *testAPI {
	t.Helper()
	cfg := config.Default()
	cfg.AppEnv = "test"
	cfg.SQLitePath = filepath.Join(t.TempDir(), "imagery.db")
	cfg.StorageBackend = config.StorageMemory
	cfg.SigningKey = "test-key"

	c, err := app.NewContainer(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	metrics := observability.NewInMemoryMetrics()
	handler := NewImageHandler(ImageHandlerConfig{
		Dispatcher:            c,
		RankImages:            c.RankImagesHandler,
		LatestTransformations: c.LatestTransformationsHandler,
		TransformationsByType: c.CountTransformationsByTypeHandler,
		ImageURL:              c.GetImageURLHandler,
		Files:                 c.Files,
		Verifier:              c.Signer,
		MaxUploadBytes:        maxUpload,
	})
	server := NewServer(DefaultServerConfig(), handler, c.Health, nil, metrics)

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, container: c, metrics: metrics}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.NRGBA{G: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func (a *testAPI) upload(t *testing.T, filename string, content []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(a.srv.URL+"/api/v1/images", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (a *testAPI) postJSON(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(a.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (a *testAPI) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(a.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, 0)

	resp := a.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(CorrelationHeader))

	health := decode[observability.OverallHealth](t, resp)
	assert.Equal(t, observability.HealthStatusHealthy, health.Status)
	assert.Contains(t, health.Checks, "database")
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	a := newTestAPI(t, 0)

	req, err := http.NewRequest(http.MethodGet, a.srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(CorrelationHeader, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "abc-123", resp.Header.Get(CorrelationHeader))
	assert.Equal(t, int64(1), a.metrics.GetCounter(observability.MetricHTTPRequests,
		observability.T("method", "GET"), observability.T("status", "200")))
}

func TestUploadTransformAndStats(t *testing.T) {
	a := newTestAPI(t, 0)

	resp := a.upload(t, "cat.png", pngBytes(t, 8, 4))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	uploaded := decode[commands.ImageDTO](t, resp)
	assert.Equal(t, "cat.png", uploaded.Name)
	assert.True(t, strings.HasSuffix(uploaded.Location, ".png"))

	resp = a.postJSON(t, "/api/v1/images/transform",
		`{"image_id":`+jsonInt(uploaded.ID)+`,"transformations":[{"type":"resize-transformation","width":4,"height":2},{"type":"gray-scale-transformation"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	transformed := decode[commands.ImageDTO](t, resp)
	assert.Equal(t, 2, transformed.TransformationCount)
	assert.NotEqual(t, uploaded.Location, transformed.Location)

	resp = a.get(t, "/api/v1/images/rank")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ranked := decode[[]gallery.RankedImage](t, resp)
	require.Len(t, ranked, 1)
	assert.Equal(t, 1, ranked[0].Rank)

	resp = a.get(t, "/api/v1/transformations/by-type")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]gallery.TransformationByType](t, resp), 2)

	resp = a.get(t, "/api/v1/images/latest-transformations")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	latest := decode[[]gallery.TransformedImage](t, resp)
	require.Len(t, latest, 1)
	require.NotNil(t, latest[0].TransformationType)
	assert.Equal(t, gallery.KindGrayScale, *latest[0].TransformationType)
}

func TestSignedFileDownload(t *testing.T) {
	a := newTestAPI(t, 0)
	content := pngBytes(t, 2, 2)

	resp := a.upload(t, "dog.png", content)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	uploaded := decode[commands.ImageDTO](t, resp)

	resp = a.get(t, "/api/v1/images/"+jsonInt(uploaded.ID)+"/url")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	signed := decode[queries.ImageURL](t, resp)

	u, err := url.Parse(signed.URL)
	require.NoError(t, err)
	resp = a.get(t, u.RequestURI())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content, body)

	q := u.Query()
	q.Set("signature", "forged")
	resp = a.get(t, u.Path+"?"+q.Encode())
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	a := newTestAPI(t, 0)

	tests := []struct {
		name   string
		do     func() *http.Response
		status int
	}{
		{"unknown image url", func() *http.Response { return a.get(t, "/api/v1/images/99/url") }, http.StatusNotFound},
		{"bad image id", func() *http.Response { return a.get(t, "/api/v1/images/abc/url") }, http.StatusBadRequest},
		{"transform missing image", func() *http.Response {
			return a.postJSON(t, "/api/v1/images/transform", `{"image_id":99,"transformations":[{"type":"gray-scale-transformation"}]}`)
		}, http.StatusNotFound},
		{"transform invalid angle", func() *http.Response {
			return a.postJSON(t, "/api/v1/images/transform", `{"image_id":1,"transformations":[{"type":"rotate-transformation","angle":400}]}`)
		}, http.StatusUnprocessableEntity},
		{"transform without steps", func() *http.Response {
			return a.postJSON(t, "/api/v1/images/transform", `{"image_id":1,"transformations":[]}`)
		}, http.StatusUnprocessableEntity},
		{"malformed json", func() *http.Response {
			return a.postJSON(t, "/api/v1/images/transform", `{"image_id":`)
		}, http.StatusBadRequest},
		{"upload non image", func() *http.Response { return a.upload(t, "notes.txt", []byte("hello")) }, http.StatusUnprocessableEntity},
		{"unsigned file", func() *http.Response { return a.get(t, "/files/images/x.png") }, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tt.do()
			assert.Equal(t, tt.status, resp.StatusCode)
			apiErr := decode[APIError](t, resp)
			assert.NotEmpty(t, apiErr.Code)
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	a := newTestAPI(t, 64)

	resp := a.upload(t, "big.png", pngBytes(t, 64, 64))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestUploadMissingFile(t *testing.T) {
	a := newTestAPI(t, 0)

	resp := a.postJSON(t, "/api/v1/images", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestToAPIError_NotImplemented(t *testing.T) {
	apiErr := toAPIError(sharedDomain.ErrNotImplemented)
	assert.Equal(t, http.StatusNotImplemented, apiErr.Status)
	assert.Equal(t, ErrInternalServer, toAPIError(io.ErrUnexpectedEOF))
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t, 0)
	a.get(t, "/health")

	resp := a.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[observability.MetricsSnapshot](t, resp)
	assert.Equal(t, int64(1), snap.Counters["imagery.http.requests{method=GET,status=200}"])
}

func TestMetricsEndpointNeedsSnapshotter(t *testing.T) {
	server := NewServer(DefaultServerConfig(), NewImageHandler(ImageHandlerConfig{}), nil, nil, observability.NoopMetrics{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQueryFailureIsInternal(t *testing.T) {
	failing := sharedApplication.QueryFunc[queries.RankImagesQuery, []gallery.RankedImage](
		func(context.Context, queries.RankImagesQuery) ([]gallery.RankedImage, error) {
			return nil, io.ErrUnexpectedEOF
		})
	handler := NewImageHandler(ImageHandlerConfig{RankImages: failing})

	rec := httptest.NewRecorder()
	handler.Rank(rec, httptest.NewRequest(http.MethodGet, "/api/v1/images/rank", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decode[APIError](t, rec.Result()).Code)
}
