package server

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/azkastekom/massweb/internal/config"
	"github.com/azkastekom/massweb/internal/service"
	"github.com/azkastekom/massweb/internal/service/publisher"
	"github.com/azkastekom/massweb/internal/storage"
)

const testSecret = "test-secret"

var testDBSeq atomic.Int64

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *Server {
	t.Helper()

	dsn := fmt.Sprintf("file:massweb_server_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, service.Migrate(db))

	store, err := storage.NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.Mode = gin.TestMode
	if mutate != nil {
		mutate(cfg)
	}

	log := zap.NewNop()
	srv, err := New(cfg, log, Dependencies{
		DB:         db,
		Store:      store,
		Bus:        service.NewMemoryBus(),
		Registry:   prometheus.NewRegistry(),
		Publishers: publisher.NewPublishManager(log),
	})
	require.NoError(t, err)
	return srv
}

type request struct {
	method      string
	path        string
	body        io.Reader
	contentType string
	token       string
}

func (s *Server) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(r.method, r.path, r.body)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func (s *Server) doJSON(t *testing.T, method, path, token string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return s.do(t, request{method: method, path: path, body: body, contentType: "application/json", token: token})
}

func (s *Server) upload(t *testing.T, path, token, filename, data string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return s.do(t, request{method: http.MethodPost, path: path, body: &buf, contentType: mw.FormDataContentType(), token: token})
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func signToken(t *testing.T, orgID uint) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"organization_id": orgID,
		"exp":             time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// createShirtProject creates a project with a 2x2 dataset and returns its id
func createShirtProject(t *testing.T, srv *Server, token string) uint {
	t.Helper()
	w := srv.doJSON(t, http.MethodPost, "/api/v1/projects", token, map[string]interface{}{
		"name":             "shirts",
		"content_template": "{{brand}} {{size}} {{color}}",
		"title_template":   "{{size}} {{color}} shirt",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := uint(decode(t, w)["id"].(float64))

	w = srv.upload(t, fmt.Sprintf("/api/v1/projects/%d/dataset", id), token, "shirts.csv",
		"size,color,brand\nS,Red,Acme\nM,Blue,\n")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return id
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	w := srv.do(t, request{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestGenerateAndPublishFlow(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createShirtProject(t, srv, "")
	base := fmt.Sprintf("/api/v1/projects/%d", id)

	w := srv.do(t, request{method: http.MethodGet, path: base + "/columns"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["columns"], 3)

	w = srv.doJSON(t, http.MethodPost, base+"/generate", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	gen := decode(t, w)
	assert.EqualValues(t, 4, gen["generated_count"])
	assert.Equal(t, []interface{}{"size", "color"}, gen["key_columns"])

	w = srv.do(t, request{method: http.MethodGet, path: base + "/contents?status=pending"})
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)
	assert.EqualValues(t, 4, list["total"])
	first := list["contents"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "S Red shirt", first["title"])

	w = srv.doJSON(t, http.MethodPost, base+"/publish", "", map[string]interface{}{"delay_seconds": 0, "wait": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	job := decode(t, w)
	assert.Equal(t, "completed", job["status"])
	assert.EqualValues(t, 4, job["processed_count"])
	assert.EqualValues(t, 4, job["total_contents"])

	w = srv.do(t, request{method: http.MethodGet, path: base + "/contents?status=published"})
	require.Equal(t, http.StatusOK, w.Code)
	published := decode(t, w)["contents"].([]interface{})
	require.Len(t, published, 4)

	var ids []uint
	for _, item := range published[:2] {
		ids = append(ids, uint(item.(map[string]interface{})["id"].(float64)))
	}
	w = srv.doJSON(t, http.MethodPost, "/api/v1/contents/unpublish", "", map[string]interface{}{"ids": ids})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 2, decode(t, w)["unpublished"])

	w = srv.do(t, request{method: http.MethodGet, path: fmt.Sprintf("/api/v1/contents/%d", ids[0])})
	require.Equal(t, http.StatusOK, w.Code)
	item := decode(t, w)
	assert.Equal(t, "pending", item["publish_status"])
	assert.Nil(t, item["published_at"])

	// A finished job cannot be paused
	w = srv.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/publish-jobs/%s/pause", job["id"]), "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPublishAsyncCreatesPendingJob(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Publisher.DefaultDelaySeconds = 5
	})
	id := createShirtProject(t, srv, "")
	base := fmt.Sprintf("/api/v1/projects/%d", id)

	w := srv.doJSON(t, http.MethodPost, base+"/generate", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = srv.do(t, request{method: http.MethodPost, path: base + "/publish"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	job := decode(t, w)
	assert.Equal(t, "pending", job["status"])
	assert.EqualValues(t, 5, job["delay_seconds"])

	w = srv.do(t, request{method: http.MethodGet, path: base + "/publish-jobs/active"})
	require.Equal(t, http.StatusOK, w.Code)
	active := decode(t, w)["job"].(map[string]interface{})
	assert.Equal(t, job["id"], active["id"])

	// Only one active job per project
	w = srv.do(t, request{method: http.MethodPost, path: base + "/publish"})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Regenerating would pull content out from under the job
	w = srv.doJSON(t, http.MethodPost, base+"/generate", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	jobPath := fmt.Sprintf("/api/v1/publish-jobs/%s", job["id"])
	w = srv.do(t, request{method: http.MethodPost, path: jobPath + "/pause"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "paused", decode(t, w)["status"])

	w = srv.do(t, request{method: http.MethodDelete, path: jobPath})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = srv.do(t, request{method: http.MethodPost, path: jobPath + "/cancel"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", decode(t, w)["status"])

	w = srv.do(t, request{method: http.MethodGet, path: base + "/publish-jobs/active"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode(t, w)["job"])

	w = srv.do(t, request{method: http.MethodDelete, path: jobPath})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Generator.MaxCombinations = 3
	})

	w := srv.do(t, request{method: http.MethodGet, path: "/api/v1/projects/999"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = srv.do(t, request{method: http.MethodGet, path: "/api/v1/projects/abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = srv.do(t, request{
		method:      http.MethodPost,
		path:        "/api/v1/projects",
		body:        strings.NewReader("{not json"),
		contentType: "application/json",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = srv.doJSON(t, http.MethodPost, "/api/v1/projects", "", map[string]interface{}{
		"name":             "broken",
		"content_template": "{{#each items}}unclosed",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	id := createShirtProject(t, srv, "")
	w = srv.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/projects/%d/generate", id), "", nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 4, body["estimated_combinations"])
	assert.EqualValues(t, 3, body["limit"])

	w = srv.upload(t, fmt.Sprintf("/api/v1/projects/%d/dataset", id), "", "data.txt", "a,b\n1,2\n")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = srv.do(t, request{method: http.MethodGet, path: "/api/v1/publish-jobs/does-not-exist"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOrganizationScoping(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.JWTSecret = testSecret
	})
	owner := signToken(t, 1)
	other := signToken(t, 2)

	id := createShirtProject(t, srv, owner)
	path := fmt.Sprintf("/api/v1/projects/%d", id)

	w := srv.do(t, request{method: http.MethodGet, path: path, token: owner})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["organization_id"])

	w = srv.do(t, request{method: http.MethodGet, path: path, token: other})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = srv.do(t, request{method: http.MethodGet, path: path})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = srv.do(t, request{method: http.MethodGet, path: path, token: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = srv.doJSON(t, http.MethodPost, path+"/generate", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = srv.do(t, request{method: http.MethodGet, path: path + "/contents", token: owner})
	require.Equal(t, http.StatusOK, w.Code)
	first := decode(t, w)["contents"].([]interface{})[0].(map[string]interface{})
	contentPath := fmt.Sprintf("/api/v1/contents/%d", uint(first["id"].(float64)))

	w = srv.do(t, request{method: http.MethodGet, path: contentPath, token: other})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Another organization's ids are ignored
	w = srv.doJSON(t, http.MethodPost, "/api/v1/contents/unpublish", other, map[string]interface{}{"ids": []uint{1, 2}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["unpublished"])

	require.NoError(t, srv.Monitoring.RecordError("ERROR", "publisher", "Publish job failed", "boom", service.WithProject(id)))
	w = srv.do(t, request{method: http.MethodGet, path: "/api/v1/errors", token: owner})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["total"])
	w = srv.do(t, request{method: http.MethodGet, path: "/api/v1/errors", token: other})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["total"])

	// Health and metrics stay public
	w = srv.do(t, request{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOrganizationClaim(t *testing.T) {
	id, err := organizationClaim(float64(7))
	require.NoError(t, err)
	assert.Equal(t, uint(7), id)

	id, err = organizationClaim("12")
	require.NoError(t, err)
	assert.Equal(t, uint(12), id)

	_, err = organizationClaim("zero")
	assert.Error(t, err)
	_, err = organizationClaim(float64(0))
	assert.Error(t, err)
	_, err = organizationClaim(nil)
	assert.Error(t, err)
}

func TestUpdateAndDeleteContent(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createShirtProject(t, srv, "")

	w := srv.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/projects/%d/generate", id), "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = srv.do(t, request{method: http.MethodGet, path: fmt.Sprintf("/api/v1/projects/%d/contents?search=red", id)})
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)
	assert.EqualValues(t, 2, list["total"])
	first := list["contents"].([]interface{})[0].(map[string]interface{})
	contentPath := fmt.Sprintf("/api/v1/contents/%d", uint(first["id"].(float64)))

	w = srv.doJSON(t, http.MethodPut, contentPath, "", map[string]interface{}{"title": "Edited title"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Edited title", decode(t, w)["title"])

	w = srv.do(t, request{method: http.MethodDelete, path: contentPath})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = srv.do(t, request{method: http.MethodGet, path: contentPath})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportCSV(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createShirtProject(t, srv, "")

	w := srv.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/projects/%d/generate", id), "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = srv.do(t, request{method: http.MethodGet, path: fmt.Sprintf("/api/v1/projects/%d/export?format=csv", id)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".csv")

	records, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, "id", records[0][0])
	assert.Equal(t, "S Red shirt", records[1][2])

	w = srv.do(t, request{method: http.MethodGet, path: fmt.Sprintf("/api/v1/projects/%d/export?format=pdf", id)})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = srv.do(t, request{method: http.MethodPost, path: fmt.Sprintf("/api/v1/projects/%d/export?format=json", id)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, decode(t, w)["key"], "exports/")
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createShirtProject(t, srv, "")

	w := srv.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/projects/%d/generate", id), "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = srv.do(t, request{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "massweb_generated_contents_total 4")
}

func TestListAndResolveErrors(t *testing.T) {
	srv := newTestServer(t, nil)
	require.NoError(t, srv.Monitoring.RecordError("error", "publisher", "Publish job failed", "boom"))

	w := srv.do(t, request{method: http.MethodGet, path: "/api/v1/errors?unresolved=true"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["total"])
	entry := body["errors"].([]interface{})[0].(map[string]interface{})

	w = srv.do(t, request{method: http.MethodPost, path: fmt.Sprintf("/api/v1/errors/%d/resolve", uint(entry["id"].(float64)))})
	require.Equal(t, http.StatusOK, w.Code)

	w = srv.do(t, request{method: http.MethodGet, path: "/api/v1/errors?unresolved=true"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["total"])

	w = srv.do(t, request{method: http.MethodPost, path: "/api/v1/errors/999/resolve"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
