package http_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	httphandler "crmhub/handler/http"
	"crmhub/src/core/ingest"
	"crmhub/src/infrastructure/token"
)

func multipartFile(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func newTestRouter(t *testing.T, opts httphandler.Options) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	httphandler.NewHandler(opts).RegisterRoutes(r)
	return r
}

func TestGetUploadProgress(t *testing.T) {
	registry := ingest.NewRegistry(time.Hour, time.Minute)
	r := newTestRouter(t, httphandler.Options{Registry: registry})

	t.Run("unknown task", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/leads/upload-progress/nope", nil)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Contains(t, body["detail"], "expired")
	})

	t.Run("running task", func(t *testing.T) {
		id := registry.Create(200)
		registry.Start(id)
		registry.Update(id, 50, 48, 2, nil)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/leads/upload-progress/"+id, nil)
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var snap ingest.Snapshot
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
		assert.Equal(t, id, snap.TaskID)
		assert.Equal(t, ingest.StatusProcessing, snap.Status)
		assert.Equal(t, 50, snap.Processed)
		assert.Equal(t, 25.0, snap.ProgressPercentage)
	})
}

func TestDownloadTemplate(t *testing.T) {
	r := newTestRouter(t, httphandler.Options{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/leads/template", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	header, err := f.GetCellValue(f.GetSheetName(0), "A1")
	require.NoError(t, err)
	assert.Equal(t, "name *", header)
}

func TestTokenStatus(t *testing.T) {
	creds := token.NewManager(token.StaticFetcher{Password: "pw"}, time.Minute, "")
	r := newTestRouter(t, httphandler.Options{Credentials: creds})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/token-status", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Status string     `json:"status"`
		Token  token.Info `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "expired", body.Status)
	assert.False(t, body.Token.HasToken)

	// A forced refresh flips the status to healthy
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/token-refresh", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/token-status", nil)
	r.ServeHTTP(w, req)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.True(t, body.Token.IsValid)
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, httphandler.Options{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBulkUploadRejectsBadRequests(t *testing.T) {
	registry := ingest.NewRegistry(time.Hour, time.Minute)
	r := newTestRouter(t, httphandler.Options{Registry: registry})

	t.Run("no file", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/leads/bulk-upload", nil)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("wrong extension", func(t *testing.T) {
		body, contentType := multipartFile(t, "leads.csv", []byte("name,email\n"))
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/leads/bulk-upload", body)
		req.Header.Set("Content-Type", contentType)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid file format")
	})

	t.Run("workbook missing required columns", func(t *testing.T) {
		f := excelize.NewFile()
		sheet := f.GetSheetName(0)
		require.NoError(t, f.SetCellValue(sheet, "A1", "phone"))
		require.NoError(t, f.SetCellValue(sheet, "A2", "123"))
		buf, err := f.WriteToBuffer()
		require.NoError(t, err)
		require.NoError(t, f.Close())

		body, contentType := multipartFile(t, "leads.xlsx", buf.Bytes())
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/leads/bulk-upload", body)
		req.Header.Set("Content-Type", contentType)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid Excel format")
		assert.Contains(t, w.Body.String(), "Missing required columns")
	})
}
