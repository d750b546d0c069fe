package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"scribe/internal/downloader"
	"scribe/internal/eventbus"
	"scribe/internal/scheduler"
	"scribe/internal/service"
	"scribe/internal/store"
)

type blockingProcessor struct {
	release chan struct{}
}

func (p *blockingProcessor) ProcessJob(ctx context.Context, jobID string) error {
	select {
	case <-p.release:
	case <-ctx.Done():
	}
	return ctx.Err()
}

func newRouterUnderTest(t *testing.T) http.Handler {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sch := scheduler.New(&blockingProcessor{release: make(chan struct{})}, 4)
	sch.Start()
	t.Cleanup(sch.Stop)

	bus := eventbus.New()
	t.Cleanup(bus.Shutdown)

	dl := downloader.New(t.TempDir(), 1)
	svc := service.New(st, sch, bus, dl, nil)

	return NewRouter(svc)
}

func writeAudioFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))
	return path
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheckReportsOK(t *testing.T) {
	r := newRouterUnderTest(t)
	rec := doJSON(t, r, http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["OK"])
}

func TestStartTranscriptionRejectsRelativePath(t *testing.T) {
	r := newRouterUnderTest(t)
	rec := doJSON(t, r, http.MethodPost, "/v1/jobs", map[string]any{
		"audio_path": "clip.wav",
		"model":      "tiny",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartTranscriptionThenGetAndListAndCancel(t *testing.T) {
	r := newRouterUnderTest(t)
	audio := writeAudioFile(t)

	startRec := doJSON(t, r, http.MethodPost, "/v1/jobs", map[string]any{
		"audio_path": audio,
		"model":      "tiny",
		"language":   "auto",
	})
	require.Equal(t, http.StatusAccepted, startRec.Code)

	var started map[string]interface{}
	require.NoError(t, json.Unmarshal(startRec.Body.Bytes(), &started))
	jobID, _ := started["JobID"].(string)
	require.NotEmpty(t, jobID)
	require.Equal(t, "queued", started["Status"])

	getRec := doJSON(t, r, http.MethodGet, "/v1/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, getRec.Code)

	listRec := doJSON(t, r, http.MethodGet, "/v1/jobs", nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	var listed map[string]interface{}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listed))
	require.NotEmpty(t, listed["jobs"])

	cancelRec := doJSON(t, r, http.MethodPost, "/v1/jobs/"+jobID+"/cancel", nil)
	require.Equal(t, http.StatusOK, cancelRec.Code)

	deleteRec := doJSON(t, r, http.MethodDelete, "/v1/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, deleteRec.Code)
	var deleted map[string]interface{}
	require.NoError(t, json.Unmarshal(deleteRec.Body.Bytes(), &deleted))
	require.Equal(t, true, deleted["removed"])
}

func TestGetJobUnknownReturnsNotFound(t *testing.T) {
	r := newRouterUnderTest(t)
	rec := doJSON(t, r, http.MethodGet, "/v1/jobs/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettingsRoundTrip(t *testing.T) {
	r := newRouterUnderTest(t)
	putRec := doJSON(t, r, http.MethodPut, "/v1/settings", map[string]any{
		"prefer_gpu": "true",
	})
	require.Equal(t, http.StatusOK, putRec.Code)

	getRec := doJSON(t, r, http.MethodGet, "/v1/settings", nil)
	require.Equal(t, http.StatusOK, getRec.Code)
	var settings map[string]interface{}
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &settings))
	require.Equal(t, "true", settings["prefer_gpu"])
}

func TestListModels(t *testing.T) {
	r := newRouterUnderTest(t)
	rec := doJSON(t, r, http.MethodGet, "/v1/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
