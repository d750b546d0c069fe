package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scribe/internal/downloader"
	"scribe/internal/eventbus"
	"scribe/internal/modelcache"
	"scribe/internal/store"
	"scribe/internal/translate"
)

type fakeRecognizer struct {
	segments []RawSegment
	failWith error
}

func (f *fakeRecognizer) Recognize(ctx context.Context, req RecognizeRequest) (<-chan RawSegment, <-chan error) {
	segc := make(chan RawSegment)
	errc := make(chan error, 1)
	go func() {
		defer close(segc)
		for _, seg := range f.segments {
			select {
			case <-ctx.Done():
				return
			case segc <- seg:
			}
		}
		if f.failWith != nil {
			errc <- f.failWith
		}
	}()
	return segc, errc
}

func newTestEngine(t *testing.T, recognizer Recognizer) (*Engine, *store.Store) {
	t.Helper()
	return newTestEngineWithTranslator(t, recognizer, nil)
}

func newTestEngineWithTranslator(t *testing.T, recognizer Recognizer, translator *translate.Client) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := eventbus.New()
	t.Cleanup(bus.Shutdown)

	cache := modelcache.New(10_000_000_000)
	modelsDir := t.TempDir()
	dl := downloader.New(modelsDir, 1)

	// Pre-seed the "tiny" model as already downloaded so tests never
	// reach out to the network.
	require.NoError(t, os.MkdirAll(filepath.Join(modelsDir, "tiny"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modelsDir, "tiny", "model.bin"), []byte("stub"), 0o644))

	return New(st, bus, cache, dl, recognizer, translator), st
}

func TestProcessJobCompletesAndPersistsSegments(t *testing.T) {
	recognizer := &fakeRecognizer{segments: []RawSegment{
		{Idx: 0, Start: 0, End: 1, Text: " hello "},
		{Idx: 1, Start: 1, End: 2, Text: "world"},
	}}
	e, st := newTestEngine(t, recognizer)

	job := &store.Job{ID: st.NewJobID(), AudioPath: "missing.wav", Model: "tiny"}
	require.NoError(t, st.CreateJob(job))

	require.NoError(t, e.ProcessJob(context.Background(), job.ID))

	got, err := st.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, got.Status)

	segments, err := st.GetSegmentsAfter(job.ID, -1)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	require.Equal(t, "hello", segments[0].Text)
}

func TestProcessJobFailsWhenRecognizerErrors(t *testing.T) {
	recognizer := &fakeRecognizer{failWith: require.AnError}
	e, st := newTestEngine(t, recognizer)

	job := &store.Job{ID: st.NewJobID(), AudioPath: "missing.wav", Model: "tiny"}
	require.NoError(t, st.CreateJob(job))

	err := e.ProcessJob(context.Background(), job.ID)
	require.Error(t, err)

	got, getErr := st.GetJob(job.ID)
	require.NoError(t, getErr)
	require.Equal(t, store.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
}

func TestProcessJobCancelsOnContextDone(t *testing.T) {
	recognizer := &fakeRecognizer{segments: []RawSegment{
		{Idx: 0, Start: 0, End: 1, Text: "partial"},
	}}
	e, st := newTestEngine(t, recognizer)

	job := &store.Job{ID: st.NewJobID(), AudioPath: "missing.wav", Model: "tiny"}
	require.NoError(t, st.CreateJob(job))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_ = e.ProcessJob(ctx, job.ID)

	got, err := st.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusCanceled, got.Status)
}

// recordingRecognizer captures the RecognizeRequest it was called with
// so tests can assert on the task requested of the recognition runtime.
type recordingRecognizer struct {
	fakeRecognizer
	lastReq RecognizeRequest
}

func (f *recordingRecognizer) Recognize(ctx context.Context, req RecognizeRequest) (<-chan RawSegment, <-chan error) {
	f.lastReq = req
	return f.fakeRecognizer.Recognize(ctx, req)
}

func TestProcessJobTranslatesNonEnglishTargetPerSegment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text   string `json:"text"`
			Target string `json:"target"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "fr", body.Target)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"translation": "bonjour: " + body.Text})
	}))
	defer srv.Close()

	recognizer := &recordingRecognizer{fakeRecognizer: fakeRecognizer{segments: []RawSegment{
		{Idx: 0, Start: 0, End: 1, Text: "hello"},
		{Idx: 1, Start: 1, End: 2, Text: ""},
	}}}
	translator := translate.NewClient(srv.URL)
	e, st := newTestEngineWithTranslator(t, recognizer, translator)

	job := &store.Job{ID: st.NewJobID(), AudioPath: "missing.wav", Model: "tiny", Translate: true, TargetLang: "fr"}
	require.NoError(t, st.CreateJob(job))

	require.NoError(t, e.ProcessJob(context.Background(), job.ID))

	// Non-English targets must be transcribed in the source language,
	// not run through the recognizer's English-only translate task.
	require.False(t, recognizer.lastReq.Translate)

	segments, err := st.GetSegmentsAfter(job.ID, -1)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	require.Equal(t, "bonjour: hello", segments[0].Text)
	require.Equal(t, "", segments[1].Text)
}

func TestProcessJobUsesBuiltinTranslateTaskForEnglishTarget(t *testing.T) {
	recognizer := &recordingRecognizer{fakeRecognizer: fakeRecognizer{segments: []RawSegment{
		{Idx: 0, Start: 0, End: 1, Text: "hello"},
	}}}
	e, st := newTestEngine(t, recognizer)

	job := &store.Job{ID: st.NewJobID(), AudioPath: "missing.wav", Model: "tiny", Translate: true, TargetLang: "en"}
	require.NoError(t, st.CreateJob(job))

	require.NoError(t, e.ProcessJob(context.Background(), job.ID))

	require.True(t, recognizer.lastReq.Translate)

	segments, err := st.GetSegmentsAfter(job.ID, -1)
	require.NoError(t, err)
	require.Equal(t, "hello", segments[0].Text)
}

func TestCancelJobMarksQueuedJobCanceled(t *testing.T) {
	e, st := newTestEngine(t, &fakeRecognizer{})

	job := &store.Job{ID: st.NewJobID(), AudioPath: "missing.wav", Model: "tiny"}
	require.NoError(t, st.CreateJob(job))

	require.NoError(t, e.CancelJob(job.ID))

	got, err := st.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusCanceled, got.Status)
}
