package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scribe.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetJob(t *testing.T) {
	s := openTestStore(t)

	job := &Job{ID: s.NewJobID(), AudioPath: "/tmp/a.wav", Model: "base", Language: "auto"}
	require.NoError(t, s.CreateJob(job))

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, got.Status)
	require.Equal(t, 0.0, got.Progress)
}

func TestUpdateJobStatusAndProgress(t *testing.T) {
	s := openTestStore(t)
	job := &Job{ID: s.NewJobID(), AudioPath: "/tmp/a.wav", Model: "base"}
	require.NoError(t, s.CreateJob(job))

	require.NoError(t, s.UpdateJobStatus(job.ID, StatusRunning, nil))
	require.NoError(t, s.UpdateJobProgress(job.ID, 0.5))

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, got.Status)
	require.Equal(t, 0.5, got.Progress)

	errMsg := "boom"
	require.NoError(t, s.UpdateJobStatus(job.ID, StatusFailed, &errMsg))
	got, err = s.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, "boom", *got.ErrorMessage)
}

func TestFailStaleJobsOnlyTouchesQueuedAndRunning(t *testing.T) {
	s := openTestStore(t)

	queued := &Job{ID: s.NewJobID(), Model: "base"}
	require.NoError(t, s.CreateJob(queued))

	done := &Job{ID: s.NewJobID(), Model: "base"}
	require.NoError(t, s.CreateJob(done))
	require.NoError(t, s.UpdateJobStatus(done.ID, StatusCompleted, nil))

	n, err := s.FailStaleJobs()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	gotQueued, _ := s.GetJob(queued.ID)
	require.Equal(t, StatusFailed, gotQueued.Status)

	gotDone, _ := s.GetJob(done.ID)
	require.Equal(t, StatusCompleted, gotDone.Status)
}

func TestSegmentsBatchAndAfter(t *testing.T) {
	s := openTestStore(t)
	job := &Job{ID: s.NewJobID(), Model: "base"}
	require.NoError(t, s.CreateJob(job))

	batch := []Segment{
		{JobID: job.ID, Idx: 0, Start: 0, End: 1, Text: "hello"},
		{JobID: job.ID, Idx: 1, Start: 1, End: 2, Text: "world"},
	}
	require.NoError(t, s.InsertSegmentsBatch(batch))

	got, err := s.GetSegmentsAfter(job.ID, -1)
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = s.GetSegmentsAfter(job.ID, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "world", got[0].Text)
}

func TestSaveSegmentEditsClearsOnEmptyString(t *testing.T) {
	s := openTestStore(t)
	job := &Job{ID: s.NewJobID(), Model: "base"}
	require.NoError(t, s.CreateJob(job))
	require.NoError(t, s.InsertSegmentsBatch([]Segment{{JobID: job.ID, Idx: 0, Text: "hi"}}))

	require.NoError(t, s.SaveSegmentEdits(job.ID, []SegmentEdit{{Idx: 0, EditedText: "hello there"}}))
	segs, err := s.GetSegmentsAfter(job.ID, -1)
	require.NoError(t, err)
	require.Equal(t, "hello there", *segs[0].EditedText)

	require.NoError(t, s.SaveSegmentEdits(job.ID, []SegmentEdit{{Idx: 0, EditedText: ""}}))
	segs, err = s.GetSegmentsAfter(job.ID, -1)
	require.NoError(t, err)
	require.Nil(t, segs[0].EditedText)
}

func TestSettingsUpsert(t *testing.T) {
	s := openTestStore(t)

	require.Equal(t, "default", s.GetSetting("models_dir", "default"))

	require.NoError(t, s.SetSetting("models_dir", "/data/models"))
	require.Equal(t, "/data/models", s.GetSetting("models_dir", "default"))

	require.NoError(t, s.SetSetting("models_dir", "/data/models2"))
	require.Equal(t, "/data/models2", s.GetSetting("models_dir", "default"))

	all, err := s.GetAllSettings()
	require.NoError(t, err)
	require.Equal(t, "/data/models2", all["models_dir"])
}

func TestDeleteJobCascadesSegments(t *testing.T) {
	s := openTestStore(t)
	job := &Job{ID: s.NewJobID(), Model: "base"}
	require.NoError(t, s.CreateJob(job))
	require.NoError(t, s.InsertSegmentsBatch([]Segment{{JobID: job.ID, Idx: 0, Text: "hi"}}))

	require.NoError(t, s.DeleteJob(job.ID))

	_, err := s.GetJob(job.ID)
	require.Error(t, err)

	segs, err := s.GetSegmentsAfter(job.ID, -1)
	require.NoError(t, err)
	require.Empty(t, segs)
}
