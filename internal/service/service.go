// Package service is the thin front the RPC transport talks to: it
// validates input, owns the Store/Scheduler/EventBus/Downloader, and
// shapes their results into request/response values. It holds no
// recognition logic of its own — that lives in internal/engine.
package service

import (
	"context"
	"strings"

	"github.com/dustin/go-humanize"

	"scribe/internal/apierr"
	"scribe/internal/downloader"
	"scribe/internal/eventbus"
	"scribe/internal/modelcatalog"
	"scribe/internal/scheduler"
	"scribe/internal/store"
	"scribe/internal/translate"
)

// Service wires the durable store, the job scheduler, the live event
// bus, and the model downloader into the operations the RPC surface
// exposes.
type Service struct {
	store      *store.Store
	scheduler  *scheduler.Scheduler
	bus        *eventbus.Bus
	downloader *downloader.Downloader
	translator *translate.Client
}

// New builds a Service from its collaborators.
func New(st *store.Store, sch *scheduler.Scheduler, bus *eventbus.Bus, dl *downloader.Downloader, translator *translate.Client) *Service {
	return &Service{store: st, scheduler: sch, bus: bus, downloader: dl, translator: translator}
}

// HealthCheckResponse reports whether the service can serve requests.
type HealthCheckResponse struct {
	OK      bool
	Message string
}

// HealthCheck reports store reachability.
func (s *Service) HealthCheck() HealthCheckResponse {
	if err := s.store.HealthCheck(); err != nil {
		return HealthCheckResponse{OK: false, Message: err.Error()}
	}
	return HealthCheckResponse{OK: true, Message: "ok"}
}

// StartTranscriptionRequest describes a new transcription job.
type StartTranscriptionRequest struct {
	AudioPath  string
	Model      string
	Language   string
	Translate  bool
	TargetLang string
	EnableGPU  bool
}

// StartTranscriptionResponse is returned immediately on acceptance.
type StartTranscriptionResponse struct {
	JobID  string
	Status string
}

// StartTranscription validates and persists a new job, then hands it
// to the scheduler. Validation rejections are synchronous and no job is
// created; if the scheduler's queue refuses the job, the row already
// created is marked FAILED and an error is returned.
func (s *Service) StartTranscription(req StartTranscriptionRequest) (*StartTranscriptionResponse, error) {
	if err := validateAudioPath(req.AudioPath); err != nil {
		return nil, err
	}
	if _, ok := modelcatalog.Lookup(req.Model); !ok {
		return nil, apierr.NotFound("unknown model %q", req.Model)
	}
	if req.Translate {
		if err := validateTargetLanguage(req.TargetLang); err != nil {
			return nil, err
		}
	}

	job := &store.Job{
		ID:         s.store.NewJobID(),
		AudioPath:  req.AudioPath,
		Model:      req.Model,
		Language:   req.Language,
		Translate:  req.Translate,
		TargetLang: req.TargetLang,
		EnableGPU:  req.EnableGPU,
	}
	if err := s.store.CreateJob(job); err != nil {
		return nil, apierr.Internal(err, "create job")
	}

	if err := s.scheduler.EnqueueJob(job.ID); err != nil {
		msg := err.Error()
		_ = s.store.UpdateJobStatus(job.ID, store.StatusFailed, &msg)
		return nil, apierr.Transient(err, "job queue unavailable")
	}

	return &StartTranscriptionResponse{JobID: job.ID, Status: store.StatusQueued.String()}, nil
}

// GetJob returns a job by ID.
func (s *Service) GetJob(jobID string) (*store.Job, error) {
	job, err := s.store.GetJob(jobID)
	if err != nil {
		return nil, apierr.NotFound("job %s not found", jobID)
	}
	return job, nil
}

// ListJobs returns the most recently created jobs, most recent first.
func (s *Service) ListJobs(limit int) ([]store.Job, error) {
	jobs, err := s.store.ListJobs(limit)
	if err != nil {
		return nil, apierr.Internal(err, "list jobs")
	}
	return jobs, nil
}

// CancelJob cancels a queued or running job, reporting whether it was
// active. Canceling a terminal job is a no-op; an unknown job is a
// not-found error.
func (s *Service) CancelJob(jobID string) (bool, error) {
	job, err := s.store.GetJob(jobID)
	if err != nil {
		return false, apierr.NotFound("job %s not found", jobID)
	}

	switch job.Status {
	case store.StatusQueued:
		if err := s.store.UpdateJobStatus(jobID, store.StatusCanceled, nil); err != nil {
			return false, apierr.Internal(err, "cancel job")
		}
		s.bus.Publish(jobID, eventbus.EventTerminal, eventbus.JobUpdate{Status: store.StatusCanceled.String()})
		return true, nil
	case store.StatusRunning:
		return s.scheduler.CancelJob(jobID), nil
	default:
		return false, nil
	}
}

// DeleteJob removes a job and its segments, reporting whether a row
// was removed.
func (s *Service) DeleteJob(jobID string) (bool, error) {
	if _, err := s.store.GetJob(jobID); err != nil {
		return false, nil
	}
	if err := s.store.DeleteJob(jobID); err != nil {
		return false, apierr.Internal(err, "delete job")
	}
	return true, nil
}

// TranscriptResponse is a job's metadata plus its full segment list.
type TranscriptResponse struct {
	Job      store.Job
	Segments []store.Segment
}

// GetTranscript returns a job's metadata and every persisted segment.
func (s *Service) GetTranscript(jobID string) (*TranscriptResponse, error) {
	job, err := s.store.GetJob(jobID)
	if err != nil {
		return nil, apierr.NotFound("job %s not found", jobID)
	}
	segments, err := s.store.GetSegmentsAfter(jobID, -1)
	if err != nil {
		return nil, apierr.Internal(err, "load segments")
	}
	return &TranscriptResponse{Job: *job, Segments: segments}, nil
}

// SaveTranscriptEdits persists caller-supplied segment corrections.
func (s *Service) SaveTranscriptEdits(jobID string, edits []store.SegmentEdit) error {
	if _, err := s.store.GetJob(jobID); err != nil {
		return apierr.NotFound("job %s not found", jobID)
	}
	if err := s.store.SaveSegmentEdits(jobID, edits); err != nil {
		return apierr.Internal(err, "save segment edits")
	}
	return nil
}

// TranslateTranscriptRequest asks for a target-language translation of
// an existing transcript, without mutating the job.
type TranslateTranscriptRequest struct {
	JobID   string
	Target  string
	Indices []int
	Edits   map[int]string
}

// SegmentTranslation is one translated segment.
type SegmentTranslation struct {
	Idx  int
	Text string
}

// TranslateTranscript translates selected segments of a stored
// transcript, preferring a caller-supplied unsaved edit over the
// stored edited_text over the original text. It never writes to the
// Store.
func (s *Service) TranslateTranscript(ctx context.Context, req TranslateTranscriptRequest) ([]SegmentTranslation, error) {
	if err := validateTargetLanguage(req.Target); err != nil {
		return nil, err
	}
	job, err := s.store.GetJob(req.JobID)
	if err != nil {
		return nil, apierr.NotFound("job %s not found", req.JobID)
	}
	segments, err := s.store.GetSegmentsAfter(req.JobID, -1)
	if err != nil {
		return nil, apierr.Internal(err, "load segments")
	}

	wanted := make(map[int]bool, len(req.Indices))
	for _, idx := range req.Indices {
		wanted[idx] = true
	}

	cache := translate.NewJobCache(s.translator)
	var out []SegmentTranslation
	for _, seg := range segments {
		if len(wanted) > 0 && !wanted[seg.Idx] {
			continue
		}

		text := seg.Text
		if override, ok := req.Edits[seg.Idx]; ok && override != "" {
			text = override
		} else if seg.EditedText != nil && *seg.EditedText != "" {
			text = *seg.EditedText
		}
		if text == "" {
			continue
		}

		translated, err := cache.Translate(ctx, text, job.Language, req.Target)
		if err != nil {
			return nil, apierr.Transient(err, "translate segment %d", seg.Idx)
		}
		out = append(out, SegmentTranslation{Idx: seg.Idx, Text: translated})
	}
	return out, nil
}

var recognizedSettingKeys = map[string]bool{
	"models_dir":    true,
	"prefer_gpu":    true,
	"default_model": true,
	"compute_type":  true,
}

// GetSettings returns every stored setting.
func (s *Service) GetSettings() (map[string]string, error) {
	settings, err := s.store.GetAllSettings()
	if err != nil {
		return nil, apierr.Internal(err, "load settings")
	}
	return settings, nil
}

// UpdateSettings upserts each recognized key in updates.
func (s *Service) UpdateSettings(updates map[string]string) error {
	for key := range updates {
		if !recognizedSettingKeys[key] {
			return apierr.InvalidArgument("unrecognized setting key %q", key)
		}
	}
	for key, value := range updates {
		if err := s.store.SetSetting(key, value); err != nil {
			return apierr.Internal(err, "set setting %q", key)
		}
	}
	return nil
}

// ModelEntry is a catalog entry joined with local download status.
type ModelEntry struct {
	Name           string
	EstimatedBytes int64
	EstimatedSize  string
	Downloaded     bool
}

// ListModels returns the catalog joined with the downloaded predicate.
func (s *Service) ListModels() []ModelEntry {
	catalog := modelcatalog.All()
	out := make([]ModelEntry, 0, len(catalog))
	for _, e := range catalog {
		out = append(out, ModelEntry{
			Name:           e.Name,
			EstimatedBytes: e.EstimatedBytes,
			EstimatedSize:  humanize.Bytes(uint64(e.EstimatedBytes)),
			Downloaded:     s.downloader.IsDownloaded(e.Name),
		})
	}
	return out
}

// Download event type names, mirrored on the wire.
const (
	DownloadStarting    = "STARTING"
	DownloadDownloading = "DOWNLOADING"
	DownloadComplete    = "COMPLETE"
	DownloadCanceled    = "CANCELED"
	DownloadFailed      = "FAILED"
)

// DownloadEvent is one update in a DownloadModel stream.
type DownloadEvent struct {
	Type       string
	Downloaded int64
	Total      int64
	Error      string
}

// DownloadModel starts (or fast-paths) a model download and streams
// its progress. The returned channel is closed once a terminal event
// has been sent.
func (s *Service) DownloadModel(ctx context.Context, name string) (<-chan DownloadEvent, error) {
	if _, ok := modelcatalog.Lookup(name); !ok {
		return nil, apierr.NotFound("unknown model %q", name)
	}

	out := make(chan DownloadEvent, 8)
	go func() {
		defer close(out)
		out <- DownloadEvent{Type: DownloadStarting}

		err := s.downloader.Download(ctx, name, func(downloaded, total int64) {
			select {
			case out <- DownloadEvent{Type: DownloadDownloading, Downloaded: downloaded, Total: total}:
			default:
			}
		})

		switch {
		case err == nil:
			out <- DownloadEvent{Type: DownloadComplete}
		case ctx.Err() != nil, strings.Contains(err.Error(), "canceled"):
			out <- DownloadEvent{Type: DownloadCanceled}
		default:
			out <- DownloadEvent{Type: DownloadFailed, Error: err.Error()}
		}
	}()
	return out, nil
}

// CancelDownload requests cancellation of an in-flight download.
func (s *Service) CancelDownload(name string) bool {
	return s.downloader.Cancel(name)
}

// DeleteModel removes a downloaded model's local directory.
func (s *Service) DeleteModel(name string) (bool, error) {
	if !s.downloader.IsDownloaded(name) {
		return false, nil
	}
	if err := s.downloader.Delete(name); err != nil {
		return false, apierr.Internal(err, "delete model")
	}
	return true, nil
}

func isTerminalStatus(status store.JobStatus) bool {
	switch status {
	case store.StatusCompleted, store.StatusFailed, store.StatusCanceled:
		return true
	default:
		return false
	}
}

// StreamTranscription subscribes to a job's live events, or — if the
// job already reached a terminal state — replays its stored segments
// and terminal status as a synthetic catch-up sequence. The returned
// channel is closed after the terminal event or when ctx is canceled.
func (s *Service) StreamTranscription(ctx context.Context, jobID string) (<-chan eventbus.Event, error) {
	job, err := s.store.GetJob(jobID)
	if err != nil {
		return nil, apierr.NotFound("job %s not found", jobID)
	}

	if isTerminalStatus(job.Status) {
		return s.replayEvents(jobID, job), nil
	}

	ch, unsubscribe := s.bus.Subscribe(jobID)
	out := make(chan eventbus.Event)
	go func() {
		defer close(out)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				out <- evt
				if evt.Type == eventbus.EventTerminal {
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Service) replayEvents(jobID string, job *store.Job) <-chan eventbus.Event {
	out := make(chan eventbus.Event, 16)
	go func() {
		defer close(out)
		segments, err := s.store.GetSegmentsAfter(jobID, -1)
		if err != nil {
			return
		}
		progress := job.Progress
		for i := range segments {
			out <- eventbus.Event{Type: eventbus.EventSegment, Payload: eventbus.JobUpdate{
				Status:   job.Status.String(),
				Progress: progress,
				Segment:  &segments[i],
			}}
		}
		errMsg := ""
		if job.ErrorMessage != nil {
			errMsg = *job.ErrorMessage
		}
		out <- eventbus.Event{Type: eventbus.EventTerminal, Payload: eventbus.JobUpdate{
			Status:   job.Status.String(),
			Progress: progress,
			Error:    errMsg,
		}}
	}()
	return out
}
