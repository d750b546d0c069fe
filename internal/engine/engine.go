// Package engine drives one transcription job from QUEUED through to
// a terminal state: loading the model, running recognition, batching
// and persisting segments, reporting progress, and optionally
// translating each segment as it lands.
package engine

import (
	"context"
	"fmt"

	"scribe/internal/apierr"
	"scribe/internal/audioprobe"
	"scribe/internal/downloader"
	"scribe/internal/eventbus"
	"scribe/internal/hwprobe"
	"scribe/internal/modelcache"
	"scribe/internal/modelcatalog"
	"scribe/internal/store"
	"scribe/internal/translate"
	"scribe/pkg/logger"
)

const batchSize = 10

// Engine coordinates one job's recognition run.
type Engine struct {
	store      *store.Store
	bus        *eventbus.Bus
	cache      *modelcache.Cache
	downloader *downloader.Downloader
	recognizer Recognizer
	translator *translate.Client
}

// New builds an Engine from its collaborators.
func New(st *store.Store, bus *eventbus.Bus, cache *modelcache.Cache, dl *downloader.Downloader, recognizer Recognizer, translator *translate.Client) *Engine {
	return &Engine{store: st, bus: bus, cache: cache, downloader: dl, recognizer: recognizer, translator: translator}
}

// ProcessJob runs jobID to completion. It implements scheduler.Processor.
func (e *Engine) ProcessJob(ctx context.Context, jobID string) error {
	job, err := e.store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status != store.StatusQueued {
		// Canceled (or otherwise finished) while still waiting in the queue.
		return nil
	}

	if err := e.store.UpdateJobStatus(jobID, store.StatusRunning, nil); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	e.bus.Publish(jobID, eventbus.EventProgress, eventbus.JobUpdate{Status: store.StatusRunning.String(), Progress: 0})
	logger.JobStarted(jobID, job.AudioPath, job.Model)

	modelPath, err := e.prepareModel(ctx, job.Model)
	if err != nil {
		return e.fail(jobID, fmt.Errorf("prepare model: %w", err))
	}

	duration := audioprobe.Duration(job.AudioPath)
	if duration > 0 {
		_ = e.store.UpdateJobDuration(jobID, duration)
	}
	device := hwprobe.Device(job.EnableGPU)
	computeType := hwprobe.ComputeType(job.EnableGPU)

	lastProgress, producedAny, runErr := e.runAttempt(ctx, job, modelPath, device, computeType, duration)
	if runErr != nil && ctx.Err() == nil && !producedAny && device != "cpu" {
		// The load itself failed before any segment was produced; retry
		// once on the smallest-footprint configuration before giving up.
		logger.Warn("retrying job on cpu/int8 after device load failure", "job_id", jobID, "device", device, "error", runErr)
		device, computeType = "cpu", "int8"
		lastProgress, _, runErr = e.runAttempt(ctx, job, modelPath, device, computeType, duration)
	}

	if runErr != nil {
		if ctx.Err() != nil {
			_ = e.store.UpdateJobStatus(jobID, store.StatusCanceled, nil)
			e.bus.Publish(jobID, eventbus.EventTerminal, eventbus.JobUpdate{Status: store.StatusCanceled.String(), Progress: lastProgress})
			return nil
		}
		return e.fail(jobID, runErr)
	}

	_ = e.store.UpdateJobProgress(jobID, 1.0)
	_ = e.store.UpdateJobStatus(jobID, store.StatusCompleted, nil)
	e.bus.Publish(jobID, eventbus.EventTerminal, eventbus.JobUpdate{Status: store.StatusCompleted.String(), Progress: 1.0})
	return nil
}

// runAttempt acquires the model for one (device, computeType) pairing,
// runs recognition to completion (or failure/cancellation), and
// releases the model. producedAny reports whether at least one
// segment was consumed, which the caller uses to decide whether a
// load-time failure is worth retrying on a different device.
func (e *Engine) runAttempt(ctx context.Context, job *store.Job, modelPath, device, computeType string, duration float64) (progress float64, producedAny bool, err error) {
	key := modelcache.Key{Name: job.Model, Device: device, Precision: computeType}
	entry, _ := modelcatalog.Lookup(job.Model)
	_ = e.cache.Acquire(key, entry.EstimatedBytes)
	defer e.cache.Release(key)

	segc, errc := e.recognizer.Recognize(ctx, RecognizeRequest{
		AudioPath:   job.AudioPath,
		ModelPath:   modelPath,
		Device:      device,
		ComputeType: computeType,
		Language:    job.Language,
		// The recognizer's built-in translate task only ever produces
		// English output, so it's only correct when English is the
		// requested target; any other target is transcribed in the
		// source language and translated per-segment below instead.
		Translate: job.Translate && job.TargetLang == "en",
	})

	return e.consume(ctx, job, segc, errc, duration)
}

func (e *Engine) prepareModel(ctx context.Context, model string) (string, error) {
	if !e.downloader.IsDownloaded(model) {
		if err := e.downloader.Download(ctx, model, nil); err != nil {
			return "", err
		}
	}
	return e.downloader.ModelDir(model), nil
}

func (e *Engine) consume(ctx context.Context, job *store.Job, segc <-chan RawSegment, errc <-chan error, duration float64) (lastProgress float64, producedAny bool, err error) {
	var batch []store.Segment
	var batchProgress []float64
	var translator *translate.JobCache
	if job.Translate && job.TargetLang != "en" && e.translator != nil {
		translator = translate.NewJobCache(e.translator)
	}

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.store.InsertSegmentsBatch(batch); err != nil {
			return err
		}
		for i := range batch {
			e.bus.Publish(job.ID, eventbus.EventSegment, eventbus.JobUpdate{
				Status:   store.StatusRunning.String(),
				Progress: batchProgress[i],
				Segment:  &batch[i],
			})
		}
		batch = batch[:0]
		batchProgress = batchProgress[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			_ = flush()
			return lastProgress, producedAny, ctx.Err()

		case recErr, ok := <-errc:
			if ok && recErr != nil {
				_ = flush()
				return lastProgress, producedAny, recErr
			}

		case seg, ok := <-segc:
			if !ok {
				flushErr := flush()
				if flushErr == nil {
					// A recognizer reports a terminal error before closing
					// segc, so pick it up here rather than reporting success.
					select {
					case recErr := <-errc:
						if recErr != nil {
							return lastProgress, producedAny, recErr
						}
					default:
					}
				}
				return lastProgress, producedAny, flushErr
			}
			producedAny = true

			text := trimText(seg.Text)
			storeSeg := store.Segment{JobID: job.ID, Idx: seg.Idx, Start: seg.Start, End: seg.End, Text: text}

			if translator != nil && text != "" {
				if translated, terr := translator.Translate(ctx, text, job.Language, job.TargetLang); terr == nil {
					storeSeg.Text = translated
				}
			}

			if duration > 0 {
				lastProgress = seg.End / duration
				if lastProgress > 1 {
					lastProgress = 1
				}
			}
			_ = e.store.UpdateJobProgress(job.ID, lastProgress)

			batch = append(batch, storeSeg)
			batchProgress = append(batchProgress, lastProgress)
			if len(batch) >= batchSize {
				if flushErr := flush(); flushErr != nil {
					return lastProgress, producedAny, flushErr
				}
			}
		}
	}
}

func trimText(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func (e *Engine) fail(jobID string, cause error) error {
	msg := cause.Error()
	_ = e.store.UpdateJobStatus(jobID, store.StatusFailed, &msg)
	e.bus.Publish(jobID, eventbus.EventTerminal, eventbus.JobUpdate{Status: store.StatusFailed.String(), Error: msg})
	logger.Warn("job failed", "job_id", jobID, "error", msg)
	return apierr.Transient(cause, "job %s failed", jobID)
}

// CancelJob marks a queued-but-not-yet-running job as canceled
// directly; running jobs are canceled via the scheduler's context.
func (e *Engine) CancelJob(jobID string) error {
	job, err := e.store.GetJob(jobID)
	if err != nil {
		return apierr.NotFound("job %s not found", jobID)
	}
	if job.Status != store.StatusQueued {
		return nil
	}
	if err := e.store.UpdateJobStatus(jobID, store.StatusCanceled, nil); err != nil {
		return apierr.Internal(err, "cancel job %s", jobID)
	}
	e.bus.Publish(jobID, eventbus.EventTerminal, eventbus.JobUpdate{Status: store.StatusCanceled.String()})
	return nil
}
