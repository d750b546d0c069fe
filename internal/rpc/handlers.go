package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"scribe/internal/apierr"
	"scribe/internal/service"
	"scribe/internal/store"
	"scribe/pkg/logger"
)

type handler struct {
	svc *service.Service
}

// writeError maps an apierr.Error (or any other error) to its HTTP
// status and a structured JSON body.
func writeError(c *gin.Context, err error) {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		c.JSON(apiErr.HTTPStatus(), gin.H{"error": apiErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (h *handler) healthCheck(c *gin.Context) {
	resp := h.svc.HealthCheck()
	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

type startTranscriptionBody struct {
	AudioPath  string `json:"audio_path"`
	Model      string `json:"model"`
	Language   string `json:"language"`
	Translate  bool   `json:"translate"`
	TargetLang string `json:"target_lang"`
	EnableGPU  bool   `json:"enable_gpu"`
}

func (h *handler) startTranscription(c *gin.Context) {
	var body startTranscriptionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, apierr.InvalidArgument("malformed request body: %v", err))
		return
	}

	resp, err := h.svc.StartTranscription(service.StartTranscriptionRequest{
		AudioPath:  body.AudioPath,
		Model:      body.Model,
		Language:   body.Language,
		Translate:  body.Translate,
		TargetLang: body.TargetLang,
		EnableGPU:  body.EnableGPU,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

func (h *handler) listJobs(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	jobs, err := h.svc.ListJobs(limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *handler) getJob(c *gin.Context) {
	job, err := h.svc.GetJob(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *handler) deleteJob(c *gin.Context) {
	removed, err := h.svc.DeleteJob(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *handler) cancelJob(c *gin.Context) {
	canceled, err := h.svc.CancelJob(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"canceled": canceled})
}

func (h *handler) getTranscript(c *gin.Context) {
	transcript, err := h.svc.GetTranscript(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, transcript)
}

type saveEditsBody struct {
	Edits []struct {
		Idx         int    `json:"idx"`
		EditedText  string `json:"edited_text"`
		HasEditText bool   `json:"has_edited_text"`
	} `json:"edits"`
}

func (h *handler) saveTranscriptEdits(c *gin.Context) {
	var body saveEditsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, apierr.InvalidArgument("malformed request body: %v", err))
		return
	}

	edits := make([]store.SegmentEdit, len(body.Edits))
	for i, e := range body.Edits {
		edits[i] = store.SegmentEdit{Idx: e.Idx, EditedText: e.EditedText, HasEditText: e.HasEditText}
	}

	if err := h.svc.SaveTranscriptEdits(c.Param("id"), edits); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}

type translateBody struct {
	Target  string         `json:"target"`
	Indices []int          `json:"indices"`
	Edits   map[int]string `json:"edits"`
}

func (h *handler) translateTranscript(c *gin.Context) {
	var body translateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, apierr.InvalidArgument("malformed request body: %v", err))
		return
	}

	translations, err := h.svc.TranslateTranscript(c.Request.Context(), service.TranslateTranscriptRequest{
		JobID:   c.Param("id"),
		Target:  body.Target,
		Indices: body.Indices,
		Edits:   body.Edits,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"segments": translations})
}

func (h *handler) getSettings(c *gin.Context) {
	settings, err := h.svc.GetSettings()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *handler) updateSettings(c *gin.Context) {
	var updates map[string]string
	if err := c.ShouldBindJSON(&updates); err != nil {
		writeError(c, apierr.InvalidArgument("malformed request body: %v", err))
		return
	}
	if err := h.svc.UpdateSettings(updates); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (h *handler) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.svc.ListModels()})
}

func (h *handler) cancelDownload(c *gin.Context) {
	canceled := h.svc.CancelDownload(c.Param("name"))
	c.JSON(http.StatusOK, gin.H{"canceled": canceled})
}

func (h *handler) deleteModel(c *gin.Context) {
	removed, err := h.svc.DeleteModel(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// streamTranscription and downloadModel below write chunked JSON
// lines directly rather than going through c.JSON, since the
// response must flush incrementally.

func (h *handler) streamTranscription(c *gin.Context) {
	events, err := h.svc.StreamTranscription(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, apierr.Internal(nil, "streaming unsupported"))
		return
	}

	for evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			logger.Error("marshal stream event failed", "error", err)
			continue
		}
		c.Writer.Write(data)
		c.Writer.Write([]byte("\n"))
		flusher.Flush()
	}
}

func (h *handler) downloadModel(c *gin.Context) {
	events, err := h.svc.DownloadModel(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, apierr.Internal(nil, "streaming unsupported"))
		return
	}

	for evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			logger.Error("marshal download event failed", "error", err)
			continue
		}
		c.Writer.Write(data)
		c.Writer.Write([]byte("\n"))
		flusher.Flush()
	}
}
