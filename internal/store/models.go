package store

import "time"

// JobStatus is the lifecycle state of a transcription job.
type JobStatus int

const (
	StatusQueued JobStatus = iota + 1
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCanceled
)

func (s JobStatus) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Job is a single transcription request and its current lifecycle state.
type Job struct {
	ID                   string `gorm:"primaryKey"`
	AudioPath            string
	Model                string
	Language             string
	Translate            bool
	TargetLang           string
	EnableGPU            bool
	Status               JobStatus
	Progress             float64
	ErrorMessage         *string
	AudioDurationSeconds *float64
	CreatedAt            time.Time `gorm:"autoCreateTime"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime"`
	Segments             []Segment `gorm:"constraint:OnDelete:CASCADE;foreignKey:JobID;references:ID"`
}

// Segment is one recognized span of text within a job's audio.
type Segment struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	JobID      string `gorm:"uniqueIndex:idx_segment_job_idx,priority:1"`
	Idx        int    `gorm:"uniqueIndex:idx_segment_job_idx,priority:2"`
	Start      float64
	End        float64
	Text       string
	EditedText *string
}

// Setting is a single key/value row in the settings table.
type Setting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}
