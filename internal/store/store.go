// Package store implements the durable job store: a WAL-mode SQLite
// database holding jobs, their segments, and free-form settings.
//
// Writes are serialized through a single mutex so that SQLite's
// single-writer rule is honored explicitly rather than relying on
// gorm's connection pool to do it for us; reads go through the pool
// directly and rely on WAL to avoid blocking behind the writer.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store wraps a gorm-backed SQLite database implementing the job store.
type Store struct {
	db      *gorm.DB
	writeMu sync.Mutex
}

// Open opens (creating if necessary) the database at path, configures
// WAL mode and connection pooling, and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?"+
		"_pragma=foreign_keys(1)&"+
		"_pragma=journal_mode(WAL)&"+
		"_pragma=synchronous(NORMAL)&"+
		"_pragma=cache_size(-64000)&"+
		"_pragma=temp_store(MEMORY)&"+
		"_timeout=30000", path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.AutoMigrate(&Job{}, &Segment{}, &Setting{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// HealthCheck pings the underlying connection.
func (s *Store) HealthCheck() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Stats returns the underlying connection pool statistics.
func (s *Store) Stats() sql.DBStats {
	sqlDB, err := s.db.DB()
	if err != nil {
		return sql.DBStats{}
	}
	return sqlDB.Stats()
}

// --- jobs ---

// NewJobID generates a fresh job identifier.
func (s *Store) NewJobID() string {
	return uuid.NewString()
}

// CreateJob inserts a new job row in the queued state.
func (s *Store) CreateJob(job *Job) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	job.Status = StatusQueued
	job.Progress = 0
	return s.db.Create(job).Error
}

// GetJob fetches a job by ID. Returns gorm.ErrRecordNotFound if absent.
func (s *Store) GetJob(jobID string) (*Job, error) {
	var job Job
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns the most recently created jobs first, up to limit.
func (s *Store) ListJobs(limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var jobs []Job
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// UpdateJobStatus transitions a job's status, optionally recording an
// error message (nil leaves any stored message unchanged).
func (s *Store) UpdateJobStatus(jobID string, status JobStatus, errMsg *string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	updates := map[string]interface{}{"status": status}
	if errMsg != nil {
		updates["error_message"] = *errMsg
	}
	return s.db.Model(&Job{}).Where("id = ?", jobID).Updates(updates).Error
}

// UpdateJobProgress records a monotonic progress value in [0,1].
func (s *Store) UpdateJobProgress(jobID string, progress float64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Model(&Job{}).Where("id = ?", jobID).Update("progress", progress).Error
}

// UpdateJobDuration caches the probed audio duration once known.
func (s *Store) UpdateJobDuration(jobID string, seconds float64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Model(&Job{}).Where("id = ?", jobID).Update("audio_duration_seconds", seconds).Error
}

// DeleteJob removes a job and, via the foreign-key cascade expressed
// in application logic below, its segments.
func (s *Store) DeleteJob(jobID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", jobID).Delete(&Segment{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", jobID).Delete(&Job{}).Error
	})
}

// FailStaleJobs marks any job left QUEUED or RUNNING (e.g. because the
// process crashed mid-job) as FAILED, and returns how many were fixed.
func (s *Store) FailStaleJobs() (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	msg := "Server restarted while job was in progress"
	result := s.db.Model(&Job{}).
		Where("status IN ?", []JobStatus{StatusQueued, StatusRunning}).
		Updates(map[string]interface{}{"status": StatusFailed, "error_message": msg})
	return result.RowsAffected, result.Error
}

// --- segments ---

// InsertSegmentsBatch inserts a batch of segments for a job in one
// transaction. The batch is expected to be non-empty.
func (s *Store) InsertSegmentsBatch(segments []Segment) error {
	if len(segments) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Create(&segments).Error
}

// GetSegmentsAfter returns all segments for a job with idx > afterIdx,
// ordered by idx.
func (s *Store) GetSegmentsAfter(jobID string, afterIdx int) ([]Segment, error) {
	var segments []Segment
	err := s.db.Where("job_id = ? AND idx > ?", jobID, afterIdx).Order("idx").Find(&segments).Error
	return segments, err
}

// SegmentEdit is a single caller-supplied correction to a segment's text.
type SegmentEdit struct {
	Idx         int
	EditedText  string
	HasEditText bool
}

// SaveSegmentEdits applies caller edits to existing segments. An empty
// edited text clears the stored correction back to NULL.
func (s *Store) SaveSegmentEdits(jobID string, edits []SegmentEdit) error {
	if len(edits) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, e := range edits {
			var value *string
			if e.EditedText != "" {
				v := e.EditedText
				value = &v
			}
			if err := tx.Model(&Segment{}).
				Where("job_id = ? AND idx = ?", jobID, e.Idx).
				Update("edited_text", value).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// --- settings ---

// GetSetting returns a setting's value, or def if unset.
func (s *Store) GetSetting(key, def string) string {
	var setting Setting
	if err := s.db.First(&setting, "key = ?", key).Error; err != nil {
		return def
	}
	return setting.Value
}

// SetSetting upserts a setting value.
func (s *Store) SetSetting(key, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	).Error
}

// GetAllSettings returns every stored setting as a map.
func (s *Store) GetAllSettings() (map[string]string, error) {
	var settings []Setting
	if err := s.db.Find(&settings).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(settings))
	for _, st := range settings {
		out[st.Key] = st.Value
	}
	return out, nil
}
