// Package downloader fetches a model's files into the configured
// models directory, staging into a temporary sibling directory and
// renaming it into place only once the download completes — so a
// reader never observes a partially-downloaded model directory.
package downloader

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/semaphore"

	"scribe/internal/modelcatalog"
)

// ProgressFunc receives monotonically increasing byte counts and the
// (known-ahead) total for a download in progress.
type ProgressFunc func(downloaded, total int64)

// Downloader manages model downloads under modelsDir.
type Downloader struct {
	modelsDir string
	sem       *semaphore.Weighted

	mu       sync.Mutex
	canceled map[string]bool
}

// New creates a Downloader rooted at modelsDir, allowing up to
// maxConcurrent downloads to run at once.
func New(modelsDir string, maxConcurrent int) *Downloader {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Downloader{
		modelsDir: modelsDir,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		canceled:  make(map[string]bool),
	}
}

// ModelDir returns the on-disk directory a model's files live in once
// downloaded.
func (d *Downloader) ModelDir(name string) string {
	return filepath.Join(d.modelsDir, name)
}

// IsDownloaded reports whether a model's directory exists and is
// non-empty.
func (d *Downloader) IsDownloaded(name string) bool {
	entries, err := os.ReadDir(d.ModelDir(name))
	if err != nil {
		return false
	}
	return len(entries) > 0
}

// Cancel requests cancellation of an in-progress download. Idempotent;
// returns true if a download for name was actually in flight.
func (d *Downloader) Cancel(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, wasRunning := d.canceled[name]
	if wasRunning {
		d.canceled[name] = true
	}
	return wasRunning
}

func (d *Downloader) clearCancel(name string) {
	d.mu.Lock()
	delete(d.canceled, name)
	d.mu.Unlock()
}

func (d *Downloader) isCanceled(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.canceled[name]
}

func (d *Downloader) markActive(name string) {
	d.mu.Lock()
	d.canceled[name] = false
	d.mu.Unlock()
}

// Delete removes a downloaded model's directory, if present.
func (d *Downloader) Delete(name string) error {
	return os.RemoveAll(d.ModelDir(name))
}

// Download fetches a model's files, reporting progress via cb.
// Already-downloaded models report one (total, total) progress event
// and return immediately.
func (d *Downloader) Download(ctx context.Context, name string, cb ProgressFunc) error {
	entry, ok := modelcatalog.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown model %q", name)
	}

	if d.IsDownloaded(name) {
		if cb != nil {
			cb(entry.EstimatedBytes, entry.EstimatedBytes)
		}
		return nil
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire download slot: %w", err)
	}
	defer d.sem.Release(1)

	d.markActive(name)
	defer d.clearCancel(name)

	stagingDir := filepath.Join(d.modelsDir, "."+name+".part")
	if err := os.RemoveAll(stagingDir); err != nil {
		return fmt.Errorf("clear stale staging dir: %w", err)
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	url := fmt.Sprintf("https://huggingface.co/%s/resolve/main/model.bin", entry.RepoID)
	weightsPath := filepath.Join(stagingDir, "model.bin")
	if err := d.fetchFile(ctx, name, url, weightsPath, entry.EstimatedBytes, cb); err != nil {
		_ = os.RemoveAll(stagingDir)
		return err
	}

	if entry.ContentHash != "" {
		if err := verifyContentHash(weightsPath, entry.ContentHash); err != nil {
			_ = os.RemoveAll(stagingDir)
			return fmt.Errorf("verify %s: %w", name, err)
		}
	}

	if err := os.MkdirAll(d.modelsDir, 0o755); err != nil {
		return fmt.Errorf("create models dir: %w", err)
	}
	if err := os.Rename(stagingDir, d.ModelDir(name)); err != nil {
		_ = os.RemoveAll(stagingDir)
		return fmt.Errorf("finalize model directory: %w", err)
	}

	return nil
}

func (d *Downloader) fetchFile(ctx context.Context, name, url, dest string, total int64, cb ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create destination file: %w", err)
	}
	defer out.Close()

	tracker := &progressTracker{name: name, d: d, total: total, cb: cb}
	if _, err := io.Copy(out, io.TeeReader(resp.Body, tracker)); err != nil {
		return fmt.Errorf("write download: %w", err)
	}
	if tracker.canceled {
		return fmt.Errorf("download of %q canceled", name)
	}
	return nil
}

// verifyContentHash compares the BLAKE2b-256 digest of the file at
// path against the expected hex-encoded digest.
func verifyContentHash(path, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open for verification: %w", err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return fmt.Errorf("init hasher: %w", err)
	}
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash file: %w", err)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if got != want {
		return fmt.Errorf("content hash mismatch: got %s, want %s", got, want)
	}
	return nil
}

type progressTracker struct {
	name     string
	d        *Downloader
	total    int64
	current  int64
	cb       ProgressFunc
	canceled bool
}

func (t *progressTracker) Write(p []byte) (int, error) {
	if t.d.isCanceled(t.name) {
		t.canceled = true
		return 0, fmt.Errorf("canceled")
	}
	t.current += int64(len(p))
	if t.cb != nil {
		t.cb(t.current, t.total)
	}
	return len(p), nil
}
