// Package audioprobe estimates an audio file's duration via ffprobe,
// used to compute ratio-based job progress.
package audioprobe

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"time"

	"scribe/pkg/binaries"
)

const probeTimeout = 15 * time.Second

type probeFormat struct {
	Duration string `json:"duration"`
}

type probeOutput struct {
	Format probeFormat `json:"format"`
}

// Duration returns the audio file's duration in seconds, or 0 if it
// could not be determined (the job's progress then stays at 0 until it
// completes, instead of tracking a ratio).
func Duration(audioPath string) float64 {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binaries.FFprobe(),
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		audioPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return 0
	}

	d, err := strconv.ParseFloat(parsed.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return d
}
