// Package recognizer implements engine.Recognizer by shelling out to
// an external speech-recognition executable: the recognition model
// itself is an out-of-process collaborator, not something this
// module loads or links against. The subprocess streams one JSON
// object per recognized segment on stdout; anything it cannot parse,
// or a non-zero exit, is surfaced as a terminal error on errc.
package recognizer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"scribe/internal/engine"
	"scribe/pkg/binaries"
	"scribe/pkg/logger"
)

// Process is an engine.Recognizer backed by an external executable.
type Process struct {
	bin string
}

// New builds a Process recognizer using the configured executable
// (SCRIBE_RECOGNIZER_BIN, see pkg/binaries).
func New() *Process {
	return &Process{bin: binaries.Recognizer()}
}

type wireSegment struct {
	Idx   int     `json:"idx"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Recognize runs the recognizer executable against req.AudioPath and
// streams its output as RawSegments. The subprocess is killed when
// ctx is canceled.
func (p *Process) Recognize(ctx context.Context, req engine.RecognizeRequest) (<-chan engine.RawSegment, <-chan error) {
	segc := make(chan engine.RawSegment)
	errc := make(chan error, 1)

	args := []string{
		"--audio", req.AudioPath,
		"--model-dir", req.ModelPath,
		"--device", req.Device,
		"--compute-type", req.ComputeType,
	}
	if req.Language != "" {
		args = append(args, "--language", req.Language)
	}
	if req.Translate {
		args = append(args, "--task", "translate")
	} else {
		args = append(args, "--task", "transcribe")
	}
	if req.InitialPrompt != "" {
		args = append(args, "--initial-prompt", req.InitialPrompt)
	}

	cmd := exec.CommandContext(ctx, p.bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		close(segc)
		errc <- fmt.Errorf("recognizer stdout pipe: %w", err)
		return segc, errc
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		close(segc)
		errc <- fmt.Errorf("recognizer stderr pipe: %w", err)
		return segc, errc
	}

	if err := cmd.Start(); err != nil {
		close(segc)
		errc <- fmt.Errorf("start recognizer: %w", err)
		return segc, errc
	}

	go func() {
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 0, 4096), 1<<20)
		for sc.Scan() {
			logger.Warn("recognizer stderr", "line", sc.Text())
		}
	}()

	go func() {
		defer close(segc)

		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
		var parseErr error
		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}
			var seg wireSegment
			if err := json.Unmarshal(line, &seg); err != nil {
				parseErr = fmt.Errorf("malformed recognizer output: %w", err)
				break
			}
			select {
			case segc <- engine.RawSegment{Idx: seg.Idx, Start: seg.Start, End: seg.End, Text: seg.Text}:
			case <-ctx.Done():
				_ = cmd.Wait()
				return
			}
		}

		waitErr := cmd.Wait()
		switch {
		case parseErr != nil:
			errc <- parseErr
		case ctx.Err() != nil:
			// Canceled: the process was killed, which is expected and
			// not an error the job should fail on.
		case waitErr != nil:
			errc <- fmt.Errorf("recognizer exited: %w", waitErr)
		}
	}()

	return segc, errc
}
