package binaries

import "os"

func resolve(envKey, fallback string) string {
	if value := os.Getenv(envKey); value != "" {
		return value
	}
	return fallback
}

// FFprobe returns the configured ffprobe executable path, used by the
// audio duration probe.
func FFprobe() string {
	return resolve("SCRIBE_FFPROBE_BIN", "ffprobe")
}

// Recognizer returns the configured speech-recognition executable
// path, used by the subprocess-based Recognizer to run the actual
// recognition model out of process.
func Recognizer() string {
	return resolve("SCRIBE_RECOGNIZER_BIN", "scribe-recognize")
}
