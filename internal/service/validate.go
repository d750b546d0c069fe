package service

import (
	"os"
	"path/filepath"
	"strings"

	"scribe/internal/apierr"
)

var blockedPrefixes = []string{
	"/etc", "/proc", "/sys", "/dev", "/boot", "/sbin", "/bin", "/lib",
}

var allowedAudioExt = map[string]bool{
	".wav": true, ".mp3": true, ".m4a": true, ".flac": true,
	".ogg": true, ".mp4": true, ".webm": true,
}

var allowedTargetLanguages = map[string]bool{
	"en": true, "es": true, "fr": true, "de": true, "it": true,
	"pt": true, "ja": true, "zh": true, "ko": true,
}

// validateAudioPath rejects anything that is not an absolute, regular
// file under an allowed extension and outside the sensitive prefixes.
func validateAudioPath(path string) error {
	if !filepath.IsAbs(path) {
		return apierr.InvalidArgument("audio_path must be absolute")
	}
	for _, prefix := range blockedPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return apierr.InvalidArgument("audio_path may not resolve inside %s", prefix)
		}
	}
	if !allowedAudioExt[strings.ToLower(filepath.Ext(path))] {
		return apierr.InvalidArgument("unsupported audio file extension for %s", path)
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return apierr.InvalidArgument("audio_path does not exist: %s", path)
	}
	for _, prefix := range blockedPrefixes {
		if resolved == prefix || strings.HasPrefix(resolved, prefix+"/") {
			return apierr.InvalidArgument("audio_path may not resolve inside %s", prefix)
		}
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.Mode().IsRegular() {
		return apierr.InvalidArgument("audio_path is not a regular file: %s", path)
	}
	return nil
}

func validateTargetLanguage(lang string) error {
	if !allowedTargetLanguages[lang] {
		return apierr.InvalidArgument("unsupported target language %q", lang)
	}
	return nil
}
