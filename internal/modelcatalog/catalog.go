// Package modelcatalog exposes the fixed set of recognition models
// this service knows how to fetch: their upstream repository ids and
// approximate on-disk size.
package modelcatalog

// Entry describes one catalog model. ContentHash, when set, is the
// hex-encoded BLAKE2b-256 digest of the model's primary weights file;
// the downloader verifies it after staging and before the atomic
// rename into place. Left blank for entries whose upstream digest
// hasn't been pinned yet, in which case the downloader skips
// verification for that model.
type Entry struct {
	Name           string
	RepoID         string
	EstimatedBytes int64
	ContentHash    string
}

var catalog = map[string]Entry{
	"tiny":      {Name: "tiny", RepoID: "Systran/faster-whisper-tiny", EstimatedBytes: 39_000_000},
	"tiny.en":   {Name: "tiny.en", RepoID: "Systran/faster-whisper-tiny.en", EstimatedBytes: 39_000_000},
	"base":      {Name: "base", RepoID: "Systran/faster-whisper-base", EstimatedBytes: 74_000_000},
	"base.en":   {Name: "base.en", RepoID: "Systran/faster-whisper-base.en", EstimatedBytes: 74_000_000},
	"small":     {Name: "small", RepoID: "Systran/faster-whisper-small", EstimatedBytes: 244_000_000},
	"small.en":  {Name: "small.en", RepoID: "Systran/faster-whisper-small.en", EstimatedBytes: 244_000_000},
	"medium":    {Name: "medium", RepoID: "Systran/faster-whisper-medium", EstimatedBytes: 769_000_000},
	"medium.en": {Name: "medium.en", RepoID: "Systran/faster-whisper-medium.en", EstimatedBytes: 769_000_000},
	"large-v1":  {Name: "large-v1", RepoID: "Systran/faster-whisper-large-v1", EstimatedBytes: 1_550_000_000},
	"large-v2":  {Name: "large-v2", RepoID: "Systran/faster-whisper-large-v2", EstimatedBytes: 1_550_000_000},
	"large-v3":  {Name: "large-v3", RepoID: "Systran/faster-whisper-large-v3", EstimatedBytes: 1_550_000_000},
}

// aliases maps a short-form name to the canonical catalog key.
var aliases = map[string]string{
	"large": "large-v3",
}

func resolve(name string) string {
	if canonical, ok := aliases[name]; ok {
		return canonical
	}
	return name
}

// Lookup returns the catalog entry for name (resolving aliases), and
// whether it exists.
func Lookup(name string) (Entry, bool) {
	entry, ok := catalog[resolve(name)]
	return entry, ok
}

// All returns every catalog entry.
func All() []Entry {
	out := make([]Entry, 0, len(catalog))
	for _, e := range catalog {
		out = append(out, e)
	}
	return out
}
