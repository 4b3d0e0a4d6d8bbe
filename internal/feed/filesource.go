package feed

import (
	"context"
	"encoding/json"
	"os"

	logx "fxcalbot/pkg/logx"
)

// FileSource reads records from a JSON file written by an external producer
// (the offline metals/crypto scraper). It implements the same Source contract
// as the HTTP client so the cache does not care where records come from.
type FileSource struct {
	path string
	log  logx.Logger
}

func NewFileSource(path string, log logx.Logger) *FileSource {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FileSource{path: path, log: log}
}

func (f *FileSource) Fetch(_ context.Context) ([]Record, bool) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			f.log.Warn("scrape hand-off unreadable", logx.String("path", f.path), logx.Err(err))
		}
		return nil, false
	}
	var records []Record
	if err := json.Unmarshal(b, &records); err != nil {
		f.log.Warn("scrape hand-off is not a JSON array", logx.String("path", f.path), logx.Err(err))
		return nil, false
	}
	return records, true
}

// MultiSource merges a primary source with best-effort secondary producers.
// The degraded flag reflects the primary only; a missing scrape file must not
// force the cache into stale-serve.
type MultiSource struct {
	Primary   Source
	Secondary []Source
}

func (m *MultiSource) Fetch(ctx context.Context) ([]Record, bool) {
	records, ok := m.Primary.Fetch(ctx)
	for _, s := range m.Secondary {
		if extra, sok := s.Fetch(ctx); sok {
			records = append(records, extra...)
		}
	}
	return records, ok
}
