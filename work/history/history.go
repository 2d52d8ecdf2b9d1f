// Package history keeps a small persistent log of recent searches so a
// client can re-run earlier queries. The log lives in one JSON file,
// newest-first, deduplicated on (term, country), bounded to a fixed size.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"kptv-search/work/logger"
	"kptv-search/work/types"
)

// maxEntries bounds the stored history.
const maxEntries = 50

// Store is a mutex-guarded recent-search log backed by a JSON file.
// Entries are loaded once at startup; every mutation rewrites the file via
// a temp file and rename, so a crash mid-write can never truncate it.
type Store struct {
	mu      sync.Mutex
	path    string
	entries []types.RecentSearch
	log     *logger.Logger
}

// Open loads the history file, treating a missing file as an empty log and
// an unreadable one as empty with a warning; losing search history is
// never worth failing startup over.
func Open(path string, log *logger.Logger) *Store {
	s := &Store{path: path, log: log}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("Failed to load recent searches: %v", err)
		}
		return s
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		log.Warn("Failed to parse recent searches, starting fresh: %v", err)
		s.entries = nil
	}
	if len(s.entries) > maxEntries {
		s.entries = s.entries[:maxEntries]
	}
	return s
}

// Record prepends a search to the log. An existing entry with the same
// term and country moves to the front instead of duplicating; blank terms
// are ignored.
func (s *Store) Record(term, country string) {
	term = strings.TrimSpace(term)
	if term == "" {
		return
	}
	country = strings.TrimSpace(country)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]types.RecentSearch, 0, len(s.entries)+1)
	kept = append(kept, types.RecentSearch{Term: term, Country: country, Time: time.Now().Unix()})
	for _, e := range s.entries {
		if e.Term == term && e.Country == country {
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) > maxEntries {
		kept = kept[:maxEntries]
	}
	s.entries = kept

	if err := s.persist(); err != nil {
		s.log.Error("Failed to save recent searches: %v", err)
	}
}

// Recent returns up to n entries, newest first.
func (s *Store) Recent(n int) []types.RecentSearch {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || n > len(s.entries) {
		n = len(s.entries)
	}
	out := make([]types.RecentSearch, n)
	copy(out, s.entries[:n])
	return out
}

// persist writes the log atomically. Caller holds the lock.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".recent-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
