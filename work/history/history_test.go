package history

import (
	"fmt"
	"path/filepath"
	"testing"

	"kptv-search/work/logger"
)

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recent.json")
	return Open(path, logger.New("ERROR")), path
}

func TestRecordAndRecent(t *testing.T) {
	s, _ := testStore(t)

	s.Record("espn", "us")
	s.Record("sky sports", "")
	s.Record("tnt", "uk")

	recent := s.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("recent = %d entries, want 3", len(recent))
	}
	// newest first
	if recent[0].Term != "tnt" || recent[2].Term != "espn" {
		t.Errorf("order wrong: %+v", recent)
	}

	if got := s.Recent(2); len(got) != 2 || got[0].Term != "tnt" {
		t.Errorf("limited recent = %+v", got)
	}
}

func TestRecordDeduplicates(t *testing.T) {
	s, _ := testStore(t)

	s.Record("espn", "us")
	s.Record("tnt", "")
	s.Record("espn", "us") // same pair moves to front
	s.Record("espn", "uk") // different country is a separate entry

	recent := s.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("recent = %d entries, want 3: %+v", len(recent), recent)
	}
	if recent[0].Term != "espn" || recent[0].Country != "uk" {
		t.Errorf("front = %+v", recent[0])
	}
	if recent[1].Term != "espn" || recent[1].Country != "us" {
		t.Errorf("moved entry = %+v", recent[1])
	}
}

func TestRecordIgnoresBlankAndTrims(t *testing.T) {
	s, _ := testStore(t)

	s.Record("   ", "us")
	s.Record("  espn  ", " us ")

	recent := s.Recent(0)
	if len(recent) != 1 {
		t.Fatalf("recent = %d entries, want 1", len(recent))
	}
	if recent[0].Term != "espn" || recent[0].Country != "us" {
		t.Errorf("entry not trimmed: %+v", recent[0])
	}
}

func TestBound(t *testing.T) {
	s, _ := testStore(t)

	for i := 0; i < maxEntries+10; i++ {
		s.Record(fmt.Sprintf("term%d", i), "")
	}
	if got := len(s.Recent(0)); got != maxEntries {
		t.Errorf("entries = %d, want bound of %d", got, maxEntries)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	s, path := testStore(t)
	s.Record("espn", "us")
	s.Record("tnt", "")

	reopened := Open(path, logger.New("ERROR"))
	recent := reopened.Recent(0)
	if len(recent) != 2 || recent[0].Term != "tnt" {
		t.Errorf("reloaded history = %+v", recent)
	}
}
