package indexer

import (
	"testing"

	"kptv-search/work/config"
	"kptv-search/work/types"
)

func testIndexer() *Indexer {
	cfg := config.Default()
	return New(cfg)
}

func TestExcluded(t *testing.T) {
	ix := testIndexer()

	tests := []struct {
		name     string
		category string
		want     bool
	}{
		{"US: ESPN", "Sports", false},
		{"BR: Globo", "News", true},          // excluded name fragment
		{"Some Channel", "XXX Movies", true}, // excluded group fragment
		{"Some Channel", "adult", true},
		{"MEX: Azteca", "", true},
		{"mex: azteca", "", true}, // case-insensitive
		{"Plain", "", false},
	}
	for _, tt := range tests {
		if got := ix.Excluded(tt.name, tt.category); got != tt.want {
			t.Errorf("Excluded(%q, %q) = %v, want %v", tt.name, tt.category, got, tt.want)
		}
	}
}

func TestBuildRecords(t *testing.T) {
	ix := testIndexer()

	entries := []types.CatalogEntry{
		{StreamID: "10", Name: "US: ESPN HD", Category: "Sports"},
		{StreamID: "11", Name: "", Category: "Sports"},
		{StreamID: "12", Name: "BR: Globo", Category: "News"},
		{StreamID: "13", Name: "Hot Stuff", Category: "XXX"},
		{StreamID: "14", Name: "UK - Sky Sports Main Event", Category: "Sports"},
	}

	records := ix.BuildRecords(entries)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	// catalog order preserved
	if records[0].StreamID != "10" || records[1].StreamID != "14" {
		t.Errorf("unexpected record order: %q, %q", records[0].StreamID, records[1].StreamID)
	}
	if records[0].SearchKey != "espn" {
		t.Errorf("SearchKey = %q, want %q", records[0].SearchKey, "espn")
	}
	if records[0].Name != "US: ESPN HD" {
		t.Errorf("raw name not preserved: %q", records[0].Name)
	}
	if records[0].StreamURL != "" {
		t.Errorf("portal channel must not carry a stream URL")
	}
}

func TestBuildPlaylistRecords(t *testing.T) {
	ix := testIndexer()

	in := []types.ChannelRecord{
		{StreamID: "m3u_0", Name: "  US: ESPN HD  ", StreamURL: "http://cdn.example/espn.m3u8"},
		{StreamID: "m3u_1", Name: "BR: Globo", StreamURL: "http://cdn.example/globo.m3u8"},
	}

	records := ix.BuildPlaylistRecords(in)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Name != "US: ESPN HD" {
		t.Errorf("name not trimmed: %q", records[0].Name)
	}
	if records[0].SearchKey != "espn" {
		t.Errorf("SearchKey = %q, want %q", records[0].SearchKey, "espn")
	}
	if records[0].StreamURL != "http://cdn.example/espn.m3u8" {
		t.Errorf("stream URL lost: %q", records[0].StreamURL)
	}
}
