package search

import (
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"kptv-search/work/config"
	"kptv-search/work/database"
	"kptv-search/work/logger"
	"kptv-search/work/types"
)

func testEngine(t *testing.T, mutate func(*config.Config)) (*Engine, *database.DB) {
	t.Helper()
	cfg := config.Default()
	cfg.ObfuscateUrls = false
	if mutate != nil {
		mutate(cfg)
	}

	db, err := database.Open(filepath.Join(t.TempDir(), "registry.db"), logger.New("ERROR"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return New(cfg, db, logger.New("ERROR")), db
}

func seedServer(t *testing.T, db *database.DB, addr string, maxConn int, channels []types.ChannelRecord) types.Credential {
	t.Helper()
	c := types.Credential{Address: addr, Username: "user1", Password: "pw"}
	if err := db.MarkValid(c, 100, maxConn, channels); err != nil {
		t.Fatalf("MarkValid: %v", err)
	}
	return c
}

func TestSearchDigitBoundary(t *testing.T) {
	engine, db := testEngine(t, nil)
	seedServer(t, db, "http://a.example", 2, []types.ChannelRecord{
		{StreamID: "1", Name: "US: ESPN", SearchKey: "espn"},
		{StreamID: "2", Name: "US: ESPN2", SearchKey: "espn2"},
		{StreamID: "3", Name: "US: ESPN News", SearchKey: "espnnews"},
	})

	// a bare "espn" hides the digit-suffixed sibling but keeps word-suffixed keys
	results, err := engine.Search(Query{Term: "espn"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2: %+v", len(results), results)
	}
	for _, r := range results {
		if strings.Contains(r.DisplayName, "ESPN2") {
			t.Errorf("digit sibling leaked into results: %q", r.DisplayName)
		}
	}

	// an explicit digit-suffixed term matches it directly
	results, err = engine.Search(Query{Term: "espn2"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || !strings.Contains(results[0].DisplayName, "ESPN2") {
		t.Errorf("espn2 search = %+v, want the ESPN2 channel", results)
	}
}

func TestSearchTightestMatchFirst(t *testing.T) {
	engine, db := testEngine(t, nil)
	seedServer(t, db, "http://a.example", 2, []types.ChannelRecord{
		{StreamID: "1", Name: "ESPN Deportes", SearchKey: "espndeportes"},
		{StreamID: "2", Name: "US: ESPN", SearchKey: "espn"},
		{StreamID: "3", Name: "ESPN News", SearchKey: "espnnews"},
	})

	results, err := engine.Search(Query{Term: "espn"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if !strings.Contains(results[0].DisplayName, "US: ESPN") {
		t.Errorf("tightest match not first: %q", results[0].DisplayName)
	}
}

func TestSearchPerServerCap(t *testing.T) {
	engine, db := testEngine(t, nil)
	seedServer(t, db, "http://a.example", 2, []types.ChannelRecord{
		{StreamID: "1", Name: "ESPN 1", SearchKey: "espnone"},
		{StreamID: "2", Name: "ESPN 2ch", SearchKey: "espntwo"},
		{StreamID: "3", Name: "ESPN 3ch", SearchKey: "espnthree"},
		{StreamID: "4", Name: "ESPN 4ch", SearchKey: "espnfour"},
		{StreamID: "5", Name: "ESPN 5ch", SearchKey: "espnfive"},
	})

	results, err := engine.Search(Query{Term: "espn", PerLimit: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("results = %d, want per-server cap of 2", len(results))
	}
}

func TestSearchTotalLimit(t *testing.T) {
	engine, db := testEngine(t, nil)
	seedServer(t, db, "http://a.example", 2, []types.ChannelRecord{
		{StreamID: "1", Name: "ESPN A", SearchKey: "espna"},
		{StreamID: "2", Name: "ESPN B", SearchKey: "espnb"},
		{StreamID: "3", Name: "ESPN C", SearchKey: "espnc"},
	})

	results, err := engine.Search(Query{Term: "espn", Limit: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("results = %d, want total cap of 2", len(results))
	}
}

func TestSearchCountryFilter(t *testing.T) {
	engine, db := testEngine(t, nil)
	seedServer(t, db, "http://a.example", 2, []types.ChannelRecord{
		{StreamID: "1", Name: "US: ESPN", SearchKey: "espn"},
		{StreamID: "2", Name: "UK: ESPN", SearchKey: "espn"},
	})

	results, err := engine.Search(Query{Term: "espn", Country: "uk"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || !strings.Contains(results[0].DisplayName, "UK: ESPN") {
		t.Errorf("country filter results = %+v", results)
	}
}

func TestSearchBroadTermSuppression(t *testing.T) {
	engine, db := testEngine(t, nil)
	seedServer(t, db, "http://a.example", 2, []types.ChannelRecord{
		{StreamID: "1", Name: "US: ESPN", SearchKey: "espn"},
		{StreamID: "2", Name: "US: ESPN Plus Event 1", SearchKey: "espnpluseventone"},
	})

	// the bare broad term hides the "plus" variant
	results, err := engine.Search(Query{Term: "espn"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || strings.Contains(results[0].DisplayName, "Plus") {
		t.Errorf("broad-term suppression failed: %+v", results)
	}

	// asking for the variant explicitly opts back in
	results, err = engine.Search(Query{Term: "espn plus"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	found := false
	for _, r := range results {
		if strings.Contains(r.DisplayName, "Plus") {
			found = true
		}
	}
	if !found {
		t.Errorf("explicit variant query should surface it: %+v", results)
	}
}

func TestPlaybackAddressModes(t *testing.T) {
	channels := []types.ChannelRecord{{StreamID: "7", Name: "US: ESPN", SearchKey: "espn"}}

	// auto mode with known capacity routes through the proxy
	engine, db := testEngine(t, nil)
	seedServer(t, db, "http://a.example", 3, channels)
	results, err := engine.Search(Query{Term: "espn"})
	if err != nil || len(results) != 1 {
		t.Fatalf("Search: %v, results=%d", err, len(results))
	}
	wantStream := url.QueryEscape("http://a.example/live/user1/pw/7.m3u8")
	if results[0].PlaybackAddress != "proxy://"+wantStream {
		t.Errorf("auto mode address = %q", results[0].PlaybackAddress)
	}

	// auto mode with unknown capacity goes direct
	engine, db = testEngine(t, nil)
	seedServer(t, db, "http://a.example", 0, channels)
	results, _ = engine.Search(Query{Term: "espn"})
	if !strings.HasPrefix(results[0].PlaybackAddress, "direct://") {
		t.Errorf("auto mode with unknown capacity = %q", results[0].PlaybackAddress)
	}

	// forced-direct overrides capacity
	engine, db = testEngine(t, func(cfg *config.Config) { cfg.ProxyMode = config.ProxyModeForcedDirect })
	seedServer(t, db, "http://a.example", 3, channels)
	results, _ = engine.Search(Query{Term: "espn"})
	if !strings.HasPrefix(results[0].PlaybackAddress, "direct://") {
		t.Errorf("forced-direct = %q", results[0].PlaybackAddress)
	}

	// playlist channels use the stored URL and label, never the sentinel
	engine, db = testEngine(t, nil)
	pl := types.Credential{Address: "http://lists.example/a.m3u", Username: types.SentinelUsername}
	if err := db.UpsertPlaylistServer(pl, 100, []types.ChannelRecord{
		{StreamID: "m3u_0", Name: "US: ESPN", SearchKey: "espn", StreamURL: "http://cdn.example/espn.m3u8"},
	}); err != nil {
		t.Fatal(err)
	}
	results, _ = engine.Search(Query{Term: "espn"})
	if len(results) != 1 {
		t.Fatalf("playlist search results = %d", len(results))
	}
	if results[0].PlaybackAddress != "direct://"+url.QueryEscape("http://cdn.example/espn.m3u8") {
		t.Errorf("playlist address = %q", results[0].PlaybackAddress)
	}
	if !strings.Contains(results[0].DisplayName, "(M3U)") || strings.Contains(results[0].DisplayName, types.SentinelUsername) {
		t.Errorf("playlist label = %q", results[0].DisplayName)
	}
}

func TestSearchCacheInvalidation(t *testing.T) {
	engine, db := testEngine(t, nil)
	c := seedServer(t, db, "http://a.example", 2, []types.ChannelRecord{
		{StreamID: "1", Name: "US: ESPN", SearchKey: "espn"},
	})

	results, err := engine.Search(Query{Term: "espn"})
	if err != nil || len(results) != 1 {
		t.Fatalf("initial search: %v, %d results", err, len(results))
	}

	// registry changes behind the cache's back until invalidated
	if err := db.MarkInvalid(c, 200); err != nil {
		t.Fatal(err)
	}
	results, _ = engine.Search(Query{Term: "espn"})
	if len(results) != 1 {
		t.Fatalf("expected cached results before invalidation, got %d", len(results))
	}

	engine.InvalidateCache()
	results, _ = engine.Search(Query{Term: "espn"})
	if len(results) != 0 {
		t.Errorf("expected no results after invalidation, got %d", len(results))
	}
}
