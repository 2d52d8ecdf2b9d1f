package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kptv-search/work/client"
	"kptv-search/work/config"
	"kptv-search/work/database"
	"kptv-search/work/importer"
	"kptv-search/work/indexer"
	"kptv-search/work/logger"
	"kptv-search/work/search"
	"kptv-search/work/types"
	"kptv-search/work/validator"
)

func TestIsSweepDue(t *testing.T) {
	tests := []struct {
		name    string
		now     int64
		last    int64
		hours   int
		enabled bool
		want    bool
	}{
		{"disabled", 100000, 0, 12, false, false},
		{"zero interval", 100000, 0, 0, true, false},
		{"negative interval", 100000, 0, -1, true, false},
		{"exactly one interval", 43200, 0, 12, true, true},
		{"just under", 43199, 0, 12, true, false},
		{"long overdue", 1000000, 100, 12, true, true},
		{"fresh", 1000, 900, 12, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSweepDue(tt.now, tt.last, tt.hours, tt.enabled); got != tt.want {
				t.Errorf("IsSweepDue(%d, %d, %d, %v) = %v, want %v",
					tt.now, tt.last, tt.hours, tt.enabled, got, tt.want)
			}
		})
	}
}

// newTestRunner builds the full pipeline against a temp registry.
func newTestRunner(t *testing.T, cfg *config.Config) (*Runner, *database.DB, *search.Engine) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "registry.db"), logger.New("ERROR"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := logger.New("ERROR")
	httpClient := client.New(cfg)
	ix := indexer.New(cfg)
	val := validator.New(cfg, httpClient, log)
	engine := search.New(cfg, db, log)
	txt := importer.NewTXTSource(cfg, httpClient, log)
	playlists := importer.NewPlaylistSource(cfg, httpClient, log)
	sources := importer.Sources(cfg, txt, nil)

	return New(cfg, db, log, val, ix, sources, playlists, engine), db, engine
}

func sweepConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ObfuscateUrls = false
	cfg.StreamCheckEnabled = false
	cfg.MinConnections = 1
	cfg.AccountTimeout = 2 * time.Second
	cfg.CatalogTimeout = 2 * time.Second
	cfg.ProbesPerSecond = 1000
	return cfg
}

// fakePanel serves a minimal valid Xtream panel.
func fakePanel(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/player_api.php", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"user_info": map[string]interface{}{"status": "Active", "max_connections": 3},
		})
	})
	mux.HandleFunc("/panel_api.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"available_channels": {
				"10": {"stream_id": "10", "name": "US: ESPN HD", "category_name": "Sports"}
			}
		}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// The full acquisition flow: a TXT source yields a credential, the sweep
// validates it against the panel and indexes its catalog, and a search for
// the normalized name returns one playable result.
func TestSweepImportsValidatesAndIndexes(t *testing.T) {
	panel := fakePanel(t)

	txtPath := filepath.Join(t.TempDir(), "servers.txt")
	line := panel.URL + "/get.php?username=demo&password=secret&type=m3u_plus\n"
	if err := os.WriteFile(txtPath, []byte(line), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := sweepConfig(t)
	cfg.ServersFile = txtPath
	runner, db, engine := newTestRunner(t, cfg)

	summary, err := runner.RunSweep(context.Background(), "manual")
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if summary.Checked != 1 || summary.Validated != 1 || summary.Invalidated != 0 {
		t.Fatalf("summary = %+v, want 1 checked, 1 validated", summary)
	}

	rec, err := db.GetServer(types.Credential{Address: panel.URL, Username: "demo", Password: "secret"})
	if err != nil || rec == nil {
		t.Fatalf("server not stored: %v, %v", err, rec)
	}
	if !rec.IsValid || rec.MaxConnections != 3 {
		t.Errorf("server state = %+v", rec)
	}

	results, err := engine.Search(search.Query{Term: "espn"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if got := results[0].PlaybackAddress; got != "proxy://"+url.QueryEscape(panel.URL+"/live/demo/secret/10.m3u8") {
		t.Errorf("playback address = %q", got)
	}
}

// A sweep against a dead server is transient: nothing in the registry moves.
func TestSweepTransientLeavesStateAlone(t *testing.T) {
	panel := fakePanel(t)
	deadAddr := panel.URL
	panel.Close()

	cfg := sweepConfig(t)
	runner, db, _ := newTestRunner(t, cfg)

	c := types.Credential{Address: deadAddr, Username: "demo", Password: "secret"}
	if _, err := db.UpsertUnknown([]types.Credential{c}); err != nil {
		t.Fatal(err)
	}

	summary, err := runner.RunSweep(context.Background(), "manual")
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if summary.Checked != 1 || summary.Validated != 0 || summary.Invalidated != 0 {
		t.Errorf("summary = %+v, want a transient-only sweep", summary)
	}

	rec, _ := db.GetServer(c)
	if rec == nil || rec.IsValid || rec.LastChecked != 0 {
		t.Errorf("transient outcome mutated the registry: %+v", rec)
	}
}

// On-demand revalidation applies the outcome just like a sweep would.
func TestRevalidateAppliesOutcome(t *testing.T) {
	panel := fakePanel(t)
	cfg := sweepConfig(t)
	runner, db, _ := newTestRunner(t, cfg)

	c := types.Credential{Address: panel.URL, Username: "demo", Password: "secret"}
	if _, err := db.UpsertUnknown([]types.Credential{c}); err != nil {
		t.Fatal(err)
	}

	res, err := runner.Revalidate(context.Background(), c, false)
	if err != nil {
		t.Fatalf("Revalidate: %v", err)
	}
	if res.Outcome != types.OutcomeValid || res.MaxConnections != 3 {
		t.Fatalf("result = %+v", res)
	}

	rec, _ := db.GetServer(c)
	if rec == nil || !rec.IsValid {
		t.Errorf("outcome not applied: %+v", rec)
	}
}

// A dry-run revalidation reports the outcome without touching the registry.
func TestRevalidateDryRunLeavesStateAlone(t *testing.T) {
	panel := fakePanel(t)
	cfg := sweepConfig(t)
	runner, db, _ := newTestRunner(t, cfg)

	c := types.Credential{Address: panel.URL, Username: "demo", Password: "secret"}
	if _, err := db.UpsertUnknown([]types.Credential{c}); err != nil {
		t.Fatal(err)
	}

	res, err := runner.Revalidate(context.Background(), c, true)
	if err != nil {
		t.Fatalf("Revalidate: %v", err)
	}
	if res.Outcome != types.OutcomeValid {
		t.Fatalf("result = %+v", res)
	}

	rec, _ := db.GetServer(c)
	if rec == nil || rec.IsValid || rec.LastChecked != 0 {
		t.Errorf("dry run mutated the registry: %+v", rec)
	}
}

// An identity already being validated refuses a second concurrent attempt.
func TestRevalidateBusyIdentity(t *testing.T) {
	cfg := sweepConfig(t)
	runner, _, _ := newTestRunner(t, cfg)

	c := types.Credential{Address: "http://panel.invalid", Username: "demo", Password: "secret"}
	runner.inflight.Store(c.Key(), struct{}{})

	if _, err := runner.Revalidate(context.Background(), c, false); !errors.Is(err, ErrServerBusy) {
		t.Errorf("err = %v, want ErrServerBusy", err)
	}

	// once the slot frees up the attempt proceeds (transient against a
	// dead address, so nothing is stored)
	runner.inflight.Delete(c.Key())
	res, err := runner.Revalidate(context.Background(), c, false)
	if err != nil {
		t.Fatalf("Revalidate after release: %v", err)
	}
	if res.Outcome != types.OutcomeTransient {
		t.Errorf("outcome = %v, want transient", res.Outcome)
	}
}

// The bootstrap sweep runs under the runner's lifecycle: Stop joins it.
func TestKickoffJoinedByStop(t *testing.T) {
	cfg := sweepConfig(t)
	runner, _, _ := newTestRunner(t, cfg)

	runner.Kickoff()
	runner.Stop()

	if cfg.GetLastSweep() == 0 {
		t.Error("kickoff sweep did not complete before Stop returned")
	}
}

// Cancellation stops at a server boundary and keeps earlier results.
func TestSweepCancellation(t *testing.T) {
	cfg := sweepConfig(t)
	runner, db, _ := newTestRunner(t, cfg)

	creds := []types.Credential{
		{Address: "http://one.invalid", Username: "u", Password: "p"},
		{Address: "http://two.invalid", Username: "u", Password: "p"},
	}
	if _, err := db.UpsertUnknown(creds); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := runner.RunSweep(ctx, "manual")
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if summary.Checked != 0 {
		t.Errorf("cancelled sweep checked %d servers, want 0", summary.Checked)
	}
}
