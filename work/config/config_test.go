package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.RecheckHours != 12 {
		t.Errorf("RecheckHours = %d, want 12", cfg.RecheckHours)
	}
	if cfg.AccountTimeout != 12*time.Second {
		t.Errorf("AccountTimeout = %v, want 12s", cfg.AccountTimeout)
	}
	if _, ok := cfg.BroadTerms["espn"]; !ok {
		t.Error("default broad-term table missing espn entry")
	}

	// missing file materializes on the first Save
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file not created: %v", err)
	}
}

func TestLoadParsesFileAndDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
  "listenAddr": ":9090",
  "serversFile": "https://example.com/servers.txt",
  "recheckHours": 6,
  "minConnections": 3,
  "probeTimeout": "3s",
  "cacheDuration": "90s"
}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.ServersFile != "https://example.com/servers.txt" {
		t.Errorf("ServersFile = %q", cfg.ServersFile)
	}
	if cfg.RecheckHours != 6 || cfg.MinConnections != 3 {
		t.Errorf("recheck/min = %d/%d", cfg.RecheckHours, cfg.MinConnections)
	}
	if cfg.ProbeTimeout != 3*time.Second {
		t.Errorf("ProbeTimeout = %v, want 3s", cfg.ProbeTimeout)
	}
	if cfg.CacheDuration != 90*time.Second {
		t.Errorf("CacheDuration = %v, want 90s", cfg.CacheDuration)
	}
	// unset durations keep the defaults
	if cfg.CatalogTimeout != 25*time.Second {
		t.Errorf("CatalogTimeout = %v, want 25s", cfg.CatalogTimeout)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"probeTimeout": "soon"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for unparseable duration")
	}
}

func TestValidateFallsBackOnBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
  "totalResultLimit": -5,
  "recheckHours": -1,
  "proxyMode": "sometimes",
  "workerThreads": 0
}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TotalResultLimit != 1000 {
		t.Errorf("TotalResultLimit = %d, want default 1000", cfg.TotalResultLimit)
	}
	if cfg.RecheckHours != 12 {
		t.Errorf("RecheckHours = %d, want default 12", cfg.RecheckHours)
	}
	if cfg.ProxyMode != ProxyModeAuto {
		t.Errorf("ProxyMode = %q, want auto", cfg.ProxyMode)
	}
	if cfg.WorkerThreads != 8 {
		t.Errorf("WorkerThreads = %d, want default 8", cfg.WorkerThreads)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.FeedURL = "https://feed.example.com/s/100"
	cfg.M3USources = []string{"https://example.com/list.m3u"}
	cfg.SetLastSweep(1700000000)
	cfg.ProbeTimeout = 2 * time.Second
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.FeedURL != cfg.FeedURL {
		t.Errorf("FeedURL = %q", got.FeedURL)
	}
	if len(got.M3USources) != 1 || got.M3USources[0] != cfg.M3USources[0] {
		t.Errorf("M3USources = %v", got.M3USources)
	}
	if got.LastSweepUnix != 1700000000 {
		t.Errorf("LastSweepUnix = %d", got.LastSweepUnix)
	}
	if got.ProbeTimeout != 2*time.Second {
		t.Errorf("ProbeTimeout = %v", got.ProbeTimeout)
	}
}

func TestConcurrentMutationAndMarshal(t *testing.T) {
	cfg := Default()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			cfg.SetLastSweep(int64(i))
			cfg.SetFeedURL(fmt.Sprintf("https://feed.example.com/s/%d", i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			cfg.MergeM3USources([]string{fmt.Sprintf("https://lists.example.com/%d.m3u", i)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if _, err := json.Marshal(cfg); err != nil {
				t.Errorf("Marshal: %v", err)
				return
			}
			cfg.GetLastSweep()
			cfg.GetFeedURL()
			cfg.GetM3USources()
		}
	}()
	wg.Wait()

	if got := cfg.GetLastSweep(); got != 199 {
		t.Errorf("GetLastSweep = %d, want 199", got)
	}
}

func TestMergeM3USources(t *testing.T) {
	cfg := Default()
	cfg.M3USources = []string{"https://a.example.com/l.m3u"}

	changed := cfg.MergeM3USources([]string{
		"https://a.example.com/l.m3u", // already present
		"https://b.example.com/l.m3u",
		"", // ignored
	})
	if !changed {
		t.Error("expected change to be reported")
	}
	if len(cfg.M3USources) != 2 || cfg.M3USources[1] != "https://b.example.com/l.m3u" {
		t.Errorf("M3USources = %v", cfg.M3USources)
	}

	if cfg.MergeM3USources([]string{"https://b.example.com/l.m3u"}) {
		t.Error("duplicate merge reported a change")
	}
}
