package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Proxy mode values accepted for the ProxyMode option. Auto picks the direct
// scheme when a server's capacity is unknown and the proxying scheme
// otherwise; the forced modes override that decision unconditionally.
const (
	ProxyModeAuto         = "auto"
	ProxyModeForcedProxy  = "forced-proxy"
	ProxyModeForcedDirect = "forced-direct"
)

// Config holds every option of the search service. It is loaded once at
// startup and handed by reference into each component constructor; mutation
// happens only through explicit setters followed by Save. There is no
// package-level cached instance.
type Config struct {
	ListenAddr   string `json:"listenAddr"`   // HTTP bind address for the API
	DatabasePath string `json:"databasePath"` // SQLite registry file
	HistoryPath  string `json:"historyPath"`  // Recent-search JSON document

	ServersFile   string   `json:"serversFile"`   // Credential TXT source, URL or local path
	FeedURL       string   `json:"feedURL"`       // Post-feed base URL for the feed importer, empty disables it
	FeedPostCount int      `json:"feedPostCount"` // How many feed posts to scan per import
	M3USources    []string `json:"m3uSources"`    // Generic playlist sources, each becomes a sentinel server

	ExcludeGroups []string `json:"excludeGroups"` // Category fragments dropped at index time
	ExcludeNames  []string `json:"excludeNames"`  // Name fragments dropped at index time

	TotalResultLimit int                 `json:"totalResultLimit"` // Global cap on search results
	PerServerLimit   int                 `json:"perServerLimit"`   // Per-server cap on search results
	BroadTerms       map[string][]string `json:"broadTerms"`       // Base term -> disallowed variant keywords

	RecheckHours       int   `json:"recheckHours"`       // Hours between revalidations, 0 disables unattended sweeps
	MinConnections     int   `json:"minConnections"`     // Minimum reported capacity to accept a server
	MaxServersPerSweep int   `json:"maxServersPerSweep"` // Bound on validations per sweep
	AutoSweepEnabled   bool  `json:"autoSweepEnabled"`   // Whether unattended background sweeps run at all
	LastSweepUnix      int64 `json:"lastSweepUnix"`      // Unix seconds of the last completed unattended sweep

	StreamCheckEnabled    bool     `json:"streamCheckEnabled"`    // Probe sample streams during validation
	StreamCheckCandidates int      `json:"streamCheckCandidates"` // How many candidate channels to probe per server
	TestChannelKeywords   []string `json:"testChannelKeywords"`   // Preferred candidate name hints for the probe

	ProxyMode string `json:"proxyMode"` // auto, forced-proxy or forced-direct

	WorkerThreads   int    `json:"workerThreads"`   // Worker pool size for importer fan-out
	ProbesPerSecond int    `json:"probesPerSecond"` // Outbound panel request rate limit
	UserAgent       string `json:"userAgent"`       // User-Agent sent on every outbound request
	ObfuscateUrls   bool   `json:"obfuscateUrls"`   // Mask URLs (and the credentials inside them) in logs
	DebugLogging    bool   `json:"debugLogging"`    // Verbose search/validation logging

	AccountTimeout time.Duration `json:"-"` // Timeout for the account-info call
	CatalogTimeout time.Duration `json:"-"` // Timeout for the catalog call
	ProbeTimeout   time.Duration `json:"-"` // Timeout per stream reachability probe
	CacheDuration  time.Duration `json:"-"` // Search-result cache entry lifetime

	path string     // file this config was loaded from, target of Save
	mu   sync.Mutex // serializes Save against concurrent mutators
}

// configFile mirrors Config on disk: duration fields are stored as strings
// (e.g. "12s") and parsed on load.
type configFile struct {
	ListenAddr   string `json:"listenAddr"`
	DatabasePath string `json:"databasePath"`
	HistoryPath  string `json:"historyPath"`

	ServersFile   string   `json:"serversFile"`
	FeedURL       string   `json:"feedURL"`
	FeedPostCount int      `json:"feedPostCount"`
	M3USources    []string `json:"m3uSources"`

	ExcludeGroups []string `json:"excludeGroups"`
	ExcludeNames  []string `json:"excludeNames"`

	TotalResultLimit int                 `json:"totalResultLimit"`
	PerServerLimit   int                 `json:"perServerLimit"`
	BroadTerms       map[string][]string `json:"broadTerms"`

	RecheckHours       int   `json:"recheckHours"`
	MinConnections     int   `json:"minConnections"`
	MaxServersPerSweep int   `json:"maxServersPerSweep"`
	AutoSweepEnabled   bool  `json:"autoSweepEnabled"`
	LastSweepUnix      int64 `json:"lastSweepUnix"`

	StreamCheckEnabled    bool     `json:"streamCheckEnabled"`
	StreamCheckCandidates int      `json:"streamCheckCandidates"`
	TestChannelKeywords   []string `json:"testChannelKeywords"`

	ProxyMode string `json:"proxyMode"`

	WorkerThreads   int    `json:"workerThreads"`
	ProbesPerSecond int    `json:"probesPerSecond"`
	UserAgent       string `json:"userAgent"`
	ObfuscateUrls   bool   `json:"obfuscateUrls"`
	DebugLogging    bool   `json:"debugLogging"`

	AccountTimeout string `json:"accountTimeout"` // Duration string (e.g. "12s")
	CatalogTimeout string `json:"catalogTimeout"` // Duration string (e.g. "25s")
	ProbeTimeout   string `json:"probeTimeout"`   // Duration string (e.g. "7s")
	CacheDuration  string `json:"cacheDuration"`  // Duration string (e.g. "5m")
}

// Load reads and parses the configuration from a JSON file. A missing file is
// not an error: the returned config carries the defaults and the given path,
// so the first Save materializes it on disk.
//
// Parameters:
//   - path: path to the JSON config file
//
// Returns:
//   - *Config: fully validated configuration bound to path
//   - error: if the file exists but cannot be read or parsed
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cf configFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.applyFile(&cf); err != nil {
		return nil, err
	}

	// Ensure safe values for anything missing or out of range
	cfg.validateAndSetDefaults()

	return cfg, nil
}

// applyFile copies the on-disk representation into the config, parsing the
// string duration fields. Empty duration strings keep the default.
func (c *Config) applyFile(cf *configFile) error {
	c.ListenAddr = cf.ListenAddr
	c.DatabasePath = cf.DatabasePath
	c.HistoryPath = cf.HistoryPath
	c.ServersFile = cf.ServersFile
	c.FeedURL = cf.FeedURL
	c.FeedPostCount = cf.FeedPostCount
	c.M3USources = cf.M3USources
	c.ExcludeGroups = cf.ExcludeGroups
	c.ExcludeNames = cf.ExcludeNames
	c.TotalResultLimit = cf.TotalResultLimit
	c.PerServerLimit = cf.PerServerLimit
	c.BroadTerms = cf.BroadTerms
	c.RecheckHours = cf.RecheckHours
	c.MinConnections = cf.MinConnections
	c.MaxServersPerSweep = cf.MaxServersPerSweep
	c.AutoSweepEnabled = cf.AutoSweepEnabled
	c.LastSweepUnix = cf.LastSweepUnix
	c.StreamCheckEnabled = cf.StreamCheckEnabled
	c.StreamCheckCandidates = cf.StreamCheckCandidates
	c.TestChannelKeywords = cf.TestChannelKeywords
	c.ProxyMode = cf.ProxyMode
	c.WorkerThreads = cf.WorkerThreads
	c.ProbesPerSecond = cf.ProbesPerSecond
	c.UserAgent = cf.UserAgent
	c.ObfuscateUrls = cf.ObfuscateUrls
	c.DebugLogging = cf.DebugLogging

	var err error
	for _, d := range []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cf.AccountTimeout, "accountTimeout", &c.AccountTimeout},
		{cf.CatalogTimeout, "catalogTimeout", &c.CatalogTimeout},
		{cf.ProbeTimeout, "probeTimeout", &c.ProbeTimeout},
		{cf.CacheDuration, "cacheDuration", &c.CacheDuration},
	} {
		if d.raw == "" {
			continue
		}
		if *d.dst, err = time.ParseDuration(d.raw); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}

	return nil
}

// Default returns the baseline configuration used when no file is present.
func Default() *Config {
	return &Config{
		ListenAddr:       ":8080",
		DatabasePath:     "/settings/kptv-search.db",
		HistoryPath:      "/settings/recent.json",
		ExcludeGroups:    []string{"xxx", "adult", "18+"},
		ExcludeNames:     []string{"BR:", "ARG:", "MEX:"},
		TotalResultLimit: 1000,
		PerServerLimit:   1000,
		BroadTerms: map[string][]string{
			"espn": {"plus", "vs", "ncaab", "play"},
		},
		RecheckHours:          12,
		MinConnections:        2,
		MaxServersPerSweep:    50,
		AutoSweepEnabled:      false,
		StreamCheckEnabled:    true,
		StreamCheckCandidates: 5,
		TestChannelKeywords: []string{
			"espn", "sky sports", "tnt", "nba",
			"nfl", "tsn", "fox sports", "nbc sports",
		},
		ProxyMode:       ProxyModeAuto,
		FeedPostCount:   25,
		WorkerThreads:   8,
		ProbesPerSecond: 4,
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/117.0",
		ObfuscateUrls:   true,
		AccountTimeout:  12 * time.Second,
		CatalogTimeout:  25 * time.Second,
		ProbeTimeout:    7 * time.Second,
		CacheDuration:   5 * time.Minute,
	}
}

// validateAndSetDefaults fills in safe values for missing or out-of-range
// options after a load.
func (c *Config) validateAndSetDefaults() {
	def := Default()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.DatabasePath == "" {
		c.DatabasePath = def.DatabasePath
	}
	if c.HistoryPath == "" {
		c.HistoryPath = def.HistoryPath
	}
	if c.TotalResultLimit <= 0 {
		c.TotalResultLimit = def.TotalResultLimit
	}
	if c.PerServerLimit <= 0 {
		c.PerServerLimit = def.PerServerLimit
	}
	if c.RecheckHours < 0 {
		c.RecheckHours = def.RecheckHours
	}
	if c.MinConnections < 0 {
		c.MinConnections = 0
	}
	if c.MaxServersPerSweep <= 0 {
		c.MaxServersPerSweep = def.MaxServersPerSweep
	}
	if c.StreamCheckCandidates <= 0 {
		c.StreamCheckCandidates = def.StreamCheckCandidates
	}
	if len(c.TestChannelKeywords) == 0 {
		c.TestChannelKeywords = def.TestChannelKeywords
	}
	switch c.ProxyMode {
	case ProxyModeAuto, ProxyModeForcedProxy, ProxyModeForcedDirect:
	default:
		c.ProxyMode = ProxyModeAuto
	}
	if c.BroadTerms == nil {
		c.BroadTerms = def.BroadTerms
	}
	if c.FeedPostCount <= 0 {
		c.FeedPostCount = def.FeedPostCount
	}
	if c.WorkerThreads <= 0 {
		c.WorkerThreads = def.WorkerThreads
	}
	if c.ProbesPerSecond <= 0 {
		c.ProbesPerSecond = def.ProbesPerSecond
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.AccountTimeout <= 0 {
		c.AccountTimeout = def.AccountTimeout
	}
	if c.CatalogTimeout <= 0 {
		c.CatalogTimeout = def.CatalogTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = def.ProbeTimeout
	}
	if c.CacheDuration <= 0 {
		c.CacheDuration = def.CacheDuration
	}
}

// fileView renders the on-disk representation. The caller holds the lock.
func (c *Config) fileView() *configFile {
	return &configFile{
		ListenAddr:            c.ListenAddr,
		DatabasePath:          c.DatabasePath,
		HistoryPath:           c.HistoryPath,
		ServersFile:           c.ServersFile,
		FeedURL:               c.FeedURL,
		FeedPostCount:         c.FeedPostCount,
		M3USources:            c.M3USources,
		ExcludeGroups:         c.ExcludeGroups,
		ExcludeNames:          c.ExcludeNames,
		TotalResultLimit:      c.TotalResultLimit,
		PerServerLimit:        c.PerServerLimit,
		BroadTerms:            c.BroadTerms,
		RecheckHours:          c.RecheckHours,
		MinConnections:        c.MinConnections,
		MaxServersPerSweep:    c.MaxServersPerSweep,
		AutoSweepEnabled:      c.AutoSweepEnabled,
		LastSweepUnix:         c.LastSweepUnix,
		StreamCheckEnabled:    c.StreamCheckEnabled,
		StreamCheckCandidates: c.StreamCheckCandidates,
		TestChannelKeywords:   c.TestChannelKeywords,
		ProxyMode:             c.ProxyMode,
		WorkerThreads:         c.WorkerThreads,
		ProbesPerSecond:       c.ProbesPerSecond,
		UserAgent:             c.UserAgent,
		ObfuscateUrls:         c.ObfuscateUrls,
		DebugLogging:          c.DebugLogging,
		AccountTimeout:        c.AccountTimeout.String(),
		CatalogTimeout:        c.CatalogTimeout.String(),
		ProbeTimeout:          c.ProbeTimeout.String(),
		CacheDuration:         c.CacheDuration.String(),
	}
}

// MarshalJSON renders the config in its on-disk form under the lock, so a
// marshal on one goroutine never observes a mutator mid-write on another.
func (c *Config) MarshalJSON() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Marshal(c.fileView())
}

// Save persists the configuration to the path it was loaded from. The file
// is written whole to a temp file in the same directory and renamed over the
// target, so an interrupted write never leaves a truncated config behind.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		return fmt.Errorf("config has no backing file")
	}

	data, err := json.MarshalIndent(c.fileView(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp config: %w", err)
	}

	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace config file: %w", err)
	}

	return nil
}

// The fields below are the only ones mutated after startup, so they are the
// only ones with guarded accessors. Everything else is read-only once Load
// returns and is safe to read from any goroutine directly.

// SetLastSweep records the completion time of an unattended sweep. The caller
// is expected to Save afterwards.
func (c *Config) SetLastSweep(unix int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastSweepUnix = unix
}

// GetLastSweep returns when the last sweep completed, 0 for never.
func (c *Config) GetLastSweep() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.LastSweepUnix
}

// SetFeedURL advances the feed cursor so the next import starts after the
// newest post already seen.
func (c *Config) SetFeedURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FeedURL = url
}

// GetFeedURL returns the current feed cursor.
func (c *Config) GetFeedURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.FeedURL
}

// GetM3USources returns a copy of the configured playlist sources.
func (c *Config) GetM3USources() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.M3USources))
	copy(out, c.M3USources)
	return out
}

// MergeM3USources adds any playlist URLs not already configured and reports
// whether the list changed. The TXT importer uses this to fold stray .m3u
// links found in a credential list into the playlist sources.
func (c *Config) MergeM3USources(found []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool, len(c.M3USources))
	for _, src := range c.M3USources {
		seen[src] = true
	}

	changed := false
	for _, src := range found {
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		c.M3USources = append(c.M3USources, src)
		changed = true
	}
	return changed
}
