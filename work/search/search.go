// Package search answers channel queries against the registry: normalize
// the term, rank candidates by match tightness, apply the channel filters,
// cap the results, and hand back playable addresses.
package search

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/grafana/regexp"
	"github.com/maypok86/otter/v2"

	"kptv-search/work/config"
	"kptv-search/work/database"
	"kptv-search/work/indexer"
	"kptv-search/work/logger"
	"kptv-search/work/metrics"
	"kptv-search/work/types"
)

// Engine executes searches. Results are cached briefly keyed by the full
// query shape, since interactive clients tend to re-issue the same query
// while paging.
type Engine struct {
	config *config.Config
	db     *database.DB
	log    *logger.Logger
	cache  *otter.Cache[string, []types.SearchResult]
}

// Query is one search request. Zero caps fall back to the configured
// limits.
type Query struct {
	Term     string
	Country  string
	Limit    int
	PerLimit int
}

// New creates a search engine with a result cache sized for interactive
// use.
func New(cfg *config.Config, db *database.DB, log *logger.Logger) *Engine {
	cache := otter.Must(&otter.Options[string, []types.SearchResult]{
		MaximumSize:      256,
		ExpiryCalculator: otter.ExpiryWriting[string, []types.SearchResult](cfg.CacheDuration),
	})
	return &Engine{config: cfg, db: db, log: log, cache: cache}
}

// InvalidateCache drops all cached results. Called after any sweep that
// changed the registry, so stale channels never outlive a revalidation.
func (e *Engine) InvalidateCache() {
	e.cache.InvalidateAll()
}

// Search runs the full pipeline for one query and returns ranked results.
func (e *Engine) Search(q Query) ([]types.SearchResult, error) {
	if q.Limit <= 0 {
		q.Limit = e.config.TotalResultLimit
	}
	if q.PerLimit <= 0 {
		q.PerLimit = e.config.PerServerLimit
	}

	key := fmt.Sprintf("%s|%s|%d|%d", strings.ToLower(strings.TrimSpace(q.Term)), strings.ToLower(q.Country), q.Limit, q.PerLimit)
	if cached, ok := e.cache.GetIfPresent(key); ok {
		metrics.SearchesTotal.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.SearchesTotal.WithLabelValues("miss").Inc()

	term := indexer.Normalize(q.Term)
	if term == "" {
		return nil, nil
	}
	if e.config.DebugLogging {
		e.log.Debug("search term=%q normalized=%q", q.Term, term)
	}

	rows, err := e.db.SearchRows(term)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}

	rows = filterCountry(rows, q.Country)
	rows = e.filterBroadTerms(rows, q.Term, term)
	rows = filterDigitBoundary(rows, term)

	results := e.assemble(rows, q.Limit, q.PerLimit)
	e.cache.Set(key, results)
	return results, nil
}

// filterCountry keeps rows whose raw provider name contains the country
// substring, case-insensitive. The raw name is used because normalization
// strips exactly the country markers this filters on.
func filterCountry(rows []database.SearchRow, country string) []database.SearchRow {
	cf := strings.ToLower(strings.TrimSpace(country))
	if cf == "" {
		return rows
	}
	out := rows[:0]
	for _, r := range rows {
		if strings.Contains(strings.ToLower(r.RawName), cf) {
			out = append(out, r)
		}
	}
	return out
}

// filterBroadTerms hides noisy variants of very broad base queries. For a
// configured base term, rows whose raw name mentions one of its disallowed
// variant words are dropped, unless the literal user query already asked
// for one of them. Mentioning a variant is the explicit opt-in.
func (e *Engine) filterBroadTerms(rows []database.SearchRow, rawQuery, normTerm string) []database.SearchRow {
	queryL := strings.ToLower(strings.TrimSpace(rawQuery))

	var variants []string
	for base, words := range e.config.BroadTerms {
		if normTerm == indexer.Normalize(base) {
			variants = words
			break
		}
	}
	if len(variants) == 0 {
		return rows
	}
	for _, w := range variants {
		if strings.Contains(queryL, strings.ToLower(w)) {
			return rows
		}
	}

	out := rows[:0]
	for _, r := range rows {
		nameL := strings.ToLower(r.RawName)
		keep := true
		for _, w := range variants {
			if strings.Contains(nameL, strings.ToLower(w)) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, r)
		}
	}
	return out
}

// filterDigitBoundary drops digit-suffixed siblings of a bare term: a
// search for "espn" should not surface "espn2", while "espn2" itself (term
// ending in a digit) passes everything through.
func filterDigitBoundary(rows []database.SearchRow, term string) []database.SearchRow {
	if term == "" || term[len(term)-1] >= '0' && term[len(term)-1] <= '9' {
		return rows
	}
	sibling := regexp.MustCompile(`^` + regexp.QuoteMeta(term) + `\d`)
	out := rows[:0]
	for _, r := range rows {
		if !sibling.MatchString(r.SearchKey) {
			out = append(out, r)
		}
	}
	return out
}

// assemble applies the per-server and total caps in rank order and builds
// the playable address and display label for each surviving row.
func (e *Engine) assemble(rows []database.SearchRow, limit, perLimit int) []types.SearchResult {
	results := make([]types.SearchResult, 0, min(limit, len(rows)))
	perServer := make(map[string]int)

	for _, r := range rows {
		if perServer[r.Address] >= perLimit {
			continue
		}
		perServer[r.Address]++

		results = append(results, types.SearchResult{
			DisplayName:     e.displayName(r),
			PlaybackAddress: e.playbackAddress(r),
		})
		if len(results) >= limit {
			break
		}
	}
	return results
}

// playbackAddress wraps the underlying stream URL in a transport scheme.
// Playlist channels already carry their URL; portal channels get the
// conventional live HLS path. Auto mode goes direct when the server's
// capacity is unknown and through the proxy otherwise.
func (e *Engine) playbackAddress(r database.SearchRow) string {
	base := r.StreamURL
	if base == "" {
		base = fmt.Sprintf("%s/live/%s/%s/%s.m3u8", r.Address, r.Username, r.Password, r.StreamID)
	}

	var scheme string
	switch e.config.ProxyMode {
	case config.ProxyModeForcedProxy:
		scheme = "proxy"
	case config.ProxyModeForcedDirect:
		scheme = "direct"
	default:
		if r.MaxConnections == 0 {
			scheme = "direct"
		} else {
			scheme = "proxy"
		}
	}
	return scheme + "://" + url.QueryEscape(base)
}

// displayName renders "<capacity> <name> [<server>]", with "-" standing in
// for unknown capacity and playlist servers labelled as such instead of
// leaking the sentinel username.
func (e *Engine) displayName(r database.SearchRow) string {
	capacity := "-"
	if r.MaxConnections > 0 {
		capacity = fmt.Sprintf("%d", r.MaxConnections)
	}

	var server string
	if r.Username == types.SentinelUsername {
		server = fmt.Sprintf("%s (M3U)", r.Address)
	} else {
		server = r.Credential.Redacted()
	}
	return fmt.Sprintf("%s %s [%s]", capacity, r.RawName, server)
}
