// Package indexer turns raw provider catalogs into searchable channel
// records: it drops excluded groups and names, then derives the normalized
// search key every query is matched against.
package indexer

import (
	"strings"

	"kptv-search/work/config"
	"kptv-search/work/types"
)

// Indexer applies the configured exclusion rules and normalization to
// catalog entries. It is stateless apart from the lowered exclusion lists,
// so one instance is shared across all validations.
type Indexer struct {
	excludeGroups []string
	excludeNames  []string
}

// New builds an indexer from the configured exclusion lists. The lists are
// lowercased once here so the per-channel checks are plain substring tests.
func New(cfg *config.Config) *Indexer {
	ix := &Indexer{}
	for _, g := range cfg.ExcludeGroups {
		ix.excludeGroups = append(ix.excludeGroups, strings.ToLower(g))
	}
	for _, n := range cfg.ExcludeNames {
		ix.excludeNames = append(ix.excludeNames, strings.ToLower(n))
	}
	return ix
}

// Excluded reports whether a channel should be dropped from the index.
// Both rules are case-insensitive substring matches: the name against the
// excluded name patterns, the category against the excluded groups.
func (ix *Indexer) Excluded(name, category string) bool {
	nameL := strings.ToLower(name)
	for _, ex := range ix.excludeNames {
		if strings.Contains(nameL, ex) {
			return true
		}
	}
	catL := strings.ToLower(category)
	for _, ex := range ix.excludeGroups {
		if strings.Contains(catL, ex) {
			return true
		}
	}
	return false
}

// BuildRecords converts catalog entries into channel records, preserving
// catalog order. Entries with empty names and excluded entries are skipped;
// the stream URL stays empty since portal channels are addressed by stream
// id at playback time.
func (ix *Indexer) BuildRecords(entries []types.CatalogEntry) []types.ChannelRecord {
	records := make([]types.ChannelRecord, 0, len(entries))
	for _, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		if ix.Excluded(name, e.Category) {
			continue
		}
		records = append(records, types.ChannelRecord{
			StreamID:  e.StreamID,
			Name:      name,
			SearchKey: Normalize(name),
		})
	}
	return records
}

// BuildPlaylistRecords does the same for playlist-sourced channels, which
// carry a direct stream URL and no category. Positional ids keep refreshes
// stable for an unchanged playlist.
func (ix *Indexer) BuildPlaylistRecords(channels []types.ChannelRecord) []types.ChannelRecord {
	records := make([]types.ChannelRecord, 0, len(channels))
	for _, ch := range channels {
		name := strings.TrimSpace(ch.Name)
		if name == "" {
			continue
		}
		if ix.Excluded(name, "") {
			continue
		}
		ch.Name = name
		ch.SearchKey = Normalize(name)
		records = append(records, ch)
	}
	return records
}
