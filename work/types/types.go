package types

import (
	"fmt"
)

// SentinelUsername is the reserved username marking a synthetic server that
// was materialized from a plain playlist rather than a control-API panel.
// Playlist servers are never swept by the validator; their channels carry an
// explicit stream URL instead of a constructed one.
const SentinelUsername = "__M3U__"

// Outcome classifies a single validation attempt against a server. The three
// outcomes drive all registry persistence: Valid stores the catalog, Invalid
// records the failure and purges the channel set, Transient changes nothing
// and leaves the server to be retried on the next eligible sweep.
type Outcome int

const (
	OutcomeTransient Outcome = iota // attempt failed for reasons unrelated to server validity (timeout, bad payload)
	OutcomeInvalid                  // server definitively rejected (bad status, low capacity, empty catalog, dead streams)
	OutcomeValid                    // server accepted; catalog and capacity are ready for indexing
)

// String returns the lowercase outcome name for logs and metrics labels.
func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeInvalid:
		return "invalid"
	default:
		return "transient"
	}
}

// Credential is the identity of a server: the panel address plus the account
// used against it. Two credentials are the same server if and only if all
// three fields match.
type Credential struct {
	Address  string `json:"address"`  // Panel base URL, scheme://host[:port], no trailing slash
	Username string `json:"username"` // Account username (SentinelUsername for playlist servers)
	Password string `json:"password"` // Account password (empty for playlist servers)
}

// Key returns a stable composite key for maps keyed by server identity.
func (c Credential) Key() string {
	return c.Address + "|" + c.Username + "|" + c.Password
}

// Redacted returns a log-safe rendition of the credential that never exposes
// the password and trims the username to a recognizable prefix.
func (c Credential) Redacted() string {
	user := c.Username
	if len(user) > 8 {
		user = user[:8] + "..."
	}
	return fmt.Sprintf("%s (%s)", c.Address, user)
}

// ServerRecord is one row of the servers table: a credential plus its
// validation state. SearchEnabled is deliberately independent of IsValid so
// a server can stay stored and keep refreshing while being hidden from
// search results.
type ServerRecord struct {
	Credential
	LastChecked    int64 `json:"lastChecked"`    // Unix seconds of the last persisted validation outcome, 0 = never
	IsValid        bool  `json:"isValid"`        // Result of the last persisted validation
	MaxConnections int   `json:"maxConnections"` // Capacity reported by the panel, 0 = unknown
	SearchEnabled  bool  `json:"searchEnabled"`  // Whether this server's channels appear in search results
	ChannelCount   int   `json:"channelCount"`   // Number of indexed channels (populated by admin listings only)
}

// ChannelRecord is one row of the channels table. StreamURL is only set for
// playlist-sourced channels; control-API channels build their stream address
// from the server credential and StreamID at search time.
type ChannelRecord struct {
	Credential
	StreamID  string // Panel stream id, or positional m3u_<idx> for playlist entries
	Name      string // Raw display name exactly as the catalog reported it
	SearchKey string // Normalized text used for substring matching
	StreamURL string // Explicit stream address for playlist entries, empty otherwise
}

// CatalogEntry is a single channel as returned by a panel's catalog endpoint,
// before exclusion rules and normalization are applied.
type CatalogEntry struct {
	StreamID string // Stream identifier, normalized to a string regardless of JSON type
	Name     string // Display name
	Category string // Category/group name, used only by exclusion rules
}

// SearchResult is one entry of a ranked search response.
type SearchResult struct {
	DisplayName     string `json:"displayName"`     // Raw channel name plus a short server label
	PlaybackAddress string `json:"playbackAddress"` // Transport-scheme prefix + percent-encoded stream address
}

// SweepSummary reports what a sweep did. Servers that produced a transient
// outcome are counted in Checked but in neither of the other two buckets.
type SweepSummary struct {
	Checked     int `json:"checked"`     // Servers a validation attempt was made against
	Validated   int `json:"validated"`   // Servers that came back Valid and were (re)indexed
	Invalidated int `json:"invalidated"` // Servers marked invalid and purged
}

// RecentSearch is one entry of the bounded search history.
type RecentSearch struct {
	Term    string `json:"term"`
	Country string `json:"country"`
	Time    int64  `json:"time"` // Unix seconds
}
