// Package importer acquires server credentials and playlist channels from
// the configured external sources. Importers only produce candidates; the
// registry's identity-key upsert is what keeps repeated imports from ever
// duplicating a server.
package importer

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"kptv-search/work/config"
	"kptv-search/work/types"
)

// ImportSummary reports what one acquisition pass produced across all
// configured sources.
type ImportSummary struct {
	Candidates int `json:"candidates"`
	Inserted   int `json:"inserted"`
	Playlists  int `json:"playlists"`
}

// parseServerURL extracts a credential from one Xtream-style playlist URL
// such as "http://host:8080/get.php?username=u&password=p&type=m3u_plus".
// Lines that are blank, comments, non-http, or missing either credential
// field yield nil. Userinfo embedded in the host is dropped.
func parseServerURL(line string) *types.Credential {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}

	parsed, err := url.Parse(line)
	if err != nil {
		return nil
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil
	}

	host := parsed.Host
	if at := strings.LastIndex(host, "@"); at >= 0 {
		host = host[at+1:]
	}
	if host == "" {
		return nil
	}

	qs := parsed.Query()
	username := qs.Get("username")
	password := qs.Get("password")
	if username == "" || password == "" {
		return nil
	}

	return &types.Credential{
		Address:  parsed.Scheme + "://" + host,
		Username: username,
		Password: password,
	}
}

// maxSourceBytes caps how much of any remote source gets read. External
// lists and post pages are small; anything larger is a misconfigured URL.
const maxSourceBytes = 10 << 20

// readAll reads a capped response body.
func readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSourceBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxSourceBytes {
		return nil, fmt.Errorf("source exceeds %d byte limit", maxSourceBytes)
	}
	return data, nil
}

// dedupe keeps first occurrences by identity key, preserving order.
func dedupe(creds []types.Credential) []types.Credential {
	seen := make(map[string]struct{}, len(creds))
	out := creds[:0]
	for _, c := range creds {
		key := c.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// CredentialSource is anything that can produce server candidates: the TXT
// list and the feed scraper both satisfy it.
type CredentialSource interface {
	Fetch(ctx context.Context) ([]types.Credential, error)
	Name() string
}

// Sources assembles the configured credential sources. A source with no
// configured locator is simply absent from the slice.
func Sources(cfg *config.Config, txt *TXTSource, feed *FeedSource) []CredentialSource {
	var out []CredentialSource
	if cfg.ServersFile != "" {
		out = append(out, txt)
	}
	if cfg.GetFeedURL() != "" {
		out = append(out, feed)
	}
	return out
}
