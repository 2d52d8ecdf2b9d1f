package importer

import (
	"context"
	"fmt"
	"os"
	"strings"

	"kptv-search/work/client"
	"kptv-search/work/config"
	"kptv-search/work/logger"
	"kptv-search/work/types"
	"kptv-search/work/utils"
)

// TXTSource loads credentials from the configured server list, which is one
// Xtream playlist URL per line. The locator may be an HTTP(S) URL or a local
// file path. Bare playlist URLs found among the lines are not credentials
// but are still useful: they get merged into the configured M3U sources.
type TXTSource struct {
	config *config.Config
	client *client.HeaderSettingClient
	log    *logger.Logger
}

// NewTXTSource creates the TXT credential source.
func NewTXTSource(cfg *config.Config, httpClient *client.HeaderSettingClient, log *logger.Logger) *TXTSource {
	return &TXTSource{config: cfg, client: httpClient, log: log}
}

// Name identifies the source in logs and summaries.
func (s *TXTSource) Name() string { return "txt" }

// Fetch reads the configured list and returns the unique credentials in it.
// Any generic .m3u/.m3u8 URLs encountered are merged into the m3u_sources
// config (and the config saved) so the playlist importer picks them up on
// the same sweep.
func (s *TXTSource) Fetch(ctx context.Context) ([]types.Credential, error) {
	path := strings.TrimSpace(s.config.ServersFile)
	if path == "" {
		return nil, nil
	}

	lines, err := s.readLines(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read server list: %w", err)
	}

	var creds []types.Credential
	var playlists []string
	for _, line := range lines {
		if cred := parseServerURL(line); cred != nil {
			creds = append(creds, *cred)
			continue
		}
		candidate := strings.TrimSpace(line)
		if candidate != "" &&
			!strings.HasPrefix(candidate, "#") &&
			(strings.HasPrefix(candidate, "http://") || strings.HasPrefix(candidate, "https://")) &&
			strings.Contains(strings.ToLower(candidate), ".m3u") {
			playlists = append(playlists, candidate)
		}
	}
	creds = dedupe(creds)

	if len(playlists) > 0 && s.config.MergeM3USources(playlists) {
		if err := s.config.Save(); err != nil {
			s.log.Warn("Failed to persist merged M3U sources: %v", err)
		}
	}

	s.log.Info("Loaded %d servers from TXT; %d M3U sources detected", len(creds), len(playlists))
	return creds, nil
}

// readLines fetches the list over HTTP or reads it from disk, depending on
// the locator's shape.
func (s *TXTSource) readLines(ctx context.Context, path string) ([]string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		resp, err := s.client.Get(ctx, path, s.config.AccountTimeout)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != 200 {
			return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, utils.LogURL(s.config, path))
		}
		data, err := readAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return strings.Split(string(data), "\n"), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return strings.Split(string(data), "\n"), nil
}
