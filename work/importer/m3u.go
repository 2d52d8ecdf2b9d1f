package importer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/grafov/m3u8"

	"kptv-search/work/client"
	"kptv-search/work/config"
	"kptv-search/work/logger"
	"kptv-search/work/types"
	"kptv-search/work/utils"
)

// PlaylistSource loads channels from the configured generic M3U playlists.
// Each playlist becomes one synthetic server keyed by the playlist locator
// and the sentinel username, so re-importing replaces its channels instead
// of duplicating them.
type PlaylistSource struct {
	config *config.Config
	client *client.HeaderSettingClient
	log    *logger.Logger
}

// Playlist is one fetched playlist with its synthetic server identity and
// the channels it listed, in playlist order.
type Playlist struct {
	Server   types.Credential
	Channels []types.ChannelRecord
}

// NewPlaylistSource creates the playlist importer.
func NewPlaylistSource(cfg *config.Config, httpClient *client.HeaderSettingClient, log *logger.Logger) *PlaylistSource {
	return &PlaylistSource{config: cfg, client: httpClient, log: log}
}

// FetchAll loads every configured playlist. A source that fails to fetch or
// parse is logged and skipped; one bad playlist must not sink the rest.
func (s *PlaylistSource) FetchAll(ctx context.Context) []Playlist {
	var out []Playlist
	for _, src := range s.config.GetM3USources() {
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		channels, err := s.fetchOne(ctx, src)
		if err != nil {
			s.log.Error("Failed to load M3U source %s: %v", utils.LogURL(s.config, src), err)
			continue
		}
		out = append(out, Playlist{
			Server: types.Credential{
				Address:  src,
				Username: types.SentinelUsername,
				Password: "",
			},
			Channels: channels,
		})
		s.log.Info("Indexed %d channels from M3U source: %s", len(channels), utils.LogURL(s.config, src))
	}
	return out
}

// fetchOne retrieves and parses a single playlist locator, which may be a
// URL or a local path.
func (s *PlaylistSource) fetchOne(ctx context.Context, src string) ([]types.ChannelRecord, error) {
	var data []byte
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		resp, err := s.client.Get(ctx, src, s.config.CatalogTimeout)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != 200 {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		if data, err = readAll(resp.Body); err != nil {
			return nil, err
		}
	} else {
		var err error
		if data, err = os.ReadFile(src); err != nil {
			return nil, err
		}
	}

	channels := parsePlaylist(data)
	if len(channels) == 0 {
		return nil, fmt.Errorf("playlist has no channels")
	}
	return channels, nil
}

// parsePlaylist extracts (name, streamURL) entries from playlist bytes.
// Strict m3u8 decoding is tried first; live-TV playlists are frequently
// too sloppy for it, so a line scan backs it up. Stream ids are positional
// so an unchanged playlist re-imports onto the same rows.
func parsePlaylist(data []byte) []types.ChannelRecord {
	var records []types.ChannelRecord
	add := func(name, url string) {
		name = strings.TrimSpace(name)
		url = strings.TrimSpace(url)
		if url == "" {
			return
		}
		if name == "" {
			name = url
		}
		records = append(records, types.ChannelRecord{
			StreamID:  fmt.Sprintf("m3u_%d", len(records)),
			Name:      name,
			StreamURL: url,
		})
	}

	playlist, listType, err := m3u8.DecodeFrom(bufio.NewReader(bytes.NewReader(data)), true)
	if err == nil && listType == m3u8.MEDIA {
		media := playlist.(*m3u8.MediaPlaylist)
		for _, seg := range media.Segments {
			if seg == nil {
				continue
			}
			add(seg.Title, seg.URI)
		}
		if len(records) > 0 {
			return records
		}
	}

	// manual scan: an #EXTINF names the entry, the next non-comment line
	// is its URL
	records = records[:0]
	var currentName string
	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#EXTINF") {
			if idx := strings.Index(line, ","); idx >= 0 {
				currentName = strings.TrimSpace(line[idx+1:])
			} else {
				currentName = line
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		add(currentName, line)
		currentName = ""
	}
	return records
}
