package importer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/grafana/regexp"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/net/html"

	"kptv-search/work/client"
	"kptv-search/work/config"
	"kptv-search/work/logger"
	"kptv-search/work/types"
	"kptv-search/work/utils"
)

// FeedSource scrapes a public web feed of posts for shared credentials.
// The configured feed URL names one post; the source walks forward from its
// numeric id across the configured number of posts, fetching the pages
// concurrently through a bounded worker pool. On completion the feed cursor
// is advanced past the last post that existed, so the next import resumes
// where this one left off.
type FeedSource struct {
	config *config.Config
	client *client.HeaderSettingClient
	log    *logger.Logger
	pool   *ants.Pool
}

var (
	rePostID  = regexp.MustCompile(`^(.*/)(\d+)$`)
	reHTTPURL = regexp.MustCompile(`https?://\S+`)
)

// NewFeedSource creates the feed scraper on a shared worker pool.
func NewFeedSource(cfg *config.Config, httpClient *client.HeaderSettingClient, pool *ants.Pool, log *logger.Logger) *FeedSource {
	return &FeedSource{config: cfg, client: httpClient, log: log, pool: pool}
}

// Name identifies the source in logs and summaries.
func (s *FeedSource) Name() string { return "feed" }

// postResult is what one fetched post contributed. exists distinguishes a
// post that rendered (with or without credentials) from one the feed does
// not have yet, which is what the cursor advance keys off.
type postResult struct {
	index  int
	exists bool
	creds  []types.Credential
}

// Fetch scrapes the next window of posts and returns every credential found.
func (s *FeedSource) Fetch(ctx context.Context) ([]types.Credential, error) {
	feedURL := strings.TrimSpace(s.config.GetFeedURL())
	m := rePostID.FindStringSubmatch(feedURL)
	if m == nil {
		return nil, fmt.Errorf("feed URL %s has no numeric post id", utils.LogURL(s.config, feedURL))
	}
	base := m[1]
	startID, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, fmt.Errorf("feed URL has unparseable post id: %w", err)
	}

	count := s.config.FeedPostCount
	if count <= 0 {
		count = 25
	}

	results := make([]postResult, count)
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		i := i
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			results[i] = s.fetchPost(ctx, fmt.Sprintf("%s%d", base, startID+i), i)
		})
		if err != nil {
			wg.Done()
			s.log.Warn("Failed to submit feed fetch: %v", err)
		}
	}
	wg.Wait()

	var creds []types.Credential
	lastExisting := startID
	for _, r := range results {
		if r.exists && startID+r.index > lastExisting {
			lastExisting = startID + r.index
		}
		creds = append(creds, r.creds...)
	}
	creds = dedupe(creds)

	// advance the cursor past the newest post that rendered
	s.config.SetFeedURL(fmt.Sprintf("%s%d", base, lastExisting+1))
	if err := s.config.Save(); err != nil {
		s.log.Warn("Failed to persist feed cursor: %v", err)
	}

	s.log.Info("Found %d servers from feed", len(creds))
	return creds, nil
}

// fetchPost downloads one post page and extracts credentials from its
// message text.
func (s *FeedSource) fetchPost(ctx context.Context, postURL string, index int) postResult {
	resp, err := s.client.Get(ctx, postURL, s.config.AccountTimeout)
	if err != nil {
		s.log.Debug("Feed post fetch failed %s: %v", utils.LogURL(s.config, postURL), err)
		return postResult{index: index}
	}
	defer resp.Body.Close()

	data, err := readAll(resp.Body)
	if err != nil {
		s.log.Debug("Feed post read failed %s: %v", utils.LogURL(s.config, postURL), err)
		return postResult{index: index}
	}
	page := string(data)

	if strings.Contains(page, "tgme_widget_message_error") {
		// the feed renders an error widget for ids past the newest post
		return postResult{index: index, exists: false}
	}

	text := extractMessageText(page)
	if text == "" {
		return postResult{index: index, exists: true}
	}

	return postResult{index: index, exists: true, creds: extractCredentials(text)}
}

// extractMessageText parses the post page and returns the text of the
// message body element, with block boundaries turned into newlines so the
// line-oriented credential scan works on it.
func extractMessageText(page string) string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return ""
	}

	var target *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if target != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			for _, attr := range n.Attr {
				if attr.Key == "class" && strings.Contains(attr.Val, "tgme_widget_message_text") {
					target = n
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(doc)
	if target == nil {
		return ""
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			sb.WriteString(n.Data)
		case n.Type == html.ElementNode && (n.Data == "br" || n.Data == "div" || n.Data == "p"):
			sb.WriteString("\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(target)
	return sb.String()
}

// extractCredentials scans free-form post text for an address and one or
// more username/password pairs. Posts come in several shapes: a playlist
// URL with the credentials in its query string, labelled "user:"/"pass:"
// lines next to a bare portal URL, or just two bare lines under the URL.
// When a post lists several accounts the pairs are zipped newest-first.
func extractCredentials(text string) []types.Credential {
	var address string
	var usernames, passwords []string

	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(line, "https://t.me/") || strings.Contains(line, "https://kodi.tv/") {
			continue
		}
		if strings.Contains(line, "http") {
			m := reHTTPURL.FindString(line)
			if m != "" {
				if cred := parseServerURL(m); cred != nil {
					address = cred.Address
					usernames = append(usernames, cred.Username)
					passwords = append(passwords, cred.Password)
				} else if parsed := parseAddressOnly(m); parsed != "" {
					address = parsed
				}
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)

		switch {
		case strings.Contains(lower, "user"):
			usernames = append(usernames, longestWord(line, "username="))
		case strings.Contains(lower, "pass"):
			passwords = append(passwords, longestWord(line, "password="))
		case len(usernames) == 0 && len(passwords) == 0:
			usernames = append(usernames, line)
		case len(passwords) == 0 && len(usernames) == 1:
			passwords = append(passwords, line)
		}
	}

	if address == "" || len(usernames) == 0 {
		return nil
	}

	n := len(usernames)
	if len(passwords) < n {
		n = len(passwords)
	}
	creds := make([]types.Credential, 0, n)
	for i := 0; i < n; i++ {
		creds = append(creds, types.Credential{
			Address:  address,
			Username: usernames[len(usernames)-1-i],
			Password: passwords[len(passwords)-1-i],
		})
	}
	return creds
}

// parseAddressOnly reduces a URL to scheme://host, or "" when it is not a
// usable http(s) URL.
func parseAddressOnly(raw string) string {
	cred := parseServerURL(raw)
	if cred != nil {
		return cred.Address
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return ""
	}
	rest := strings.SplitN(strings.SplitN(raw, "://", 2)[1], "/", 2)[0]
	rest = strings.SplitN(rest, "?", 2)[0]
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	if rest == "" {
		return ""
	}
	return strings.SplitN(raw, "://", 2)[0] + "://" + rest
}

// longestWord returns the longest whitespace-separated token of a line with
// the given label prefix stripped, which is how credentials are dug out of
// decorated "👤 Username: abc123" style lines.
func longestWord(line, label string) string {
	best := ""
	for _, w := range strings.Fields(line) {
		if len(w) > len(best) {
			best = w
		}
	}
	return strings.ReplaceAll(best, label, "")
}
