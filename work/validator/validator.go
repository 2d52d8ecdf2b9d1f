// Package validator decides whether a portal credential is worth indexing.
// A server passes through an account check, a catalog fetch, and an optional
// stream probe; any network-level failure along the way is reported as
// transient so a flaky server is never punished like a dead one.
package validator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/ratelimit"

	"kptv-search/work/client"
	"kptv-search/work/config"
	"kptv-search/work/logger"
	"kptv-search/work/types"
	"kptv-search/work/utils"
)

// Result carries everything a successful validation learned about a server.
// Catalog order is preserved exactly as the panel returned it.
type Result struct {
	Outcome        types.Outcome
	MaxConnections int
	Catalog        []types.CatalogEntry
	Reason         string
}

// Validator runs the full account/catalog/probe sequence against portals.
// All outbound requests share one rate limiter so sweeps over large server
// lists stay polite.
type Validator struct {
	config  *config.Config
	client  *client.HeaderSettingClient
	log     *logger.Logger
	limiter ratelimit.Limiter
}

// New creates a validator using the shared HTTP client. ProbesPerSecond
// bounds how fast the sweep may hit the network as a whole.
func New(cfg *config.Config, httpClient *client.HeaderSettingClient, log *logger.Logger) *Validator {
	rps := cfg.ProbesPerSecond
	if rps <= 0 {
		rps = 10
	}
	return &Validator{
		config:  cfg,
		client:  httpClient,
		log:     log,
		limiter: ratelimit.New(rps),
	}
}

// Validate runs the whole sequence for one credential and classifies it.
//
// The three outcomes have distinct contracts: OutcomeValid carries the
// ordered catalog and the account capacity, OutcomeInvalid means the server
// definitively failed a check (bad status, too few connections, no catalog,
// no playable stream), and OutcomeTransient means the network got in the
// way and nothing should be concluded.
func (v *Validator) Validate(ctx context.Context, cred types.Credential) Result {
	maxConn, res := v.checkAccount(ctx, cred)
	if res != nil {
		return *res
	}

	catalog, res := v.fetchCatalog(ctx, cred)
	if res != nil {
		return *res
	}

	if v.config.StreamCheckEnabled {
		if len(catalog) == 0 {
			return Result{Outcome: types.OutcomeInvalid, Reason: "catalog is empty"}
		}
		if !v.probeStreams(ctx, cred, catalog) {
			return Result{Outcome: types.OutcomeInvalid, Reason: "no test channel playable"}
		}
	}

	v.log.Info("Server validated: %s (max_conn=%d, channels=%d)",
		utils.LogURL(v.config, cred.Address), maxConn, len(catalog))
	return Result{Outcome: types.OutcomeValid, MaxConnections: maxConn, Catalog: catalog}
}

// checkAccount hits player_api.php and enforces the account gates: status
// must be "Active" and capacity must meet the configured minimum. A non-nil
// Result short-circuits the caller.
func (v *Validator) checkAccount(ctx context.Context, cred types.Credential) (int, *Result) {
	v.limiter.Take()

	body, err := v.fetch(ctx, cred, "/player_api.php", v.config.AccountTimeout)
	if err != nil {
		v.log.Debug("Account check failed for %s: %v", utils.LogURL(v.config, cred.Address), err)
		return 0, &Result{Outcome: types.OutcomeTransient, Reason: err.Error()}
	}
	defer body.Close()

	info, err := decodeAccountInfo(body)
	if err != nil {
		return 0, &Result{Outcome: types.OutcomeTransient, Reason: fmt.Sprintf("account response unreadable: %v", err)}
	}

	minConn := v.config.MinConnections
	if minConn < 0 {
		minConn = 0
	}
	if info.MaxConnections < minConn {
		v.log.Info("Server failed: max connections %d < required %d", info.MaxConnections, minConn)
		return 0, &Result{Outcome: types.OutcomeInvalid,
			Reason: fmt.Sprintf("max connections %d below required %d", info.MaxConnections, minConn)}
	}
	if info.Status != "Active" {
		v.log.Info("Server failed: status = %q", info.Status)
		return 0, &Result{Outcome: types.OutcomeInvalid, Reason: fmt.Sprintf("account status %q", info.Status)}
	}

	return info.MaxConnections, nil
}

// fetchCatalog hits panel_api.php and decodes the channel catalog. A panel
// response without an available_channels key is a definitive failure; a
// network or decode error is transient.
func (v *Validator) fetchCatalog(ctx context.Context, cred types.Credential) ([]types.CatalogEntry, *Result) {
	v.limiter.Take()

	body, err := v.fetch(ctx, cred, "/panel_api.php", v.config.CatalogTimeout)
	if err != nil {
		v.log.Debug("Catalog fetch failed for %s: %v", utils.LogURL(v.config, cred.Address), err)
		return nil, &Result{Outcome: types.OutcomeTransient, Reason: err.Error()}
	}
	defer body.Close()

	catalog, found, err := decodeCatalog(body)
	if err != nil {
		return nil, &Result{Outcome: types.OutcomeTransient, Reason: fmt.Sprintf("panel response unreadable: %v", err)}
	}
	if !found {
		v.log.Info("Server failed: no available_channels")
		return nil, &Result{Outcome: types.OutcomeInvalid, Reason: "panel has no available_channels"}
	}

	return catalog, nil
}

// probeStreams tries to play a handful of candidate channels. Candidates
// are picked by the configured test keywords when any match, otherwise the
// first few channels in catalog order. One playable candidate is enough.
func (v *Validator) probeStreams(ctx context.Context, cred types.Credential, catalog []types.CatalogEntry) bool {
	keywords := make([]string, 0, len(v.config.TestChannelKeywords))
	for _, k := range v.config.TestChannelKeywords {
		if k = strings.TrimSpace(strings.ToLower(k)); k != "" {
			keywords = append(keywords, k)
		}
	}

	var preferred []types.CatalogEntry
	for _, ch := range catalog {
		nameL := strings.ToLower(ch.Name)
		for _, k := range keywords {
			if strings.Contains(nameL, k) {
				preferred = append(preferred, ch)
				break
			}
		}
	}

	maxCandidates := v.config.StreamCheckCandidates
	if maxCandidates <= 0 {
		maxCandidates = 1
	}
	candidates := preferred
	if len(candidates) == 0 {
		candidates = catalog
	}
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}

	for _, ch := range candidates {
		if ch.StreamID == "" {
			continue
		}
		// Some panels serve HLS, others raw TS. Try both extensions
		// before giving up on a candidate.
		for _, ext := range []string{"m3u8", "ts"} {
			if v.probeOne(ctx, cred, ch.StreamID, ext) {
				return true
			}
		}
	}
	return false
}

// probeOne fetches a single stream URL and reads the first chunk. A 200
// counts as playable even when the body is empty; a read error does not.
func (v *Validator) probeOne(ctx context.Context, cred types.Credential, streamID, ext string) bool {
	v.limiter.Take()

	streamURL := fmt.Sprintf("%s/live/%s/%s/%s.%s",
		cred.Address, url.PathEscape(cred.Username), url.PathEscape(cred.Password), streamID, ext)

	resp, err := v.client.Get(ctx, streamURL, v.config.ProbeTimeout)
	if err != nil {
		v.log.Debug("Test stream failed %s: %v", utils.LogURL(v.config, streamURL), err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	buf := make([]byte, 2048)
	if _, err := resp.Body.Read(buf); err != nil && err != io.EOF {
		v.log.Debug("Test stream read failed %s: %v", utils.LogURL(v.config, streamURL), err)
		return false
	}
	return true
}

// fetch issues one credentialed GET against a portal endpoint and returns
// the body on a 2xx response.
func (v *Validator) fetch(ctx context.Context, cred types.Credential, path string, timeout time.Duration) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s%s?username=%s&password=%s",
		cred.Address, path, url.QueryEscape(cred.Username), url.QueryEscape(cred.Password))

	resp, err := v.client.Get(ctx, u, timeout)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
