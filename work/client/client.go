package client

import (
	"context"
	"io"
	"net/http"
	"time"

	"kptv-search/work/config"
)

// HeaderSettingClient wraps http.Client to stamp every outbound request with
// the configured User-Agent and compatibility headers. Some panels reject
// requests without a browser-looking agent, so all validator and importer
// traffic goes through this client.
type HeaderSettingClient struct {
	Client *http.Client
	config *config.Config
}

// New builds the shared outbound client. The client itself carries no overall
// timeout; every call site passes a context with the stage-specific deadline
// (account, catalog or probe timeout).
func New(cfg *config.Config) *HeaderSettingClient {
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}

	return &HeaderSettingClient{
		Client: client,
		config: cfg,
	}
}

// Do executes the request with the standard headers applied.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

// Get issues a GET bounded by the given timeout. The caller owns the response
// body.
func (hsc *HeaderSettingClient) Get(ctx context.Context, url string, timeout time.Duration) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := hsc.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}

	// Tie the context's lifetime to the body so the deadline also bounds reads
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", hsc.config.UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Connection", "keep-alive")
}

// cancelReadCloser releases the request's context when the body is closed.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}
