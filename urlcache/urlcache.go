// Package urlcache caches downloaded web pages in a treestore.Store,
// keyed by URL. As opposed to in-process response caches it is safe to
// share between many worker goroutines.
package urlcache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chris-ch/treestore"
)

// defaultUserAgent mimics a desktop browser; some sites refuse the Go
// default agent.
const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_10_1) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/39.0.2171.95 Safari/537.36"

// ErrRejected is returned when a fetched response contains the
// configured rejection marker. The response is never cached.
var ErrRejected = errors.New("response matched rejection marker")

// Client fetches URLs through a treestore.Store. A URL is downloaded
// at most once per expiry window; repeat calls are served from the
// store. With a disabled store every call downloads.
type Client struct {
	store      *treestore.Store
	httpClient *http.Client
	headers    map[string]string
	throttle   time.Duration
	rejection  []byte
	logger     logrus.FieldLogger
}

// Option defines a function that configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. Callers bound slow
// servers through its Timeout; the cache adds no deadline of its own.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithHeaders sets extra request headers, replacing the default
// browser User-Agent set when the map carries its own.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithThrottle sets a waiting period observed before every download.
func WithThrottle(d time.Duration) Option {
	return func(c *Client) {
		c.throttle = d
	}
}

// WithRejectionMarker makes downloads whose body contains marker fail
// with ErrRejected instead of being cached. Useful against soft error
// pages served with a 200 status.
func WithRejectionMarker(marker []byte) Option {
	return func(c *Client) {
		c.rejection = marker
	}
}

// WithLogger sets the logger used by the client.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Client caching into the given store.
func New(store *treestore.Store, options ...Option) *Client {
	c := &Client{
		store:      store,
		httpClient: http.DefaultClient,
		headers:    map[string]string{"User-Agent": defaultUserAgent},
		logger:     logrus.StandardLogger(),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Open returns the body of the given URL, downloading it only when the
// store has no entry for it.
func (c *Client) Open(url string) ([]byte, error) {
	return c.store.Fetch(url, c.download)
}

// download performs one GET. It runs outside the store lock.
func (c *Client) download(url string) ([]byte, error) {
	if c.throttle > 0 {
		time.Sleep(c.throttle)
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response for %s: %w", url, err)
	}
	if len(c.rejection) > 0 && bytes.Contains(body, c.rejection) {
		return nil, fmt.Errorf("%w: %s", ErrRejected, url)
	}

	c.logger.WithFields(logrus.Fields{"url": url, "status": resp.StatusCode, "bytes": len(body)}).Debug("downloaded")
	return body, nil
}
