package fetch

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

const (
	// UserAgent presented on every request. The roster source rejects the
	// default Go client identity.
	UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
)

// StatusError is returned for any non-2xx response. The caller treats it as
// transient and skips the entity for this run.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// TransportError is returned for network-level failures (timeout, DNS,
// connection reset). Transient like StatusError; the entity is retried by
// the next scheduled run, not within this one.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PageCache lets a restarted run reuse pages it already paid a request for.
// A nil cache means every Fetch goes to the network.
type PageCache interface {
	GetPage(ctx context.Context, url string) ([]byte, bool)
	PutPage(ctx context.Context, url string, body []byte)
}

// Options configures a Client.
type Options struct {
	Timeout  time.Duration // per-request timeout
	MinDelay time.Duration // politeness pause lower bound
	MaxDelay time.Duration // politeness pause upper bound
	Cache    PageCache     // optional
}

// Client performs sequential, rate-limited GETs against the roster source.
// A single underlying session is shared across all calls so the source sees
// one consistent client identity. The client never retries; a failed fetch
// is reported to the caller, which skips the entity until the next run.
type Client struct {
	http        *resty.Client
	minDelay    time.Duration
	maxDelay    time.Duration
	cache       PageCache
	lastRequest time.Time
}

// NewClient creates the shared HTTP session.
func NewClient(opts Options) (*Client, error) {
	client := resty.New()

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", UserAgent)
	client.SetTimeout(opts.Timeout)
	client.SetRetryCount(0)

	return &Client{
		http:     client,
		minDelay: opts.MinDelay,
		maxDelay: opts.MaxDelay,
		cache:    opts.Cache,
	}, nil
}

// Fetch performs one GET and returns the page bytes. Every request after the
// first is preceded by a randomized pause drawn from [MinDelay, MaxDelay],
// regardless of how the previous request ended. Cache hits spend neither a
// request nor a pause.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	if c.cache != nil {
		if body, ok := c.cache.GetPage(ctx, url); ok {
			return body, nil
		}
	}

	if err := c.politenessPause(ctx); err != nil {
		return nil, err
	}

	resp, err := c.http.R().SetContext(ctx).Get(url)
	c.lastRequest = time.Now()
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &StatusError{URL: url, Code: resp.StatusCode()}
	}

	body := resp.Body()
	if c.cache != nil {
		c.cache.PutPage(ctx, url, body)
	}
	return body, nil
}

// politenessPause sleeps for a random duration in [minDelay, maxDelay].
// Skipped before the very first request of the session.
func (c *Client) politenessPause(ctx context.Context) error {
	if c.lastRequest.IsZero() || c.maxDelay <= 0 {
		return nil
	}

	delay := c.minDelay
	if span := c.maxDelay - c.minDelay; span > 0 {
		delay += time.Duration(rand.Int63n(int64(span) + 1))
	}
	if delay <= 0 {
		return nil
	}

	log.Printf("  pausing %v before next request", delay.Round(time.Millisecond))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
