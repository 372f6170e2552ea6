package jwtvalidation

import (
	"context"
	"crypto"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
)

// LoaderStatus is the lifecycle state of a JwksLoader.
type LoaderStatus int

const (
	LoaderUndefined LoaderStatus = iota
	LoaderLoading
	LoaderOK
	LoaderError
)

func (s LoaderStatus) String() string {
	switch s {
	case LoaderUndefined:
		return "UNDEFINED"
	case LoaderLoading:
		return "LOADING"
	case LoaderOK:
		return "OK"
	case LoaderError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// KeyInfo is a single resolved signing key.
type KeyInfo struct {
	Algorithm string
	PublicKey crypto.PublicKey
	KeyID     string
}

// JwksLoader is the interface consumed by the issuer config resolver and
// the pipeline validator. init is modeled as a blocking call rather than
// an explicit future: concurrent callers are collapsed onto one in-flight
// load by the implementation (see HttpJwksLoader), which is observably
// equivalent to "others observe the same future".
type JwksLoader interface {
	Init(ctx context.Context, counter *SecurityEventCounter) (LoaderStatus, error)
	GetKeyInfo(kid string) (KeyInfo, bool)
	Status() LoaderStatus
	Close()
}

// HTTPResponse is the minimal shape HttpJwksLoader needs from a fetch.
type HTTPResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPClient is the injected collaborator for outbound JWKS/well-known
// GETs. Implementations own TLS trust configuration.
type HTTPClient interface {
	Get(ctx context.Context, url string, headers map[string]string) (*HTTPResponse, error)
}

// Clock is the injected time source, overridable in tests.
type Clock interface {
	Now() time.Time
}

// Scheduler runs a task at a fixed rate on an implementation-owned
// goroutine/worker, returning a cancel function. Callers never spin up a
// thread per loader; the default implementation multiplexes every
// scheduled task onto one cron.Cron.
type Scheduler interface {
	ScheduleAtFixedRate(ctx context.Context, task func(context.Context), interval time.Duration) (cancel func())
}

// --- default implementations ---

type systemClock struct{}

// NewSystemClock returns a Clock backed by time.Now.
func NewSystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

// FixedClock is a test double that always returns the same instant until
// advanced, used to pin exp/nbf/rotation-grace boundary tests.
type FixedClock struct {
	at time.Time
}

// NewFixedClock returns a Clock pinned at at.
func NewFixedClock(at time.Time) *FixedClock { return &FixedClock{at: at} }

func (c *FixedClock) Now() time.Time { return c.at }

// Advance moves the fixed clock forward by d.
func (c *FixedClock) Advance(d time.Duration) { c.at = c.at.Add(d) }

type netHTTPClient struct {
	client    *http.Client
	userAgent string
}

// NewHTTPClient wraps client (nil builds a new http.Client whose overall
// timeout is connectTimeout+readTimeout) as an HTTPClient, tagging every
// request with userAgent.
func NewHTTPClient(client *http.Client, connectTimeout, readTimeout time.Duration, userAgent string) HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: connectTimeout + readTimeout}
	}
	if userAgent == "" {
		userAgent = "cui-jwt-validation/1.0"
	}
	return &netHTTPClient{client: client, userAgent: userAgent}
}

func (c *netHTTPClient) Get(ctx context.Context, url string, headers map[string]string) (*HTTPResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return &HTTPResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// cronScheduler implements Scheduler on top of a single shared
// robfig/cron.Cron instance, one entry per scheduled task, using the
// "@every" spec for fixed-rate execution.
type cronScheduler struct {
	c *cron.Cron
}

// NewCronScheduler starts and returns a Scheduler backed by robfig/cron.
// Call Stop when the owning validator is closed.
func NewCronScheduler() *cronScheduler {
	c := cron.New(cron.WithSeconds())
	c.Start()
	return &cronScheduler{c: c}
}

func (s *cronScheduler) ScheduleAtFixedRate(ctx context.Context, task func(context.Context), interval time.Duration) func() {
	spec := fmt.Sprintf("@every %s", interval.String())
	id, err := s.c.AddFunc(spec, func() { task(ctx) })
	if err != nil {
		// A malformed interval cannot be scheduled; run once so callers
		// still observe the effect instead of silently never refreshing.
		task(ctx)
		return func() {}
	}
	return func() { s.c.Remove(id) }
}

// Stop drains the cron scheduler's goroutine, waiting for running jobs.
func (s *cronScheduler) Stop() {
	<-s.c.Stop().Done()
}
