package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"github.com/Sternrassler/contrib-harvester/pkg/ratelimit"
)

const (
	// DefaultGraphQLURL is the public GraphQL endpoint.
	DefaultGraphQLURL = "https://api.github.com/graphql"

	// DefaultPerPage is the REST page size (the API maximum).
	DefaultPerPage = 100

	// DefaultTimeout bounds a single HTTP round trip.
	DefaultTimeout = 60 * time.Second
)

// Options configures a Client.
type Options struct {
	// BaseURL overrides the REST API root (GitHub Enterprise, tests).
	// Empty uses https://api.github.com/.
	BaseURL string

	// GraphQLURL overrides the GraphQL endpoint.
	GraphQLURL string

	// PerPage is the REST page size.
	PerPage int

	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration

	// Transport is the base transport under the oauth2 layer (optional).
	Transport http.RoundTripper
}

// DefaultOptions returns options for the public GitHub API.
func DefaultOptions() Options {
	return Options{
		GraphQLURL: DefaultGraphQLURL,
		PerPage:    DefaultPerPage,
		Timeout:    DefaultTimeout,
	}
}

// Client holds one authenticated HTTP client per credential.
type Client struct {
	opts    Options
	baseURL *url.URL

	mu   sync.Mutex
	http map[string]*http.Client
	rest map[string]*gh.Client
}

// New creates a client. Zero options take their defaults.
func New(opts Options) (*Client, error) {
	def := DefaultOptions()
	if opts.GraphQLURL == "" {
		opts.GraphQLURL = def.GraphQLURL
	}
	if opts.PerPage <= 0 || opts.PerPage > DefaultPerPage {
		opts.PerPage = def.PerPage
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}

	c := &Client{
		opts: opts,
		http: make(map[string]*http.Client),
		rest: make(map[string]*gh.Client),
	}
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse base URL: %w", err)
		}
		c.baseURL = u
	}
	return c, nil
}

// httpClient returns the authenticated client of a credential.
func (c *Client) httpClient(cred ratelimit.Credential) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hc, ok := c.http[cred.ID]; ok {
		return hc
	}

	ctx := context.Background()
	if c.opts.Transport != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: c.opts.Transport})
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.Token})
	hc := oauth2.NewClient(ctx, ts)
	hc.Timeout = c.opts.Timeout

	c.http[cred.ID] = hc
	return hc
}

// restClient returns the go-github client of a credential.
func (c *Client) restClient(cred ratelimit.Credential) *gh.Client {
	hc := c.httpClient(cred)

	c.mu.Lock()
	defer c.mu.Unlock()

	if rc, ok := c.rest[cred.ID]; ok {
		return rc
	}
	rc := gh.NewClient(hc)
	if c.baseURL != nil {
		rc.BaseURL = c.baseURL
	}
	c.rest[cred.ID] = rc
	return rc
}
