package restservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/atelierhq/atelier/discovery"
)

// ClientResponse holds a decoded service reply.
type ClientResponse struct {
	StatusCode int
	Body       map[string]any
	Raw        []byte
}

// OK reports whether the status code signals success.
func (r *ClientResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client calls a JSON service whose endpoint is looked up through
// service discovery.
type Client struct {
	resourceName string
	resolver     *discovery.Client
	endpoint     string
	httpClient   *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithEndpoint pins the service endpoint, bypassing discovery.
func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

// NewClient builds a client for the named service. The endpoint must
// come from either WithEndpoint or the discovery resolver.
func NewClient(resourceName string, resolver *discovery.Client, opts ...ClientOption) (*Client, error) {
	c := &Client{
		resourceName: resourceName,
		resolver:     resolver,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.endpoint == "" && c.resolver == nil {
		return nil, fmt.Errorf("restservice: client for %q needs an endpoint or a discovery client", resourceName)
	}
	return c, nil
}

func (c *Client) resolve(ctx context.Context) (string, error) {
	if c.endpoint != "" {
		return c.endpoint, nil
	}
	endpoint, err := c.resolver.Endpoint(ctx, discovery.ResourceTypeRestService, c.resourceName)
	if err != nil {
		return "", err
	}
	c.endpoint = endpoint
	return endpoint, nil
}

// Post sends a JSON body to a path under the service endpoint.
func (c *Client) Post(ctx context.Context, path string, body any) (*ClientResponse, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Get requests a path under the service endpoint.
func (c *Client) Get(ctx context.Context, path string) (*ClientResponse, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*ClientResponse, error) {
	endpoint, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}

	target, err := url.JoinPath(endpoint, path)
	if err != nil {
		return nil, fmt.Errorf("restservice: building url for %q: %w", path, err)
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("restservice: encoding request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("restservice: calling %q: %w", c.resourceName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	out := &ClientResponse{StatusCode: resp.StatusCode, Raw: raw}
	if len(raw) > 0 {
		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			out.Body = decoded
		}
	}
	return out, nil
}
