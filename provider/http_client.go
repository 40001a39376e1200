package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClientConfig represents configuration for the shared gateway client.
type HTTPClientConfig struct {
	Processor      string
	BaseURL        string
	Timeout        time.Duration
	DefaultHeaders map[string]string
}

// HTTPRequest represents a standardized outbound gateway request.
type HTTPRequest struct {
	Method      string
	Endpoint    string
	Headers     map[string]string
	Body        any
	FormData    url.Values
	QueryParams url.Values
}

// HTTPResponse represents a standardized gateway response.
type HTTPResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// GatewayHTTPClient provides standardized blocking HTTP operations for
// payment adapters. Every call carries a bounded timeout; transport failures
// and non-2xx answers surface as *GatewayCommunicationError.
type GatewayHTTPClient struct {
	config *HTTPClientConfig
	client *http.Client
}

// NewGatewayHTTPClient creates a new gateway HTTP client.
func NewGatewayHTTPClient(config *HTTPClientConfig) *GatewayHTTPClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &GatewayHTTPClient{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// SendJSON sends a JSON request and returns the response.
func (c *GatewayHTTPClient) SendJSON(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	return c.sendRequest(ctx, req, "application/json")
}

// SendForm sends a form-encoded request and returns the response.
func (c *GatewayHTTPClient) SendForm(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	return c.sendRequest(ctx, req, "application/x-www-form-urlencoded")
}

func (c *GatewayHTTPClient) sendRequest(ctx context.Context, req *HTTPRequest, contentType string) (*HTTPResponse, error) {
	fullURL := c.buildURL(req.Endpoint, req.QueryParams)

	var body io.Reader
	switch {
	case contentType == "application/x-www-form-urlencoded" && len(req.FormData) > 0:
		body = strings.NewReader(req.FormData.Encode())
	case req.Body != nil:
		switch raw := req.Body.(type) {
		case string:
			body = strings.NewReader(raw)
		case []byte:
			body = bytes.NewReader(raw)
		default:
			jsonData, err := json.Marshal(req.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			body = bytes.NewReader(jsonData)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	for key, value := range c.config.DefaultHeaders {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &GatewayCommunicationError{Processor: c.config.Processor, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GatewayCommunicationError{Processor: c.config.Processor, Err: err}
	}

	response := &HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return response, &GatewayCommunicationError{
			Processor:  c.config.Processor,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}
	return response, nil
}

func joinURL(base, endpoint string) string {
	if strings.HasSuffix(base, "/") && strings.HasPrefix(endpoint, "/") {
		return base + endpoint[1:]
	}
	if !strings.HasSuffix(base, "/") && !strings.HasPrefix(endpoint, "/") {
		return base + "/" + endpoint
	}
	return base + endpoint
}

// buildURL constructs the full URL with query parameters.
func (c *GatewayHTTPClient) buildURL(endpoint string, queryParams url.Values) string {
	fullURL := endpoint
	if !strings.HasPrefix(endpoint, "http") {
		fullURL = joinURL(c.config.BaseURL, endpoint)
	}
	if len(queryParams) == 0 {
		return fullURL
	}
	u, err := url.Parse(fullURL)
	if err != nil {
		return fullURL
	}
	q := u.Query()
	for key, values := range queryParams {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ParseJSONResponse parses a response body as JSON into target.
func (c *GatewayHTTPClient) ParseJSONResponse(response *HTTPResponse, target any) error {
	return json.Unmarshal(response.Body, target)
}
