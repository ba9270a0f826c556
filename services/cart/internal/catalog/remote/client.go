// Package remote reads products and courses from a catalog service over HTTP.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/syntex82/nodepress/pkg/errors"
	"github.com/syntex82/nodepress/pkg/httpclient"
	"github.com/syntex82/nodepress/services/cart/internal/catalog"
	"github.com/syntex82/nodepress/services/cart/internal/domain"
)

const serviceName = "catalog"

// HTTPDoer executes requests. httpclient.Client and
// httpclient.CircuitBreakerClient both satisfy it.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// CircuitOpenFallback answers for the catalog while its breaker is open.
func CircuitOpenFallback(_ context.Context, _ error) (*http.Response, error) {
	return nil, apperrors.ServiceUnavailable("catalog service is temporarily unavailable")
}

// Client fetches catalog records from {baseURL}/api/v1/products/{id} and
// {baseURL}/api/v1/courses/{id}. Responses use the {"data": ...} envelope.
type Client struct {
	http    HTTPDoer
	baseURL string
}

var (
	_ catalog.ProductProvider = (*Client)(nil)
	_ catalog.CourseProvider  = (*Client)(nil)
)

// NewClient creates a catalog client.
func NewClient(doer HTTPDoer, baseURL string) *Client {
	return &Client{http: doer, baseURL: strings.TrimRight(baseURL, "/")}
}

// FindProductByID fetches a product with its variants.
func (c *Client) FindProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	if err := c.get(ctx, "products", "product", id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindCourseByID fetches a course.
func (c *Client) FindCourseByID(ctx context.Context, id string) (*domain.Course, error) {
	var course domain.Course
	if err := c.get(ctx, "courses", "course", id, &course); err != nil {
		return nil, err
	}
	return &course, nil
}

func (c *Client) get(ctx context.Context, collection, resource, id string, dst any) error {
	endpoint := fmt.Sprintf("%s/api/v1/%s/%s", c.baseURL, collection, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("create %s request: %w", resource, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("call catalog service: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return apperrors.NotFound(resource, id)
	case resp.StatusCode != http.StatusOK:
		return httpclient.ParseResponseError(resp, serviceName)
	}
	defer resp.Body.Close()

	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", resource, err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return apperrors.NotFound(resource, id)
	}
	if err := json.Unmarshal(envelope.Data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", resource, err)
	}
	return nil
}
