package square

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"square-sync-service/internal/models"
	"square-sync-service/internal/util"

	"go.uber.org/zap"
)

const (
	productionBaseURL = "https://connect.squareup.com"
	sandboxBaseURL    = "https://connect.squareupsandbox.com"
	apiVersion        = "2024-01-18"

	// defaultMaxSearchPages bounds the catalog search cursor loop so a
	// pathological cursor can never spin forever.
	defaultMaxSearchPages = 10
)

// Client is a thin HTTP client for the Square endpoints the sync needs:
// payments list, catalog search and catalog object retrieval.
type Client struct {
	httpClient     *http.Client
	probeClient    *http.Client
	baseURL        string
	token          string
	environment    string
	maxSearchPages int
	logger         *zap.Logger
}

// NewClient creates a Square API client for one environment. maxSearchPages
// caps catalog search pagination; zero or negative selects the default.
func NewClient(environment, token string, probeTimeout time.Duration, maxSearchPages int) *Client {
	baseURL := productionBaseURL
	if environment == models.EnvironmentSandbox {
		baseURL = sandboxBaseURL
	}
	if maxSearchPages <= 0 {
		maxSearchPages = defaultMaxSearchPages
	}

	return &Client{
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		probeClient:    &http.Client{Timeout: probeTimeout},
		baseURL:        baseURL,
		token:          token,
		environment:    environment,
		maxSearchPages: maxSearchPages,
		logger:         util.GetLogger(),
	}
}

// Environment returns the Square environment this client talks to.
func (c *Client) Environment() string {
	return c.environment
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Square-Version", apiVersion)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, endpoint string, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		util.SquareAPIRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("square request failed: %w", err)
	}
	defer resp.Body.Close()

	util.SquareAPIRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("square %s returned status %d", endpoint, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode square %s response: %w", endpoint, err)
		}
	}
	return nil
}

type listPaymentsResponse struct {
	Payments []models.SquarePayment `json:"payments"`
	Cursor   string                 `json:"cursor"`
}

// ListPayments fetches one page of payments created at or after beginTime.
// The returned cursor is empty on the last page.
func (c *Client) ListPayments(ctx context.Context, beginTime time.Time, cursor string, limit int) ([]models.SquarePayment, string, error) {
	q := url.Values{}
	q.Set("begin_time", beginTime.UTC().Format(time.RFC3339))
	q.Set("sort_order", "DESC")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/v2/payments?"+q.Encode(), nil)
	if err != nil {
		return nil, "", err
	}

	var resp listPaymentsResponse
	if err := c.do(req, "list_payments", &resp); err != nil {
		return nil, "", err
	}
	return resp.Payments, resp.Cursor, nil
}

type searchCatalogRequest struct {
	ObjectTypes           []string `json:"object_types"`
	IncludeRelatedObjects bool     `json:"include_related_objects"`
	IncludeDeletedObjects bool     `json:"include_deleted_objects"`
	Cursor                string   `json:"cursor,omitempty"`
	Limit                 int      `json:"limit,omitempty"`
}

type searchCatalogResponse struct {
	Objects        []models.CatalogObject `json:"objects"`
	RelatedObjects []models.CatalogObject `json:"related_objects"`
	Cursor         string                 `json:"cursor"`
}

// SearchCatalogObjects fetches the full catalog (items, categories, images)
// with related objects inlined and deleted objects excluded. Pagination is
// bounded by maxSearchPages.
func (c *Client) SearchCatalogObjects(ctx context.Context) (*models.CatalogSearchResult, error) {
	result := &models.CatalogSearchResult{}
	cursor := ""

	for page := 0; page < c.maxSearchPages; page++ {
		body := searchCatalogRequest{
			ObjectTypes:           []string{models.CatalogTypeItem, models.CatalogTypeCategory, models.CatalogTypeImage},
			IncludeRelatedObjects: true,
			IncludeDeletedObjects: false,
			Cursor:                cursor,
			Limit:                 100,
		}

		req, err := c.newRequest(ctx, http.MethodPost, "/v2/catalog/search", body)
		if err != nil {
			return nil, err
		}

		var resp searchCatalogResponse
		if err := c.do(req, "search_catalog", &resp); err != nil {
			return nil, err
		}

		for _, obj := range resp.Objects {
			if obj.IsDeleted {
				continue
			}
			result.Objects = append(result.Objects, obj)
		}
		for _, obj := range resp.RelatedObjects {
			if obj.IsDeleted {
				continue
			}
			result.RelatedObjects = append(result.RelatedObjects, obj)
		}

		if resp.Cursor == "" {
			return result, nil
		}
		cursor = resp.Cursor
	}

	c.logger.Warn("Catalog search hit page ceiling, returning partial catalog",
		zap.Int("max_pages", c.maxSearchPages),
		zap.Int("objects", len(result.Objects)))
	return result, nil
}

type retrieveCatalogResponse struct {
	Object         *models.CatalogObject  `json:"object"`
	RelatedObjects []models.CatalogObject `json:"related_objects"`
}

// RetrieveCatalogObject fetches a single catalog object with its related
// objects, used when the batch payload did not inline an image.
func (c *Client) RetrieveCatalogObject(ctx context.Context, objectID string) (*models.CatalogObject, []models.CatalogObject, error) {
	path := "/v2/catalog/object/" + url.PathEscape(objectID) + "?include_related_objects=true"
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, nil, err
	}

	var resp retrieveCatalogResponse
	if err := c.do(req, "retrieve_catalog_object", &resp); err != nil {
		return nil, nil, err
	}
	if resp.Object == nil {
		return nil, nil, fmt.Errorf("catalog object not found: %s", objectID)
	}
	return resp.Object, resp.RelatedObjects, nil
}

// ImageURLExists probes an image URL with a HEAD request under a short
// timeout. A dead image host must not stall a whole catalog sync.
func (c *Client) ImageURLExists(ctx context.Context, imageURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, imageURL, nil)
	if err != nil {
		return false
	}

	resp, err := c.probeClient.Do(req)
	if err != nil {
		util.ImageProbesTotal.WithLabelValues("error").Inc()
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		util.ImageProbesTotal.WithLabelValues("found").Inc()
		return true
	}
	util.ImageProbesTotal.WithLabelValues("missing").Inc()
	return false
}
