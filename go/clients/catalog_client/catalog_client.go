package catalog_client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pointdeck/pointdeck/go/clients"
	"github.com/pointdeck/pointdeck/go/internal/models"
)

// CatalogClient talks to the backlog item catalog service over its
// JSON REST API.
type CatalogClient struct {
	*clients.BaseClient
}

func NewCatalogClient(baseURL, apiKey string) *CatalogClient {
	client := &CatalogClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}
	if apiKey != "" {
		client.SetHeader(APIKeyHeader, "Bearer "+apiKey)
	}
	return client
}

type itemListResponse struct {
	Items []models.Item `json:"items"`
}

func (c *CatalogClient) FindItem(ctx context.Context, id string) (*models.Item, error) {
	body, err := c.Get(ctx, ItemsEndpoint+"/"+url.PathEscape(id))
	if err != nil {
		var statusErr *clients.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get item %s: %w", id, err)
	}

	var item models.Item
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item response: %w", err)
	}
	return &item, nil
}

func (c *CatalogClient) ItemExists(ctx context.Context, id string) (bool, error) {
	item, err := c.FindItem(ctx, id)
	if err != nil {
		return false, err
	}
	return item != nil, nil
}

// ListItemsByPoints returns catalog items already estimated at any of
// the given story points, used to pull reference items for a scale.
func (c *CatalogClient) ListItemsByPoints(ctx context.Context, points []int) ([]models.Item, error) {
	values := make([]string, 0, len(points))
	for _, p := range points {
		values = append(values, strconv.Itoa(p))
	}
	query := url.Values{"points": []string{strings.Join(values, ",")}}

	body, err := c.Get(ctx, ByPointsEndpoint+"?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to list items by points: %w", err)
	}

	var response itemListResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal items by points response: %w", err)
	}
	return response.Items, nil
}

func (c *CatalogClient) ListSimilarItems(ctx context.Context, id string) ([]models.Item, error) {
	body, err := c.Get(ctx, fmt.Sprintf(SimilarEndpoint, url.PathEscape(id)))
	if err != nil {
		return nil, fmt.Errorf("failed to list similar items for %s: %w", id, err)
	}

	var response itemListResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal similar items response: %w", err)
	}
	return response.Items, nil
}

type updatePointRequest struct {
	StoryPoint int    `json:"storyPoint"`
	Memo       string `json:"memo,omitempty"`
}

func (c *CatalogClient) UpdateItemPoint(ctx context.Context, id string, point int, memo string) error {
	payload, err := json.Marshal(updatePointRequest{StoryPoint: point, Memo: memo})
	if err != nil {
		return fmt.Errorf("failed to marshal update point request: %w", err)
	}

	if _, err := c.Patch(ctx, ItemsEndpoint+"/"+url.PathEscape(id), bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("failed to update point for item %s: %w", id, err)
	}
	return nil
}
